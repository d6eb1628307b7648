package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChatRequests       *prometheus.CounterVec
	UpstreamCalls      *prometheus.CounterVec
	UpstreamLatency    *prometheus.HistogramVec
	CreditsReserved    prometheus.Counter
	CreditsReleased    prometheus.Counter
	UsageWriteFailures prometheus.Counter
	UsageDrained       prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ChatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flowair",
				Name:      "chat_requests_total",
				Help:      "Chat requests by final outcome",
			}, []string{"outcome"}),
			UpstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flowair",
				Name:      "upstream_calls_total",
				Help:      "Upstream provider calls by provider family and outcome",
			}, []string{"provider", "outcome"}),
			UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "flowair",
				Name:      "upstream_call_seconds",
				Help:      "Upstream provider call latency",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
			}, []string{"provider"}),
			CreditsReserved: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "flowair",
				Name:      "credits_reserved_total",
				Help:      "Credits reserved ahead of an upstream call",
			}),
			CreditsReleased: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "flowair",
				Name:      "credits_released_total",
				Help:      "Reserved credits returned after a failed upstream call",
			}),
			UsageWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "flowair",
				Name:      "usage_write_failures_total",
				Help:      "Usage records that could not be appended after a successful generation",
			}),
			UsageDrained: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "flowair",
				Name:      "usage_drained_total",
				Help:      "Usage records moved from the redis stream into SQL",
			}),
		}
		prometheus.MustRegister(
			global.ChatRequests,
			global.UpstreamCalls,
			global.UpstreamLatency,
			global.CreditsReserved,
			global.CreditsReleased,
			global.UsageWriteFailures,
			global.UsageDrained,
		)
	})
	return global
}
