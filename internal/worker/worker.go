// Package worker drains the redis usage stream into SQL.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flowair/internal/ledger"
	"flowair/internal/metrics"
	"flowair/internal/storage"
)

type Source interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, count int64) ([]ledger.UsageMessage, error)
	Ack(ctx context.Context, messageID string) error
	Requeue(ctx context.Context, m ledger.UsageMessage) error
	Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]ledger.UsageMessage, error)
}

type Sink interface {
	AppendUsage(ctx context.Context, r storage.UsageRecord) error
}

type Worker struct {
	source     Source
	sink       Sink
	batch      int64
	maxRetries int
	backoff    time.Duration
	idle       time.Duration
	every      time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Config struct {
	Source     Source
	Sink       Sink
	BatchSize  int64
	MaxRetries int
	Backoff    time.Duration
	// ReclaimIdle is how long a delivered entry may stay unacked before
	// another consumer takes it over. ReclaimEvery paces the sweep.
	ReclaimIdle  time.Duration
	ReclaimEvery time.Duration
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = time.Minute
	}
	if cfg.ReclaimEvery <= 0 {
		cfg.ReclaimEvery = 30 * time.Second
	}
	return &Worker{
		source:     cfg.Source,
		sink:       cfg.Sink,
		batch:      cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		idle:       cfg.ReclaimIdle,
		every:      cfg.ReclaimEvery,
		logger:     cfg.Logger.With().Str("component", "usage-worker").Logger(),
		metrics:    m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.source.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reclaimLoop(ctx)
	}()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if _, err := w.drainOnce(ctx, log); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read usage stream")
			sleep(ctx, w.backoff)
		}
	}
}

func (w *Worker) reclaimLoop(ctx context.Context) {
	log := w.logger.With().Str("slot", "reclaim").Logger()
	t := time.NewTicker(w.every)
	defer t.Stop()
	for {
		if _, err := w.reclaimOnce(ctx, log); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("failed to reclaim pending usage entries")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// reclaimOnce settles entries other deliveries left unacked, batch by batch
// until the pending list holds nothing idle enough.
func (w *Worker) reclaimOnce(ctx context.Context, log zerolog.Logger) (int, error) {
	total := 0
	for ctx.Err() == nil {
		messages, err := w.source.Reclaim(ctx, w.idle, w.batch)
		if err != nil {
			return total, err
		}
		if len(messages) == 0 {
			return total, nil
		}
		w.settle(ctx, messages, log)
		total += len(messages)
	}
	return total, nil
}

// drainOnce reads one batch of new entries and settles every message in it.
func (w *Worker) drainOnce(ctx context.Context, log zerolog.Logger) (int, error) {
	messages, err := w.source.Read(ctx, w.batch)
	if err != nil {
		return 0, err
	}
	w.settle(ctx, messages, log)
	return len(messages), nil
}

// settle acks a message only after it is persisted, requeued, or given up
// on. A batch already read is finished even when ctx is cancelled.
func (w *Worker) settle(ctx context.Context, messages []ledger.UsageMessage, log zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)
	for _, msg := range messages {
		if msg.Err != nil {
			log.Error().Err(msg.Err).Str("msg_id", msg.ID).Msg("dropping undecodable usage entry")
			if ackErr := w.source.Ack(ctx, msg.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack undecodable entry")
			}
			continue
		}

		err := w.sink.AppendUsage(ctx, msg.Record)
		if err == nil {
			w.metrics.UsageDrained.Inc()
			if ackErr := w.source.Ack(ctx, msg.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
			}
			continue
		}

		w.metrics.UsageWriteFailures.Inc()
		log.Error().Err(err).Str("record_id", msg.Record.ID).Int("attempt", msg.Attempts).Msg("usage record not persisted")

		if msg.Attempts < w.maxRetries {
			// left pending on failure; the reclaim sweep retries it
			if requeueErr := w.source.Requeue(ctx, msg); requeueErr != nil {
				log.Error().Err(requeueErr).Str("record_id", msg.Record.ID).Msg("failed to requeue usage record")
				continue
			}
			if ackErr := w.source.Ack(ctx, msg.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack after requeue")
			}
			continue
		}

		log.Error().
			Str("record_id", msg.Record.ID).
			Str("user_id", msg.Record.UserID).
			Str("bot", msg.Record.BotID).
			Msg("dropping usage record after max retries")
		if ackErr := w.source.Ack(ctx, msg.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack terminal failed message")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
