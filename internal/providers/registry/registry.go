// Package registry builds one client per provider family and dispatches bot
// requests to the family named by the bot config.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"flowair/internal/bots"
	"flowair/internal/config"
	"flowair/internal/metrics"
	"flowair/internal/providers"
	"flowair/internal/providers/gemini"
	"flowair/internal/providers/imagegen"
	"flowair/internal/providers/openai_compat"
	"flowair/internal/providers/videosearch"
)

const defaultTimeout = 30 * time.Second

type Options struct {
	Timeout time.Duration
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

type Dispatcher struct {
	byFamily map[providers.Family]providers.Provider
	timeout  time.Duration
	log      zerolog.Logger
	metrics  *metrics.Metrics
	closers  []io.Closer
}

// New registers ps by family. A later provider replaces an earlier one of
// the same family.
func New(opts Options, ps ...providers.Provider) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	d := &Dispatcher{
		byFamily: make(map[providers.Family]providers.Provider, len(ps)),
		timeout:  opts.Timeout,
		log:      opts.Logger.With().Str("component", "dispatcher").Logger(),
		metrics:  opts.Metrics,
	}
	for _, p := range ps {
		d.byFamily[p.Family()] = p
		if c, ok := p.(io.Closer); ok {
			d.closers = append(d.closers, c)
		}
	}
	return d
}

// Build creates a client for every family that has a credential. Families
// without one stay unregistered and fail at dispatch time.
func Build(ctx context.Context, cfg config.ProvidersConfig, opts Options) (*Dispatcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = cfg.Timeout
	}
	httpClient := &http.Client{Timeout: opts.Timeout}
	var ps []providers.Provider

	switch cfg.TextBackend {
	case config.TextBackendGemini:
		if hasKey(cfg.Gemini) {
			g, err := gemini.New(ctx, gemini.Config{
				APIKey:      cfg.Gemini.APIKey,
				Model:       cfg.Gemini.Model,
				MaxTokens:   cfg.MaxTokens,
				Temperature: cfg.Temperature,
			})
			if err != nil {
				return nil, fmt.Errorf("build gemini client: %w", err)
			}
			ps = append(ps, g)
		}
	case config.TextBackendOpenAI, "":
		if hasKey(cfg.OpenAI) {
			ps = append(ps, openai_compat.NewChat(openai_compat.ChatConfig{
				Config:      compatConfig(cfg.OpenAI, httpClient),
				MaxTokens:   cfg.MaxTokens,
				Temperature: cfg.Temperature,
			}))
		}
	default:
		return nil, fmt.Errorf("unsupported text backend %q", cfg.TextBackend)
	}

	speech := cfg.Speech
	if !hasKey(speech) && speech.BaseURL == cfg.OpenAI.BaseURL {
		speech.APIKey = cfg.OpenAI.APIKey
	}
	if hasKey(speech) {
		ps = append(ps, openai_compat.NewSpeech(openai_compat.SpeechConfig{
			Config: compatConfig(speech, httpClient),
			Voice:  cfg.Voice,
		}))
	}

	if hasKey(cfg.Image) {
		ig, err := imagegen.New(imagegen.Config{
			BaseURL:      cfg.Image.BaseURL,
			APIKey:       cfg.Image.APIKey,
			Model:        cfg.Image.Model,
			BodyTemplate: cfg.ImageBodyTemplate,
			HTTPClient:   httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("build image client: %w", err)
		}
		ps = append(ps, ig)
	}

	if hasKey(cfg.Video) {
		ps = append(ps, videosearch.New(videosearch.Config{
			BaseURL:    cfg.Video.BaseURL,
			APIKey:     cfg.Video.APIKey,
			Limit:      cfg.ResultLimit,
			HTTPClient: httpClient,
		}))
	}

	return New(opts, ps...), nil
}

func hasKey(pc config.ProviderConfig) bool {
	return strings.TrimSpace(pc.APIKey) != ""
}

func compatConfig(pc config.ProviderConfig, hc *http.Client) openai_compat.Config {
	return openai_compat.Config{
		BaseURL:    pc.BaseURL,
		APIKey:     pc.APIKey,
		Model:      pc.Model,
		HTTPClient: hc,
	}
}

// Families lists the registered families in stable order.
func (d *Dispatcher) Families() []providers.Family {
	out := make([]providers.Family, 0, len(d.byFamily))
	for f := range d.byFamily {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Invoke calls exactly one upstream, chosen by bot.Provider, under the
// dispatcher timeout. Every failure is an *providers.UpstreamError. A
// successful call with no usable output yields the NoResponse placeholder.
func (d *Dispatcher) Invoke(ctx context.Context, bot bots.BotConfig, prompt string) (providers.Result, error) {
	family := bot.Provider
	p, ok := d.byFamily[family]
	if !ok {
		d.observe(family, "unconfigured", 0)
		return providers.Result{}, &providers.UpstreamError{Provider: family, Err: providers.ErrNotConfigured}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	res, err := p.Invoke(ctx, providers.Request{
		Model:        bot.Model,
		SystemPrompt: bot.SystemPrompt,
		Prompt:       prompt,
	})
	elapsed := time.Since(start)

	if err != nil {
		ue := providers.AsUpstream(family, err)
		if !ue.Timeout() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			ue = &providers.UpstreamError{Provider: ue.Provider, StatusCode: ue.StatusCode, Err: errors.Join(ue.Err, context.DeadlineExceeded)}
		}
		outcome := "error"
		if ue.Timeout() {
			outcome = "timeout"
		}
		d.observe(family, outcome, elapsed)
		d.log.Warn().
			Str("provider", string(family)).
			Str("bot", bot.ID).
			Int("status", ue.StatusCode).
			Dur("elapsed", elapsed).
			Msg(ue.Error())
		return providers.Result{}, ue
	}

	if res.Empty() {
		d.observe(family, "empty", elapsed)
		d.log.Info().Str("provider", string(family)).Str("bot", bot.ID).Msg("upstream returned no content")
		return providers.Result{Kind: providers.KindText, Text: providers.NoResponse, TokensUsed: res.TokensUsed}, nil
	}

	d.observe(family, "ok", elapsed)
	return res, nil
}

func (d *Dispatcher) observe(f providers.Family, outcome string, elapsed time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.UpstreamCalls.WithLabelValues(string(f), outcome).Inc()
	if elapsed > 0 {
		d.metrics.UpstreamLatency.WithLabelValues(string(f)).Observe(elapsed.Seconds())
	}
}

func (d *Dispatcher) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
