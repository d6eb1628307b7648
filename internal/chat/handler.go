// Package chat runs one chat request end to end: validation, credit
// reservation, dispatch to the bot's upstream, and usage bookkeeping.
package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"flowair/internal/bots"
	"flowair/internal/ledger"
	"flowair/internal/metrics"
	"flowair/internal/providers"
	"flowair/internal/storage"
)

// AudioMarker stands in for audio payloads in usage records.
const AudioMarker = "[audio]"

type Request struct {
	Prompt         string `json:"prompt"`
	BotType        string `json:"botType"`
	UserID         string `json:"userId"`
	IdempotencyKey string `json:"-"`
}

// Response is the success body. Text carries base64 audio when IsAudio is
// set and a job status line when Pending is set.
type Response struct {
	Text             string `json:"text"`
	CreditsRemaining int64  `json:"creditsRemaining"`
	IsAudio          bool   `json:"isAudio"`
	TokensUsed       int    `json:"tokensUsed"`
	MimeType         string `json:"mimeType,omitempty"`
	Pending          bool   `json:"pending,omitempty"`
	JobID            string `json:"jobId,omitempty"`
}

type BotRegistry interface {
	Lookup(botType string) bots.BotConfig
	Known(botType string) bool
}

type Dispatcher interface {
	Invoke(ctx context.Context, bot bots.BotConfig, prompt string) (providers.Result, error)
}

type Ledger interface {
	CheckAndReserve(ctx context.Context, userID string) (ledger.Reservation, error)
	Release(ctx context.Context, r ledger.Reservation) error
	Commit(ctx context.Context, r ledger.Reservation, rec storage.UsageRecord) error
}

type RateLimiter interface {
	Allow(ctx context.Context, userID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error)
}

type Deduper interface {
	MarkFirst(ctx context.Context, userID, key string) (bool, error)
	Forget(ctx context.Context, userID, key string) error
}

type Config struct {
	Bots       BotRegistry
	Dispatcher Dispatcher
	Ledger     Ledger
	// Limiter and Deduper are optional.
	Limiter RateLimiter
	Deduper Deduper
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Handler struct {
	bots       BotRegistry
	dispatcher Dispatcher
	ledger     Ledger
	limiter    RateLimiter
	deduper    Deduper
	log        zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewHandler(cfg Config) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		bots:       cfg.Bots,
		dispatcher: cfg.Dispatcher,
		ledger:     cfg.Ledger,
		limiter:    cfg.Limiter,
		deduper:    cfg.Deduper,
		log:        cfg.Logger.With().Str("component", "chat").Logger(),
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}
}

func (h *Handler) Handle(ctx context.Context, req Request) (Response, error) {
	if err := validate(req); err != nil {
		h.count("invalid")
		return Response{}, err
	}
	log := h.log.With().Str("user_id", req.UserID).Str("bot_type", req.BotType).Logger()

	if h.limiter != nil {
		allowed, used, resetAt, err := h.limiter.Allow(ctx, req.UserID, h.now())
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		case !allowed:
			h.count("rate_limited")
			log.Info().Int64("used", used).Time("reset_at", resetAt).Msg("hourly limit reached")
			return Response{}, &RateLimitError{ResetAt: resetAt}
		}
	}

	keyHeld := false
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" && h.deduper != nil {
		first, err := h.deduper.MarkFirst(ctx, req.UserID, key)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("idempotency store unavailable, allowing request")
		case !first:
			h.count("duplicate")
			return Response{}, ErrDuplicateRequest
		default:
			keyHeld = true
		}
	}
	// a request that did not complete must not burn its key
	forget := func() {
		if !keyHeld {
			return
		}
		if err := h.deduper.Forget(context.WithoutCancel(ctx), req.UserID, strings.TrimSpace(req.IdempotencyKey)); err != nil {
			log.Warn().Err(err).Msg("failed to release idempotency key")
		}
	}

	res, err := h.ledger.CheckAndReserve(ctx, req.UserID)
	if err != nil {
		forget()
		if errors.Is(err, ledger.ErrCreditsExhausted) {
			h.count("no_credits")
			return Response{}, ErrCreditsExhausted
		}
		h.count("error")
		log.Error().Err(err).Msg("credit reservation failed")
		return Response{}, err
	}

	bot := h.bots.Lookup(req.BotType)
	if !h.bots.Known(req.BotType) {
		// unknown ids are served by the default bot; keep typos visible
		log.Warn().Str("fallback_bot", bot.ID).Msg("unknown bot type")
	}
	log = log.With().Str("bot", bot.ID).Str("provider", string(bot.Provider)).Logger()

	out, err := h.dispatcher.Invoke(ctx, bot, req.Prompt)
	if err != nil {
		_ = h.ledger.Release(ctx, res)
		forget()
		h.count("upstream_error")
		return Response{}, providers.AsUpstream(bot.Provider, err)
	}

	rec := storage.UsageRecord{
		BotID:        bot.ID,
		PromptText:   req.Prompt,
		ResponseText: out.Text,
		TokensUsed:   out.TokensUsed,
	}
	if out.IsAudio() {
		rec.ResponseText = AudioMarker
	}
	if err := h.ledger.Commit(ctx, res, rec); err != nil {
		// the text was generated and paid for; answer anyway
		h.count("ok_unrecorded")
	} else {
		h.count("ok")
	}

	log.Info().
		Str("kind", out.Kind.String()).
		Int("tokens", out.TokensUsed).
		Int64("credits_remaining", res.Remaining).
		Msg("chat request completed")

	return render(out, res.Remaining), nil
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.Prompt) == "":
		return &ValidationError{Field: "prompt", Msg: "is required"}
	case strings.TrimSpace(req.BotType) == "":
		return &ValidationError{Field: "botType", Msg: "is required"}
	case strings.TrimSpace(req.UserID) == "":
		return &ValidationError{Field: "userId", Msg: "is required"}
	}
	return nil
}

func render(out providers.Result, remaining int64) Response {
	resp := Response{
		Text:             out.Text,
		CreditsRemaining: remaining,
		TokensUsed:       out.TokensUsed,
	}
	switch out.Kind {
	case providers.KindAudio:
		resp.Text = base64.StdEncoding.EncodeToString(out.Audio)
		resp.IsAudio = true
		resp.MimeType = out.MimeType
	case providers.KindPending:
		resp.Pending = true
		resp.JobID = out.JobID
	}
	return resp
}

func (h *Handler) count(outcome string) {
	if h.metrics != nil {
		h.metrics.ChatRequests.WithLabelValues(outcome).Inc()
	}
}
