// Package httpapi exposes the chat core over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"flowair/internal/bots"
	"flowair/internal/chat"
	"flowair/internal/ledger"
)

const maxRequestBody = 1 << 20

type ChatService interface {
	Handle(ctx context.Context, req chat.Request) (chat.Response, error)
}

type BotCatalog interface {
	List() []bots.BotConfig
}

type AccountService interface {
	Account(ctx context.Context, userID string) (ledger.Account, error)
	Grant(ctx context.Context, userID string, credits int64, tier string) (ledger.Account, error)
}

type Config struct {
	Chat     ChatService
	Bots     BotCatalog
	Accounts AccountService
	// Ready backs the health endpoint; nil means always ready.
	Ready          func(ctx context.Context) error
	Metrics        http.Handler
	HealthPath     string
	MetricsPath    string
	AllowedOrigins []string
	// AdminToken enables the admin routes when non-empty.
	AdminToken string
	Logger     zerolog.Logger
}

type API struct {
	chat     ChatService
	bots     BotCatalog
	accounts AccountService
	ready    func(ctx context.Context) error
}

func NewRouter(cfg Config) http.Handler {
	api := &API{chat: cfg.Chat, bots: cfg.Bots, accounts: cfg.Accounts, ready: cfg.Ready}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(cfg.Logger))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-ID"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(CORS(cfg.AllowedOrigins))

	r.Get(cfg.HealthPath, api.health)
	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		r.Handle(cfg.MetricsPath, cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", api.postChat)
		r.Get("/bots", api.listBots)
		r.Get("/users/{userId}/credits", api.getCredits)

		if strings.TrimSpace(cfg.AdminToken) != "" {
			r.Group(func(r chi.Router) {
				r.Use(AdminAuth(cfg.AdminToken))
				r.Post("/admin/users/{userId}/credits", api.grantCredits)
			})
		}
	})

	return r
}
