package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"flowair/internal/bots"
	"flowair/internal/chat"
	"flowair/internal/config"
	"flowair/internal/crypto"
	"flowair/internal/httpapi"
	"flowair/internal/metrics"
	"flowair/internal/providers/registry"
	"flowair/internal/throttle"
	"flowair/internal/worker"
)

type serveCmd struct{}

func (serveCmd) Run(cfg *config.Config) error {
	log.Info().
		Str("ledger", cfg.Ledger.Backend).
		Str("text_backend", cfg.Providers.TextBackend).
		Str("addr", cfg.HTTP.ListenAddr).
		Msg("starting flowair")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Providers.HasSealedCredentials() {
		keyring, err := crypto.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			return fmt.Errorf("init keyring: %w", err)
		}
		if err := cfg.Providers.Unseal(keyring); err != nil {
			return fmt.Errorf("unseal provider credentials: %w", err)
		}
	}

	d, err := openDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	m := metrics.Global()
	dispatcher, err := registry.Build(ctx, cfg.Providers, registry.Options{
		Timeout: cfg.Providers.Timeout,
		Logger:  log.Logger,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close providers")
		}
	}()
	log.Info().Interface("families", dispatcher.Families()).Msg("providers ready")

	led, stream := d.ledger(cfg, m)
	errCh := make(chan error, 2)

	var workerDone chan struct{}
	if stream != nil {
		w := worker.New(worker.Config{
			Source:      stream,
			Sink:        d.store,
			MaxRetries:  cfg.Worker.MaxRetries,
			ReclaimIdle: cfg.Worker.ReclaimIdle,
			Logger:      log.Logger,
			Metrics:     m,
		})
		workerDone = make(chan struct{})
		go func() {
			defer close(workerDone)
			if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("usage worker: %w", err)
			}
		}()
		log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("usage worker started")
	}

	catalog := bots.Default()
	handler := chat.NewHandler(chat.Config{
		Bots:       catalog,
		Dispatcher: dispatcher,
		Ledger:     led,
		Limiter:    throttle.NewHourlyLimiter(d.rdb, cfg.Redis.KeyPrefix, cfg.Rate.PerHour),
		Deduper:    throttle.NewIdempotencyGuard(d.rdb, cfg.Redis.KeyPrefix, cfg.HTTP.IdempotencyTTL),
		Logger:     log.Logger,
		Metrics:    m,
	})

	router := httpapi.NewRouter(httpapi.Config{
		Chat:           handler,
		Bots:           catalog,
		Accounts:       led,
		Ready:          d.store.Ping,
		Metrics:        promhttp.Handler(),
		HealthPath:     cfg.HTTP.HealthPath,
		MetricsPath:    cfg.HTTP.MetricsPath,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AdminToken:     cfg.HTTP.AdminToken,
		Logger:         log.Logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	// redis and the DB close on return; let the worker settle its batch first
	cancel()
	if workerDone != nil {
		<-workerDone
	}

	log.Info().Msg("stopped")
	return runErr
}
