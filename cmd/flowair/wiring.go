package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"flowair/internal/config"
	"flowair/internal/ledger"
	"flowair/internal/metrics"
	"flowair/internal/storage"
)

// deps holds the connections every subcommand except seal needs.
type deps struct {
	store *storage.Store
	rdb   *redis.Client
}

func openDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = store.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &deps{store: store, rdb: rdb}, nil
}

func (d *deps) Close() {
	if err := d.rdb.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close redis")
	}
	if err := d.store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close storage")
	}
}

// usageStream is nil for the sql backend, where usage goes straight to the
// database inside the request.
func (d *deps) ledger(cfg *config.Config, m *metrics.Metrics) (*ledger.Ledger, *ledger.UsageStream) {
	lc := ledger.Config{
		Balances: d.store,
		Usage:    d.store,
		Profiles: d.store,
		Logger:   log.Logger,
		Metrics:  m,
	}
	if cfg.Ledger.Backend != config.LedgerRedis {
		return ledger.New(lc), nil
	}

	stream := ledger.NewUsageStream(d.rdb, cfg.Redis.UsageStream, cfg.Redis.UsageGroup, cfg.Worker.ConsumerName, cfg.Redis.UsageBlock)
	lc.Balances = ledger.NewRedisBalances(d.rdb, cfg.Redis.KeyPrefix)
	lc.Usage = stream
	return ledger.New(lc), stream
}
