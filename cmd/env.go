package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/obsenv/exposurelog/internal/registry"
	"github.com/obsenv/exposurelog/internal/resilience"
	"github.com/obsenv/exposurelog/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRegistries() []registry.Registry {
	regs := make([]registry.Registry, 0, len(cfg.Registries))
	for i, rc := range cfg.Registries {
		var opts []registry.Option
		if rc.RatePerSec > 0 {
			opts = append(opts, registry.WithRateLimit(rc.RatePerSec, rc.Burst))
		}
		if rc.RetryMaxAttempt > 0 {
			retry := resilience.DefaultRetryConfig()
			retry.MaxAttempts = rc.RetryMaxAttempt
			opts = append(opts, registry.WithRetry(retry))
		}
		regs = append(regs, registry.NewClient(i+1, rc.URL, opts...))
	}
	return regs
}
