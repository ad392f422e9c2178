// Package storage selects and opens the configured repository.Store.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/devi-sudo/zbox/config"
	"github.com/devi-sudo/zbox/internal/infrastructure/memory"
	"github.com/devi-sudo/zbox/internal/infrastructure/postgres"
	"github.com/devi-sudo/zbox/internal/infrastructure/sqlite"
	"github.com/devi-sudo/zbox/internal/repository"
)

// Open returns the store named by cfg.StoreDriver and a func that releases it.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		if cfg.Env != "local" {
			logger.Warn("memory store in a non-local environment; state is lost on restart", "env", cfg.Env)
		}
		return memory.NewStore(), func() {}, nil

	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.NewKVRepository(pool, logger), pool.Close, nil

	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Error("close sqlite store", "error", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
