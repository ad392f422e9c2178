// Package settings holds runtime-adjustable flags. Values are read on every
// request through atomic accessors and written back to the store when an
// operator changes them.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/repository"
)

type Cell struct {
	adEnabled atomic.Bool
	store     repository.Store
	logger    *slog.Logger
}

// New returns a cell seeded with the env defaults. Call Load to overlay the
// persisted values.
func New(store repository.Store, adEnabled bool, logger *slog.Logger) *Cell {
	c := &Cell{store: store, logger: logger.With("component", "settings")}
	c.adEnabled.Store(adEnabled)
	return c
}

// Load overlays settings persisted by a previous SetAdEnabled. Missing
// settings keep the defaults.
func (c *Cell) Load(ctx context.Context) error {
	s, err := repository.Load[domain.Settings](ctx, c.store, repository.KeySettings)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("load settings: %w", err)
	}
	c.adEnabled.Store(s.AdEnabled)
	c.logger.InfoContext(ctx, "settings loaded", "ad_enabled", s.AdEnabled)
	return nil
}

func (c *Cell) AdEnabled() bool {
	return c.adEnabled.Load()
}

// SetAdEnabled persists the flag and then publishes it.
func (c *Cell) SetAdEnabled(ctx context.Context, enabled bool) error {
	_, err := repository.Update(ctx, c.store, repository.KeySettings, func(cur *domain.Settings) (*domain.Settings, error) {
		if cur == nil {
			cur = &domain.Settings{}
		}
		cur.AdEnabled = enabled
		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	c.adEnabled.Store(enabled)
	c.logger.InfoContext(ctx, "ad mode changed", "ad_enabled", enabled)
	return nil
}

func (c *Cell) Snapshot() domain.Settings {
	return domain.Settings{AdEnabled: c.AdEnabled()}
}
