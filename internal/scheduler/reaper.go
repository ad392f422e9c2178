package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devi-sudo/zbox/internal/metrics"
	"github.com/robfig/cron/v3"
)

// ExpiredReaper removes access windows whose expiry has passed and reports
// how many were removed.
type ExpiredReaper interface {
	ReapExpired(ctx context.Context) (int, error)
}

// Reaper periodically sweeps expired access windows. Reads already treat an
// expired window as absent, so the sweep only reclaims space.
type Reaper struct {
	access ExpiredReaper
	spec   string
	logger *slog.Logger
}

func NewReaper(access ExpiredReaper, logger *slog.Logger, spec string) (*Reaper, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse reap schedule %q: %w", spec, err)
	}
	return &Reaper{
		access: access,
		spec:   spec,
		logger: logger.With("component", "reaper"),
	}, nil
}

// Start blocks until ctx is cancelled, running a sweep on every tick of the
// cron schedule. Overlapping sweeps are skipped.
func (r *Reaper) Start(ctx context.Context) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.spec, func() { r.RunOnce(ctx) }); err != nil {
		// spec was validated in NewReaper
		r.logger.Error("register reap job", "schedule", r.spec, "error", err)
		return
	}
	c.Start()
	r.logger.Info("reaper started", "schedule", r.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("reaper shut down")
}

// RunOnce performs a single sweep.
func (r *Reaper) RunOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds())
	}()

	reaped, err := r.access.ReapExpired(ctx)
	if err != nil {
		r.logger.Error("reap expired windows", "error", err)
		return
	}
	if reaped > 0 {
		metrics.ReaperReapedTotal.Add(float64(reaped))
		r.logger.Info("reaped expired access windows", "count", reaped)
	}
}
