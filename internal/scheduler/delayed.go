package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const delayedTaskTimeout = 10 * time.Second

// DelayedTasks runs keyed fire-and-forget callbacks after a delay.
// Scheduling a key that is already pending replaces the pending task.
// Stop drops everything still outstanding; tasks are best-effort cleanup and
// nothing relies on them for correctness.
type DelayedTasks struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	logger  *slog.Logger
}

func NewDelayedTasks(logger *slog.Logger) *DelayedTasks {
	ctx, cancel := context.WithCancel(context.Background())
	return &DelayedTasks{
		timers: make(map[string]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "delayed_tasks"),
	}
}

// Schedule runs fn after delay under key. It returns false once Stop has
// been called.
func (d *DelayedTasks) Schedule(key string, delay time.Duration, fn func(ctx context.Context) error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}
	if prev, ok := d.timers[key]; ok {
		prev.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.timers[key] != t {
			// replaced or cancelled after the timer fired
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()

		ctx, cancel := context.WithTimeout(d.ctx, delayedTaskTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Warn("delayed task failed", "key", key, "error", err)
		}
	})
	d.timers[key] = t
	return true
}

// Pending reports how many tasks are waiting to fire.
func (d *DelayedTasks) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels every outstanding task and aborts running ones.
func (d *DelayedTasks) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
	d.cancel()
	d.logger.Info("delayed tasks dropped on shutdown")
}
