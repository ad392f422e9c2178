package scheduler_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devi-sudo/zbox/internal/metrics"
	"github.com/devi-sudo/zbox/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var discard = slog.New(slog.DiscardHandler)

func TestDelayedTasks_RunsAfterDelay(t *testing.T) {
	d := scheduler.NewDelayedTasks(discard)
	defer d.Stop()

	done := make(chan struct{})
	d.Schedule("k", 10*time.Millisecond, func(context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	if n := d.Pending(); n != 0 {
		t.Errorf("Pending = %d after run, want 0", n)
	}
}

func TestDelayedTasks_RescheduleReplaces(t *testing.T) {
	d := scheduler.NewDelayedTasks(discard)
	defer d.Stop()

	var first, second atomic.Int32
	done := make(chan struct{})
	d.Schedule("k", 20*time.Millisecond, func(context.Context) error {
		first.Add(1)
		return nil
	})
	d.Schedule("k", 40*time.Millisecond, func(context.Context) error {
		second.Add(1)
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement task did not run")
	}
	if first.Load() != 0 {
		t.Error("replaced task still ran")
	}
	if second.Load() != 1 {
		t.Errorf("replacement ran %d times, want 1", second.Load())
	}
}

func TestPendingReapsGauge(t *testing.T) {
	d := scheduler.NewDelayedTasks(discard)
	defer d.Stop()

	gauge := metrics.PendingReaps(d.Pending)
	noop := func(context.Context) error { return nil }
	d.Schedule("access:1", time.Hour, noop)
	d.Schedule("access:2", time.Hour, noop)
	d.Schedule("access:1", time.Hour, noop)

	if got := testutil.ToFloat64(gauge); got != 2 {
		t.Errorf("pending reaps = %v, want 2", got)
	}
}

func TestDelayedTasks_StopDropsPending(t *testing.T) {
	d := scheduler.NewDelayedTasks(discard)

	var ran atomic.Bool
	d.Schedule("a", 20*time.Millisecond, func(context.Context) error { ran.Store(true); return nil })
	d.Schedule("b", 20*time.Millisecond, func(context.Context) error { ran.Store(true); return nil })
	if n := d.Pending(); n != 2 {
		t.Fatalf("Pending = %d, want 2", n)
	}

	d.Stop()
	if d.Schedule("c", time.Millisecond, func(context.Context) error { return nil }) {
		t.Error("Schedule after Stop = true, want false")
	}

	time.Sleep(60 * time.Millisecond)
	if ran.Load() {
		t.Error("task ran after Stop")
	}
	if n := d.Pending(); n != 0 {
		t.Errorf("Pending = %d after Stop, want 0", n)
	}
}
