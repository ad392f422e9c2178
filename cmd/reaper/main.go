// reaper sweeps expired access windows from a shared postgres or sqlite
// store. Run it when several API replicas share one store and start them with
// REAPER_ENABLED=false.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devi-sudo/zbox/config"
	"github.com/devi-sudo/zbox/internal/health"
	"github.com/devi-sudo/zbox/internal/infrastructure/storage"
	ctxlog "github.com/devi-sudo/zbox/internal/log"
	"github.com/devi-sudo/zbox/internal/metrics"
	"github.com/devi-sudo/zbox/internal/scheduler"
	"github.com/devi-sudo/zbox/internal/usecase"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.StoreDriver == config.StoreMemory {
		log.Fatalf("config: the standalone reaper needs a shared store, STORE_DRIVER is %q", cfg.StoreDriver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	store, closeStore, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		stop()
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	logger.Info("store opened", "driver", cfg.StoreDriver)

	metrics.Register()
	checker := health.NewChecker(store, cfg.StoreDriver, logger, prometheus.DefaultRegisterer)

	accessUsecase := usecase.NewAccessUsecase(store, nil, nil, logger)
	reaper, err := scheduler.NewReaper(accessUsecase, logger, cfg.ReapSchedule)
	if err != nil {
		stop()
		log.Fatalf("reaper: %v", err)
	}

	// sweep once on boot so a long outage doesn't leave a backlog until the first tick
	reaper.RunOnce(ctx)
	go reaper.Start(ctx)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("reaper shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
