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
	"github.com/devi-sudo/zbox/internal/adprovider"
	"github.com/devi-sudo/zbox/internal/health"
	"github.com/devi-sudo/zbox/internal/infrastructure/storage"
	ctxlog "github.com/devi-sudo/zbox/internal/log"
	"github.com/devi-sudo/zbox/internal/metrics"
	"github.com/devi-sudo/zbox/internal/scheduler"
	"github.com/devi-sudo/zbox/internal/settings"
	"github.com/devi-sudo/zbox/internal/token"
	httptransport "github.com/devi-sudo/zbox/internal/transport/http"
	"github.com/devi-sudo/zbox/internal/transport/http/handler"
	"github.com/devi-sudo/zbox/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	store, closeStore, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		stop()
		log.Fatalf("store: %v", err)
	}
	defer closeStore()
	logger.Info("store opened", "driver", cfg.StoreDriver)

	// Settings
	cell := settings.New(store, cfg.AdEnabled, logger)
	if err := cell.Load(ctx); err != nil {
		stop()
		log.Fatalf("settings: %v", err)
	}

	codec, err := token.NewCodec([]byte(cfg.TokenSecret), token.WithDigestLen(cfg.TokenDigestLen))
	if err != nil {
		stop()
		log.Fatalf("token codec: %v", err)
	}

	// Access windows, with best-effort reaps at expiry
	delayed := scheduler.NewDelayedTasks(logger)
	defer delayed.Stop()
	accessUsecase := usecase.NewAccessUsecase(store, delayed, nil, logger)

	// Referrals and tokens
	referralUsecase := usecase.NewReferralUsecase(store, accessUsecase, nil, nil, logger)
	shortener := adprovider.NewClient(cfg.AdProviderHost, cfg.AdProviderAPIToken, cfg.AdTimeout(), logger)
	tokenUsecase := usecase.NewTokenUsecase(codec, store, accessUsecase, shortener, cell, cfg.StartLinkBase, nil, logger)
	engine := usecase.NewEngine(accessUsecase, tokenUsecase, referralUsecase, cell, logger)

	entitlementHandler := handler.NewEntitlementHandler(engine, accessUsecase, referralUsecase, cfg.StartLinkBase, logger)
	adminHandler := handler.NewAdminHandler(cell, referralUsecase, logger)

	// Periodic sweep; turned off when a standalone reaper serves a shared store
	if cfg.ReaperEnabled {
		reaper, err := scheduler.NewReaper(accessUsecase, logger, cfg.ReapSchedule)
		if err != nil {
			stop()
			log.Fatalf("reaper: %v", err)
		}
		go reaper.Start(ctx)
	} else {
		logger.Info("in-process reaper disabled")
	}

	metrics.Register()
	prometheus.MustRegister(metrics.PendingReaps(delayed.Pending))
	checker := health.NewChecker(store, cfg.StoreDriver, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httptransport.NewRouter(logger, entitlementHandler, adminHandler, []byte(cfg.AdminJWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port, "ad_enabled", cell.AdEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
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
