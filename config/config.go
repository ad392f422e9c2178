package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory" validate:"oneof=memory postgres sqlite"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	SQLitePath  string `env:"SQLITE_PATH"  validate:"required_if=StoreDriver sqlite"`

	TokenSecret    string `env:"TOKEN_SECRET,required" validate:"required,min=16"`
	TokenDigestLen int    `env:"TOKEN_DIGEST_LEN" envDefault:"16" validate:"min=16,max=64"`
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET,required" validate:"required,min=32"`
	StartLinkBase  string `env:"START_LINK_BASE" envDefault:"https://t.me/zbox_bot?start=" validate:"required,url"`

	AdEnabled          bool   `env:"AD_ENABLED" envDefault:"true"`
	AdProviderHost     string `env:"AD_PROVIDER_HOST" envDefault:"earnlinks.in" validate:"required"`
	AdProviderAPIToken string `env:"AD_PROVIDER_API_TOKEN" validate:"required_if=AdEnabled true"`
	AdTimeoutSec       int    `env:"AD_TIMEOUT_SEC" envDefault:"9" validate:"min=1,max=9"`

	ReapSchedule  string `env:"REAP_SCHEDULE" envDefault:"@every 15m" validate:"required"`
	ReaperEnabled bool   `env:"REAPER_ENABLED" envDefault:"true"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if _, err := cron.ParseStandard(cfg.ReapSchedule); err != nil {
		return nil, fmt.Errorf("invalid config: REAP_SCHEDULE %q: %w", cfg.ReapSchedule, err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) AdTimeout() time.Duration {
	return time.Duration(c.AdTimeoutSec) * time.Second
}
