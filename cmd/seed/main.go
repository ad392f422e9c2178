// seed creates a referral code and a redeemable token for a test user in the
// local dev store, then prints the start links for both.
// Run: STORE_DRIVER=sqlite SQLITE_PATH=./zbox.db go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/devi-sudo/zbox/config"
	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/infrastructure/storage"
	"github.com/devi-sudo/zbox/internal/repository"
	"github.com/devi-sudo/zbox/internal/token"
	"github.com/devi-sudo/zbox/internal/usecase"
	"github.com/lmittmann/tint"
)

type seedConfig struct {
	UserID   string `env:"SEED_USER_ID" envDefault:"1000"`
	MediaRef string `env:"SEED_MEDIA_REF" envDefault:"sample"`
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.StoreDriver == config.StoreMemory {
		log.Fatal("seeding the memory store is pointless, set STORE_DRIVER to sqlite or postgres")
	}

	var seed seedConfig
	if err := env.Parse(&seed); err != nil {
		log.Fatalf("parse seed env: %v", err)
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn, TimeFormat: time.Kitchen}))

	store, closeStore, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	access := usecase.NewAccessUsecase(store, nil, nil, logger)
	referral := usecase.NewReferralUsecase(store, access, nil, nil, logger)
	code, err := referral.GetOrCreateCode(ctx, seed.UserID)
	if err != nil {
		log.Fatalf("referral code: %v", err)
	}

	codec, err := token.NewCodec([]byte(cfg.TokenSecret), token.WithDigestLen(cfg.TokenDigestLen))
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}
	raw, err := codec.Issue(seed.UserID)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	// Skips the ad provider: the token is stored as if the user had
	// already been through the shortened link.
	now := time.Now()
	if err := repository.Save(ctx, store, repository.TokenKey(raw), &domain.Token{
		Value:     raw,
		UserID:    seed.UserID,
		MediaRef:  seed.MediaRef,
		CreatedAt: now,
		ExpiresAt: now.Add(codec.TTL()),
	}); err != nil {
		log.Fatalf("save token: %v", err)
	}

	fmt.Printf("user:          %s\n", seed.UserID)
	fmt.Printf("referral code: %s\n", code)
	fmt.Printf("referral link: %sref_%s\n", cfg.StartLinkBase, code)
	fmt.Printf("token link:    %s%s\n", cfg.StartLinkBase, raw)
	fmt.Printf("token expires: %s\n", now.Add(codec.TTL()).Format(time.RFC3339))
}
