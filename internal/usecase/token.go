package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devi-sudo/zbox/internal/adprovider"
	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/metrics"
	"github.com/devi-sudo/zbox/internal/repository"
	"github.com/devi-sudo/zbox/internal/token"
)

// DirectAccessTTL is the access a redeemed token grants.
const DirectAccessTTL = 18 * time.Hour

// AdSwitch reports the runtime ad toggle. Satisfied by *settings.Cell.
type AdSwitch interface {
	AdEnabled() bool
}

// IssuedLink is a shortened verification link and the token behind it.
type IssuedLink struct {
	URL   string
	Token *domain.Token
}

type TokenUsecase struct {
	codec     *token.Codec
	store     repository.Store
	access    AccessGranter
	shortener adprovider.Shortener
	ads       AdSwitch
	linkBase  string
	now       Clock
	logger    *slog.Logger
}

// NewTokenUsecase wires token issuance and redemption. linkBase is the deep
// link prefix the token is appended to before shortening.
func NewTokenUsecase(
	codec *token.Codec,
	store repository.Store,
	access AccessGranter,
	shortener adprovider.Shortener,
	ads AdSwitch,
	linkBase string,
	clock Clock,
	logger *slog.Logger,
) *TokenUsecase {
	return &TokenUsecase{
		codec:     codec,
		store:     store,
		access:    access,
		shortener: shortener,
		ads:       ads,
		linkBase:  linkBase,
		now:       clock.orNow(),
		logger:    logger.With("component", "token"),
	}
}

// IssueLink mints a token for userID, shortens the start link through the ad
// provider and persists the token. Nothing is persisted when the provider
// fails.
func (u *TokenUsecase) IssueLink(ctx context.Context, userID, mediaRef string) (*IssuedLink, error) {
	if !u.ads.AdEnabled() {
		metrics.TokensIssuedTotal.WithLabelValues("ads_disabled").Inc()
		return nil, domain.ErrAdsDisabled
	}

	value, err := u.codec.Issue(userID)
	if err != nil {
		metrics.TokensIssuedTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	short, err := u.shortener.Shorten(ctx, u.linkBase+value)
	if err != nil {
		metrics.TokensIssuedTotal.WithLabelValues("upstream_error").Inc()
		u.logger.WarnContext(ctx, "shorten verification link", "user_id", userID, "error", err)
		return nil, fmt.Errorf("shorten link: %w", err)
	}

	now := u.now()
	t := &domain.Token{
		Value:     value,
		UserID:    userID,
		MediaRef:  mediaRef,
		CreatedAt: now,
		ExpiresAt: now.Add(u.codec.TTL()),
	}
	if err := repository.Save(ctx, u.store, repository.TokenKey(value), t); err != nil {
		metrics.TokensIssuedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("save token: %w", err)
	}

	metrics.TokensIssuedTotal.WithLabelValues("success").Inc()
	u.logger.InfoContext(ctx, "verification link issued", "user_id", userID, "media_ref", mediaRef)
	return &IssuedLink{URL: short, Token: t}, nil
}

// Redeem verifies the token offline, consumes its stored record exactly once
// and opens a direct access window. Of any number of concurrent redemptions
// of the same token at most one succeeds; the rest get domain.ErrTokenUsed.
func (u *TokenUsecase) Redeem(ctx context.Context, userID, value string) (*domain.Token, *domain.AccessWindow, error) {
	t, w, err := u.redeem(ctx, userID, value)

	outcome := "success"
	if err != nil {
		outcome = "error"
		if reason, ok := domain.ReasonOf(err); ok {
			outcome = string(reason)
		}
	}
	metrics.TokenRedemptionsTotal.WithLabelValues(outcome).Inc()
	return t, w, err
}

func (u *TokenUsecase) redeem(ctx context.Context, userID, value string) (*domain.Token, *domain.AccessWindow, error) {
	if _, err := u.codec.Verify(value, userID); err != nil {
		return nil, nil, err
	}

	now := u.now()
	t, err := repository.Update(ctx, u.store, repository.TokenKey(value), func(cur *domain.Token) (*domain.Token, error) {
		switch {
		case cur == nil:
			return nil, domain.ErrUnknownToken
		case cur.Used:
			return nil, domain.ErrTokenUsed
		case cur.UserID != userID:
			return nil, domain.ErrUserMismatch
		case !cur.ExpiresAt.After(now):
			return nil, domain.ErrExpired
		}
		cur.Used = true
		cur.ActivatedAt = &now
		return cur, nil
	})
	if err != nil {
		if _, ok := domain.ReasonOf(err); ok {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("consume token: %w", err)
	}

	w, err := u.access.Grant(ctx, userID, DirectAccessTTL, domain.SourceDirect)
	if err != nil {
		// The token is spent; log enough to restore access by hand.
		u.logger.ErrorContext(ctx, "grant after token consume", "user_id", userID, "token", value, "error", err)
		return nil, nil, err
	}

	u.logger.InfoContext(ctx, "token redeemed", "user_id", userID, "media_ref", t.MediaRef)
	return t, w, nil
}

// isUpstream reports whether err came from the ad provider.
func isUpstream(err error) bool {
	return errors.Is(err, domain.ErrUpstreamUnavailable)
}
