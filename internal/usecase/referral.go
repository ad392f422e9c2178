package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/metrics"
	"github.com/devi-sudo/zbox/internal/repository"
)

// ReferralTTL is the access both sides of a referral receive.
const ReferralTTL = 8 * time.Hour

const (
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength      = 8
	maxCodeAttempts = 5
)

// ErrCodeSpaceExhausted is returned when every generated code collided.
var ErrCodeSpaceExhausted = errors.New("could not allocate a unique referral code")

var errCodeTaken = errors.New("referral code taken")

// AccessGranter is the part of the access window manager the referral and
// token flows write through.
type AccessGranter interface {
	Grant(ctx context.Context, userID string, ttl time.Duration, source domain.Source) (*domain.AccessWindow, error)
	Extend(ctx context.Context, userID string, ttl time.Duration, source domain.Source) (*domain.AccessWindow, error)
}

// Redemption is the outcome of a committed referral.
type Redemption struct {
	Code           string
	ReferrerUserID string
	NewUserWindow  *domain.AccessWindow
	ReferrerWindow *domain.AccessWindow
}

// ReferralSummary is what a user sees about their own referrals.
type ReferralSummary struct {
	UserID         string     `json:"user_id"`
	Code           string     `json:"code"`
	TotalReferrals int        `json:"total_referrals"`
	LastReferralAt *time.Time `json:"last_referral_at,omitempty"`
}

// Leaderboard aggregates referrer stats across all users.
type Leaderboard struct {
	TotalReferrals int                    `json:"total_referrals"`
	Referrers      int                    `json:"referrers"`
	Top            []domain.ReferrerStats `json:"top"`
}

type ReferralUsecase struct {
	store  repository.Store
	access AccessGranter
	random io.Reader
	now    Clock
	logger *slog.Logger
}

// NewReferralUsecase builds the referral ledger. random may be nil, in which
// case codes are drawn from crypto/rand.
func NewReferralUsecase(store repository.Store, access AccessGranter, random io.Reader, clock Clock, logger *slog.Logger) *ReferralUsecase {
	if random == nil {
		random = rand.Reader
	}
	return &ReferralUsecase{
		store:  store,
		access: access,
		random: random,
		now:    clock.orNow(),
		logger: logger.With("component", "referral"),
	}
}

// GetOrCreateCode returns the user's referral code, allocating one on first
// use. A user only ever owns one code: if two calls race, both return the
// code that won the user mapping.
func (u *ReferralUsecase) GetOrCreateCode(ctx context.Context, userID string) (string, error) {
	existing, err := repository.Load[domain.UserCode](ctx, u.store, repository.UserCodeKey(userID))
	if err == nil {
		return existing.Code, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("load user code: %w", err)
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := u.newCode()
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}

		now := u.now()
		_, err = repository.Update(ctx, u.store, repository.ReferralCodeKey(code), func(cur *domain.ReferralCode) (*domain.ReferralCode, error) {
			if cur != nil {
				return nil, errCodeTaken
			}
			return &domain.ReferralCode{Code: code, OwnerUserID: userID, CreatedAt: now}, nil
		})
		if errors.Is(err, errCodeTaken) {
			u.logger.DebugContext(ctx, "referral code collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create referral code: %w", err)
		}

		mapping, err := repository.Update(ctx, u.store, repository.UserCodeKey(userID), func(cur *domain.UserCode) (*domain.UserCode, error) {
			if cur != nil {
				return cur, nil
			}
			return &domain.UserCode{Code: code, CreatedAt: now}, nil
		})
		if err != nil {
			return "", fmt.Errorf("map user code: %w", err)
		}
		if mapping.Code != code {
			// Lost the race to a concurrent call; the orphaned code record
			// is unreachable from the user and harmless.
			return mapping.Code, nil
		}

		metrics.ReferralCodesCreatedTotal.Inc()
		u.logger.InfoContext(ctx, "referral code created", "user_id", userID, "code", code)
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

func (u *ReferralUsecase) newCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := io.ReadFull(u.random, buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// ValidateRedemption checks that newUserID may redeem code and returns the
// referrer. It does not write.
func (u *ReferralUsecase) ValidateRedemption(ctx context.Context, code, newUserID string) (string, error) {
	rc, err := repository.Load[domain.ReferralCode](ctx, u.store, repository.ReferralCodeKey(code))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrCodeNotFound
		}
		return "", fmt.Errorf("load referral code: %w", err)
	}
	if rc.OwnerUserID == newUserID {
		return "", domain.ErrSelfReferral
	}

	_, err = u.store.Get(ctx, repository.RedemptionKey(newUserID))
	switch {
	case err == nil:
		return "", domain.ErrAlreadyRedeemed
	case !errors.Is(err, domain.ErrNotFound):
		return "", fmt.Errorf("load redemption: %w", err)
	}
	return rc.OwnerUserID, nil
}

// CommitRedemption records the redemption and grants both sides. The
// redemption record is created first and atomically, so a user racing
// themselves can commit at most once.
func (u *ReferralUsecase) CommitRedemption(ctx context.Context, referrerID, newUserID, code string) (*Redemption, error) {
	now := u.now()

	_, err := repository.Update(ctx, u.store, repository.RedemptionKey(newUserID), func(cur *domain.ReferralRedemption) (*domain.ReferralRedemption, error) {
		if cur != nil {
			return nil, domain.ErrAlreadyRedeemed
		}
		return &domain.ReferralRedemption{
			NewUserID:      newUserID,
			ReferrerUserID: referrerID,
			Code:           code,
			RedeemedAt:     now,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record redemption: %w", err)
	}

	_, err = repository.Update(ctx, u.store, repository.ReferralCodeKey(code), func(cur *domain.ReferralCode) (*domain.ReferralCode, error) {
		if cur == nil {
			return nil, domain.ErrCodeNotFound
		}
		cur.Uses++
		cur.LastUsedAt = &now
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("count code use: %w", err)
	}

	_, err = repository.Update(ctx, u.store, repository.ReferrerKey(referrerID), func(cur *domain.ReferrerStats) (*domain.ReferrerStats, error) {
		if cur == nil {
			cur = &domain.ReferrerStats{UserID: referrerID}
		}
		cur.TotalReferrals++
		cur.LastReferralAt = &now
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("update referrer stats: %w", err)
	}

	newWindow, err := u.access.Grant(ctx, newUserID, ReferralTTL, domain.SourceReferral)
	if err != nil {
		return nil, err
	}
	referrerWindow, err := u.access.Extend(ctx, referrerID, ReferralTTL, domain.SourceReferralBonus)
	if err != nil {
		return nil, err
	}

	u.logger.InfoContext(ctx, "referral redeemed",
		"user_id", newUserID,
		"referrer_id", referrerID,
		"code", code,
		"referrer_expires_at", referrerWindow.ExpiresAt,
	)
	return &Redemption{
		Code:           code,
		ReferrerUserID: referrerID,
		NewUserWindow:  newWindow,
		ReferrerWindow: referrerWindow,
	}, nil
}

// Redeem validates and commits a referral in one call.
func (u *ReferralUsecase) Redeem(ctx context.Context, code, newUserID string) (*Redemption, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	referrerID, err := u.ValidateRedemption(ctx, code, newUserID)
	if err == nil {
		var r *Redemption
		r, err = u.CommitRedemption(ctx, referrerID, newUserID, code)
		if err == nil {
			metrics.ReferralRedemptionsTotal.WithLabelValues("success").Inc()
			return r, nil
		}
	}

	outcome := "error"
	if reason, ok := domain.ReasonOf(err); ok {
		outcome = string(reason)
	}
	metrics.ReferralRedemptionsTotal.WithLabelValues(outcome).Inc()
	return nil, err
}

// Summary returns the user's code and referral counters. Code is empty when
// the user has never asked for one.
func (u *ReferralUsecase) Summary(ctx context.Context, userID string) (*ReferralSummary, error) {
	out := &ReferralSummary{UserID: userID}

	mapping, err := repository.Load[domain.UserCode](ctx, u.store, repository.UserCodeKey(userID))
	switch {
	case err == nil:
		out.Code = mapping.Code
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load user code: %w", err)
	}

	stats, err := repository.Load[domain.ReferrerStats](ctx, u.store, repository.ReferrerKey(userID))
	switch {
	case err == nil:
		out.TotalReferrals = stats.TotalReferrals
		out.LastReferralAt = stats.LastReferralAt
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load referrer stats: %w", err)
	}
	return out, nil
}

// Leaderboard returns the overall total and the top referrers, ordered by
// total descending then user id ascending.
func (u *ReferralUsecase) Leaderboard(ctx context.Context, limit int) (*Leaderboard, error) {
	var all []domain.ReferrerStats
	err := u.store.Scan(ctx, repository.PrefixReferrers, func(key string, value []byte) error {
		s, err := decodeStats(value)
		if err != nil {
			u.logger.WarnContext(ctx, "skip undecodable referrer stats", "key", key, "error", err)
			return nil
		}
		all = append(all, *s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan referrer stats: %w", err)
	}

	board := &Leaderboard{Referrers: len(all), Top: []domain.ReferrerStats{}}
	for _, s := range all {
		board.TotalReferrals += s.TotalReferrals
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].TotalReferrals != all[j].TotalReferrals {
			return all[i].TotalReferrals > all[j].TotalReferrals
		}
		return all[i].UserID < all[j].UserID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	board.Top = append(board.Top, all...)
	return board, nil
}
