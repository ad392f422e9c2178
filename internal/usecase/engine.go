package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/token"
)

const (
	referralPrefix = "ref_"
	viewPrefix     = "view_"
)

// Engine routes a start event to the referral ledger, the token flow or the
// access check and reduces the outcome to a domain.Result.
type Engine struct {
	access   *AccessUsecase
	tokens   *TokenUsecase
	referral *ReferralUsecase
	ads      AdSwitch
	logger   *slog.Logger
}

func NewEngine(access *AccessUsecase, tokens *TokenUsecase, referral *ReferralUsecase, ads AdSwitch, logger *slog.Logger) *Engine {
	return &Engine{
		access:   access,
		tokens:   tokens,
		referral: referral,
		ads:      ads,
		logger:   logger.With("component", "engine"),
	}
}

// HandleStart decides what the user gets for a start event. Validation
// failures are reported in the Result; only infrastructure failures are
// returned as errors.
func (e *Engine) HandleStart(ctx context.Context, ev domain.StartEvent) (domain.Result, error) {
	param := strings.TrimSpace(ev.StartParam)

	switch {
	case strings.HasPrefix(param, referralPrefix):
		return e.redeemReferral(ctx, ev.UserID, strings.TrimPrefix(param, referralPrefix))
	case token.HasTag(param):
		return e.redeemToken(ctx, ev.UserID, param)
	}

	mediaRef := ""
	if strings.HasPrefix(param, viewPrefix) {
		mediaRef = strings.TrimPrefix(param, viewPrefix)
	}

	w, err := e.access.Window(ctx, ev.UserID)
	if err != nil {
		return domain.Result{}, err
	}
	if w != nil {
		return domain.Result{
			Kind:      domain.KindAccessGranted,
			Source:    w.Source,
			ExpiresAt: &w.ExpiresAt,
			Remaining: w.ExpiresAt.Sub(e.access.now()),
			MediaRef:  mediaRef,
		}, nil
	}

	if e.ads.AdEnabled() {
		link, err := e.tokens.IssueLink(ctx, ev.UserID, mediaRef)
		switch {
		case err == nil:
			return domain.Result{
				Kind:            domain.KindNeedsVerification,
				VerificationURL: link.URL,
				MediaRef:        mediaRef,
			}, nil
		case isUpstream(err):
			return domain.Result{
				Kind:     domain.KindAccessDenied,
				Reason:   domain.DenyAdUnavailable,
				MediaRef: mediaRef,
			}, nil
		case !errors.Is(err, domain.ErrAdsDisabled):
			return domain.Result{}, err
		}
		// Ads were switched off between the check and the issue.
	}

	code, err := e.referral.GetOrCreateCode(ctx, ev.UserID)
	if err != nil {
		return domain.Result{}, fmt.Errorf("referral code for denied user: %w", err)
	}
	return domain.Result{
		Kind:         domain.KindAccessDenied,
		Reason:       domain.DenyReferralRequired,
		ReferralCode: code,
		MediaRef:     mediaRef,
	}, nil
}

func (e *Engine) redeemToken(ctx context.Context, userID, value string) (domain.Result, error) {
	t, w, err := e.tokens.Redeem(ctx, userID, value)
	if err != nil {
		reason, ok := domain.ReasonOf(err)
		switch {
		case !ok:
			return domain.Result{}, err
		case reason == domain.ReasonTokenUsed:
			return domain.Result{Kind: domain.KindTokenUsed, Reason: string(reason)}, nil
		default:
			return domain.Result{Kind: domain.KindTokenInvalid, Reason: string(reason)}, nil
		}
	}
	return domain.Result{
		Kind:      domain.KindAccessGranted,
		Source:    w.Source,
		ExpiresAt: &w.ExpiresAt,
		Remaining: w.ExpiresAt.Sub(e.access.now()),
		MediaRef:  t.MediaRef,
	}, nil
}

func (e *Engine) redeemReferral(ctx context.Context, userID, code string) (domain.Result, error) {
	r, err := e.referral.Redeem(ctx, code, userID)
	if err != nil {
		reason, ok := domain.ReasonOf(err)
		if !ok {
			return domain.Result{}, err
		}
		return domain.Result{Kind: domain.KindReferralInvalid, Reason: string(reason)}, nil
	}
	return domain.Result{
		Kind:           domain.KindReferralSuccess,
		Source:         r.NewUserWindow.Source,
		ExpiresAt:      &r.NewUserWindow.ExpiresAt,
		Remaining:      r.NewUserWindow.ExpiresAt.Sub(e.access.now()),
		ReferrerUserID: r.ReferrerUserID,
		ReferralCode:   r.Code,
	}, nil
}
