package usecase_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/repository"
	"github.com/devi-sudo/zbox/internal/settings"
	"github.com/devi-sudo/zbox/internal/token"
	"github.com/devi-sudo/zbox/internal/usecase"
)

type engineFixture struct {
	store    repository.Store
	clock    *testClock
	settings *settings.Cell
	access   *usecase.AccessUsecase
	referral *usecase.ReferralUsecase
	engine   *usecase.Engine
}

func newEngineFixture(t *testing.T, ads bool, shortenErr error) *engineFixture {
	t.Helper()
	store, clock := newStore(), newTestClock()
	cell := settings.New(store, ads, discard)

	codec, err := token.NewCodec([]byte(testSecret), token.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	shortener := &fakeShortener{
		shorten: func(_ context.Context, longURL string) (string, error) {
			if shortenErr != nil {
				return "", shortenErr
			}
			return "https://earnl.ink/x?to=" + longURL, nil
		},
	}

	access := newAccess(store, clock)
	referral := usecase.NewReferralUsecase(store, access, nil, clock.Now, discard)
	tokens := usecase.NewTokenUsecase(codec, store, access, shortener, cell, testLinkBase, clock.Now, discard)
	return &engineFixture{
		store:    store,
		clock:    clock,
		settings: cell,
		access:   access,
		referral: referral,
		engine:   usecase.NewEngine(access, tokens, referral, cell, discard),
	}
}

func (f *engineFixture) start(t *testing.T, userID, param string) domain.Result {
	t.Helper()
	res, err := f.engine.HandleStart(context.Background(), domain.StartEvent{UserID: userID, StartParam: param})
	if err != nil {
		t.Fatalf("HandleStart(%q, %q): %v", userID, param, err)
	}
	return res
}

// storedToken returns the only token record for userID.
func (f *engineFixture) storedToken(t *testing.T, userID string) string {
	t.Helper()
	var found []string
	err := f.store.Scan(context.Background(), repository.PrefixTokens, func(key string, _ []byte) error {
		tok, err := repository.Load[domain.Token](context.Background(), f.store, key)
		if err != nil {
			return err
		}
		if tok.UserID == userID {
			found = append(found, tok.Value)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scan tokens: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("found %d tokens for %s, want 1", len(found), userID)
	}
	return found[0]
}

func TestHandleStart_LiveWindowGrantsAccess(t *testing.T) {
	f := newEngineFixture(t, true, nil)
	if _, err := f.access.Grant(context.Background(), "42", 3*time.Hour, domain.SourceReferral); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	res := f.start(t, "42", "view_movie-7")

	if res.Kind != domain.KindAccessGranted {
		t.Fatalf("Kind = %q, want access_granted", res.Kind)
	}
	if res.Source != domain.SourceReferral || res.MediaRef != "movie-7" {
		t.Errorf("Result = %+v", res)
	}
	if res.Remaining != 3*time.Hour {
		t.Errorf("Remaining = %v, want 3h", res.Remaining)
	}
}

func TestHandleStart_AdsEnabledAsksForVerification(t *testing.T) {
	f := newEngineFixture(t, true, nil)

	res := f.start(t, "42", "view_movie-7")

	if res.Kind != domain.KindNeedsVerification {
		t.Fatalf("Kind = %q, want needs_verification", res.Kind)
	}
	raw := f.storedToken(t, "42")
	if want := "https://earnl.ink/x?to=" + testLinkBase + raw; res.VerificationURL != want {
		t.Errorf("VerificationURL = %q, want %q", res.VerificationURL, want)
	}
	if res.MediaRef != "movie-7" {
		t.Errorf("MediaRef = %q, want movie-7", res.MediaRef)
	}
}

func TestHandleStart_ProviderDownDeniesWithoutToken(t *testing.T) {
	f := newEngineFixture(t, true, fmt.Errorf("shorten: %w", domain.ErrUpstreamUnavailable))

	res := f.start(t, "42", "")

	if res.Kind != domain.KindAccessDenied || res.Reason != domain.DenyAdUnavailable {
		t.Errorf("Result = %+v, want access_denied/ad_unavailable", res)
	}
	if n := countKeys(t, f.store, repository.PrefixTokens); n != 0 {
		t.Errorf("stored %d tokens, want 0", n)
	}
}

func TestHandleStart_AdsDisabledOffersReferralCode(t *testing.T) {
	f := newEngineFixture(t, false, nil)

	first := f.start(t, "42", "")
	second := f.start(t, "42", "")

	if first.Kind != domain.KindAccessDenied || first.Reason != domain.DenyReferralRequired {
		t.Fatalf("Result = %+v, want access_denied/referral_required", first)
	}
	if first.ReferralCode == "" || first.ReferralCode != second.ReferralCode {
		t.Errorf("codes = %q, %q, want the same non-empty code", first.ReferralCode, second.ReferralCode)
	}
}

func TestHandleStart_AdToggleTakesEffectImmediately(t *testing.T) {
	f := newEngineFixture(t, true, nil)
	ctx := context.Background()

	if res := f.start(t, "42", ""); res.Kind != domain.KindNeedsVerification {
		t.Fatalf("Kind = %q, want needs_verification", res.Kind)
	}
	if err := f.settings.SetAdEnabled(ctx, false); err != nil {
		t.Fatalf("SetAdEnabled: %v", err)
	}
	if res := f.start(t, "43", ""); res.Reason != domain.DenyReferralRequired {
		t.Errorf("Reason = %q, want referral_required", res.Reason)
	}
}

func TestHandleStart_TokenRoundTrip(t *testing.T) {
	f := newEngineFixture(t, true, nil)

	f.start(t, "42", "view_movie-7")
	raw := f.storedToken(t, "42")
	f.clock.Advance(5 * time.Minute)

	res := f.start(t, "42", raw)
	if res.Kind != domain.KindAccessGranted {
		t.Fatalf("Kind = %q, want access_granted", res.Kind)
	}
	if res.Source != domain.SourceDirect || res.MediaRef != "movie-7" {
		t.Errorf("Result = %+v", res)
	}
	if res.Remaining != 18*time.Hour {
		t.Errorf("Remaining = %v, want 18h", res.Remaining)
	}

	again := f.start(t, "42", raw)
	if again.Kind != domain.KindTokenUsed {
		t.Errorf("second use Kind = %q, want token_used", again.Kind)
	}
}

func TestHandleStart_TokenRejections(t *testing.T) {
	f := newEngineFixture(t, true, nil)
	f.start(t, "42", "")
	raw := f.storedToken(t, "42")

	tests := []struct {
		name       string
		user       string
		param      string
		wantReason domain.RejectReason
	}{
		{"garbage with tag", "42", "tgarbage", domain.ReasonInvalidFormat},
		{"someone else's token", "7", raw, domain.ReasonUserMismatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := f.start(t, tc.user, tc.param)
			if res.Kind != domain.KindTokenInvalid || res.Reason != string(tc.wantReason) {
				t.Errorf("Result = %+v, want token_invalid/%s", res, tc.wantReason)
			}
		})
	}
}

func TestHandleStart_ReferralFlow(t *testing.T) {
	f := newEngineFixture(t, false, nil)

	denied := f.start(t, "A", "")
	code := denied.ReferralCode

	res := f.start(t, "B", "ref_"+code)
	if res.Kind != domain.KindReferralSuccess {
		t.Fatalf("Kind = %q, want referral_success", res.Kind)
	}
	if res.ReferrerUserID != "A" || res.ReferralCode != code {
		t.Errorf("Result = %+v", res)
	}
	if res.Remaining != 8*time.Hour {
		t.Errorf("Remaining = %v, want 8h", res.Remaining)
	}

	if got := f.start(t, "A", ""); got.Kind != domain.KindAccessGranted || got.Source != domain.SourceReferralBonus {
		t.Errorf("referrer Result = %+v, want access_granted via referral_bonus", got)
	}

	tests := []struct {
		name       string
		user       string
		wantReason domain.RejectReason
	}{
		{"self", "A", domain.ReasonSelfReferral},
		{"repeat", "B", domain.ReasonAlreadyRedeemed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := f.start(t, tc.user, "ref_"+code)
			if res.Kind != domain.KindReferralInvalid || res.Reason != string(tc.wantReason) {
				t.Errorf("Result = %+v, want referral_invalid/%s", res, tc.wantReason)
			}
		})
	}

	if res := f.start(t, "C", "ref_NOPE2345"); res.Reason != string(domain.ReasonCodeNotFound) {
		t.Errorf("unknown code Reason = %q, want code_not_found", res.Reason)
	}
}
