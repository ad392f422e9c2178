package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/repository"
	"github.com/devi-sudo/zbox/internal/token"
	"github.com/devi-sudo/zbox/internal/usecase"
)

type tokenFixture struct {
	store  repository.Store
	clock  *testClock
	codec  *token.Codec
	access *usecase.AccessUsecase
	tokens *usecase.TokenUsecase
	longs  []string
}

func newTokenFixture(t *testing.T, ads bool, shortenErr error) *tokenFixture {
	t.Helper()
	f := &tokenFixture{store: newStore(), clock: newTestClock()}

	codec, err := token.NewCodec([]byte(testSecret), token.WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	f.codec = codec
	f.access = newAccess(f.store, f.clock)

	var mu sync.Mutex
	shortener := &fakeShortener{
		shorten: func(_ context.Context, longURL string) (string, error) {
			if shortenErr != nil {
				return "", shortenErr
			}
			mu.Lock()
			defer mu.Unlock()
			f.longs = append(f.longs, longURL)
			return fmt.Sprintf("https://earnl.ink/%d", len(f.longs)), nil
		},
	}
	f.tokens = usecase.NewTokenUsecase(codec, f.store, f.access, shortener, adSwitch(ads), testLinkBase, f.clock.Now, discard)
	return f
}

// issue returns the raw token behind a freshly issued link.
func (f *tokenFixture) issue(t *testing.T, userID, mediaRef string) string {
	t.Helper()
	link, err := f.tokens.IssueLink(context.Background(), userID, mediaRef)
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	return link.Token.Value
}

// ---- IssueLink ----

func TestIssueLink_PersistsTokenAndShortensStartLink(t *testing.T) {
	f := newTokenFixture(t, true, nil)
	ctx := context.Background()

	link, err := f.tokens.IssueLink(ctx, "42", "movie-7")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}

	if link.URL != "https://earnl.ink/1" {
		t.Errorf("URL = %q, want the shortened link", link.URL)
	}
	if len(f.longs) != 1 || f.longs[0] != testLinkBase+link.Token.Value {
		t.Errorf("shortened %v, want [%s]", f.longs, testLinkBase+link.Token.Value)
	}

	stored, err := repository.Load[domain.Token](ctx, f.store, repository.TokenKey(link.Token.Value))
	if err != nil {
		t.Fatalf("load token: %v", err)
	}
	if stored.UserID != "42" || stored.MediaRef != "movie-7" || stored.Used {
		t.Errorf("stored token = %+v", stored)
	}
	if want := f.clock.Now().Add(18 * time.Hour); !stored.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", stored.ExpiresAt, want)
	}
}

func TestIssueLink_AdsDisabled(t *testing.T) {
	f := newTokenFixture(t, false, nil)

	_, err := f.tokens.IssueLink(context.Background(), "42", "")
	if !errors.Is(err, domain.ErrAdsDisabled) {
		t.Fatalf("err = %v, want ErrAdsDisabled", err)
	}
	if n := countKeys(t, f.store, repository.PrefixTokens); n != 0 {
		t.Errorf("stored %d tokens, want 0", n)
	}
}

func TestIssueLink_ProviderFailurePersistsNothing(t *testing.T) {
	upstream := fmt.Errorf("shorten: %w", domain.ErrUpstreamUnavailable)
	f := newTokenFixture(t, true, upstream)

	_, err := f.tokens.IssueLink(context.Background(), "42", "")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	if n := countKeys(t, f.store, repository.PrefixTokens); n != 0 {
		t.Errorf("stored %d tokens, want 0", n)
	}
}

// ---- Redeem ----

func TestRedeem_GrantsDirectAccess(t *testing.T) {
	f := newTokenFixture(t, true, nil)
	ctx := context.Background()
	raw := f.issue(t, "42", "movie-7")
	f.clock.Advance(10 * time.Minute)

	tok, w, err := f.tokens.Redeem(ctx, "42", raw)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	if tok.MediaRef != "movie-7" {
		t.Errorf("MediaRef = %q, want movie-7", tok.MediaRef)
	}
	if w.Source != domain.SourceDirect {
		t.Errorf("Source = %q, want direct", w.Source)
	}
	if want := f.clock.Now().Add(18 * time.Hour); !w.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", w.ExpiresAt, want)
	}

	stored, err := repository.Load[domain.Token](ctx, f.store, repository.TokenKey(raw))
	if err != nil {
		t.Fatalf("load token: %v", err)
	}
	if !stored.Used || stored.ActivatedAt == nil || !stored.ActivatedAt.Equal(f.clock.Now()) {
		t.Errorf("stored token = %+v, want used at %v", stored, f.clock.Now())
	}
}

func TestRedeem_SecondUseRejected(t *testing.T) {
	f := newTokenFixture(t, true, nil)
	ctx := context.Background()
	raw := f.issue(t, "42", "")

	if _, _, err := f.tokens.Redeem(ctx, "42", raw); err != nil {
		t.Fatalf("first Redeem: %v", err)
	}
	_, _, err := f.tokens.Redeem(ctx, "42", raw)
	if !errors.Is(err, domain.ErrTokenUsed) {
		t.Errorf("err = %v, want ErrTokenUsed", err)
	}
}

func TestRedeem_ConcurrentConsumeSucceedsOnce(t *testing.T) {
	f := newTokenFixture(t, true, nil)
	ctx := context.Background()
	raw := f.issue(t, "42", "")

	const n = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.tokens.Redeem(ctx, "42", raw)
			switch {
			case err == nil:
				wins.Add(1)
			case !errors.Is(err, domain.ErrTokenUsed):
				t.Errorf("Redeem: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("successful redemptions = %d, want 1", got)
	}
}

func TestTokenRedeem_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		token   func(t *testing.T, f *tokenFixture) string
		wantErr error
	}{
		{
			name:    "other user",
			user:    "99",
			token:   func(t *testing.T, f *tokenFixture) string { return f.issue(t, "42", "") },
			wantErr: domain.ErrUserMismatch,
		},
		{
			name: "tampered digest",
			user: "42",
			token: func(t *testing.T, f *tokenFixture) string {
				raw := f.issue(t, "42", "")
				last := raw[len(raw)-1]
				swap := byte('0')
				if last == '0' {
					swap = '1'
				}
				return raw[:len(raw)-1] + string(swap)
			},
			wantErr: domain.ErrBadSignature,
		},
		{
			name: "signed but never stored",
			user: "42",
			token: func(t *testing.T, f *tokenFixture) string {
				raw, err := f.codec.Issue("42")
				if err != nil {
					t.Fatalf("Issue: %v", err)
				}
				return raw
			},
			wantErr: domain.ErrUnknownToken,
		},
		{
			name:    "malformed",
			user:    "42",
			token:   func(*testing.T, *tokenFixture) string { return "tnot-a-token" },
			wantErr: domain.ErrInvalidFormat,
		},
		{
			name: "expired",
			user: "42",
			token: func(t *testing.T, f *tokenFixture) string {
				raw := f.issue(t, "42", "")
				f.clock.Advance(18*time.Hour + time.Millisecond)
				return raw
			},
			wantErr: domain.ErrExpired,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newTokenFixture(t, true, nil)
			raw := tc.token(t, f)

			_, _, err := f.tokens.Redeem(context.Background(), tc.user, raw)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if n := countKeys(t, f.store, repository.PrefixUserAccess); n != 0 {
				t.Errorf("rejected token opened %d windows", n)
			}
		})
	}
}

func TestRedeem_StoredRecordExpiresWithCodec(t *testing.T) {
	f := newTokenFixture(t, true, nil)
	raw := f.issue(t, "42", "")

	if !strings.HasPrefix(raw, "t") {
		t.Fatalf("token %q lacks the t tag", raw)
	}
	f.clock.Advance(18 * time.Hour)

	// At exactly the TTL the signature is still young enough but the stored
	// record is not after now.
	_, _, err := f.tokens.Redeem(context.Background(), "42", raw)
	if !errors.Is(err, domain.ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}
