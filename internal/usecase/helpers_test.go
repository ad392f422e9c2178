package usecase_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/infrastructure/memory"
	"github.com/devi-sudo/zbox/internal/repository"
)

// ---- fakes ----

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeShortener struct {
	shorten func(ctx context.Context, longURL string) (string, error)
}

func (s *fakeShortener) Shorten(ctx context.Context, longURL string) (string, error) {
	return s.shorten(ctx, longURL)
}

type adSwitch bool

func (a adSwitch) AdEnabled() bool { return bool(a) }

// ---- helpers ----

const (
	testSecret   = "test-token-secret-0123456789"
	testLinkBase = "https://t.me/zbox_bot?start="
)

var discard = slog.New(slog.DiscardHandler)

func newStore() *memory.Store { return memory.NewStore() }

func loadWindow(t *testing.T, s repository.Store, userID string) *domain.AccessWindow {
	t.Helper()
	w, err := repository.Load[domain.AccessWindow](context.Background(), s, repository.AccessKey(userID))
	if err != nil {
		t.Fatalf("load window for %s: %v", userID, err)
	}
	return w
}

func countKeys(t *testing.T, s repository.Store, prefix string) int {
	t.Helper()
	n := 0
	err := s.Scan(context.Background(), prefix, func(string, []byte) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("scan %s: %v", prefix, err)
	}
	return n
}
