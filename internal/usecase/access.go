package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/metrics"
	"github.com/devi-sudo/zbox/internal/repository"
)

// reapGrace is added to a window's expiry before its delayed reap fires.
const reapGrace = time.Second

var errWindowLive = errors.New("access window still live")

// ExpiryScheduler is satisfied by *scheduler.DelayedTasks.
type ExpiryScheduler interface {
	Schedule(key string, delay time.Duration, fn func(ctx context.Context) error) bool
}

// AccessUsecase manages per-user access windows.
type AccessUsecase struct {
	store  repository.Store
	expiry ExpiryScheduler
	now    Clock
	logger *slog.Logger
}

// NewAccessUsecase builds the access window manager. expiry may be nil, in
// which case stale windows are only removed lazily and by the reaper.
func NewAccessUsecase(store repository.Store, expiry ExpiryScheduler, clock Clock, logger *slog.Logger) *AccessUsecase {
	return &AccessUsecase{
		store:  store,
		expiry: expiry,
		now:    clock.orNow(),
		logger: logger.With("component", "access"),
	}
}

// Window returns the user's live access window, or nil when the user has no
// window or it has expired.
func (u *AccessUsecase) Window(ctx context.Context, userID string) (*domain.AccessWindow, error) {
	w, err := repository.Load[domain.AccessWindow](ctx, u.store, repository.AccessKey(userID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load access window: %w", err)
	}
	if !w.LiveAt(u.now()) {
		if _, err := u.reapIfExpired(ctx, userID); err != nil {
			u.logger.WarnContext(ctx, "remove stale access window", "user_id", userID, "error", err)
		}
		return nil, nil
	}
	return w, nil
}

func (u *AccessUsecase) HasAccess(ctx context.Context, userID string) (bool, error) {
	w, err := u.Window(ctx, userID)
	if err != nil {
		return false, err
	}
	if w == nil {
		metrics.AccessChecksTotal.WithLabelValues("denied").Inc()
		return false, nil
	}
	metrics.AccessChecksTotal.WithLabelValues("granted").Inc()
	return true, nil
}

// TimeRemaining returns how long the user's window stays open. ok is false
// when there is no live window; the duration is never negative.
func (u *AccessUsecase) TimeRemaining(ctx context.Context, userID string) (remaining time.Duration, ok bool, err error) {
	w, err := u.Window(ctx, userID)
	if err != nil || w == nil {
		return 0, false, err
	}
	return max(0, w.ExpiresAt.Sub(u.now())), true, nil
}

// Grant overwrites the user's window with one expiring ttl from now.
func (u *AccessUsecase) Grant(ctx context.Context, userID string, ttl time.Duration, source domain.Source) (*domain.AccessWindow, error) {
	now := u.now()
	w := &domain.AccessWindow{
		UserID:    userID,
		Granted:   true,
		ExpiresAt: now.Add(ttl),
		GrantedAt: now,
		Source:    source,
	}
	if err := repository.Save(ctx, u.store, repository.AccessKey(userID), w); err != nil {
		return nil, fmt.Errorf("grant access: %w", err)
	}

	metrics.AccessGrantsTotal.WithLabelValues(string(source)).Inc()
	u.scheduleReap(userID, w.ExpiresAt)
	return w, nil
}

// Extend adds ttl to a live window, or opens a fresh window of ttl when the
// user has none. The read and write happen in one atomic update so a
// concurrent extension is never lost.
func (u *AccessUsecase) Extend(ctx context.Context, userID string, ttl time.Duration, source domain.Source) (*domain.AccessWindow, error) {
	w, err := repository.Update(ctx, u.store, repository.AccessKey(userID), func(cur *domain.AccessWindow) (*domain.AccessWindow, error) {
		now := u.now()
		expiresAt := now.Add(ttl)
		if cur.LiveAt(now) {
			expiresAt = cur.ExpiresAt.Add(ttl)
		}
		return &domain.AccessWindow{
			UserID:    userID,
			Granted:   true,
			ExpiresAt: expiresAt,
			GrantedAt: now,
			Source:    source,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("extend access: %w", err)
	}

	metrics.AccessGrantsTotal.WithLabelValues(string(source)).Inc()
	u.scheduleReap(userID, w.ExpiresAt)
	return w, nil
}

// ReapExpired removes every window that is expired at the time of removal.
func (u *AccessUsecase) ReapExpired(ctx context.Context) (int, error) {
	var stale []string
	now := u.now()
	err := u.store.Scan(ctx, repository.PrefixUserAccess, func(key string, value []byte) error {
		w, err := decodeWindow(value)
		if err != nil {
			u.logger.WarnContext(ctx, "skip undecodable access window", "key", key, "error", err)
			return nil
		}
		if !w.LiveAt(now) {
			stale = append(stale, key[len(repository.PrefixUserAccess):])
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan access windows: %w", err)
	}

	reaped := 0
	for _, userID := range stale {
		removed, err := u.reapIfExpired(ctx, userID)
		if err != nil {
			return reaped, err
		}
		if removed {
			reaped++
		}
	}
	return reaped, nil
}

// reapIfExpired deletes the window only if it is still expired when the
// atomic update runs, so a grant racing the reaper survives.
func (u *AccessUsecase) reapIfExpired(ctx context.Context, userID string) (bool, error) {
	removed := false
	_, err := repository.Update(ctx, u.store, repository.AccessKey(userID), func(cur *domain.AccessWindow) (*domain.AccessWindow, error) {
		if cur == nil {
			return nil, nil
		}
		if cur.LiveAt(u.now()) {
			return nil, errWindowLive
		}
		removed = true
		return nil, nil
	})
	if err != nil && !errors.Is(err, errWindowLive) {
		return false, fmt.Errorf("reap access window: %w", err)
	}
	return removed, nil
}

func (u *AccessUsecase) scheduleReap(userID string, expiresAt time.Time) {
	if u.expiry == nil {
		return
	}
	delay := expiresAt.Sub(u.now()) + reapGrace
	u.expiry.Schedule("access:"+userID, delay, func(ctx context.Context) error {
		_, err := u.reapIfExpired(ctx, userID)
		return err
	})
}
