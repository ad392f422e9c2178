package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/devi-sudo/zbox/internal/domain"
)

// UpdateFunc receives the current value (nil when absent) and returns the
// value to write. Returning a nil value deletes the key. Returning an error
// aborts the update without writing and the error is passed back unchanged.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is the transactional key-value contract the entitlement engine is
// built on. AtomicUpdate calls on the same key are serializable; there is no
// guarantee across keys.
type Store interface {
	// Get returns domain.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) ([]byte, error)

	// Scan calls fn for every key with the given prefix. Iteration order is
	// unspecified. A non-nil error from fn stops the scan.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	Ping(ctx context.Context) error
}

// Load reads key and decodes it into a T.
func Load[T any](ctx context.Context, s Store, key string) (*T, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

// Save encodes v and writes it under key.
func Save[T any](ctx context.Context, s Store, key string, v *T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// Update is the typed form of AtomicUpdate. fn receives nil when the key is
// absent and returns nil to delete it.
func Update[T any](ctx context.Context, s Store, key string, fn func(current *T) (*T, error)) (*T, error) {
	raw, err := s.AtomicUpdate(ctx, key, func(cur []byte) ([]byte, error) {
		var in *T
		if cur != nil {
			in = new(T)
			if err := json.Unmarshal(cur, in); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
		out, err := fn(in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		return json.Marshal(out)
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

// IsNotFound is a shorthand used by callers that treat absence as a value.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
