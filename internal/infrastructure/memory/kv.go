package memory

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/repository"
)

// Store is an in-process repository.Store used in ENV=local and in tests.
// A single mutex serializes every update, which is stronger than the per-key
// guarantee the contract asks for.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := live(ctx, "get"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := live(ctx, "set"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = bytes.Clone(value)
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := live(ctx, "remove"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *Store) AtomicUpdate(ctx context.Context, key string, fn repository.UpdateFunc) ([]byte, error) {
	if err := live(ctx, "update"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur []byte
	if v, ok := s.data[key]; ok {
		cur = bytes.Clone(v)
	}

	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		delete(s.data, key)
		return nil, nil
	}
	s.data[key] = bytes.Clone(next)
	return bytes.Clone(next), nil
}

func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	if err := live(ctx, "scan"); err != nil {
		return err
	}

	// Snapshot first so fn may call back into the store.
	s.mu.Lock()
	snapshot := make(map[string][]byte)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			snapshot[k] = bytes.Clone(v)
		}
	}
	s.mu.Unlock()

	for k, v := range snapshot {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return live(ctx, "ping")
}

// live reports a cancelled or expired context as a store failure, the way
// the database backends surface it.
func live(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory %s: %w: %w", op, domain.ErrStore, err)
	}
	return nil
}
