// Package storetest is a conformance suite for repository.Store
// implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/repository"
)

// Run exercises newStore against the Store contract. newStore must return an
// empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("SetGetRemove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Set(ctx, "k", []byte(`{"a":2}`)); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		got, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !jsonEqual(t, got, []byte(`{"a":2}`)) {
			t.Errorf("Get = %s, want {\"a\":2}", got)
		}

		if err := s.Remove(ctx, "k"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if err := s.Remove(ctx, "k"); err != nil {
			t.Errorf("Remove missing key: %v", err)
		}
		if _, err := s.Get(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Get after Remove: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("AtomicUpdateCreateAndDelete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		out, err := s.AtomicUpdate(ctx, "k", func(cur []byte) ([]byte, error) {
			if cur != nil {
				t.Errorf("cur = %s, want nil for a missing key", cur)
			}
			return []byte(`{"n":1}`), nil
		})
		if err != nil {
			t.Fatalf("AtomicUpdate create: %v", err)
		}
		if !jsonEqual(t, out, []byte(`{"n":1}`)) {
			t.Errorf("AtomicUpdate returned %s", out)
		}

		out, err = s.AtomicUpdate(ctx, "k", func([]byte) ([]byte, error) { return nil, nil })
		if err != nil {
			t.Fatalf("AtomicUpdate delete: %v", err)
		}
		if out != nil {
			t.Errorf("delete returned %s, want nil", out)
		}
		if _, err := s.Get(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("AtomicUpdateErrorAborts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Set(ctx, "k", []byte(`{"n":1}`)); err != nil {
			t.Fatalf("Set: %v", err)
		}

		sentinel := errors.New("abort")
		_, err := s.AtomicUpdate(ctx, "k", func([]byte) ([]byte, error) {
			return []byte(`{"n":99}`), sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("err = %v, want the callback error", err)
		}
		got, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !jsonEqual(t, got, []byte(`{"n":1}`)) {
			t.Errorf("value after abort = %s, want unchanged", got)
		}
	})

	t.Run("AtomicUpdateConcurrentIncrements", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const n = 25
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.AtomicUpdate(ctx, "counter", func(cur []byte) ([]byte, error) {
					v := 0
					if cur != nil {
						var err error
						if v, err = strconv.Atoi(string(cur)); err != nil {
							return nil, err
						}
					}
					return []byte(strconv.Itoa(v + 1)), nil
				})
				if err != nil {
					t.Errorf("AtomicUpdate: %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, "counter")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != strconv.Itoa(n) {
			t.Errorf("counter = %s, want %d", got, n)
		}
	})

	t.Run("ScanPrefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, k := range []string{"a/1", "a/2", "a/3", "ab/1", "b/1"} {
			if err := s.Set(ctx, k, []byte(`"`+k+`"`)); err != nil {
				t.Fatalf("Set %s: %v", k, err)
			}
		}

		var keys []string
		err := s.Scan(ctx, "a/", func(key string, _ []byte) error {
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		sort.Strings(keys)
		if fmt.Sprint(keys) != "[a/1 a/2 a/3]" {
			t.Errorf("keys = %v, want [a/1 a/2 a/3]", keys)
		}
	})

	t.Run("ScanStopsOnError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := range 5 {
			if err := s.Set(ctx, fmt.Sprintf("p/%d", i), []byte(`1`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}

		stop := errors.New("stop")
		calls := 0
		err := s.Scan(ctx, "p/", func(string, []byte) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) {
			t.Errorf("err = %v, want the callback error", err)
		}
		if calls != 1 {
			t.Errorf("callback ran %d times, want 1", calls)
		}
	})

	t.Run("CancelledContextIsStoreFailure", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := s.Get(ctx, "k"); !errors.Is(err, domain.ErrStore) {
			t.Errorf("Get err = %v, want ErrStore", err)
		}
		if err := s.Set(ctx, "k", []byte(`1`)); !errors.Is(err, domain.ErrStore) {
			t.Errorf("Set err = %v, want ErrStore", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
