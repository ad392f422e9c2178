package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Two transactions can both observe an absent key; the loser's INSERT hits the
// primary key and the whole update is retried against the now-present row.
const maxInsertRaces = 5

var errInsertRace = errors.New("concurrent insert")

// KVRepository implements repository.Store on a single JSONB table. Values
// must therefore be valid JSON, which every typed helper guarantees.
type KVRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewKVRepository(pool *pgxpool.Pool, logger *slog.Logger) *KVRepository {
	return &KVRepository{pool: pool, logger: logger.With("component", "kv_repo")}
}

func (r *KVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM entitlement_kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, storeErr("get "+key, err)
	}
	return value, nil
}

func (r *KVRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO entitlement_kv (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET    value      = EXCLUDED.value,
		       updated_at = NOW()`, key, value)
	if err != nil {
		return storeErr("set "+key, err)
	}
	return nil
}

func (r *KVRepository) Remove(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM entitlement_kv WHERE key = $1`, key); err != nil {
		return storeErr("remove "+key, err)
	}
	return nil
}

func (r *KVRepository) AtomicUpdate(ctx context.Context, key string, fn repository.UpdateFunc) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		out, err := r.updateOnce(ctx, key, fn)
		if errors.Is(err, errInsertRace) {
			if attempt < maxInsertRaces {
				r.logger.DebugContext(ctx, "insert race, retrying update", "key", key, "attempt", attempt)
				continue
			}
			return nil, storeErr("update "+key, err)
		}
		return out, err
	}
}

func (r *KVRepository) updateOnce(ctx context.Context, key string, fn repository.UpdateFunc) ([]byte, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op once committed

	// FOR UPDATE serializes writers on an existing row.
	var current []byte
	exists := true
	err = tx.QueryRow(ctx, `SELECT value FROM entitlement_kv WHERE key = $1 FOR UPDATE`, key).Scan(&current)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, storeErr("lock "+key, err)
		}
		exists = false
		current = nil
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	switch {
	case next == nil && exists:
		_, err = tx.Exec(ctx, `DELETE FROM entitlement_kv WHERE key = $1`, key)
	case next == nil:
		// absent and stays absent
	case exists:
		_, err = tx.Exec(ctx,
			`UPDATE entitlement_kv SET value = $2, updated_at = NOW() WHERE key = $1`, key, next)
	default:
		_, err = tx.Exec(ctx,
			`INSERT INTO entitlement_kv (key, value, updated_at) VALUES ($1, $2, NOW())`, key, next)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, errInsertRace
		}
	}
	if err != nil {
		return nil, storeErr("write "+key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit "+key, err)
	}
	return next, nil
}

func (r *KVRepository) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	rows, err := r.pool.Query(ctx,
		`SELECT key, value FROM entitlement_kv WHERE starts_with(key, $1)`, prefix)
	if err != nil {
		return storeErr("scan "+prefix, err)
	}

	// Collect before calling fn so the connection is released and fn can
	// issue its own queries.
	type entry struct {
		key   string
		value []byte
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			rows.Close()
			return storeErr("scan row", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storeErr("scan "+prefix, err)
	}

	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (r *KVRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStore, err)
}
