package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/repository"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS entitlement_kv (
	key        TEXT    PRIMARY KEY,
	value      BLOB    NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Store provides a SQLite-backed repository.Store. Transactions start with
// BEGIN IMMEDIATE so read-modify-write cycles hold the write lock from the
// first read, including across processes sharing the file.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store at path and creates the table if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM entitlement_kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, storeErr("get "+key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO entitlement_kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, key, value, time.Now().UTC().UnixMilli())
	if err != nil {
		return storeErr("set "+key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM entitlement_kv WHERE key = ?`, key); err != nil {
		return storeErr("remove "+key, err)
	}
	return nil
}

func (s *Store) AtomicUpdate(ctx context.Context, key string, fn repository.UpdateFunc) ([]byte, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM entitlement_kv WHERE key = ?`, key).Scan(&current)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, storeErr("read "+key, err)
		}
		current = nil
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	if next == nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM entitlement_kv WHERE key = ?`, key)
	} else {
		_, err = tx.ExecContext(ctx, `
INSERT INTO entitlement_kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, key, next, time.Now().UTC().UnixMilli())
	}
	if err != nil {
		return nil, storeErr("write "+key, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit "+key, err)
	}
	return next, nil
}

func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT key, value FROM entitlement_kv WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return storeErr("scan "+prefix, err)
	}

	type entry struct {
		key   string
		value []byte
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			_ = rows.Close()
			return storeErr("scan row", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Close(); err != nil {
		return storeErr("scan "+prefix, err)
	}
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

func (s *Store) Ping(ctx context.Context) error {
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStore, err)
}
