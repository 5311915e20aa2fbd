//go:build mysql

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/Abdullah1738/ticket-scan/internal/kv"
)

type Store struct {
	db *sql.DB
}

var _ kv.Store = (*Store)(nil)

func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql: dsn is required")
	}

	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS kv (
  k VARBINARY(512) NOT NULL PRIMARY KEY,
  v LONGBLOB NOT NULL
)`,
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	return get(ctx, s.db, key)
}

func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	return has(ctx, s.db, key)
}

func (s *Store) Scan(ctx context.Context, opts kv.ScanOptions, fn func(key, value []byte) error) error {
	return scan(ctx, s.db, opts, fn)
}

// Update holds a named lock for the duration of the transaction so only one
// writer applies blocks at a time.
func (s *Store) Update(ctx context.Context, fn func(kv.Batch) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("mysql: conn: %w", err)
	}
	defer conn.Close()

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK('ticket_scan_writer', 30)`).Scan(&got); err != nil {
		return fmt.Errorf("mysql: lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		return errors.New("mysql: lock: timed out")
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), `SELECT RELEASE_LOCK('ticket_scan_writer')`) }()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&myBatch{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql: commit: %w", err)
	}
	return nil
}

type myBatch struct {
	tx *sql.Tx
}

func (b *myBatch) Get(ctx context.Context, key []byte) ([]byte, error) {
	return get(ctx, b.tx, key)
}

func (b *myBatch) Has(ctx context.Context, key []byte) (bool, error) {
	return has(ctx, b.tx, key)
}

func (b *myBatch) Scan(ctx context.Context, opts kv.ScanOptions, fn func(key, value []byte) error) error {
	return scan(ctx, b.tx, opts, fn)
}

func (b *myBatch) Put(ctx context.Context, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := b.tx.ExecContext(ctx, `
INSERT INTO kv (k, v) VALUES (?, ?)
ON DUPLICATE KEY UPDATE v = VALUES(v)
`, key, value); err != nil {
		return fmt.Errorf("mysql: put: %w", err)
	}
	return nil
}

func (b *myBatch) Delete(ctx context.Context, key []byte) error {
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("mysql: delete: %w", err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q querier, key []byte) ([]byte, error) {
	var v []byte
	if err := q.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("mysql: get: %w", err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func has(ctx context.Context, q querier, key []byte) (bool, error) {
	var ok bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM kv WHERE k = ?)`, key).Scan(&ok); err != nil {
		return false, fmt.Errorf("mysql: has: %w", err)
	}
	return ok, nil
}

func scan(ctx context.Context, q querier, opts kv.ScanOptions, fn func(key, value []byte) error) error {
	lower, upper := opts.Bounds()

	var (
		where []string
		args  []any
	)
	if lower != nil {
		where = append(where, "k >= ?")
		args = append(args, lower)
	}
	if upper != nil {
		where = append(where, "k < ?")
		args = append(args, upper)
	}

	query := `SELECT k, v FROM kv`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if opts.Reverse {
		query += ` ORDER BY k DESC`
	} else {
		query += ` ORDER BY k ASC`
	}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mysql: scan: %w", err)
	}

	var keys, values [][]byte
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("mysql: scan: %w", err)
		}
		keys = append(keys, k)
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("mysql: scan: %w", err)
	}
	_ = rows.Close()

	for i := range keys {
		if err := fn(keys[i], values[i]); err != nil {
			if errors.Is(err, kv.ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}
