package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Abdullah1738/ticket-scan/internal/db/migrate"
	"github.com/Abdullah1738/ticket-scan/internal/kv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ kv.Store = (*Store)(nil)

func Open(ctx context.Context, dsn string, schema string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	if strings.TrimSpace(schema) == "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: connect: %w", err)
		}
		return &Store{pool: pool}, nil
	}

	adminConn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := adminConn.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		_ = adminConn.Close(ctx)
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	_ = adminConn.Close(ctx)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse: %w", err)
	}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolCfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return migrate.Apply(ctx, s.pool)
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	return get(ctx, s.pool, key)
}

func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	return has(ctx, s.pool, key)
}

func (s *Store) Scan(ctx context.Context, opts kv.ScanOptions, fn func(key, value []byte) error) error {
	return scan(ctx, s.pool, opts, fn)
}

// Update runs fn inside a serializable transaction. The advisory lock keeps
// writers from separate processes sequential.
func (s *Store) Update(ctx context.Context, fn func(kv.Batch) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(7146435)`); err != nil {
		return fmt.Errorf("postgres: lock: %w", err)
	}
	if err := fn(&pgBatch{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

type pgBatch struct {
	tx pgx.Tx
}

func (b *pgBatch) Get(ctx context.Context, key []byte) ([]byte, error) {
	return get(ctx, b.tx, key)
}

func (b *pgBatch) Has(ctx context.Context, key []byte) (bool, error) {
	return has(ctx, b.tx, key)
}

func (b *pgBatch) Scan(ctx context.Context, opts kv.ScanOptions, fn func(key, value []byte) error) error {
	return scan(ctx, b.tx, opts, fn)
}

func (b *pgBatch) Put(ctx context.Context, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := b.tx.Exec(ctx, `
INSERT INTO kv (k, v) VALUES ($1, $2)
ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v
`, key, value); err != nil {
		return fmt.Errorf("postgres: put: %w", err)
	}
	return nil
}

func (b *pgBatch) Delete(ctx context.Context, key []byte) error {
	if _, err := b.tx.Exec(ctx, `DELETE FROM kv WHERE k = $1`, key); err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func get(ctx context.Context, q querier, key []byte) ([]byte, error) {
	var v []byte
	if err := q.QueryRow(ctx, `SELECT v FROM kv WHERE k = $1`, key).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get: %w", err)
	}
	return v, nil
}

func has(ctx context.Context, q querier, key []byte) (bool, error) {
	var ok bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM kv WHERE k = $1)`, key).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: has: %w", err)
	}
	return ok, nil
}

// scan buffers the page before calling fn so fn may issue further queries on
// the same transaction.
func scan(ctx context.Context, q querier, opts kv.ScanOptions, fn func(key, value []byte) error) error {
	lower, upper := opts.Bounds()

	var limit *int64
	if opts.Limit > 0 {
		n := int64(opts.Limit)
		limit = &n
	}

	order := "ASC"
	if opts.Reverse {
		order = "DESC"
	}
	rows, err := q.Query(ctx, `
SELECT k, v FROM kv
WHERE ($1::bytea IS NULL OR k >= $1)
  AND ($2::bytea IS NULL OR k < $2)
ORDER BY k `+order+`
LIMIT $3
`, lower, upper, limit)
	if err != nil {
		return fmt.Errorf("postgres: scan: %w", err)
	}

	var keys, values [][]byte
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: scan: %w", err)
		}
		keys = append(keys, k)
		values = append(values, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: scan: %w", err)
	}

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
