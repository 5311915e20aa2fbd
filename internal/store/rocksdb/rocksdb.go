package rocksdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Abdullah1738/ticket-scan/internal/kv"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrLocked reports a store directory already held by another Store, in
// this process or another one.
var ErrLocked = errors.New("rocksdb: store is locked")

type Store struct {
	mu   sync.Mutex
	db   *pebble.DB
	lock *pebble.Lock
}

var _ kv.Store = (*Store)(nil)

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("rocksdb: path is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("rocksdb: mkdir: %w", err)
	}

	lock, err := pebble.LockDirectory(path, vfs.Default)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLocked, path, err)
	}
	db, err := pebble.Open(path, &pebble.Options{Lock: lock})
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("rocksdb: open: %w", err)
	}
	return &Store{db: db, lock: lock}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if lerr := s.lock.Close(); err == nil {
		err = lerr
	}
	return err
}

// Migrate is a no-op: pebble needs no schema, the index layout version is
// owned by the indexer.
func (s *Store) Migrate(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	_ = ctx
	return get(s.db, key)
}

func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Scan(ctx context.Context, opts kv.ScanOptions, fn func(key, value []byte) error) error {
	lower, upper := opts.Bounds()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("rocksdb: iter: %w", err)
	}
	return scan(ctx, iter, opts, fn)
}

func (s *Store) Update(ctx context.Context, fn func(kv.Batch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	if err := fn(&rocksBatch{batch: batch}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("rocksdb: commit: %w", err)
	}
	return nil
}

type rocksBatch struct {
	batch *pebble.Batch
}

func (b *rocksBatch) Get(ctx context.Context, key []byte) ([]byte, error) {
	_ = ctx
	return get(b.batch, key)
}

func (b *rocksBatch) Has(ctx context.Context, key []byte) (bool, error) {
	_, err := b.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *rocksBatch) Scan(ctx context.Context, opts kv.ScanOptions, fn func(key, value []byte) error) error {
	lower, upper := opts.Bounds()
	iter, err := b.batch.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("rocksdb: iter: %w", err)
	}
	return scan(ctx, iter, opts, fn)
}

func (b *rocksBatch) Put(ctx context.Context, key, value []byte) error {
	_ = ctx
	if err := b.batch.Set(key, value, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: put: %w", err)
	}
	return nil
}

func (b *rocksBatch) Delete(ctx context.Context, key []byte) error {
	_ = ctx
	if err := b.batch.Delete(key, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: delete: %w", err)
	}
	return nil
}

type getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func get(g getter, key []byte) ([]byte, error) {
	v, closer, err := g.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("rocksdb: get: %w", err)
	}
	out := append([]byte{}, v...)
	_ = closer.Close()
	return out, nil
}

func scan(ctx context.Context, iter *pebble.Iterator, opts kv.ScanOptions, fn func(key, value []byte) error) error {
	defer iter.Close()

	step := iter.Next
	valid := iter.First()
	if opts.Reverse {
		step = iter.Prev
		valid = iter.Last()
	}

	n := 0
	for ; valid; valid = step() {
		if opts.Limit > 0 && n >= opts.Limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			if errors.Is(err, kv.ErrStop) {
				return nil
			}
			return err
		}
		n++
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("rocksdb: iter: %w", err)
	}
	return nil
}
