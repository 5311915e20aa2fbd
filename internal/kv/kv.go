// Package kv defines the ordered key-value contract the ticket index is
// written against. Every backend (pebble, postgres, mysql) keeps keys in
// plain byte order so prefix and range scans behave identically.
package kv

import (
	"bytes"
	"context"
	"errors"
)

var ErrNotFound = errors.New("kv: not found")

// ScanOptions bounds an ordered scan. Unset bounds are open. When both an
// inclusive and an exclusive bound are set on the same side the tighter one
// wins.
type ScanOptions struct {
	Gte []byte
	Gt  []byte
	Lte []byte
	Lt  []byte

	Reverse bool
	Limit   int
}

// Reader is the read half of the store. Scan stops early, without error, when
// fn returns ErrStop.
type Reader interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Has(ctx context.Context, key []byte) (bool, error)
	Scan(ctx context.Context, opts ScanOptions, fn func(key, value []byte) error) error
}

// Batch is a write unit. Reads through a Batch observe its own pending writes.
type Batch interface {
	Reader
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
}

type Store interface {
	Reader
	Close() error
	Migrate(ctx context.Context) error

	// Update runs fn against a fresh batch and commits it atomically when fn
	// returns nil. Updates are serialized.
	Update(ctx context.Context, fn func(Batch) error) error
}

// ErrStop ends a Scan early.
var ErrStop = errors.New("kv: stop scan")

// Bounds converts the options into a half-open [lower, upper) interval. A nil
// upper means unbounded.
func (o ScanOptions) Bounds() (lower, upper []byte) {
	if o.Gte != nil {
		lower = o.Gte
	}
	if o.Gt != nil {
		gt := Successor(o.Gt)
		if lower == nil || bytes.Compare(gt, lower) > 0 {
			lower = gt
		}
	}
	if o.Lt != nil {
		upper = o.Lt
	}
	if o.Lte != nil {
		lte := Successor(o.Lte)
		if upper == nil || bytes.Compare(lte, upper) < 0 {
			upper = lte
		}
	}
	return lower, upper
}

// Successor returns the smallest key strictly greater than k.
func Successor(k []byte) []byte {
	out := make([]byte, len(k)+1)
	copy(out, k)
	return out
}

// PrefixUpperBound returns the smallest key greater than every key carrying
// prefix, or nil when no such key exists.
func PrefixUpperBound(prefix []byte) []byte {
	out := append([]byte{}, prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// Collect returns every key/value pair matched by opts. Slices are copies.
func Collect(ctx context.Context, r Reader, opts ScanOptions) (keys, values [][]byte, err error) {
	err = r.Scan(ctx, opts, func(k, v []byte) error {
		keys = append(keys, append([]byte{}, k...))
		values = append(values, append([]byte{}, v...))
		return nil
	})
	return keys, values, err
}
