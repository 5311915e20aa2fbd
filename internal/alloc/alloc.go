// Package alloc hands out dense uint32 indices for transaction hashes. Each
// block owns a half-open range (Start, Last] per kind; Start is the previous
// block's Last, so indices stay contiguous and a rollback can release a block
// simply by dropping its range.
package alloc

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Abdullah1738/ticket-scan/internal/kv"
	"github.com/Abdullah1738/ticket-scan/internal/layout"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	ErrAllocationExhausted = errors.New("alloc: index space exhausted")
	ErrDoubleAllocation    = errors.New("alloc: hash already allocated in live range")
	ErrMissingState        = errors.New("alloc: missing allocation state")
)

type Allocator struct {
	activation uint32
}

func New(activationHeight uint32) *Allocator {
	return &Allocator{activation: activationHeight}
}

func (a *Allocator) ActivationHeight() uint32 { return a.activation }

// LastIndex returns the last index allocated up to and including height-1.
// Heights before activation own no range and report zero.
func (a *Allocator) LastIndex(ctx context.Context, r kv.Reader, height uint32, kind layout.Kind) (uint32, error) {
	if height == 0 || height-1 < a.activation {
		return 0, nil
	}
	prev := height - 1
	raw, err := r.Get(ctx, layout.RangeKey(kind, prev))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, fmt.Errorf("%w: no %s range at height %d", ErrMissingState, kind, prev)
		}
		return 0, fmt.Errorf("alloc: read %s range %d: %w", kind, prev, err)
	}
	br, err := layout.DecodeRange(raw)
	if err != nil {
		return 0, fmt.Errorf("alloc: %s range %d: %w", kind, prev, err)
	}
	return br.Last, nil
}

// Range is the in-memory allocation state of one block. It is written to the
// store once, when the block is flushed.
type Range struct {
	Height uint32
	Kind   layout.Kind
	Start  uint32
	Last   uint32
}

// Begin seeds the range of height from the previous block's last index.
func (a *Allocator) Begin(ctx context.Context, r kv.Reader, height uint32, kind layout.Kind) (*Range, error) {
	last, err := a.LastIndex(ctx, r, height, kind)
	if err != nil {
		return nil, err
	}
	return &Range{Height: height, Kind: kind, Start: last, Last: last}, nil
}

func (rng *Range) Record() layout.BlockRange {
	return layout.BlockRange{Start: rng.Start, Last: rng.Last}
}

func (rng *Range) increment() (uint32, error) {
	if rng.Last == math.MaxUint32 {
		return 0, ErrAllocationExhausted
	}
	rng.Last++
	return rng.Last, nil
}

// ResolveOrAllocate returns the index already held by h when it predates the
// range, or allocates the next one. fresh reports a new allocation.
func (a *Allocator) ResolveOrAllocate(ctx context.Context, r kv.Reader, h chainhash.Hash, rng *Range) (idx uint32, fresh bool, err error) {
	raw, err := r.Get(ctx, layout.HashKey(rng.Kind, h))
	switch {
	case err == nil:
		idx, err := layout.DecodeIndex(raw)
		if err != nil {
			return 0, false, fmt.Errorf("alloc: %s index of %s: %w", rng.Kind, h, err)
		}
		if idx > rng.Start {
			return 0, false, fmt.Errorf("%w: %s %s has index %d in range (%d, %d]", ErrDoubleAllocation, rng.Kind, h, idx, rng.Start, rng.Last)
		}
		return idx, false, nil
	case errors.Is(err, kv.ErrNotFound):
		idx, err := rng.increment()
		if err != nil {
			return 0, false, err
		}
		return idx, true, nil
	default:
		return 0, false, fmt.Errorf("alloc: lookup %s: %w", h, err)
	}
}
