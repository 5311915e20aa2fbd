// Package query serves read-only projections of the ticket index. It only
// reads committed state and may be used concurrently with the indexer.
package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/Abdullah1738/ticket-scan/internal/indexer"
	"github.com/Abdullah1738/ticket-scan/internal/kv"
	"github.com/Abdullah1738/ticket-scan/internal/layout"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultLimit  = 100
	MaxLimit      = 1000
	MaxHeightSpan = 10000

	defaultHeaderCache = 2048
)

var (
	ErrInvalidInput = errors.New("query: invalid input")
	ErrNotFound     = errors.New("query: not found")
)

// Rollbacker rewinds the index; the scanner implements it.
type Rollbacker interface {
	RollbackTo(ctx context.Context, height uint32) error
}

type Config struct {
	HeaderCacheSize int
	Rollbacker      Rollbacker
	// TxMeta resolves hashes for MetasByAddress.
	TxMeta indexer.TxMetaProvider
}

type Querier struct {
	r        kv.Reader
	headers  *lru.Cache[chainhash.Hash, wire.BlockHeader]
	rollback Rollbacker
	txMeta   indexer.TxMetaProvider
}

func New(r kv.Reader, cfg Config) (*Querier, error) {
	if r == nil {
		return nil, errors.New("query: reader is nil")
	}
	size := cfg.HeaderCacheSize
	if size <= 0 {
		size = defaultHeaderCache
	}
	cache, err := lru.New[chainhash.Hash, wire.BlockHeader](size)
	if err != nil {
		return nil, fmt.Errorf("query: header cache: %w", err)
	}
	return &Querier{r: r, headers: cache, rollback: cfg.Rollbacker, txMeta: cfg.TxMeta}, nil
}

// Options pages an address query. Results are newest-first unless Ascending
// is set. After resumes strictly past the given transaction.
type Options struct {
	After     *chainhash.Hash
	Ascending bool
	Limit     int
}

func (q *Querier) IssueHashesByAddress(ctx context.Context, addr layout.Address, opts Options) ([]chainhash.Hash, error) {
	return q.hashesByAddress(ctx, layout.Issue, addr, opts)
}

func (q *Querier) RedeemHashesByAddress(ctx context.Context, addr layout.Address, opts Options) ([]chainhash.Hash, error) {
	return q.hashesByAddress(ctx, layout.Redeem, addr, opts)
}

// MetasByAddress runs an address query and resolves every hash to its
// transaction, height and position.
func (q *Querier) MetasByAddress(ctx context.Context, kind layout.Kind, addr layout.Address, opts Options) ([]indexer.TxMeta, error) {
	if q.txMeta == nil {
		return nil, fmt.Errorf("%w: transaction metadata is not available", ErrInvalidInput)
	}
	if kind != layout.Issue && kind != layout.Redeem {
		return nil, fmt.Errorf("%w: kind %s", ErrInvalidInput, kind)
	}
	hashes, err := q.hashesByAddress(ctx, kind, addr, opts)
	if err != nil {
		return nil, err
	}
	out := make([]indexer.TxMeta, 0, len(hashes))
	for _, h := range hashes {
		m, err := q.txMeta.TxMeta(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("query: meta of %s: %w", h, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (q *Querier) hashesByAddress(ctx context.Context, kind layout.Kind, addr layout.Address, opts Options) ([]chainhash.Hash, error) {
	if len(addr.Hash) == 0 || len(addr.Hash) > 0xFF {
		return nil, fmt.Errorf("%w: address hash length %d", ErrInvalidInput, len(addr.Hash))
	}
	limit := opts.Limit
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 0 || limit > MaxLimit:
		return nil, fmt.Errorf("%w: limit %d outside 1..%d", ErrInvalidInput, opts.Limit, MaxLimit)
	}

	scan := kv.ScanOptions{
		Gte:     layout.AddressMin(kind, addr),
		Lte:     layout.AddressMax(kind, addr),
		Reverse: !opts.Ascending,
		Limit:   limit,
	}
	if opts.After != nil {
		at, ok, err := q.position(ctx, *opts.After)
		if err != nil {
			return nil, err
		}
		switch {
		case ok && opts.Ascending:
			scan.Gte = nil
			scan.Gt = layout.AddressKey(kind, addr, at.Height, at.Pos)
		case ok:
			scan.Lte = nil
			scan.Lt = layout.AddressKey(kind, addr, at.Height, at.Pos)
		case opts.Ascending:
			// Nothing indexed follows an unknown transaction.
			return []chainhash.Hash{}, nil
		}
	}

	var positions []layout.Count
	err := q.r.Scan(ctx, scan, func(key, _ []byte) error {
		e, err := layout.DecodeAddressKey(kind, key)
		if err != nil {
			return err
		}
		positions = append(positions, layout.Count{Height: e.Height, Pos: e.Pos})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: scan %s markers: %w", kind, err)
	}

	out := make([]chainhash.Hash, 0, len(positions))
	for _, p := range positions {
		raw, err := q.r.Get(ctx, layout.HeightPosKey(p.Height, p.Pos))
		if err != nil {
			return nil, fmt.Errorf("query: tx at %d/%d: %w", p.Height, p.Pos, err)
		}
		h, err := layout.DecodeHash(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (q *Querier) position(ctx context.Context, h chainhash.Hash) (layout.Count, bool, error) {
	raw, err := q.r.Get(ctx, layout.CountKey(h))
	if errors.Is(err, kv.ErrNotFound) {
		return layout.Count{}, false, nil
	}
	if err != nil {
		return layout.Count{}, false, fmt.Errorf("query: position of %s: %w", h, err)
	}
	c, err := layout.DecodeCount(raw)
	if err != nil {
		return layout.Count{}, false, err
	}
	return c, true, nil
}

type Redemption struct {
	Hash       chainhash.Hash
	Index      uint32
	IssueIndex uint32
	Height     uint32
	Pos        uint32
}

// RedemptionByIssueHash follows an issuance to the transaction that redeemed
// it. ok is false while the issuance is unknown or unredeemed.
func (q *Querier) RedemptionByIssueHash(ctx context.Context, issueHash chainhash.Hash) (Redemption, bool, error) {
	issueIdx, ok, err := q.index(ctx, layout.HashKey(layout.Issue, issueHash))
	if err != nil {
		return Redemption{}, false, err
	}
	if !ok {
		issueIdx, ok, err = q.index(ctx, layout.ConsumedKey(issueHash))
		if err != nil || !ok {
			return Redemption{}, false, err
		}
	}

	redeemIdx, ok, err := q.index(ctx, layout.RedeemOfKey(issueIdx))
	if err != nil || !ok {
		return Redemption{}, false, err
	}

	raw, err := q.r.Get(ctx, layout.IndexKey(layout.Redeem, redeemIdx))
	if err != nil {
		return Redemption{}, false, fmt.Errorf("query: redeem index %d: %w", redeemIdx, err)
	}
	h, err := layout.DecodeHash(raw)
	if err != nil {
		return Redemption{}, false, err
	}
	at, ok, err := q.position(ctx, h)
	if err != nil {
		return Redemption{}, false, err
	}
	if !ok {
		return Redemption{}, false, fmt.Errorf("query: redemption %s has no position", h)
	}
	return Redemption{Hash: h, Index: redeemIdx, IssueIndex: issueIdx, Height: at.Height, Pos: at.Pos}, true, nil
}

func (q *Querier) index(ctx context.Context, key []byte) (uint32, bool, error) {
	raw, err := q.r.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query: %w", err)
	}
	idx, err := layout.DecodeIndex(raw)
	if err != nil {
		return 0, false, err
	}
	return idx, true, nil
}

// BlockHeaderByHeight returns the header indexed at height.
func (q *Querier) BlockHeaderByHeight(ctx context.Context, height uint32) (wire.BlockHeader, chainhash.Hash, error) {
	raw, err := q.r.Get(ctx, layout.HeightKey(height))
	if errors.Is(err, kv.ErrNotFound) {
		return wire.BlockHeader{}, chainhash.Hash{}, fmt.Errorf("%w: no block at height %d", ErrNotFound, height)
	}
	if err != nil {
		return wire.BlockHeader{}, chainhash.Hash{}, fmt.Errorf("query: height %d: %w", height, err)
	}
	blockHash, err := layout.DecodeHash(raw)
	if err != nil {
		return wire.BlockHeader{}, chainhash.Hash{}, err
	}

	if hdr, ok := q.headers.Get(blockHash); ok {
		return hdr, blockHash, nil
	}

	raw, err = q.r.Get(ctx, layout.HeaderKey(blockHash))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return wire.BlockHeader{}, chainhash.Hash{}, fmt.Errorf("%w: no header for %s", ErrNotFound, blockHash)
		}
		return wire.BlockHeader{}, chainhash.Hash{}, fmt.Errorf("query: header %s: %w", blockHash, err)
	}
	var hdr wire.BlockHeader
	if err := hdr.Deserialize(bytes.NewReader(raw)); err != nil {
		return wire.BlockHeader{}, chainhash.Hash{}, fmt.Errorf("query: decode header %s: %w", blockHash, err)
	}
	q.headers.Add(blockHash, hdr)
	return hdr, blockHash, nil
}

// HashesByHeight lists the live hashes of kind allocated by blocks start..end.
// Heights with empty ranges contribute nothing.
func (q *Querier) HashesByHeight(ctx context.Context, start, end uint32, kind layout.Kind) ([]chainhash.Hash, error) {
	if end < start {
		return nil, fmt.Errorf("%w: end %d before start %d", ErrInvalidInput, end, start)
	}
	if end-start >= MaxHeightSpan {
		return nil, fmt.Errorf("%w: span of %d heights exceeds %d", ErrInvalidInput, end-start+1, MaxHeightSpan)
	}
	if kind != layout.Issue && kind != layout.Redeem {
		return nil, fmt.Errorf("%w: kind %s", ErrInvalidInput, kind)
	}

	gte, lte := layout.RangeBounds(kind, start, end)
	_, ranges, err := kv.Collect(ctx, q.r, kv.ScanOptions{Gte: gte, Lte: lte})
	if err != nil {
		return nil, fmt.Errorf("query: scan %s ranges: %w", kind, err)
	}

	out := []chainhash.Hash{}
	for _, raw := range ranges {
		br, err := layout.DecodeRange(raw)
		if err != nil {
			return nil, err
		}
		if br.Empty() {
			continue
		}
		_, hashes, err := kv.Collect(ctx, q.r, kv.ScanOptions{
			Gt:  layout.IndexKey(kind, br.Start),
			Lte: layout.IndexKey(kind, br.Last),
		})
		if err != nil {
			return nil, fmt.Errorf("query: scan %s hashes: %w", kind, err)
		}
		for _, hb := range hashes {
			h, err := layout.DecodeHash(hb)
			if err != nil {
				return nil, err
			}
			out = append(out, h)
		}
	}
	return out, nil
}

// Rollback asks the scanner to rewind the index to height.
func (q *Querier) Rollback(ctx context.Context, height uint32) error {
	if q.rollback == nil {
		return fmt.Errorf("%w: rollback is not available", ErrInvalidInput)
	}
	return q.rollback.RollbackTo(ctx, height)
}
