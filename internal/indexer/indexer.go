// Package indexer applies and reverts blocks against the ticket index. Each
// block is one atomic batch; blocks are applied in height order and reverted
// most-recent-first.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/alloc"
	"github.com/Abdullah1738/ticket-scan/internal/kv"
	"github.com/Abdullah1738/ticket-scan/internal/layout"
	"github.com/Abdullah1738/ticket-scan/internal/logging"
	"github.com/Abdullah1738/ticket-scan/internal/metrics"
	"github.com/Abdullah1738/ticket-scan/internal/ticket"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// DefaultActivationHeight is the first mainnet height that can carry tickets.
const DefaultActivationHeight uint32 = 866600

var (
	ErrMissingState   = alloc.ErrMissingState
	ErrAlreadyIndexed = errors.New("indexer: block already indexed")
	ErrNotTip         = errors.New("indexer: block is not the indexed tip")
	ErrSchemaVersion  = errors.New("indexer: unsupported schema version")
)

type BlockMeta struct {
	Height uint32
	Hash   chainhash.Hash
}

// TxMeta locates a confirmed transaction.
type TxMeta struct {
	Tx     *wire.MsgTx
	Height uint32
	Pos    uint32
}

// TxMetaProvider resolves transactions outside the block being reverted.
type TxMetaProvider interface {
	TxMeta(ctx context.Context, hash chainhash.Hash) (TxMeta, error)
}

// Indexer is the contract the scanner drives.
type Indexer interface {
	IndexBlock(ctx context.Context, meta BlockMeta, block *wire.MsgBlock) error
	UnindexBlock(ctx context.Context, meta BlockMeta, block *wire.MsgBlock) error
}

type Config struct {
	ActivationHeight uint32
	Validator        *ticket.Validator
	TxMeta           TxMetaProvider
	Logger           *slog.Logger
}

type TicketIndexer struct {
	st        kv.Store
	alloc     *alloc.Allocator
	validator *ticket.Validator
	txMeta    TxMetaProvider
	log       *slog.Logger
}

var _ Indexer = (*TicketIndexer)(nil)

// Open migrates st and checks the stored schema version, stamping it on a
// fresh store.
func Open(ctx context.Context, st kv.Store, cfg Config) (*TicketIndexer, error) {
	if st == nil {
		return nil, errors.New("indexer: store is nil")
	}
	if cfg.Validator == nil {
		return nil, errors.New("indexer: validator is nil")
	}
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}

	err := st.Update(ctx, func(b kv.Batch) error {
		raw, err := b.Get(ctx, layout.VersionKey())
		if errors.Is(err, kv.ErrNotFound) {
			return b.Put(ctx, layout.VersionKey(), layout.EncodeVersion(layout.SchemaVersion))
		}
		if err != nil {
			return err
		}
		v, err := layout.DecodeVersion(raw)
		if err != nil {
			return err
		}
		if v != layout.SchemaVersion {
			return fmt.Errorf("%w: store has %d, want %d", ErrSchemaVersion, v, layout.SchemaVersion)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}

	return &TicketIndexer{
		st:        st,
		alloc:     alloc.New(cfg.ActivationHeight),
		validator: cfg.Validator,
		txMeta:    cfg.TxMeta,
		log:       logging.OrDiscard(cfg.Logger),
	}, nil
}

func (x *TicketIndexer) ActivationHeight() uint32 { return x.alloc.ActivationHeight() }

// Tip returns the last indexed block.
func (x *TicketIndexer) Tip(ctx context.Context) (layout.Tip, bool, error) {
	raw, err := x.st.Get(ctx, layout.TipKey())
	if errors.Is(err, kv.ErrNotFound) {
		return layout.Tip{}, false, nil
	}
	if err != nil {
		return layout.Tip{}, false, fmt.Errorf("indexer: tip: %w", err)
	}
	tip, err := layout.DecodeTip(raw)
	if err != nil {
		return layout.Tip{}, false, fmt.Errorf("indexer: tip: %w", err)
	}
	return tip, true, nil
}

// HashAtHeight returns the indexed block hash at height.
func (x *TicketIndexer) HashAtHeight(ctx context.Context, height uint32) (chainhash.Hash, bool, error) {
	raw, err := x.st.Get(ctx, layout.HeightKey(height))
	if errors.Is(err, kv.ErrNotFound) {
		return chainhash.Hash{}, false, nil
	}
	if err != nil {
		return chainhash.Hash{}, false, fmt.Errorf("indexer: height %d: %w", height, err)
	}
	h, err := layout.DecodeHash(raw)
	if err != nil {
		return chainhash.Hash{}, false, fmt.Errorf("indexer: height %d: %w", height, err)
	}
	return h, true, nil
}

// IndexBlock applies block at meta.Height. Blocks below the activation height
// are ignored.
func (x *TicketIndexer) IndexBlock(ctx context.Context, meta BlockMeta, block *wire.MsgBlock) error {
	if meta.Height < x.alloc.ActivationHeight() {
		return nil
	}
	start := time.Now()

	var stats blockStats
	err := x.st.Update(ctx, func(b kv.Batch) error {
		w := &blockWriter{x: x, b: b, height: meta.Height}
		if err := w.index(ctx, meta, block); err != nil {
			return err
		}
		stats = w.stats
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexer: index block %d: %w", meta.Height, err)
	}

	metrics.BlocksIndexed.Inc()
	metrics.Tickets.WithLabelValues(layout.Issue.String()).Add(float64(stats.issued))
	metrics.Tickets.WithLabelValues(layout.Redeem.String()).Add(float64(stats.redeemed))
	metrics.TipHeight.Set(float64(meta.Height))
	metrics.BlockDuration.Observe(time.Since(start).Seconds())

	if stats.issued > 0 || stats.redeemed > 0 {
		x.log.Info("indexed block", "height", meta.Height, "hash", meta.Hash, "issued", stats.issued, "redeemed", stats.redeemed)
	} else {
		x.log.Debug("indexed block", "height", meta.Height, "hash", meta.Hash)
	}
	return nil
}

// UnindexBlock reverts the indexed tip. block must be the block that was
// indexed at meta.Height.
func (x *TicketIndexer) UnindexBlock(ctx context.Context, meta BlockMeta, block *wire.MsgBlock) error {
	if meta.Height < x.alloc.ActivationHeight() {
		return nil
	}

	var stats blockStats
	err := x.st.Update(ctx, func(b kv.Batch) error {
		w := &blockWriter{x: x, b: b, height: meta.Height}
		if err := w.unindex(ctx, meta, block); err != nil {
			return err
		}
		stats = w.stats
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexer: unindex block %d: %w", meta.Height, err)
	}

	metrics.BlocksUnindexed.Inc()
	if meta.Height > 0 {
		metrics.TipHeight.Set(float64(meta.Height - 1))
	}
	x.log.Info("unindexed block", "height", meta.Height, "hash", meta.Hash, "issued", stats.issued, "redeemed", stats.redeemed)
	return nil
}

type blockStats struct {
	issued   int
	redeemed int
}
