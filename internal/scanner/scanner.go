// Package scanner keeps the ticket index in step with a node's best chain.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/indexer"
	"github.com/Abdullah1738/ticket-scan/internal/layout"
	"github.com/Abdullah1738/ticket-scan/internal/logging"
	"github.com/Abdullah1738/ticket-scan/internal/metrics"
	"github.com/Abdullah1738/ticket-scan/internal/zmq"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Node is the block source.
type Node interface {
	Height(ctx context.Context) (uint32, error)
	BlockHash(ctx context.Context, height uint32) (chainhash.Hash, error)
	Block(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error)
}

// Index is the state the scanner advances and rewinds.
type Index interface {
	indexer.Indexer
	ActivationHeight() uint32
	Tip(ctx context.Context) (layout.Tip, bool, error)
	HashAtHeight(ctx context.Context, height uint32) (chainhash.Hash, bool, error)
}

type Config struct {
	PollInterval time.Duration
	// Wake, when set, triggers a sync ahead of the next poll.
	Wake   <-chan zmq.Notification
	Logger *slog.Logger
}

type Scanner struct {
	idx  Index
	node Node
	wake <-chan zmq.Notification
	log  *slog.Logger

	pollInterval time.Duration

	// mu serializes every write so the rollback trigger and the sync loop
	// never interleave blocks.
	mu sync.Mutex
}

func New(idx Index, node Node, cfg Config) (*Scanner, error) {
	if idx == nil {
		return nil, errors.New("scanner: index is nil")
	}
	if node == nil {
		return nil, errors.New("scanner: node is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Scanner{
		idx:          idx,
		node:         node,
		wake:         cfg.Wake,
		log:          logging.OrDiscard(cfg.Logger).With("component", "scanner"),
		pollInterval: cfg.PollInterval,
	}, nil
}

// Run syncs until ctx is done. It returns only on fatal index errors or
// cancellation; node errors are logged and retried on the next poll.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if err := s.Sync(ctx); err != nil {
			var nerr *nodeError
			if !errors.As(err, &nerr) {
				return err
			}
			s.log.Warn("sync interrupted", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case n := <-s.wake:
			s.log.Debug("block notification", "hash", n.Hash, "seq", n.Seq)
		}
	}
}

// Sync applies blocks until the index matches the node's tip.
func (s *Scanner) Sync(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		progressed, err := s.step(ctx)
		if err != nil || !progressed {
			return err
		}
	}
}

type nodeError struct {
	err error
}

func (e *nodeError) Error() string { return e.err.Error() }
func (e *nodeError) Unwrap() error { return e.err }

// step applies one block or resolves one reorg.
func (s *Scanner) step(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tip, ok, err := s.idx.Tip(ctx)
	if err != nil {
		return false, err
	}
	next := s.idx.ActivationHeight()
	if ok && tip.Height+1 > next {
		next = tip.Height + 1
	}

	chainHeight, err := s.node.Height(ctx)
	if err != nil {
		return false, &nodeError{err}
	}

	if ok {
		nodeHash, err := s.nodeHashAt(ctx, tip.Height, chainHeight)
		if err != nil {
			return false, err
		}
		if nodeHash != tip.Hash {
			return true, s.reorg(ctx, tip)
		}
	}
	if next > chainHeight {
		return false, nil
	}

	hash, err := s.node.BlockHash(ctx, next)
	if err != nil {
		return false, &nodeError{err}
	}
	blk, err := s.node.Block(ctx, hash)
	if err != nil {
		return false, &nodeError{err}
	}
	if ok && blk.Header.PrevBlock != tip.Hash {
		// The node reorged between calls; the next step sees it.
		s.log.Info("block does not extend tip, retrying", "height", next, "hash", hash)
		return true, nil
	}
	if err := s.idx.IndexBlock(ctx, indexer.BlockMeta{Height: next, Hash: hash}, blk); err != nil {
		return false, err
	}
	return true, nil
}

// nodeHashAt returns the zero hash when the node's chain is shorter than
// height, which compares unequal to any indexed hash.
func (s *Scanner) nodeHashAt(ctx context.Context, height, chainHeight uint32) (chainhash.Hash, error) {
	if height > chainHeight {
		return chainhash.Hash{}, nil
	}
	h, err := s.node.BlockHash(ctx, height)
	if err != nil {
		return chainhash.Hash{}, &nodeError{err}
	}
	return h, nil
}

func (s *Scanner) reorg(ctx context.Context, tip layout.Tip) error {
	common, found, err := s.findCommonAncestor(ctx, tip.Height)
	if err != nil {
		return err
	}
	metrics.Reorgs.Inc()
	if !found {
		s.log.Warn("reorg below activation height, unwinding whole index", "tip", tip.Height)
		return s.unwind(ctx, func(layout.Tip) bool { return true })
	}
	s.log.Warn("reorg detected", "tip", tip.Height, "common_ancestor", common, "depth", tip.Height-common)
	return s.unwind(ctx, func(t layout.Tip) bool { return t.Height > common })
}

// findCommonAncestor walks down from height to the highest block both the
// index and the node agree on.
func (s *Scanner) findCommonAncestor(ctx context.Context, height uint32) (uint32, bool, error) {
	chainHeight, err := s.node.Height(ctx)
	if err != nil {
		return 0, false, &nodeError{err}
	}
	activation := s.idx.ActivationHeight()
	for h := int64(height); h >= int64(activation); h-- {
		ours, ok, err := s.idx.HashAtHeight(ctx, uint32(h))
		if err != nil {
			return 0, false, err
		}
		if !ok {
			continue
		}
		theirs, err := s.nodeHashAt(ctx, uint32(h), chainHeight)
		if err != nil {
			return 0, false, err
		}
		if theirs == ours {
			return uint32(h), true, nil
		}
	}
	return 0, false, nil
}

// RollbackTo unindexes blocks most-recent-first until the tip is at height.
// The index resumes syncing forward on the next pass.
func (s *Scanner) RollbackTo(ctx context.Context, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("rollback requested", "height", height)
	return s.unwind(ctx, func(t layout.Tip) bool { return t.Height > height })
}

// unwind reverts the tip while more(tip) holds. Reverted blocks are fetched
// from the node by their indexed hash, which also works for stale blocks.
func (s *Scanner) unwind(ctx context.Context, more func(layout.Tip) bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tip, ok, err := s.idx.Tip(ctx)
		if err != nil {
			return err
		}
		if !ok || !more(tip) {
			return nil
		}
		blk, err := s.node.Block(ctx, tip.Hash)
		if err != nil {
			return &nodeError{fmt.Errorf("scanner: fetch block %d for rollback: %w", tip.Height, err)}
		}
		if err := s.idx.UnindexBlock(ctx, indexer.BlockMeta{Height: tip.Height, Hash: tip.Hash}, blk); err != nil {
			return err
		}
	}
}
