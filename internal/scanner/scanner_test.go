package scanner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/indexer"
	"github.com/Abdullah1738/ticket-scan/internal/store/rocksdb"
	"github.com/Abdullah1738/ticket-scan/internal/testutil"
	"github.com/Abdullah1738/ticket-scan/internal/ticket"
	"github.com/Abdullah1738/ticket-scan/internal/zmq"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const activation = 200

// fakeNode serves a best chain starting at the activation height and keeps
// every block it ever served so stale blocks stay fetchable.
type fakeNode struct {
	mu    sync.Mutex
	chain []*wire.MsgBlock
	all   map[chainhash.Hash]*wire.MsgBlock
	fail  error
}

func newFakeNode() *fakeNode {
	return &fakeNode{all: map[chainhash.Hash]*wire.MsgBlock{}}
}

// mine appends a block to the best chain.
func (n *fakeNode) mine(nonce uint32, txs ...*wire.MsgTx) *wire.MsgBlock {
	n.mu.Lock()
	defer n.mu.Unlock()
	var prev chainhash.Hash
	if len(n.chain) > 0 {
		prev = n.chain[len(n.chain)-1].BlockHash()
	}
	blk := testutil.Block(prev, nonce, txs...)
	n.chain = append(n.chain, blk)
	n.all[blk.BlockHash()] = blk
	return blk
}

// truncate drops the best chain back to depth blocks.
func (n *fakeNode) truncate(depth int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chain = n.chain[:depth]
}

func (n *fakeNode) Height(context.Context) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return 0, n.fail
	}
	if len(n.chain) == 0 {
		return activation - 1, nil
	}
	return activation + uint32(len(n.chain)) - 1, nil
}

func (n *fakeNode) BlockHash(_ context.Context, height uint32) (chainhash.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if height < activation || int(height-activation) >= len(n.chain) {
		return chainhash.Hash{}, fmt.Errorf("block height %d out of range", height)
	}
	return n.chain[height-activation].BlockHash(), nil
}

func (n *fakeNode) Block(_ context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	blk, ok := n.all[hash]
	if !ok {
		return nil, fmt.Errorf("block %s not found", hash)
	}
	return blk, nil
}

type fixture struct {
	ctx  context.Context
	node *fakeNode
	idx  *indexer.TicketIndexer
	auth *testutil.Authority
	s    *Scanner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := rocksdb.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("rocksdb.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	auth := testutil.NewAuthority(3)
	v, err := ticket.NewValidator(&chaincfg.MainNetParams, []string{auth.PubHex})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	idx, err := indexer.Open(ctx, st, indexer.Config{ActivationHeight: activation, Validator: v})
	if err != nil {
		t.Fatalf("indexer.Open: %v", err)
	}
	node := newFakeNode()
	s, err := New(idx, node, Config{PollInterval: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{ctx: ctx, node: node, idx: idx, auth: auth, s: s}
}

func (f *fixture) requireTip(t *testing.T, height uint32, hash chainhash.Hash) {
	t.Helper()
	tip, ok, err := f.idx.Tip(f.ctx)
	if err != nil || !ok {
		t.Fatalf("Tip: ok=%v err=%v", ok, err)
	}
	if tip.Height != height || tip.Hash != hash {
		t.Fatalf("tip=%d/%s want %d/%s", tip.Height, tip.Hash, height, hash)
	}
}

func TestSync_FollowsChain(t *testing.T) {
	f := newFixture(t)

	if err := f.s.Sync(f.ctx); err != nil {
		t.Fatalf("Sync on empty chain: %v", err)
	}
	if _, ok, _ := f.idx.Tip(f.ctx); ok {
		t.Fatalf("tip set before any block")
	}

	f.node.mine(1)
	f.node.mine(2, f.auth.IssuanceTx(testutil.Outpoint(1), [][]byte{testutil.P2PKH(1)}, nil))
	top := f.node.mine(3)

	if err := f.s.Sync(f.ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	f.requireTip(t, activation+2, top.BlockHash())
}

func TestSync_Reorg(t *testing.T) {
	f := newFixture(t)

	base := f.node.mine(1)
	f.node.mine(2, f.auth.IssuanceTx(testutil.Outpoint(1), [][]byte{testutil.P2PKH(1)}, nil))
	f.node.mine(3)
	if err := f.s.Sync(f.ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	f.node.truncate(1)
	f.node.mine(20)
	f.node.mine(21)
	top := f.node.mine(22, f.auth.IssuanceTx(testutil.Outpoint(2), [][]byte{testutil.P2PKH(2)}, nil))

	if err := f.s.Sync(f.ctx); err != nil {
		t.Fatalf("Sync after reorg: %v", err)
	}
	f.requireTip(t, activation+3, top.BlockHash())

	h, ok, err := f.idx.HashAtHeight(f.ctx, activation)
	if err != nil || !ok || h != base.BlockHash() {
		t.Fatalf("HashAtHeight(activation)=%s,%v,%v", h, ok, err)
	}
}

func TestSync_ReorgPastActivation(t *testing.T) {
	f := newFixture(t)

	f.node.mine(1)
	f.node.mine(2)
	if err := f.s.Sync(f.ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	f.node.truncate(0)
	top := f.node.mine(30)
	if err := f.s.Sync(f.ctx); err != nil {
		t.Fatalf("Sync after reorg: %v", err)
	}
	f.requireTip(t, activation, top.BlockHash())
}

func TestRollbackTo(t *testing.T) {
	f := newFixture(t)

	first := f.node.mine(1)
	f.node.mine(2)
	f.node.mine(3)
	if err := f.s.Sync(f.ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := f.s.RollbackTo(f.ctx, activation); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}
	f.requireTip(t, activation, first.BlockHash())

	// Rolling back above the tip is a no-op.
	if err := f.s.RollbackTo(f.ctx, activation+10); err != nil {
		t.Fatalf("RollbackTo above tip: %v", err)
	}
	f.requireTip(t, activation, first.BlockHash())
}

func TestRun_NodeErrorsAreRetried(t *testing.T) {
	f := newFixture(t)
	f.node.fail = errors.New("connection refused")

	wake := make(chan zmq.Notification, 1)
	s, err := New(f.idx, f.node, Config{PollInterval: time.Hour, Wake: wake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(f.ctx, 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	f.node.mu.Lock()
	f.node.fail = nil
	f.node.mu.Unlock()
	top := f.node.mine(1)
	wake <- zmq.Notification{Hash: top.BlockHash()}

	deadline := time.Now().Add(5 * time.Second)
	for {
		tip, ok, err := f.idx.Tip(f.ctx)
		if err != nil {
			t.Fatalf("Tip: %v", err)
		}
		if ok && tip.Hash == top.BlockHash() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scanner did not index the notified block")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err=%v want context.Canceled", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, newFakeNode(), Config{}); err == nil {
		t.Fatalf("expected error for nil index")
	}
}
