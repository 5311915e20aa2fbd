// Package node adapts a bitcoind-compatible JSON-RPC daemon into the block
// source and transaction metadata provider the indexer consumes.
package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/Abdullah1738/ticket-scan/internal/indexer"
	sdkjunocashd "github.com/Abdullah1738/juno-sdk-go/junocashd"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

type Client struct {
	rpc *sdkjunocashd.Client
}

func New(rpc *sdkjunocashd.Client) (*Client, error) {
	if rpc == nil {
		return nil, errors.New("node: rpc is nil")
	}
	return &Client{rpc: rpc}, nil
}

// Height returns the daemon's best block height.
func (c *Client) Height(ctx context.Context) (uint32, error) {
	n, err := c.rpc.GetBlockCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("node: getblockcount: %w", err)
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("node: getblockcount: height %d out of range", n)
	}
	return uint32(n), nil
}

func (c *Client) BlockHash(ctx context.Context, height uint32) (chainhash.Hash, error) {
	s, err := c.rpc.GetBlockHash(ctx, int64(height))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("node: getblockhash(%d): %w", height, err)
	}
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("node: getblockhash(%d): %w", height, err)
	}
	return *h, nil
}

// Block fetches the raw block and checks that it hashes to the requested hash.
func (c *Client) Block(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	var raw string
	if err := c.rpc.Call(ctx, "getblock", []any{hash.String(), 0}, &raw); err != nil {
		return nil, fmt.Errorf("node: getblock(%s): %w", hash, err)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("node: getblock(%s): decode hex: %w", hash, err)
	}
	var blk wire.MsgBlock
	if err := blk.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("node: getblock(%s): deserialize: %w", hash, err)
	}
	if got := blk.BlockHash(); got != hash {
		return nil, fmt.Errorf("node: getblock(%s): daemon returned block %s", hash, got)
	}
	return &blk, nil
}

type rawTxVerbose struct {
	Hex       string `json:"hex"`
	BlockHash string `json:"blockhash"`
}

type blockVerbose1 struct {
	Hash   string   `json:"hash"`
	Height int64    `json:"height"`
	Tx     []string `json:"tx"`
}

// TxMeta resolves a confirmed transaction to its block position. The daemon
// must run with a transaction index.
func (c *Client) TxMeta(ctx context.Context, hash chainhash.Hash) (indexer.TxMeta, error) {
	var rtx rawTxVerbose
	if err := c.rpc.Call(ctx, "getrawtransaction", []any{hash.String(), 1}, &rtx); err != nil {
		return indexer.TxMeta{}, fmt.Errorf("node: getrawtransaction(%s): %w", hash, err)
	}
	if rtx.BlockHash == "" {
		return indexer.TxMeta{}, fmt.Errorf("node: tx %s is not confirmed", hash)
	}
	b, err := hex.DecodeString(rtx.Hex)
	if err != nil {
		return indexer.TxMeta{}, fmt.Errorf("node: tx %s: decode hex: %w", hash, err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return indexer.TxMeta{}, fmt.Errorf("node: tx %s: deserialize: %w", hash, err)
	}
	if got := tx.TxHash(); got != hash {
		return indexer.TxMeta{}, fmt.Errorf("node: tx %s: daemon returned %s", hash, got)
	}

	var blk blockVerbose1
	if err := c.rpc.Call(ctx, "getblock", []any{rtx.BlockHash, 1}, &blk); err != nil {
		return indexer.TxMeta{}, fmt.Errorf("node: getblock(%s): %w", rtx.BlockHash, err)
	}
	if blk.Height < 0 || blk.Height > math.MaxUint32 {
		return indexer.TxMeta{}, fmt.Errorf("node: block %s: height %d out of range", rtx.BlockHash, blk.Height)
	}
	want := hash.String()
	for i, id := range blk.Tx {
		if id == want {
			return indexer.TxMeta{Tx: &tx, Height: uint32(blk.Height), Pos: uint32(i)}, nil
		}
	}
	return indexer.TxMeta{}, fmt.Errorf("node: tx %s missing from block %s", hash, rtx.BlockHash)
}
