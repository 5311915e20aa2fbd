package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Abdullah1738/ticket-scan/internal/testutil"
	sdkjunocashd "github.com/Abdullah1738/juno-sdk-go/junocashd"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeDaemon answers the handful of RPCs the adapter issues for one block.
func fakeDaemon(t *testing.T, height int64, blk *wire.MsgBlock) *httptest.Server {
	t.Helper()
	blockHash := blk.BlockHash().String()

	var buf bytes.Buffer
	if err := blk.Serialize(&buf); err != nil {
		t.Fatalf("serialize block: %v", err)
	}
	rawBlock := hex.EncodeToString(buf.Bytes())

	txids := make([]string, 0, len(blk.Transactions))
	rawTx := map[string]string{}
	for _, tx := range blk.Transactions {
		var b bytes.Buffer
		if err := tx.Serialize(&b); err != nil {
			t.Fatalf("serialize tx: %v", err)
		}
		id := tx.TxHash().String()
		txids = append(txids, id)
		rawTx[id] = hex.EncodeToString(b.Bytes())
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		param := func(i int) string {
			if i >= len(req.Params) {
				return ""
			}
			return strings.Trim(string(req.Params[i]), `"`)
		}

		var result any
		switch req.Method {
		case "getblockcount":
			result = height
		case "getblockhash":
			result = blockHash
		case "getblock":
			if param(0) != blockHash {
				writeRPC(w, req.ID, nil, "block not found")
				return
			}
			if param(1) == "0" {
				result = rawBlock
			} else {
				result = map[string]any{"hash": blockHash, "height": height, "tx": txids}
			}
		case "getrawtransaction":
			hx, ok := rawTx[param(0)]
			if !ok {
				writeRPC(w, req.ID, nil, "No such mempool or blockchain transaction")
				return
			}
			result = map[string]any{"hex": hx, "blockhash": blockHash}
		default:
			writeRPC(w, req.ID, nil, "method not found")
			return
		}
		writeRPC(w, req.ID, result, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeRPC(w http.ResponseWriter, id json.RawMessage, result any, errMsg string) {
	resp := map[string]any{"id": id, "result": result, "error": nil}
	if errMsg != "" {
		resp["error"] = map[string]any{"code": -5, "message": errMsg}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestClient_BlockAndTxMeta(t *testing.T) {
	ctx := context.Background()

	auth := testutil.NewAuthority(7)
	iss := auth.IssuanceTx(testutil.Outpoint(1), [][]byte{testutil.P2PKH(1)}, nil)
	plain := testutil.PlainTx(2, [][]byte{testutil.P2PKH(2)})
	blk := testutil.Block(chainhash.Hash{}, 9, iss, plain)

	srv := fakeDaemon(t, 1234, blk)
	c, err := New(sdkjunocashd.New(srv.URL, "user", "pass"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := c.Height(ctx)
	if err != nil || h != 1234 {
		t.Fatalf("Height=%d,%v", h, err)
	}

	bh, err := c.BlockHash(ctx, 1234)
	if err != nil || bh != blk.BlockHash() {
		t.Fatalf("BlockHash=%s,%v", bh, err)
	}
	got, err := c.Block(ctx, bh)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if len(got.Transactions) != 3 || got.Transactions[1].TxHash() != iss.TxHash() {
		t.Fatalf("unexpected block contents")
	}

	tm, err := c.TxMeta(ctx, plain.TxHash())
	if err != nil {
		t.Fatalf("TxMeta: %v", err)
	}
	if tm.Height != 1234 || tm.Pos != 2 || tm.Tx.TxHash() != plain.TxHash() {
		t.Fatalf("TxMeta=%d/%d %s", tm.Height, tm.Pos, tm.Tx.TxHash())
	}

	if _, err := c.TxMeta(ctx, chainhash.HashH([]byte("missing"))); err == nil {
		t.Fatalf("expected error for unknown tx")
	}
	if _, err := c.Block(ctx, chainhash.HashH([]byte("other"))); err == nil {
		t.Fatalf("expected error for unknown block")
	}
}

func TestNew_NilRPC(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error")
	}
}
