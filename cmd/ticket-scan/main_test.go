package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Abdullah1738/ticket-scan/internal/query"
	"github.com/Abdullah1738/ticket-scan/internal/store/rocksdb"
)

func TestRun_QueryCommandsOnEmptyIndex(t *testing.T) {
	ctx := context.Background()
	db := "--db-path=" + filepath.Join(t.TempDir(), "db")

	var out bytes.Buffer
	if err := run(ctx, []string{"hashes", db, "--start=10", "--end=20", "--kind=redeem"}, &out); err != nil {
		t.Fatalf("hashes: %v", err)
	}
	var got struct {
		Kind  string   `json:"kind"`
		TxIDs []string `json:"txids"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if got.Kind != "redeem" || got.TxIDs == nil || len(got.TxIDs) != 0 {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	err := run(ctx, []string{"header", db, "--height=5"}, &out)
	if !errors.Is(err, query.ErrNotFound) {
		t.Fatalf("header err=%v want ErrNotFound", err)
	}

	out.Reset()
	hash := "0000000000000000000000000000000000000000000000000000000000000001"
	if err := run(ctx, []string{"redeemed", db, "--hash=" + hash}, &out); err != nil {
		t.Fatalf("redeemed: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte(`"redeemed": false`)) {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRun_TicketsMetaOnEmptyIndex(t *testing.T) {
	ctx := context.Background()
	args := []string{
		"tickets",
		"--db-path=" + filepath.Join(t.TempDir(), "db"),
		"--address=bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a",
		"--meta",
	}
	var out bytes.Buffer
	if err := run(ctx, args, &out); err != nil {
		t.Fatalf("tickets: %v", err)
	}
	var got struct {
		Address      string            `json:"address"`
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if got.Address != "1BpEi6DfDAUFd7GtittLSdBeYJvcoaVggu" || got.Transactions == nil || len(got.Transactions) != 0 {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRun_RollbackWhileStoreHeld(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")
	held, err := rocksdb.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = held.Close() }()

	err = run(ctx, []string{"rollback", "--db-path=" + path, "--height=10"}, &bytes.Buffer{})
	if !errors.Is(err, rocksdb.ErrLocked) {
		t.Fatalf("rollback err=%v want ErrLocked", err)
	}
}

func TestRun_Usage(t *testing.T) {
	ctx := context.Background()
	if err := run(ctx, nil, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected usage error")
	}
	if err := run(ctx, []string{"frobnicate"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for unknown command")
	}
	if err := run(ctx, []string{"tickets", "--db-path=" + filepath.Join(t.TempDir(), "db"), "--address=bogus"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for bad address")
	}
}
