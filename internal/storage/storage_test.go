package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "db")})
	if err != nil {
		t.Fatalf("Open default: %v", err)
	}
	_ = st.Close()

	if _, err := Open(ctx, Config{Driver: "rocksdb"}); err == nil {
		t.Fatalf("expected error without path")
	}
	if _, err := Open(ctx, Config{Driver: "sqlite"}); err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: "postgres"}); err == nil {
		t.Fatalf("expected error without dsn")
	}
}
