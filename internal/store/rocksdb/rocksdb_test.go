package rocksdb

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/Abdullah1738/ticket-scan/internal/kv/kvtest"
	"github.com/prometheus/client_golang/prometheus"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_Conformance(t *testing.T) {
	kvtest.Run(t, openTestStore(t))
}

func TestCollector(t *testing.T) {
	st := openTestStore(t)
	c := NewCollector(st)

	descs := make(chan *prometheus.Desc, 16)
	c.Describe(descs)
	close(descs)

	ms := make(chan prometheus.Metric, 16)
	c.Collect(ms)
	close(ms)

	if len(descs) != len(ms) || len(ms) == 0 {
		t.Fatalf("described %d metrics, collected %d", len(descs), len(ms))
	}
}

func TestOpen_Locked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := Open(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Open err=%v want ErrLocked", err)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	st, err = Open(path)
	if err != nil {
		t.Fatalf("reopen after Close: %v", err)
	}
	_ = st.Close()
}
