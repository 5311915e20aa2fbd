// Package kvtest is the behavior every kv.Store backend must share.
package kvtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/kv"
)

// Run exercises st, which must be empty and migrated.
func Run(t *testing.T, st kv.Store) {
	t.Helper()
	t.Run("UpdateCommitsAtomically", func(t *testing.T) { updateCommitsAtomically(t, st) })
	t.Run("ScanBoundsReverseLimit", func(t *testing.T) { scanBoundsReverseLimit(t, st) })
	t.Run("OverwriteAndDelete", func(t *testing.T) { overwriteAndDelete(t, st) })
}

func put(ctx context.Context, t *testing.T, st kv.Store, kvs ...string) {
	t.Helper()
	if err := st.Update(ctx, func(b kv.Batch) error {
		for i := 0; i+1 < len(kvs); i += 2 {
			if err := b.Put(ctx, []byte(kvs[i]), []byte(kvs[i+1])); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func updateCommitsAtomically(t *testing.T, st kv.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := st.Update(ctx, func(b kv.Batch) error {
		if err := b.Put(ctx, []byte("a1"), []byte("v1")); err != nil {
			return err
		}
		// Reads inside the batch observe pending writes.
		v, err := b.Get(ctx, []byte("a1"))
		if err != nil {
			return err
		}
		if string(v) != "v1" {
			t.Errorf("batch read=%q want v1", v)
		}
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	boom := errors.New("boom")
	err := st.Update(ctx, func(b kv.Batch) error {
		if err := b.Put(ctx, []byte("a2"), []byte("v2")); err != nil {
			return err
		}
		if err := b.Delete(ctx, []byte("a1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update err=%v want boom", err)
	}

	if ok, err := st.Has(ctx, []byte("a2")); err != nil || ok {
		t.Fatalf("aborted write visible: ok=%v err=%v", ok, err)
	}
	if v, err := st.Get(ctx, []byte("a1")); err != nil || string(v) != "v1" {
		t.Fatalf("Get(a1)=%q,%v", v, err)
	}
	if _, err := st.Get(ctx, []byte("zz")); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get(zz) err=%v want ErrNotFound", err)
	}
}

func scanBoundsReverseLimit(t *testing.T, st kv.Store) {
	ctx := context.Background()
	put(ctx, t, st, "k1", "", "k2", "", "k3", "", "k4", "", "l1", "")

	tests := []struct {
		name string
		opts kv.ScanOptions
		want []string
	}{
		{"prefix", kv.ScanOptions{Gte: []byte("k"), Lt: kv.PrefixUpperBound([]byte("k"))}, []string{"k1", "k2", "k3", "k4"}},
		{"gt lte", kv.ScanOptions{Gt: []byte("k1"), Lte: []byte("k3")}, []string{"k2", "k3"}},
		{"reverse limit", kv.ScanOptions{Gte: []byte("k"), Lt: []byte("l"), Reverse: true, Limit: 2}, []string{"k4", "k3"}},
		{"reverse lt", kv.ScanOptions{Gte: []byte("k"), Lt: []byte("k3"), Reverse: true}, []string{"k2", "k1"}},
		{"empty", kv.ScanOptions{Gt: []byte("k4"), Lt: []byte("l")}, nil},
	}
	for _, tc := range tests {
		keys, _, err := kv.Collect(ctx, st, tc.opts)
		if err != nil {
			t.Fatalf("%s: Collect: %v", tc.name, err)
		}
		if len(keys) != len(tc.want) {
			t.Fatalf("%s: got %d keys want %d", tc.name, len(keys), len(tc.want))
		}
		for i := range keys {
			if string(keys[i]) != tc.want[i] {
				t.Fatalf("%s: key[%d]=%q want %q", tc.name, i, keys[i], tc.want[i])
			}
		}
	}

	var seen int
	if err := st.Scan(ctx, kv.ScanOptions{Gte: []byte("k")}, func(k, v []byte) error {
		seen++
		return kv.ErrStop
	}); err != nil {
		t.Fatalf("Scan stop: %v", err)
	}
	if seen != 1 {
		t.Fatalf("seen=%d want 1", seen)
	}
}

func overwriteAndDelete(t *testing.T, st kv.Store) {
	ctx := context.Background()
	put(ctx, t, st, "o1", "first")
	put(ctx, t, st, "o1", "second")
	if v, err := st.Get(ctx, []byte("o1")); err != nil || string(v) != "second" {
		t.Fatalf("Get(o1)=%q,%v", v, err)
	}

	if err := st.Update(ctx, func(b kv.Batch) error {
		if err := b.Delete(ctx, []byte("o1")); err != nil {
			return err
		}
		if ok, err := b.Has(ctx, []byte("o1")); err != nil || ok {
			t.Errorf("deleted key visible in batch: ok=%v err=%v", ok, err)
		}
		// Deleting a missing key is not an error.
		return b.Delete(ctx, []byte("o2"))
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := st.Get(ctx, []byte("o1")); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get(o1) err=%v want ErrNotFound", err)
	}
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate again: %v", err)
	}
}
