//go:build integration && docker && mysql

package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/kv/kvtest"
	"github.com/Abdullah1738/ticket-scan/internal/testutil/containers"
)

func TestStore_Conformance(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	svc, err := containers.StartMySQL(ctx)
	if err != nil {
		t.Fatalf("start mysql: %v", err)
	}
	t.Cleanup(func() { _ = svc.Terminate(context.Background()) })

	st, err := Open(ctx, svc.URL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	kvtest.Run(t, st)
}
