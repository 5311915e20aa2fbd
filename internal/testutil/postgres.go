package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/Abdullah1738/ticket-scan/internal/store/postgres"
	"github.com/jackc/pgx/v5"
)

// TestPostgres is a postgres KV store isolated in its own schema.
type TestPostgres struct {
	Store   *postgres.Store
	Schema  string
	BaseURL string
}

// OpenTestPostgres opens and migrates a store in a fresh schema. Close drops
// the schema.
func OpenTestPostgres(ctx context.Context, baseURL string) (*TestPostgres, error) {
	suffix, err := randHex(8)
	if err != nil {
		return nil, err
	}
	schema := "ticketscan_test_" + suffix

	st, err := postgres.Open(ctx, baseURL, schema)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return &TestPostgres{Store: st, Schema: schema, BaseURL: baseURL}, nil
}

func (t *TestPostgres) Close(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if t.Store != nil {
		_ = t.Store.Close()
	}
	conn, err := pgx.Connect(ctx, t.BaseURL)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, `DROP SCHEMA `+pgx.Identifier{t.Schema}.Sanitize()+` CASCADE`); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}

func randHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}
