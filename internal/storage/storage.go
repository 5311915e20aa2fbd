package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Abdullah1738/ticket-scan/internal/kv"
	"github.com/Abdullah1738/ticket-scan/internal/store/mysql"
	"github.com/Abdullah1738/ticket-scan/internal/store/postgres"
	"github.com/Abdullah1738/ticket-scan/internal/store/rocksdb"
)

type Config struct {
	Driver string

	DSN    string
	Schema string
	Path   string
}

// Open returns the KV backend named by cfg.Driver. The embedded pebble store
// is the default.
func Open(ctx context.Context, cfg Config) (kv.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "rocksdb", "pebble":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("storage: db path is required for rocksdb")
		}
		st, err := rocksdb.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := postgres.Open(ctx, cfg.DSN, cfg.Schema)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "mysql":
		st, err := mysql.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
