//go:build !mysql

package mysql

import (
	"context"
	"errors"

	"github.com/Abdullah1738/ticket-scan/internal/kv"
)

var errNotBuilt = errors.New("mysql adapter is not built; rebuild with -tags=mysql")

type Store struct{}

var _ kv.Store = (*Store)(nil)

func Open(context.Context, string) (*Store, error) {
	return nil, errNotBuilt
}

func (*Store) Close() error { return nil }

func (*Store) Migrate(context.Context) error { return errNotBuilt }

func (*Store) Get(context.Context, []byte) ([]byte, error) { return nil, errNotBuilt }

func (*Store) Has(context.Context, []byte) (bool, error) { return false, errNotBuilt }

func (*Store) Scan(context.Context, kv.ScanOptions, func(key, value []byte) error) error {
	return errNotBuilt
}

func (*Store) Update(context.Context, func(kv.Batch) error) error { return errNotBuilt }
