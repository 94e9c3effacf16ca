package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/phrazzld/repurpose/internal/store"
)

// TxRunner implements store.TxRunner on a *sql.DB.
type TxRunner struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.TxRunner = (*TxRunner)(nil)

// NewTxRunner creates a TxRunner.
func NewTxRunner(db *sql.DB, logger *slog.Logger) *TxRunner {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TxRunner{db: db, logger: logger}
}

// RunInTx implements store.TxRunner.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, s store.Stores) error) error {
	return store.RunInTransaction(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, NewStores(tx, r.logger))
	})
}

// NewStores builds every postgres store on db.
func NewStores(db store.DBTX, logger *slog.Logger) store.Stores {
	return store.Stores{
		Conversions: NewPostgresConversionStore(db, logger),
		Outputs:     NewPostgresOutputStore(db, logger),
		Usage:       NewPostgresUsageStore(db, logger),
		Accounts:    NewPostgresAccountStore(db),
	}
}
