package store

import "context"

// Stores bundles the stores that participate in one unit of work.
type Stores struct {
	Conversions ConversionStore
	Outputs     OutputStore
	Usage       UsageStore
	Accounts    AccountStore
}

// TxRunner runs fn with stores bound to a single transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
