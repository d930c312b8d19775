package repositories

import "context"

// TxFn is a function that runs within a transaction.
type TxFn func(ctx context.Context) error

// TransactionManager handles database transactions. The core deliberately
// does not wrap append-then-project in one transaction (projection is
// idempotent and replayable), but replay uses this to reset and rebuild a
// tree's materialized rows atomically.
type TransactionManager interface {
	ExecTx(ctx context.Context, fn TxFn) error
}
