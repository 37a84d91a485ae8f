/*
store.go - Persistence interface for loans, schedules and history

PURPOSE:
  Defines the boundary between the engine and whatever holds loans between
  passes. The engine itself never touches storage; servicing/ loads inputs,
  calls the pure functions in this package, and writes the results back
  through these interfaces.

APPEND-ONLY PARTS:
  - Classification records: AppendClassification only, no update/delete.
    Appending a record whose ID already exists is a no-op (record IDs are
    deterministic, so a replayed pass writes nothing new).
  - Repayment transactions: SaveTransaction inserts; MarkReversed sets the
    terminal reversed flag and nothing else.

ATOMIC UNITS:
  TxStore.WithTx runs fn against a transactional view. Everything one loan's
  daily advance or one payment writes goes through a single WithTx call, so
  partial application is impossible from outside.

IMPLEMENTATIONS:
  - lending/store/memory.go: in-memory, for tests and demos
  - store/sqlstore/sqlstore.go: sqlite3 / postgres via database/sql
*/
package lending

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	GetLoan(ctx context.Context, id LoanID) (*LoanAccount, error)
	ListLoans(ctx context.Context) ([]LoanAccount, error)
	SaveLoan(ctx context.Context, loan LoanAccount) error

	// Installments returns the schedule ordered by due date, then sequence.
	Installments(ctx context.Context, id LoanID) ([]RepaymentInstallment, error)
	SaveInstallments(ctx context.Context, id LoanID, installments []RepaymentInstallment) error

	// GetTransaction returns ErrTransactionNotFound when the ID is unknown.
	GetTransaction(ctx context.Context, id TransactionID) (*RepaymentTransaction, error)
	SaveTransaction(ctx context.Context, tx RepaymentTransaction) error
	MarkReversed(ctx context.Context, id TransactionID, on Date) error
	Transactions(ctx context.Context, loanID LoanID) ([]RepaymentTransaction, error)

	AppendClassification(ctx context.Context, record LoanClassificationRecord) error
	ClassificationHistory(ctx context.Context, id LoanID) ([]LoanClassificationRecord, error)

	// TiersAsOf returns, per loan, the NewTier of its latest record classified
	// on or before the date. Loans without such a record are absent.
	TiersAsOf(ctx context.Context, on Date) (PortfolioSnapshot, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, everything fn wrote is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// BATCH RUNS - Audit trail of daily passes
// =============================================================================

type BatchRunStatus string

const (
	BatchRunning   BatchRunStatus = "running"
	BatchCompleted BatchRunStatus = "completed"
	BatchFailed    BatchRunStatus = "failed"
	BatchCancelled BatchRunStatus = "cancelled"
)

// BatchRun is the persisted summary of one RunDailyPass invocation.
type BatchRun struct {
	ID           string
	AsOf         Date
	Status       BatchRunStatus
	Processed    int
	Skipped      int
	Accrued      int
	Reclassified int
	Failed       int
	Error        string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// BatchRunStore is implemented by stores that keep the batch audit trail.
type BatchRunStore interface {
	SaveBatchRun(ctx context.Context, run BatchRun) error
	ListBatchRuns(ctx context.Context, limit int) ([]BatchRun, error)
}
