/*
errors.go - Centralized error types for the lending engine

ERROR CATEGORIES:
  1. Schedule errors   - malformed installment sets (fatal to one loan's pass)
  2. Policy errors     - gaps or malformed provisioning tables (alert operators)
  3. Payment errors    - overpayment, invalid amount, replay (caller-correctable)
  4. Store errors      - missing loans / transactions

USAGE:
  Callers branch with errors.Is / errors.As:

    var over *lending.OverpaymentError
    if errors.As(err, &over) {
        // ask the user to re-enter the amount
    }

SEE ALSO:
  - servicing/batch.go: collects per-loan errors into BatchResult
  - api/handlers.go: maps errors onto HTTP status codes
*/
package lending

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidSchedule = errors.New("invalid repayment schedule")

	// ErrUnmatchedTier means the policy table has a gap. Never defaulted.
	ErrUnmatchedTier = errors.New("no provisioning tier matches days in arrears")

	ErrOverpayment = errors.New("payment exceeds outstanding balance")

	// ErrReplayedTransaction is an idempotency guard, treated as a no-op success.
	ErrReplayedTransaction = errors.New("payment already applied")

	ErrInvalidPayment      = errors.New("payment amount must be positive")
	ErrInvalidPolicy       = errors.New("invalid provisioning policy")
	ErrAlreadyReversed     = errors.New("transaction already reversed")
	ErrAlreadyWrittenOff   = errors.New("loan already written off")
	ErrNotWrittenOff       = errors.New("loan is not written off")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidScheduleError describes the first problem found in an installment set.
type InvalidScheduleError struct {
	LoanID   LoanID
	Sequence int
	Reason   string
}

func (e *InvalidScheduleError) Error() string {
	if e.Sequence == 0 {
		return fmt.Sprintf("invalid schedule for loan %s: %s", e.LoanID, e.Reason)
	}
	return fmt.Sprintf("invalid schedule for loan %s at installment %d: %s", e.LoanID, e.Sequence, e.Reason)
}

func (e *InvalidScheduleError) Unwrap() error { return ErrInvalidSchedule }

// UnmatchedTierError is returned when no policy row covers the arrears.
type UnmatchedTierError struct {
	LoanID        LoanID
	DaysInArrears int
}

func (e *UnmatchedTierError) Error() string {
	return fmt.Sprintf("no provisioning tier for loan %s at %d days in arrears", e.LoanID, e.DaysInArrears)
}

func (e *UnmatchedTierError) Unwrap() error { return ErrUnmatchedTier }

// OverpaymentError reports how far a payment exceeds what is owed.
type OverpaymentError struct {
	LoanID      LoanID
	Amount      decimal.Decimal
	Outstanding decimal.Decimal
	Excess      decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment %s exceeds outstanding %s on loan %s by %s",
		e.Amount, e.Outstanding, e.LoanID, e.Excess)
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// ReplayedTransactionError carries the previously stored transaction.
type ReplayedTransactionError struct {
	TransactionID TransactionID
	Existing      *RepaymentTransaction
}

func (e *ReplayedTransactionError) Error() string {
	return fmt.Sprintf("transaction %s already applied", e.TransactionID)
}

func (e *ReplayedTransactionError) Unwrap() error { return ErrReplayedTransaction }

// PolicyError describes an invalid provisioning table row.
type PolicyError struct {
	Row    int
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("invalid provisioning policy row %d: %s", e.Row, e.Reason)
}

func (e *PolicyError) Unwrap() error { return ErrInvalidPolicy }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can fix the input and retry.
func IsClientError(err error) bool {
	return errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrInvalidPayment) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrAlreadyWrittenOff) ||
		errors.Is(err, ErrNotWrittenOff) ||
		errors.Is(err, ErrInvalidPolicy)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) || errors.Is(err, ErrTransactionNotFound)
}

// IsActionable returns true for failures an operator must look at.
func IsActionable(err error) bool {
	return errors.Is(err, ErrUnmatchedTier) || errors.Is(err, ErrInvalidPolicy)
}
