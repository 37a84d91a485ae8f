/*
Package servicing runs the lending engine against a store.

PURPOSE:
  The lending package is pure: it takes a loan, its schedule, the policy
  and a date, and returns new values. This package is the single entry
  point that loads those inputs, takes the loan's lock, calls the engine
  and writes every effect back in one transaction. Nothing outside this
  package should mutate a loan.

SERVICES:
  PaymentService:        allocate and reverse repayments (replay-protected)
  BatchJob:              the daily accrual/reclassification pass
  ClassificationService: on-demand reclassification
  WriteOffService:       write-off and recoveries
  ReportService:         portfolio and write-off reports

ATOMICITY:
  Each operation on one loan is: Lock(loan) -> WithTx(load, compute, save)
  -> unlock. A failure anywhere inside WithTx rolls the whole loan back.

SEE ALSO:
  - lending/store.go: TxStore contract
  - lock/locker.go: per-loan serialization
*/
package servicing

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/lending"
	"github.com/warp/loan-engine/lock"
)

// =============================================================================
// SHARED DEPENDENCIES
// =============================================================================

// Deps is what every service needs. Services embed it.
type Deps struct {
	Store      lending.TxStore
	Locker     lock.Locker
	Policy     *PolicyHolder
	Classifier *lending.Classifier
	Accrual    lending.AccrualOptions
	Logger     logrus.FieldLogger
}

// NewDeps fills defaults for anything left nil.
func NewDeps(store lending.TxStore, policy lending.ProvisioningPolicy, currency lending.Currency) (Deps, error) {
	holder, err := NewPolicyHolder(policy)
	if err != nil {
		return Deps{}, err
	}
	opts := lending.DefaultAccrualOptions()
	opts.Currency = currency
	return Deps{
		Store:      store,
		Locker:     lock.NewKeyedMutex(),
		Policy:     holder,
		Classifier: lending.NewClassifier(currency),
		Accrual:    opts,
		Logger:     logrus.StandardLogger(),
	}, nil
}

// withLoan takes the loan's lock and runs fn inside one store transaction.
func (d Deps) withLoan(ctx context.Context, id lending.LoanID, fn func(tx lending.Store) error) error {
	unlock, err := d.Locker.Lock(ctx, string(id))
	if err != nil {
		return fmt.Errorf("failed to lock loan %s: %w", id, err)
	}
	defer unlock()
	return d.Store.WithTx(ctx, fn)
}

// loadLoan reads a loan and its schedule inside a transaction.
func loadLoan(ctx context.Context, tx lending.Store, id lending.LoanID) (lending.LoanAccount, []lending.RepaymentInstallment, error) {
	loan, err := tx.GetLoan(ctx, id)
	if err != nil {
		return lending.LoanAccount{}, nil, err
	}
	installments, err := tx.Installments(ctx, id)
	if err != nil {
		return lending.LoanAccount{}, nil, fmt.Errorf("failed to load installments: %w", err)
	}
	return *loan, installments, nil
}

// saveLoan writes the loan, its schedule and (when non-nil) a record.
func saveLoan(ctx context.Context, tx lending.Store, loan lending.LoanAccount, installments []lending.RepaymentInstallment, record *lending.LoanClassificationRecord) error {
	if err := tx.SaveInstallments(ctx, loan.ID, installments); err != nil {
		return fmt.Errorf("failed to save installments: %w", err)
	}
	if err := tx.SaveLoan(ctx, loan); err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}
	if record != nil {
		if err := tx.AppendClassification(ctx, *record); err != nil {
			return fmt.Errorf("failed to append classification: %w", err)
		}
	}
	return nil
}

// =============================================================================
// POLICY HOLDER
// =============================================================================

// PolicyHolder keeps the active provisioning policy. A pass reads it once at
// the start, so swapping the policy never splits a run across two tables.
type PolicyHolder struct {
	mu     sync.RWMutex
	policy lending.ProvisioningPolicy
}

func NewPolicyHolder(p lending.ProvisioningPolicy) (*PolicyHolder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &PolicyHolder{policy: p}, nil
}

func (h *PolicyHolder) Get() lending.ProvisioningPolicy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policy
}

// Set replaces the policy after validating it.
func (h *PolicyHolder) Set(p lending.ProvisioningPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	h.policy = p
	h.mu.Unlock()
	return nil
}
