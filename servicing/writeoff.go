package servicing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// ON-DEMAND CLASSIFICATION
// =============================================================================

type ClassificationService struct {
	Deps
}

func NewClassificationService(deps Deps) *ClassificationService {
	return &ClassificationService{Deps: deps}
}

// Classify recomputes arrears and tier without accruing. A tier change is
// recorded with trigger manual.
func (s *ClassificationService) Classify(ctx context.Context, id lending.LoanID, asOf lending.Date) (lending.ClassificationResult, error) {
	var result lending.ClassificationResult
	err := s.withLoan(ctx, id, func(tx lending.Store) error {
		loan, installments, err := loadLoan(ctx, tx, id)
		if err != nil {
			return err
		}
		loan, result, err = lending.Reclassify(loan, installments, s.Policy.Get(), asOf, s.Classifier, lending.TriggerManual)
		if err != nil {
			return err
		}
		if !result.Changed() {
			return nil
		}
		// Each on-demand call is its own event.
		result.Record = result.Record.ForEvent("manual:" + uuid.NewString())
		return saveLoan(ctx, tx, loan, installments, &result.Record)
	})
	return result, err
}

// =============================================================================
// WRITE-OFF
// =============================================================================

type WriteOffService struct {
	Deps
}

func NewWriteOffService(deps Deps) *WriteOffService {
	return &WriteOffService{Deps: deps}
}

// WriteOff moves the loan to written_off as of asOf.
func (s *WriteOffService) WriteOff(ctx context.Context, id lending.LoanID, asOf lending.Date, reason string) (lending.LoanAccount, lending.LoanClassificationRecord, error) {
	var (
		loan   lending.LoanAccount
		record lending.LoanClassificationRecord
	)
	err := s.withLoan(ctx, id, func(tx lending.Store) error {
		current, installments, err := loadLoan(ctx, tx, id)
		if err != nil {
			return err
		}
		loan, record, err = lending.WriteOff(current, s.Policy.Get(), asOf, s.Classifier)
		if err != nil {
			return err
		}
		return saveLoan(ctx, tx, loan, installments, &record)
	})
	if err != nil {
		return lending.LoanAccount{}, lending.LoanClassificationRecord{}, err
	}

	s.Logger.WithFields(logrus.Fields{
		"loan_id": id,
		"as_of":   asOf.String(),
		"amount":  loan.WrittenOffAmount.String(),
		"reason":  reason,
	}).Warn("Loan written off")
	return loan, record, nil
}

// RecordRecovery books cash recovered on a written-off loan.
func (s *WriteOffService) RecordRecovery(ctx context.Context, id lending.LoanID, amount decimal.Decimal) (lending.LoanAccount, error) {
	var loan lending.LoanAccount
	err := s.withLoan(ctx, id, func(tx lending.Store) error {
		current, err := tx.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		loan, err = lending.RecordRecovery(*current, amount)
		if err != nil {
			return err
		}
		return tx.SaveLoan(ctx, loan)
	})
	if err != nil {
		return lending.LoanAccount{}, err
	}

	s.Logger.WithFields(logrus.Fields{"loan_id": id, "amount": amount.String()}).Info("Recovery recorded")
	return loan, nil
}
