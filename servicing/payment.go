package servicing

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentService struct {
	Deps
}

func NewPaymentService(deps Deps) *PaymentService {
	return &PaymentService{Deps: deps}
}

// PaymentResult is what a payment did. Replayed results carry only the
// original transaction.
type PaymentResult struct {
	Transaction    lending.RepaymentTransaction
	Allocation     lending.Allocation
	Loan           lending.LoanAccount
	Classification lending.ClassificationResult
	Replayed       bool
}

// Pay allocates p against its loan as of p.PaidOn.
//
// A transaction ID seen before is a no-op success: the stored transaction
// is returned with Replayed set and nothing is applied again.
func (s *PaymentService) Pay(ctx context.Context, p lending.Payment) (PaymentResult, error) {
	if p.ID == "" {
		return PaymentResult{}, fmt.Errorf("%w: transaction id is required", lending.ErrInvalidPayment)
	}
	if p.PaidOn.IsZero() {
		return PaymentResult{}, fmt.Errorf("%w: payment date is required", lending.ErrInvalidPayment)
	}

	var result PaymentResult
	err := s.withLoan(ctx, p.LoanID, func(tx lending.Store) error {
		existing, err := tx.GetTransaction(ctx, p.ID)
		if err == nil {
			result = PaymentResult{Transaction: *existing, Replayed: true}
			return nil
		}
		if !errors.Is(err, lending.ErrTransactionNotFound) {
			return err
		}

		loan, installments, err := loadLoan(ctx, tx, p.LoanID)
		if err != nil {
			return err
		}
		if loan.Status == lending.LoanWrittenOff {
			return fmt.Errorf("%w: record a recovery instead", lending.ErrAlreadyWrittenOff)
		}

		alloc, err := lending.Allocate(p, installments, p.PaidOn)
		if err != nil {
			return err
		}
		loan, effect, err := lending.ApplyAllocation(loan, alloc)
		if err != nil {
			return err
		}

		loan, cls, err := lending.Reclassify(loan, alloc.Installments, s.Policy.Get(), p.PaidOn, s.Classifier, lending.TriggerPayment)
		if err != nil {
			return err
		}
		cls.Record = cls.Record.ForEvent("pay:" + string(p.ID))

		record := alloc.Transaction(p, effect)
		if err := tx.SaveTransaction(ctx, record); err != nil {
			return err
		}
		var changed *lending.LoanClassificationRecord
		if cls.Changed() {
			changed = &cls.Record
		}
		if err := saveLoan(ctx, tx, loan, alloc.Installments, changed); err != nil {
			return err
		}

		result = PaymentResult{Transaction: record, Allocation: alloc, Loan: loan, Classification: cls}
		return nil
	})

	var replay *lending.ReplayedTransactionError
	if errors.As(err, &replay) {
		// Same ID landed through another loan between our check and insert.
		existing, getErr := s.Store.GetTransaction(ctx, p.ID)
		if getErr != nil {
			return PaymentResult{}, getErr
		}
		return PaymentResult{Transaction: *existing, Replayed: true}, nil
	}
	if err != nil {
		return PaymentResult{}, err
	}

	log := s.Logger.WithFields(logrus.Fields{"loan_id": p.LoanID, "tx_id": p.ID})
	if result.Replayed {
		log.Info("Payment replayed, nothing applied")
	} else {
		log.WithFields(logrus.Fields{
			"principal": result.Transaction.Principal.String(),
			"interest":  result.Transaction.Interest.String(),
			"penalty":   result.Transaction.Penalty.String(),
		}).Info("Payment allocated")
	}
	return result, nil
}

// ReversalResult is the state after a payment was reversed.
type ReversalResult struct {
	Transaction    lending.RepaymentTransaction
	Loan           lending.LoanAccount
	Installments   []lending.RepaymentInstallment
	Classification lending.ClassificationResult
}

// Reverse undoes a payment as of on. The original transaction stays in
// place, flagged reversed; installments get their paid amounts back and
// their status and delayed days re-derived against the original due dates.
func (s *PaymentService) Reverse(ctx context.Context, id lending.TransactionID, on lending.Date) (ReversalResult, error) {
	original, err := s.Store.GetTransaction(ctx, id)
	if err != nil {
		return ReversalResult{}, err
	}

	var result ReversalResult
	err = s.withLoan(ctx, original.LoanID, func(tx lending.Store) error {
		// Re-read under the lock.
		txn, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if txn.Reversed {
			return lending.ErrAlreadyReversed
		}

		loan, installments, err := loadLoan(ctx, tx, txn.LoanID)
		if err != nil {
			return err
		}
		if loan.Status == lending.LoanWrittenOff {
			return lending.ErrAlreadyWrittenOff
		}

		restored, err := lending.Reverse(*txn, installments, on)
		if err != nil {
			return err
		}
		loan = lending.ReverseOnLoan(loan, *txn)

		loan, cls, err := lending.Reclassify(loan, restored, s.Policy.Get(), on, s.Classifier, lending.TriggerPayment)
		if err != nil {
			return err
		}
		cls.Record = cls.Record.ForEvent("reverse:" + string(id))

		if err := tx.MarkReversed(ctx, id, on); err != nil {
			return err
		}
		var changed *lending.LoanClassificationRecord
		if cls.Changed() {
			changed = &cls.Record
		}
		if err := saveLoan(ctx, tx, loan, restored, changed); err != nil {
			return err
		}

		txn.Reversed = true
		txn.ReversedOn = on
		result = ReversalResult{Transaction: *txn, Loan: loan, Installments: restored, Classification: cls}
		return nil
	})
	if err != nil {
		return ReversalResult{}, err
	}

	s.Logger.WithFields(logrus.Fields{"loan_id": result.Loan.ID, "tx_id": id}).Info("Payment reversed")
	return result, nil
}
