package servicing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/lending"
)

// ErrLoanExists is returned when opening a loan whose ID is taken.
var ErrLoanExists = errors.New("loan already exists")

// =============================================================================
// LOAN ONBOARDING
// =============================================================================

type LoanService struct {
	Deps
}

func NewLoanService(deps Deps) *LoanService {
	return &LoanService{Deps: deps}
}

// Open stores a new loan with its schedule and classifies it as of asOf.
// The first classification record is what later portfolio movements are
// measured against.
func (s *LoanService) Open(ctx context.Context, loan lending.LoanAccount, installments []lending.RepaymentInstallment, asOf lending.Date) (lending.LoanAccount, lending.ClassificationResult, error) {
	if loan.ID == "" {
		return lending.LoanAccount{}, lending.ClassificationResult{}, fmt.Errorf("%w: loan id is required", lending.ErrInvalidSchedule)
	}
	if len(installments) == 0 {
		return lending.LoanAccount{}, lending.ClassificationResult{}, &lending.InvalidScheduleError{LoanID: loan.ID, Reason: "schedule has no installments"}
	}

	schedule := lending.CloneInstallments(installments)
	sort.SliceStable(schedule, func(i, j int) bool {
		if !schedule[i].DueDate.Equal(schedule[j].DueDate) {
			return schedule[i].DueDate.Before(schedule[j].DueDate)
		}
		return schedule[i].Sequence < schedule[j].Sequence
	})
	for i := range schedule {
		schedule[i].LoanID = loan.ID
		if schedule[i].Status == "" {
			schedule[i].Status = lending.InstallmentPending
		}
	}
	if loan.OutstandingPrincipal.IsZero() {
		loan.OutstandingPrincipal = scheduledPrincipal(schedule)
	}
	if loan.Status == "" {
		loan.Status = lending.LoanActive
	}
	loan.Tier = ""
	if err := lending.ValidateLoan(loan, schedule); err != nil {
		return lending.LoanAccount{}, lending.ClassificationResult{}, err
	}

	var result lending.ClassificationResult
	err := s.withLoan(ctx, loan.ID, func(tx lending.Store) error {
		if _, err := tx.GetLoan(ctx, loan.ID); err == nil {
			return fmt.Errorf("%w: %s", ErrLoanExists, loan.ID)
		} else if !errors.Is(err, lending.ErrLoanNotFound) {
			return err
		}

		var err error
		loan, result, err = lending.Reclassify(loan, schedule, s.Policy.Get(), asOf, s.Classifier, lending.TriggerManual)
		if err != nil {
			return err
		}
		return saveLoan(ctx, tx, loan, schedule, &result.Record)
	})
	if err != nil {
		return lending.LoanAccount{}, lending.ClassificationResult{}, err
	}

	s.Logger.WithFields(logrus.Fields{
		"loan_id": loan.ID,
		"as_of":   asOf.String(),
		"tier":    loan.Tier,
	}).Info("Loan opened")
	return loan, result, nil
}

func scheduledPrincipal(schedule []lending.RepaymentInstallment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range schedule {
		total = total.Add(inst.PrincipalDue())
	}
	return total
}
