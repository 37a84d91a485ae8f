package lending

import "github.com/shopspring/decimal"

// =============================================================================
// ARREARS CALCULATOR
// =============================================================================

// OverdueInstallment is one unpaid installment past its due date.
type OverdueInstallment struct {
	Sequence    int
	DueDate     Date
	DaysOverdue int
	Outstanding decimal.Decimal
}

// Arrears is the loan-level view: the oldest unpaid installment drives
// DaysInArrears.
type Arrears struct {
	AsOf          Date
	DaysInArrears int
	Overdue       []OverdueInstallment
}

// ComputeArrears returns days in arrears as of asOf. Installments must be
// ordered by due date. Reopened installments are measured from their
// original due date, so a reversal never resets the clock.
func ComputeArrears(installments []RepaymentInstallment, asOf Date) (Arrears, error) {
	if err := ValidateSchedule(installments); err != nil {
		return Arrears{}, err
	}

	result := Arrears{AsOf: asOf}
	for _, inst := range installments {
		if !inst.Outstanding().IsPositive() || !inst.DueDate.Before(asOf) {
			continue
		}
		days := DaysBetween(inst.DueDate, asOf)
		result.Overdue = append(result.Overdue, OverdueInstallment{
			Sequence:    inst.Sequence,
			DueDate:     inst.DueDate,
			DaysOverdue: days,
			Outstanding: inst.Outstanding(),
		})
		if days > result.DaysInArrears {
			result.DaysInArrears = days
		}
	}
	return result, nil
}

// ValidateSchedule checks ordering and amounts of an installment set.
func ValidateSchedule(installments []RepaymentInstallment) error {
	for i, inst := range installments {
		fail := func(reason string) error {
			return &InvalidScheduleError{LoanID: inst.LoanID, Sequence: inst.Sequence, Reason: reason}
		}

		if inst.DueDate.IsZero() {
			return fail("missing due date")
		}
		if i > 0 {
			prev := installments[i-1]
			if inst.DueDate.Before(prev.DueDate) {
				return fail("due dates not in chronological order")
			}
			if inst.Sequence <= prev.Sequence {
				return fail("sequence numbers not increasing")
			}
		}

		for _, amount := range []struct {
			name  string
			value decimal.Decimal
		}{
			{"due principal", inst.DuePrincipal},
			{"due interest", inst.DueInterest},
			{"paid principal", inst.PaidPrincipal},
			{"paid interest", inst.PaidInterest},
			{"penalty", inst.PenaltyAmount},
			{"paid penalty", inst.PaidPenalty},
		} {
			if amount.value.IsNegative() {
				return fail("negative " + amount.name)
			}
		}

		if inst.PaidTotal().GreaterThan(inst.DueTotal()) {
			return fail("paid total exceeds due total")
		}
		if inst.DelayedDays < 0 {
			return fail("negative delayed days")
		}
	}
	return nil
}

// ValidateLoan checks the loan terms against its schedule: a positive
// disbursed amount, no negative rate or collateral, and never more
// principal scheduled or paid than was disbursed.
func ValidateLoan(loan LoanAccount, installments []RepaymentInstallment) error {
	fail := func(reason string) error {
		return &InvalidScheduleError{LoanID: loan.ID, Reason: reason}
	}
	if !loan.DisbursedAmount.IsPositive() {
		return fail("disbursed amount must be positive")
	}
	if loan.AnnualRate.IsNegative() {
		return fail("negative annual rate")
	}
	if loan.CollateralValue.IsNegative() {
		return fail("negative collateral value")
	}
	if loan.OutstandingPrincipal.IsNegative() || loan.OutstandingPrincipal.GreaterThan(loan.DisbursedAmount) {
		return fail("outstanding principal outside 0..disbursed amount")
	}
	if err := ValidateSchedule(installments); err != nil {
		return err
	}

	scheduled := decimal.Zero
	for _, inst := range installments {
		scheduled = scheduled.Add(inst.DuePrincipal)
	}
	if scheduled.GreaterThan(loan.DisbursedAmount) {
		return fail("scheduled principal exceeds disbursed amount")
	}
	return checkDisbursed(loan, installments)
}

// checkDisbursed enforces Σ paid principal <= disbursed amount.
func checkDisbursed(loan LoanAccount, installments []RepaymentInstallment) error {
	paid := decimal.Zero
	for _, inst := range installments {
		paid = paid.Add(inst.PaidPrincipal)
	}
	if paid.GreaterThan(loan.DisbursedAmount) {
		return &InvalidScheduleError{LoanID: loan.ID, Reason: "paid principal exceeds disbursed amount"}
	}
	return nil
}
