package lending

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCRUAL OPTIONS
// =============================================================================

// AccrualOptions configures interest and penalty accrual.
type AccrualOptions struct {
	Currency      Currency
	DayCountBasis int // days per year, 365 unless configured

	// PenaltyRatePercent is charged per overdue day on the overdue
	// principal+interest of each installment. Zero disables penalties.
	PenaltyRatePercent decimal.Decimal
}

func DefaultAccrualOptions() AccrualOptions {
	return AccrualOptions{
		Currency:           DefaultCurrency,
		DayCountBasis:      365,
		PenaltyRatePercent: decimal.Zero,
	}
}

func (o AccrualOptions) basis() decimal.Decimal {
	if o.DayCountBasis <= 0 {
		return decimal.NewFromInt(365)
	}
	return decimal.NewFromInt(int64(o.DayCountBasis))
}

// =============================================================================
// INTEREST
// =============================================================================

// DailyInterest is the unrounded interest for one day.
//
//	flat:             total scheduled interest / term days (fixed for the
//	                  life of the loan; falls back to disbursed × rate / basis
//	                  when the schedule carries no interest)
//	reducing balance: outstanding principal × annual rate / basis
func DailyInterest(loan LoanAccount, installments []RepaymentInstallment, opts AccrualOptions) decimal.Decimal {
	switch loan.InterestMethod {
	case InterestFlat:
		scheduled := decimal.Zero
		for _, inst := range installments {
			scheduled = scheduled.Add(inst.DueInterest)
		}
		term := DaysBetween(loan.DisbursedOn, loan.MaturesOn)
		if scheduled.IsPositive() && term > 0 {
			return scheduled.Div(decimal.NewFromInt(int64(term)))
		}
		return loan.DisbursedAmount.Mul(loan.AnnualRate).Div(opts.basis())
	default:
		return loan.OutstandingPrincipal.Mul(loan.AnnualRate).Div(opts.basis())
	}
}

// AccrueInterest returns the rounded interest for the days in (from, to].
// Flat interest stops at maturity; reducing-balance interest keeps running
// on whatever principal is left.
func AccrueInterest(loan LoanAccount, installments []RepaymentInstallment, from, to Date, opts AccrualOptions) decimal.Decimal {
	end := to
	if loan.InterestMethod == InterestFlat && !loan.MaturesOn.IsZero() && loan.MaturesOn.Before(end) {
		end = loan.MaturesOn
	}
	days := DaysBetween(from, end)
	if days <= 0 {
		return decimal.Zero
	}
	daily := DailyInterest(loan, installments, opts)
	return opts.Currency.Round(daily.Mul(decimal.NewFromInt(int64(days))))
}

// =============================================================================
// DELAYED DAYS & PENALTY
// =============================================================================

// advanceDelays increments DelayedDays on every overdue unpaid installment
// for the days in (max(LastDelayedOn, DueDate), asOf] and charges penalty on
// the same days. Returns the penalty charged.
func advanceDelays(installments []RepaymentInstallment, asOf Date, opts AccrualOptions) decimal.Decimal {
	charged := decimal.Zero
	rate := percentToRate(opts.PenaltyRatePercent)

	for i := range installments {
		inst := &installments[i]
		if !inst.Outstanding().IsPositive() || !inst.DueDate.Before(asOf) {
			continue
		}

		start := MaxDate(inst.LastDelayedOn, inst.DueDate)
		days := DaysBetween(start, asOf)
		if days <= 0 {
			continue
		}

		inst.DelayedDays += days
		inst.LastDelayedOn = asOf
		if inst.Status == InstallmentPending {
			inst.Status = InstallmentOverdue
		}

		if rate.IsPositive() {
			base := inst.PrincipalDue().Add(inst.InterestDue())
			penalty := opts.Currency.Round(base.Mul(rate).Mul(decimal.NewFromInt(int64(days))))
			inst.PenaltyAmount = inst.PenaltyAmount.Add(penalty)
			charged = charged.Add(penalty)
		}
	}
	return charged
}
