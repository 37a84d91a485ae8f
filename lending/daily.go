package lending

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DAILY ADVANCE - One loan, one as-of date
// =============================================================================

// DayAdvance is the complete effect of advancing one loan to asOf. The batch
// job persists Loan, Installments and (when Reclassified) the record in one
// transaction, so either all of it lands or none of it does.
type DayAdvance struct {
	Loan         LoanAccount
	Installments []RepaymentInstallment

	// Skipped is true when the loan is inactive or already advanced to asOf.
	Skipped      bool
	DaysAdvanced int

	InterestAccrued decimal.Decimal
	PenaltyCharged  decimal.Decimal
	Arrears         Arrears

	Classification ClassificationResult
	Reclassified   bool
}

// AdvanceDay accrues interest, advances delayed days and reclassifies.
//
// Idempotent: a loan whose LastAccruedOn is already at or past asOf is
// returned untouched. A loan that missed days is caught up for the whole
// gap in one step, so running the pass late never loses accrual.
func AdvanceDay(
	loan LoanAccount,
	installments []RepaymentInstallment,
	policy ProvisioningPolicy,
	asOf Date,
	classifier *Classifier,
	opts AccrualOptions,
) (DayAdvance, error) {
	out := DayAdvance{
		Loan:            loan,
		Installments:    installments,
		InterestAccrued: decimal.Zero,
		PenaltyCharged:  decimal.Zero,
	}

	if !loan.IsActive() {
		out.Skipped = true
		return out, nil
	}

	last := loan.LastAccruedOn
	if last.IsZero() {
		last = loan.DisbursedOn
	}
	if !last.Before(asOf) {
		out.Skipped = true
		return out, nil
	}

	if err := ValidateSchedule(installments); err != nil {
		return DayAdvance{}, err
	}

	updated := CloneInstallments(installments)

	// 1. Interest for the elapsed days, on balances as they stood.
	interest := AccrueInterest(loan, installments, last, asOf, opts)
	loan.AccruedInterest = loan.AccruedInterest.Add(interest)

	// 2. Delayed days (and penalty) on everything still overdue.
	penalty := advanceDelays(updated, asOf, opts)

	arrears, err := ComputeArrears(updated, asOf)
	if err != nil {
		return DayAdvance{}, err
	}
	loan.DaysInArrears = arrears.DaysInArrears

	// 3. Reclassify.
	result, err := classifier.Classify(loan, arrears, policy, asOf, TriggerBatch)
	if err != nil {
		return DayAdvance{}, err
	}
	loan.Tier = result.Tier
	loan.LastAccruedOn = asOf

	out.Loan = loan
	out.Installments = updated
	out.DaysAdvanced = DaysBetween(last, asOf)
	out.InterestAccrued = interest
	out.PenaltyCharged = penalty
	out.Arrears = arrears
	out.Classification = result
	out.Reclassified = result.Changed()
	return out, nil
}

// Reclassify runs arrears and classification without accruing, for manual
// triggers and post-payment updates.
func Reclassify(
	loan LoanAccount,
	installments []RepaymentInstallment,
	policy ProvisioningPolicy,
	asOf Date,
	classifier *Classifier,
	trigger ClassificationTrigger,
) (LoanAccount, ClassificationResult, error) {
	arrears, err := ComputeArrears(installments, asOf)
	if err != nil {
		return loan, ClassificationResult{}, err
	}
	loan.DaysInArrears = arrears.DaysInArrears
	result, err := classifier.Classify(loan, arrears, policy, asOf, trigger)
	if err != nil {
		return loan, ClassificationResult{}, err
	}
	loan.Tier = result.Tier
	return loan, result, nil
}
