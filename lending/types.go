/*
Package lending provides the loan classification, provisioning and
repayment-allocation engine.

PURPOSE:
  Given a loan, its repayment schedule and the payments received, the
  engine answers five questions: how late is each installment, which risk
  tier does the loan sit in, how much provision must be held against it,
  how does an incoming payment split across penalty/interest/principal and
  across installments, and how many days has each installment been delayed
  over its life.

KEY CONCEPTS IN THIS FILE (types.go):
  - LoanAccount: the loan and its running balances
  - RepaymentInstallment: one scheduled due amount and what was paid on it
  - RepaymentTransaction: immutable record of one payment event
  - LoanClassificationRecord: append-only tier history
  - Tier: closed set of risk tiers, ordered by severity

DESIGN PRINCIPLES:
  1. Determinism: every operation takes an explicit as-of Date
  2. Precision: decimal.Decimal everywhere, rounding only at the minor unit
  3. Immutability: transactions and classification records are never edited;
     corrections are reversals or new records
  4. Purity: functions return updated copies, persistence is the caller's job

SEE ALSO:
  - arrears.go: days-in-arrears calculation
  - policy.go: provisioning policy table
  - classification.go: tier + provision computation
  - allocation.go: payment waterfall
  - daily.go: daily accrual and reclassification step
  - report.go: portfolio aggregation
*/
package lending

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LoanID string
type TransactionID string

// =============================================================================
// TIER - Risk classification
// =============================================================================

type Tier string

const (
	TierPerforming  Tier = "performing"
	TierWatch       Tier = "watch"
	TierSubstandard Tier = "substandard"
	TierDoubtful    Tier = "doubtful"
	TierLoss        Tier = "loss"
	TierWrittenOff  Tier = "written_off" // terminal, explicit write-off only
)

// Tiers lists every tier in increasing severity.
var Tiers = []Tier{TierPerforming, TierWatch, TierSubstandard, TierDoubtful, TierLoss, TierWrittenOff}

// Severity orders tiers; -1 for an unknown tier.
func (t Tier) Severity() int {
	for i, candidate := range Tiers {
		if candidate == t {
			return i
		}
	}
	return -1
}

func (t Tier) Valid() bool { return t.Severity() >= 0 }

// MoreSevere reports whether t is strictly stricter than other.
func (t Tier) MoreSevere(other Tier) bool { return t.Severity() > other.Severity() }

// =============================================================================
// LOAN ACCOUNT
// =============================================================================

type InterestMethod string

const (
	InterestFlat            InterestMethod = "flat"
	InterestReducingBalance InterestMethod = "reducing_balance"
)

type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

type LoanStatus string

const (
	LoanActive     LoanStatus = "active"
	LoanClosed     LoanStatus = "closed"
	LoanWrittenOff LoanStatus = "written_off"
)

// LoanAccount is owned by the engine for the duration of one calculation
// pass. It is mutated only by the daily advance and by payment allocation,
// never by two of them at once for the same ID.
type LoanAccount struct {
	ID           LoanID
	BorrowerID   string
	BorrowerName string

	DisbursedAmount decimal.Decimal
	DisbursedOn     Date
	MaturesOn       Date
	AnnualRate      decimal.Decimal // fraction, 0.12 = 12%
	InterestMethod  InterestMethod
	Frequency       Frequency

	OutstandingPrincipal decimal.Decimal
	AccruedInterest      decimal.Decimal
	CollateralValue      decimal.Decimal // effective value, haircut applied upstream

	Tier          Tier
	DaysInArrears int
	Status        LoanStatus

	// LastAccruedOn is the as-of date of the last daily advance.
	LastAccruedOn Date

	WrittenOffAmount decimal.Decimal
	Recoveries       decimal.Decimal
	WrittenOffOn     Date
}

// IsActive reports whether the daily pass should process the loan.
func (l LoanAccount) IsActive() bool {
	return l.Status != LoanClosed && l.Status != LoanWrittenOff && l.Tier != TierWrittenOff
}

// Exposure is outstanding principal plus accrued interest.
func (l LoanAccount) Exposure() decimal.Decimal {
	return l.OutstandingPrincipal.Add(l.AccruedInterest)
}

// =============================================================================
// REPAYMENT INSTALLMENT
// =============================================================================

type InstallmentStatus string

const (
	InstallmentPending       InstallmentStatus = "pending"
	InstallmentPaid          InstallmentStatus = "paid"
	InstallmentPartiallyPaid InstallmentStatus = "partially_paid"
	InstallmentOverdue       InstallmentStatus = "overdue"
)

type RepaymentInstallment struct {
	LoanID   LoanID
	Sequence int
	DueDate  Date

	DuePrincipal  decimal.Decimal
	DueInterest   decimal.Decimal
	PaidPrincipal decimal.Decimal
	PaidInterest  decimal.Decimal
	PenaltyAmount decimal.Decimal // penalty charged so far
	PaidPenalty   decimal.Decimal

	Status InstallmentStatus

	// DelayedDays is cumulative over the installment's life.
	DelayedDays int
	// LastDelayedOn is the as-of date the delayed-days counter was last advanced to.
	LastDelayedOn Date
}

func (i RepaymentInstallment) DueTotal() decimal.Decimal  { return i.DuePrincipal.Add(i.DueInterest) }
func (i RepaymentInstallment) PaidTotal() decimal.Decimal { return i.PaidPrincipal.Add(i.PaidInterest) }

func (i RepaymentInstallment) PrincipalDue() decimal.Decimal {
	return floorZero(i.DuePrincipal.Sub(i.PaidPrincipal))
}

func (i RepaymentInstallment) InterestDue() decimal.Decimal {
	return floorZero(i.DueInterest.Sub(i.PaidInterest))
}

func (i RepaymentInstallment) PenaltyDue() decimal.Decimal {
	return floorZero(i.PenaltyAmount.Sub(i.PaidPenalty))
}

// Outstanding is everything still owed on the installment, penalty included.
func (i RepaymentInstallment) Outstanding() decimal.Decimal {
	return i.PrincipalDue().Add(i.InterestDue()).Add(i.PenaltyDue())
}

func (i RepaymentInstallment) IsSettled() bool { return !i.Outstanding().IsPositive() }

// statusAsOf derives the status from balances and the due date.
func (i RepaymentInstallment) statusAsOf(asOf Date) InstallmentStatus {
	switch {
	case i.IsSettled():
		return InstallmentPaid
	case i.PaidTotal().IsPositive() || i.PaidPenalty.IsPositive():
		return InstallmentPartiallyPaid
	case i.DueDate.Before(asOf):
		return InstallmentOverdue
	default:
		return InstallmentPending
	}
}

// CloneInstallments returns a copy safe to mutate.
func CloneInstallments(in []RepaymentInstallment) []RepaymentInstallment {
	out := make([]RepaymentInstallment, len(in))
	copy(out, in)
	return out
}

// =============================================================================
// REPAYMENT TRANSACTION - Immutable payment record
// =============================================================================

type RepaymentTransaction struct {
	ID     TransactionID
	LoanID LoanID
	Amount decimal.Decimal
	PaidOn Date
	Method string

	Principal decimal.Decimal
	Interest  decimal.Decimal
	Penalty   decimal.Decimal
	Lines     []InstallmentAllocation

	// Effect is what the payment took off the loan balances. A reversal
	// restores exactly this.
	Effect LoanEffect

	// Reversed is the only field ever set after creation.
	Reversed   bool
	ReversedOn Date
}

// LoanEffect is the change a booked payment made to the loan balances. It can
// be smaller than the allocation when accrued interest had not yet caught up
// with the schedule.
type LoanEffect struct {
	Principal       decimal.Decimal
	AccruedInterest decimal.Decimal
}

// =============================================================================
// CLASSIFICATION RECORD - Append-only history
// =============================================================================

type ClassificationTrigger string

const (
	TriggerBatch    ClassificationTrigger = "batch"
	TriggerManual   ClassificationTrigger = "manual"
	TriggerPayment  ClassificationTrigger = "payment"
	TriggerWriteOff ClassificationTrigger = "write_off"
)

type LoanClassificationRecord struct {
	ID           string
	LoanID       LoanID
	ClassifiedOn Date
	PreviousTier Tier
	NewTier      Tier

	DaysInArrears        int
	OutstandingPrincipal decimal.Decimal
	AccruedInterest      decimal.Decimal
	CollateralValue      decimal.Decimal
	NetExposure          decimal.Decimal
	ProvisioningRate     decimal.Decimal // percent
	ProvisionRequired    decimal.Decimal

	Trigger ClassificationTrigger
}
