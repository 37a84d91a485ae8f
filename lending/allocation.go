/*
allocation.go - Payment waterfall

PURPOSE:
  Splits one incoming payment across the installments of a loan and, inside
  each installment, across penalty, interest and principal.

WATERFALL:
  1. Installments with something outstanding, oldest due date first.
  2. Installments already due (due date <= as-of): penalty, then interest,
     then principal, until the money runs out.
  3. Money left after every due installment is settled is an advance
     payment: it goes to the next not-yet-due installment's principal (then
     that installment's interest), oldest first. Due dates never move.
  4. A payment larger than everything owed is rejected with
     OverpaymentError and nothing is applied.

CONSERVATION:
  Components are applied exactly (no intermediate rounding), so
  Σ penalty + Σ interest + Σ principal == payment amount, and any fraction
  below the minor unit lands on the last installment touched.

PURITY:
  Allocate never mutates its inputs. It returns updated copies of the
  installments; the caller persists them together with the transaction.
  Replay protection (same transaction ID twice) is the caller's job, see
  servicing/payments.go.
*/
package lending

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TYPES
// =============================================================================

// Payment is an incoming cash payment.
type Payment struct {
	ID     TransactionID
	LoanID LoanID
	Amount decimal.Decimal
	PaidOn Date
	Method string
}

// InstallmentAllocation is what one payment did to one installment.
type InstallmentAllocation struct {
	Sequence int
	DueDate  Date

	Penalty   decimal.Decimal
	Interest  decimal.Decimal
	Principal decimal.Decimal

	StatusBefore      InstallmentStatus
	StatusAfter       InstallmentStatus
	DelayedDaysBefore int
	DelayedDaysAfter  int
	WasEarlyPayment   bool
	Advance           bool
}

func (l InstallmentAllocation) Total() decimal.Decimal {
	return l.Penalty.Add(l.Interest).Add(l.Principal)
}

// DelayedDaysInfo is the delay recorded at settlement time.
type DelayedDaysInfo struct {
	Sequence        int
	DueDate         Date
	DelayedDays     int
	WasEarlyPayment bool
}

type Allocation struct {
	PaymentID TransactionID
	LoanID    LoanID
	Amount    decimal.Decimal
	AsOf      Date

	Principal decimal.Decimal
	Interest  decimal.Decimal
	Penalty   decimal.Decimal

	PerInstallment  []InstallmentAllocation
	DelayedDaysInfo []DelayedDaysInfo

	// Installments is the updated schedule, same order as the input.
	Installments []RepaymentInstallment
}

func (a Allocation) Total() decimal.Decimal {
	return a.Penalty.Add(a.Interest).Add(a.Principal)
}

// Transaction builds the immutable record for this allocation. effect is
// what ApplyAllocation returned for it.
func (a Allocation) Transaction(p Payment, effect LoanEffect) RepaymentTransaction {
	return RepaymentTransaction{
		ID:        p.ID,
		LoanID:    p.LoanID,
		Amount:    p.Amount,
		PaidOn:    p.PaidOn,
		Method:    p.Method,
		Principal: a.Principal,
		Interest:  a.Interest,
		Penalty:   a.Penalty,
		Lines:     append([]InstallmentAllocation(nil), a.PerInstallment...),
		Effect:    effect,
	}
}

// =============================================================================
// ALLOCATE
// =============================================================================

// Allocate applies payment to installments as of asOf.
func Allocate(payment Payment, installments []RepaymentInstallment, asOf Date) (Allocation, error) {
	if !payment.Amount.IsPositive() {
		return Allocation{}, ErrInvalidPayment
	}
	if err := ValidateSchedule(installments); err != nil {
		return Allocation{}, err
	}

	updated := CloneInstallments(installments)
	order := openInstallments(updated)

	outstanding := decimal.Zero
	for _, idx := range order {
		outstanding = outstanding.Add(updated[idx].Outstanding())
	}
	if payment.Amount.GreaterThan(outstanding) {
		return Allocation{}, &OverpaymentError{
			LoanID:      payment.LoanID,
			Amount:      payment.Amount,
			Outstanding: outstanding,
			Excess:      payment.Amount.Sub(outstanding),
		}
	}

	alloc := Allocation{
		PaymentID: payment.ID,
		LoanID:    payment.LoanID,
		Amount:    payment.Amount,
		AsOf:      asOf,
		Principal: decimal.Zero,
		Interest:  decimal.Zero,
		Penalty:   decimal.Zero,
	}
	remaining := payment.Amount

	// Due and overdue installments: penalty -> interest -> principal.
	for _, idx := range order {
		if !remaining.IsPositive() {
			break
		}
		inst := &updated[idx]
		if inst.DueDate.After(asOf) {
			continue
		}
		line := startLine(*inst, asOf, false)
		line.Penalty, remaining = take(remaining, inst.PenaltyDue())
		line.Interest, remaining = take(remaining, inst.InterestDue())
		line.Principal, remaining = take(remaining, inst.PrincipalDue())
		alloc.settle(inst, line, asOf)
	}

	// Advance payment: future installments, principal first.
	for _, idx := range order {
		if !remaining.IsPositive() {
			break
		}
		inst := &updated[idx]
		if !inst.DueDate.After(asOf) {
			continue
		}
		line := startLine(*inst, asOf, true)
		line.Principal, remaining = take(remaining, inst.PrincipalDue())
		line.Interest, remaining = take(remaining, inst.InterestDue())
		line.Penalty, remaining = take(remaining, inst.PenaltyDue())
		alloc.settle(inst, line, asOf)
	}

	alloc.Installments = updated
	return alloc, nil
}

// openInstallments returns indexes of installments with a balance, oldest first.
func openInstallments(installments []RepaymentInstallment) []int {
	var order []int
	for i, inst := range installments {
		if inst.Outstanding().IsPositive() {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := installments[order[a]], installments[order[b]]
		if !ia.DueDate.Equal(ib.DueDate) {
			return ia.DueDate.Before(ib.DueDate)
		}
		return ia.Sequence < ib.Sequence
	})
	return order
}

func startLine(inst RepaymentInstallment, asOf Date, advance bool) InstallmentAllocation {
	return InstallmentAllocation{
		Sequence:          inst.Sequence,
		DueDate:           inst.DueDate,
		Penalty:           decimal.Zero,
		Interest:          decimal.Zero,
		Principal:         decimal.Zero,
		StatusBefore:      inst.Status,
		DelayedDaysBefore: inst.DelayedDays,
		WasEarlyPayment:   asOf.Before(inst.DueDate),
		Advance:           advance,
	}
}

// take applies up to need from remaining.
func take(remaining, need decimal.Decimal) (applied, left decimal.Decimal) {
	if !need.IsPositive() || !remaining.IsPositive() {
		return decimal.Zero, remaining
	}
	applied = minDec(remaining, need)
	return applied, remaining.Sub(applied)
}

// settle books a line onto the installment and the allocation totals.
func (a *Allocation) settle(inst *RepaymentInstallment, line InstallmentAllocation, asOf Date) {
	if !line.Total().IsPositive() {
		return
	}

	inst.PaidPenalty = inst.PaidPenalty.Add(line.Penalty)
	inst.PaidInterest = inst.PaidInterest.Add(line.Interest)
	inst.PaidPrincipal = inst.PaidPrincipal.Add(line.Principal)
	if inst.IsSettled() {
		inst.Status = InstallmentPaid
	} else {
		inst.Status = InstallmentPartiallyPaid
	}

	delayed := 0
	if inst.DueDate.Before(asOf) {
		delayed = DaysBetween(inst.DueDate, asOf)
	}
	if delayed > inst.DelayedDays {
		inst.DelayedDays = delayed
		inst.LastDelayedOn = MaxDate(inst.LastDelayedOn, asOf)
	}

	line.StatusAfter = inst.Status
	line.DelayedDaysAfter = inst.DelayedDays

	a.Penalty = a.Penalty.Add(line.Penalty)
	a.Interest = a.Interest.Add(line.Interest)
	a.Principal = a.Principal.Add(line.Principal)
	a.PerInstallment = append(a.PerInstallment, line)
	a.DelayedDaysInfo = append(a.DelayedDaysInfo, DelayedDaysInfo{
		Sequence:        inst.Sequence,
		DueDate:         inst.DueDate,
		DelayedDays:     delayed,
		WasEarlyPayment: line.WasEarlyPayment,
	})
}

// =============================================================================
// LOAN BALANCES
// =============================================================================

// ApplyAllocation moves the loan balances for a booked allocation and
// returns what it took off them. Balances never go below zero, so interest
// paid ahead of accrual reduces AccruedInterest only as far as it has run.
// A loan with nothing left on its schedule and no principal is closed.
func ApplyAllocation(loan LoanAccount, alloc Allocation) (LoanAccount, LoanEffect, error) {
	if err := checkDisbursed(loan, alloc.Installments); err != nil {
		return loan, LoanEffect{}, err
	}

	effect := LoanEffect{
		Principal:       decimal.Min(alloc.Principal, floorZero(loan.OutstandingPrincipal)),
		AccruedInterest: decimal.Min(alloc.Interest, floorZero(loan.AccruedInterest)),
	}
	loan.OutstandingPrincipal = loan.OutstandingPrincipal.Sub(effect.Principal)
	loan.AccruedInterest = loan.AccruedInterest.Sub(effect.AccruedInterest)

	settled := true
	for _, inst := range alloc.Installments {
		if !inst.IsSettled() {
			settled = false
			break
		}
	}
	if settled && loan.OutstandingPrincipal.IsZero() && loan.Status == LoanActive {
		loan.Status = LoanClosed
	}
	return loan, effect, nil
}

// =============================================================================
// REVERSAL - Compensating re-allocation
// =============================================================================

// Reverse undoes a transaction on the schedule. Reopened installments are
// re-evaluated against their original due dates, so a reversal brings back
// the delay the payment had stopped.
func Reverse(tx RepaymentTransaction, installments []RepaymentInstallment, asOf Date) ([]RepaymentInstallment, error) {
	if tx.Reversed {
		return nil, ErrAlreadyReversed
	}
	if err := ValidateSchedule(installments); err != nil {
		return nil, err
	}

	updated := CloneInstallments(installments)
	bySeq := make(map[int]int, len(updated))
	for i, inst := range updated {
		bySeq[inst.Sequence] = i
	}

	for _, line := range tx.Lines {
		idx, ok := bySeq[line.Sequence]
		if !ok {
			return nil, &InvalidScheduleError{LoanID: tx.LoanID, Sequence: line.Sequence, Reason: "reversed installment not in schedule"}
		}
		inst := &updated[idx]
		inst.PaidPenalty = inst.PaidPenalty.Sub(line.Penalty)
		inst.PaidInterest = inst.PaidInterest.Sub(line.Interest)
		inst.PaidPrincipal = inst.PaidPrincipal.Sub(line.Principal)
		if inst.PaidPenalty.IsNegative() || inst.PaidInterest.IsNegative() || inst.PaidPrincipal.IsNegative() {
			return nil, &InvalidScheduleError{LoanID: tx.LoanID, Sequence: line.Sequence, Reason: "reversal exceeds amount paid"}
		}

		inst.Status = inst.statusAsOf(asOf)
		if inst.Outstanding().IsPositive() && inst.DueDate.Before(asOf) {
			if delayed := DaysBetween(inst.DueDate, asOf); delayed > inst.DelayedDays {
				inst.DelayedDays = delayed
			}
			inst.LastDelayedOn = MaxDate(inst.LastDelayedOn, asOf)
		}
	}
	return updated, nil
}

// ReverseOnLoan restores the loan balances a transaction had reduced, by
// exactly the amounts recorded in its Effect.
func ReverseOnLoan(loan LoanAccount, tx RepaymentTransaction) LoanAccount {
	loan.OutstandingPrincipal = loan.OutstandingPrincipal.Add(tx.Effect.Principal)
	loan.AccruedInterest = loan.AccruedInterest.Add(tx.Effect.AccruedInterest)
	if loan.Status == LoanClosed {
		loan.Status = LoanActive
	}
	return loan
}
