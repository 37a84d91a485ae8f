package lending

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CLASSIFICATION ENGINE
// =============================================================================

// ClassificationResult is the outcome of classifying one loan.
type ClassificationResult struct {
	LoanID            LoanID
	PreviousTier      Tier
	Tier              Tier
	DaysInArrears     int
	ProvisioningRate  decimal.Decimal // percent
	NetExposure       decimal.Decimal
	ProvisionRequired decimal.Decimal

	// Record is the history entry emitted by this classification.
	Record LoanClassificationRecord
}

// Changed reports whether the tier moved.
func (r ClassificationResult) Changed() bool { return r.PreviousTier != r.Tier }

// Classifier turns arrears into a tier and a provision.
type Classifier struct {
	Currency Currency
}

func NewClassifier(currency Currency) *Classifier {
	return &Classifier{Currency: currency}
}

// recordNamespace scopes the name-based record IDs.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:loan-engine:classification"))

// Classify assigns a tier from the arrears and computes the provision.
//
// Written-off loans stay written off regardless of arrears and are
// provisioned on the balance not yet recovered. Reclassification otherwise
// moves in either direction: a loan that catches up improves.
func (c *Classifier) Classify(loan LoanAccount, arrears Arrears, policy ProvisioningPolicy, asOf Date, trigger ClassificationTrigger) (ClassificationResult, error) {
	var (
		tier Tier
		rate decimal.Decimal
		net  decimal.Decimal
	)

	if loan.Tier == TierWrittenOff || loan.Status == LoanWrittenOff {
		// Off book: only what has not been recovered is still at risk.
		tier, rate = TierWrittenOff, policy.WrittenOffRatePercent
		net = loan.RemainingWrittenOff()
	} else {
		row, ok := policy.Match(arrears.DaysInArrears)
		if !ok {
			return ClassificationResult{}, &UnmatchedTierError{LoanID: loan.ID, DaysInArrears: arrears.DaysInArrears}
		}
		tier, rate = row.Tier, row.RatePercent
		net = NetExposure(loan)
	}

	provision := c.Currency.Round(net.Mul(percentToRate(rate)))

	// An unclassified loan has an empty previous tier; its first
	// classification counts as a change.
	previous := loan.Tier

	result := ClassificationResult{
		LoanID:            loan.ID,
		PreviousTier:      previous,
		Tier:              tier,
		DaysInArrears:     arrears.DaysInArrears,
		ProvisioningRate:  rate,
		NetExposure:       net,
		ProvisionRequired: provision,
	}
	result.Record = LoanClassificationRecord{
		ID:                   ClassificationRecordID(loan.ID, asOf, trigger, previous, tier),
		LoanID:               loan.ID,
		ClassifiedOn:         asOf,
		PreviousTier:         previous,
		NewTier:              tier,
		DaysInArrears:        arrears.DaysInArrears,
		OutstandingPrincipal: loan.OutstandingPrincipal,
		AccruedInterest:      loan.AccruedInterest,
		CollateralValue:      loan.CollateralValue,
		NetExposure:          net,
		ProvisioningRate:     rate,
		ProvisionRequired:    provision,
		Trigger:              trigger,
	}
	return result, nil
}

// NetExposure is principal plus accrued interest less effective collateral,
// floored at zero.
func NetExposure(loan LoanAccount) decimal.Decimal {
	return floorZero(loan.Exposure().Sub(loan.CollateralValue))
}

// ClassificationRecordID is deterministic so replaying a pass yields the same ID.
// It is only unique per loan, day and transition: the daily pass advances a
// loan at most once per day, so that is enough for batch records.
func ClassificationRecordID(loanID LoanID, on Date, trigger ClassificationTrigger, from, to Tier) string {
	name := fmt.Sprintf("%s|%s|%s|%s|%s", loanID, on, trigger, from, to)
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}

// ForEvent keys the record to the event that caused it, such as a payment
// or a reversal, so the same transition caused twice on one day is kept
// twice. Replaying the same event still yields the same ID.
func (r LoanClassificationRecord) ForEvent(event string) LoanClassificationRecord {
	base := ClassificationRecordID(r.LoanID, r.ClassifiedOn, r.Trigger, r.PreviousTier, r.NewTier)
	r.ID = uuid.NewSHA1(recordNamespace, []byte(base+"|"+event)).String()
	return r
}
