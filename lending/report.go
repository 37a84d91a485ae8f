/*
report.go - Portfolio report builder

PURPOSE:
  Aggregates per-loan classification results into the portfolio view:
  per-tier buckets, movements between tiers since a previous snapshot,
  an overall summary with a health score, and the write-off report.

STATELESS:
  The builder keeps nothing between calls. The previous snapshot (tier per
  loan at an earlier date) is an input; servicing/report.go reads it from
  the classification history.

MOVEMENTS:
  For each tier, Entered counts loans now in the tier that were elsewhere
  (or did not exist) before; Exited counts loans that were in the tier and
  are now elsewhere (or gone). New and removed loans are counted separately
  so that TotalEntered - NewLoans == TotalExited - RemovedLoans always holds.

WRITTEN-OFF LOANS:
  Written-off loans are off book. They have their own bucket (provisioned
  on the balance not yet recovered) and the write-off report, but they are
  left out of TotalPortfolio, TotalProvision and the health score.

HEALTH SCORE:
  100 × Σ (outstanding share of tier × weight of tier). Weights are
  configuration (HealthWeights); DefaultHealthWeights is only a starting
  point. An empty portfolio scores 0.
*/
package lending

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUTS
// =============================================================================

// PortfolioEntry is one loan's current classification as seen by reporting.
type PortfolioEntry struct {
	LoanID       LoanID
	BorrowerID   string
	BorrowerName string
	Tier         Tier

	DaysInArrears        int
	DisbursedAmount      decimal.Decimal
	OutstandingPrincipal decimal.Decimal
	AccruedInterest      decimal.Decimal
	CollateralValue      decimal.Decimal
	ProvisionRequired    decimal.Decimal

	WrittenOffAmount decimal.Decimal
	Recoveries       decimal.Decimal
	WrittenOffOn     Date
}

// EntryFor projects a loan and its classification into a report entry.
func EntryFor(loan LoanAccount, result ClassificationResult) PortfolioEntry {
	return PortfolioEntry{
		LoanID:               loan.ID,
		BorrowerID:           loan.BorrowerID,
		BorrowerName:         loan.BorrowerName,
		Tier:                 result.Tier,
		DaysInArrears:        result.DaysInArrears,
		DisbursedAmount:      loan.DisbursedAmount,
		OutstandingPrincipal: loan.OutstandingPrincipal,
		AccruedInterest:      loan.AccruedInterest,
		CollateralValue:      loan.CollateralValue,
		ProvisionRequired:    result.ProvisionRequired,
		WrittenOffAmount:     loan.WrittenOffAmount,
		Recoveries:           loan.Recoveries,
		WrittenOffOn:         loan.WrittenOffOn,
	}
}

// PortfolioSnapshot is the tier of every loan at some earlier date.
type PortfolioSnapshot map[LoanID]Tier

// HealthWeights maps each tier to its contribution to the health score, 0..1.
type HealthWeights map[Tier]decimal.Decimal

func DefaultHealthWeights() HealthWeights {
	return HealthWeights{
		TierPerforming:  decimal.NewFromInt(1),
		TierWatch:       Money("0.75"),
		TierSubstandard: Money("0.40"),
		TierDoubtful:    Money("0.15"),
		TierLoss:        decimal.Zero,
		TierWrittenOff:  decimal.Zero,
	}
}

// =============================================================================
// OUTPUTS
// =============================================================================

type TierBucket struct {
	Tier               Tier
	Count              int
	TotalOutstanding   decimal.Decimal
	TotalProvision     decimal.Decimal
	AverageDaysOverdue decimal.Decimal
	CollateralCoverage decimal.Decimal // Σ collateral / Σ outstanding
	AverageLoanSize    decimal.Decimal // Σ disbursed / count
	SharePercent       decimal.Decimal // of total portfolio
}

type TierMovement struct {
	Tier      Tier
	Entered   int
	Exited    int
	NetChange int
}

type MovementSummary struct {
	ByTier       []TierMovement
	TotalEntered int
	TotalExited  int
	NewLoans     int
	RemovedLoans int
}

type PortfolioSummary struct {
	TotalLoans     int
	TotalPortfolio decimal.Decimal
	TotalProvision decimal.Decimal
	HealthScore    decimal.Decimal
}

type WriteOffEntry struct {
	LoanID           LoanID
	BorrowerID       string
	BorrowerName     string
	WrittenOffOn     Date
	AmountWrittenOff decimal.Decimal
	Recoveries       decimal.Decimal
	RemainingBalance decimal.Decimal
	CollateralValue  decimal.Decimal
}

type WriteOffReport struct {
	Entries             []WriteOffEntry
	TotalWrittenOff     decimal.Decimal
	TotalRecoveries     decimal.Decimal
	TotalRemaining      decimal.Decimal
	RecoveryRatePercent decimal.Decimal
}

type PortfolioReport struct {
	AsOf      Date
	Buckets   []TierBucket
	Movements MovementSummary
	Summary   PortfolioSummary
	WriteOffs WriteOffReport
}

// Bucket returns the bucket for a tier (zero bucket if absent).
func (r PortfolioReport) Bucket(t Tier) TierBucket {
	for _, b := range r.Buckets {
		if b.Tier == t {
			return b
		}
	}
	return TierBucket{Tier: t}
}

// Movement returns the movement row for a tier.
func (m MovementSummary) Movement(t Tier) TierMovement {
	for _, row := range m.ByTier {
		if row.Tier == t {
			return row
		}
	}
	return TierMovement{Tier: t}
}

// =============================================================================
// BUILDER
// =============================================================================

// BuildReport aggregates entries into a PortfolioReport.
func BuildReport(entries []PortfolioEntry, previous PortfolioSnapshot, weights HealthWeights, asOf Date, currency Currency) PortfolioReport {
	report := PortfolioReport{AsOf: asOf}

	total := decimal.Zero
	totalProvision := decimal.Zero
	for _, e := range entries {
		if e.Tier == TierWrittenOff {
			continue
		}
		total = total.Add(e.OutstandingPrincipal)
		totalProvision = totalProvision.Add(e.ProvisionRequired)
	}

	score := decimal.Zero
	for _, tier := range Tiers {
		bucket := buildBucket(tier, entries, total, currency)
		report.Buckets = append(report.Buckets, bucket)
		if total.IsPositive() && tier != TierWrittenOff {
			share := bucket.TotalOutstanding.Div(total)
			score = score.Add(share.Mul(weights[tier]))
		}
	}

	report.Summary = PortfolioSummary{
		TotalLoans:     len(entries),
		TotalPortfolio: total,
		TotalProvision: totalProvision,
		HealthScore:    score.Mul(hundred).Round(2),
	}
	report.Movements = computeMovements(entries, previous)
	report.WriteOffs = BuildWriteOffReport(entries)
	return report
}

func buildBucket(tier Tier, entries []PortfolioEntry, total decimal.Decimal, currency Currency) TierBucket {
	b := TierBucket{
		Tier:               tier,
		TotalOutstanding:   decimal.Zero,
		TotalProvision:     decimal.Zero,
		AverageDaysOverdue: decimal.Zero,
		CollateralCoverage: decimal.Zero,
		AverageLoanSize:    decimal.Zero,
		SharePercent:       decimal.Zero,
	}

	days := 0
	collateral := decimal.Zero
	disbursed := decimal.Zero
	for _, e := range entries {
		if e.Tier != tier {
			continue
		}
		b.Count++
		b.TotalOutstanding = b.TotalOutstanding.Add(e.OutstandingPrincipal)
		b.TotalProvision = b.TotalProvision.Add(e.ProvisionRequired)
		days += e.DaysInArrears
		collateral = collateral.Add(e.CollateralValue)
		disbursed = disbursed.Add(e.DisbursedAmount)
	}

	if b.Count > 0 {
		n := decimal.NewFromInt(int64(b.Count))
		b.AverageDaysOverdue = decimal.NewFromInt(int64(days)).Div(n).Round(2)
		b.AverageLoanSize = currency.Round(disbursed.Div(n))
	}
	if b.TotalOutstanding.IsPositive() {
		b.CollateralCoverage = collateral.Div(b.TotalOutstanding).Round(4)
	}
	if total.IsPositive() && tier != TierWrittenOff {
		b.SharePercent = b.TotalOutstanding.Div(total).Mul(hundred).Round(2)
	}
	return b
}

func computeMovements(entries []PortfolioEntry, previous PortfolioSnapshot) MovementSummary {
	entered := make(map[Tier]int)
	exited := make(map[Tier]int)
	summary := MovementSummary{}

	current := make(map[LoanID]bool, len(entries))
	for _, e := range entries {
		current[e.LoanID] = true
		prev, existed := previous[e.LoanID]
		switch {
		case !existed:
			summary.NewLoans++
			entered[e.Tier]++
		case prev != e.Tier:
			entered[e.Tier]++
			exited[prev]++
		}
	}

	// Iterate in a stable order so reports are reproducible.
	gone := make([]LoanID, 0)
	for id := range previous {
		if !current[id] {
			gone = append(gone, id)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
	for _, id := range gone {
		summary.RemovedLoans++
		exited[previous[id]]++
	}

	for _, tier := range Tiers {
		row := TierMovement{
			Tier:      tier,
			Entered:   entered[tier],
			Exited:    exited[tier],
			NetChange: entered[tier] - exited[tier],
		}
		summary.ByTier = append(summary.ByTier, row)
		summary.TotalEntered += row.Entered
		summary.TotalExited += row.Exited
	}
	return summary
}

// BuildWriteOffReport projects written-off loans. The recovery rate is
// Σ recoveries / Σ written off as a percentage, and 0 when nothing has been
// written off.
func BuildWriteOffReport(entries []PortfolioEntry) WriteOffReport {
	report := WriteOffReport{
		TotalWrittenOff:     decimal.Zero,
		TotalRecoveries:     decimal.Zero,
		TotalRemaining:      decimal.Zero,
		RecoveryRatePercent: decimal.Zero,
	}

	for _, e := range entries {
		if e.Tier != TierWrittenOff {
			continue
		}
		remaining := floorZero(e.WrittenOffAmount.Sub(e.Recoveries))
		report.Entries = append(report.Entries, WriteOffEntry{
			LoanID:           e.LoanID,
			BorrowerID:       e.BorrowerID,
			BorrowerName:     e.BorrowerName,
			WrittenOffOn:     e.WrittenOffOn,
			AmountWrittenOff: e.WrittenOffAmount,
			Recoveries:       e.Recoveries,
			RemainingBalance: remaining,
			CollateralValue:  e.CollateralValue,
		})
		report.TotalWrittenOff = report.TotalWrittenOff.Add(e.WrittenOffAmount)
		report.TotalRecoveries = report.TotalRecoveries.Add(e.Recoveries)
		report.TotalRemaining = report.TotalRemaining.Add(remaining)
	}

	if report.TotalWrittenOff.IsPositive() {
		report.RecoveryRatePercent = report.TotalRecoveries.Div(report.TotalWrittenOff).Mul(hundred).Round(2)
	}
	return report
}
