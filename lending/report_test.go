package lending_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// WRITE-OFF
// =============================================================================

func TestWriteOff(t *testing.T) {
	// GIVEN: a loss loan with accrued interest
	loan, _ := flatLoan()
	loan.Tier = lending.TierLoss
	loan.AccruedInterest = money("120")

	// WHEN: it is written off
	out, record, err := lending.WriteOff(loan, standardPolicy(), apr1, classifier())
	require.NoError(t, err)

	// THEN: principal and interest leave the book as written off
	assert.Equal(t, lending.TierWrittenOff, out.Tier)
	assert.Equal(t, lending.LoanWrittenOff, out.Status)
	assert.True(t, out.WrittenOffAmount.Equal(money("3120")))
	assert.True(t, out.OutstandingPrincipal.IsZero())
	assert.True(t, out.AccruedInterest.IsZero())
	assert.True(t, record.NetExposure.Equal(money("3120")))
	assert.True(t, record.ProvisionRequired.Equal(money("3120")))
	assert.Equal(t, apr1, out.WrittenOffOn)
	assert.Equal(t, lending.TierLoss, record.PreviousTier)
	assert.Equal(t, lending.TierWrittenOff, record.NewTier)
	assert.Equal(t, lending.TriggerWriteOff, record.Trigger)
	assert.False(t, out.IsActive())

	_, _, err = lending.WriteOff(out, standardPolicy(), apr1, classifier())
	assert.True(t, errors.Is(err, lending.ErrAlreadyWrittenOff))
}

func TestRecordRecovery(t *testing.T) {
	loan, _ := flatLoan()

	_, err := lending.RecordRecovery(loan, money("10"))
	assert.True(t, errors.Is(err, lending.ErrNotWrittenOff))

	loan, _, err = lending.WriteOff(loan, standardPolicy(), apr1, classifier())
	require.NoError(t, err)

	loan, err = lending.RecordRecovery(loan, money("1000"))
	require.NoError(t, err)
	loan, err = lending.RecordRecovery(loan, money("500"))
	require.NoError(t, err)
	assert.True(t, loan.Recoveries.Equal(money("1500")))
	assert.True(t, loan.RemainingWrittenOff().Equal(money("1500")))

	_, err = lending.RecordRecovery(loan, money("1500.01"))
	var over *lending.OverpaymentError
	require.True(t, errors.As(err, &over))
	assert.True(t, over.Excess.Equal(money("0.01")))

	_, err = lending.RecordRecovery(loan, decimal.Zero)
	assert.True(t, errors.Is(err, lending.ErrInvalidPayment))
}

func TestClassify_WrittenOffProvisionFollowsRecoveries(t *testing.T) {
	// GIVEN: 3,000 written off
	loan, _ := flatLoan()
	loan, _, err := lending.WriteOff(loan, standardPolicy(), apr1, classifier())
	require.NoError(t, err)

	provision := func(l lending.LoanAccount) string {
		result, err := classifier().Classify(l, lending.Arrears{}, standardPolicy(), apr1, lending.TriggerManual)
		require.NoError(t, err)
		return result.ProvisionRequired.StringFixed(2)
	}

	// WHEN / THEN: the provision shrinks with every recovery, collateral aside
	assert.Equal(t, "3000.00", provision(loan))

	loan, err = lending.RecordRecovery(loan, money("1000"))
	require.NoError(t, err)
	assert.Equal(t, "2000.00", provision(loan))

	loan, err = lending.RecordRecovery(loan, money("2000"))
	require.NoError(t, err)
	assert.Equal(t, "0.00", provision(loan))
}

// =============================================================================
// PORTFOLIO REPORT
// =============================================================================

func entry(id string, tier lending.Tier, outstanding string, days int) lending.PortfolioEntry {
	return lending.PortfolioEntry{
		LoanID:               lending.LoanID(id),
		Tier:                 tier,
		DaysInArrears:        days,
		DisbursedAmount:      money(outstanding),
		OutstandingPrincipal: money(outstanding),
		AccruedInterest:      decimal.Zero,
		CollateralValue:      money("100"),
		ProvisionRequired:    decimal.Zero,
		WrittenOffAmount:     decimal.Zero,
		Recoveries:           decimal.Zero,
	}
}

func TestBuildReport_BucketsAndHealth(t *testing.T) {
	entries := []lending.PortfolioEntry{
		entry("A", lending.TierPerforming, "1000", 0),
		entry("B", lending.TierSubstandard, "600", 40),
		entry("C", lending.TierSubstandard, "400", 50),
	}

	report := lending.BuildReport(entries, nil, lending.DefaultHealthWeights(), mar1, lending.DefaultCurrency)

	assert.Equal(t, 3, report.Summary.TotalLoans)
	assert.True(t, report.Summary.TotalPortfolio.Equal(money("2000")))
	// 100 × (0.5 × 1 + 0.5 × 0.40)
	assert.True(t, report.Summary.HealthScore.Equal(money("70")), report.Summary.HealthScore.String())

	sub := report.Bucket(lending.TierSubstandard)
	assert.Equal(t, 2, sub.Count)
	assert.True(t, sub.TotalOutstanding.Equal(money("1000")))
	assert.True(t, sub.AverageDaysOverdue.Equal(money("45")))
	assert.True(t, sub.AverageLoanSize.Equal(money("500")))
	assert.True(t, sub.CollateralCoverage.Equal(money("0.2")))
	assert.True(t, sub.SharePercent.Equal(money("50")))

	assert.Len(t, report.Buckets, len(lending.Tiers))
	assert.Equal(t, 0, report.Bucket(lending.TierLoss).Count)
}

func TestBuildReport_WrittenOffIsOffBook(t *testing.T) {
	// GIVEN: one performing loan and one written-off loan still provisioned
	live := entry("A", lending.TierPerforming, "1000", 0)
	live.ProvisionRequired = money("10")
	gone := entry("B", lending.TierWrittenOff, "0", 120)
	gone.WrittenOffAmount = money("800")
	gone.Recoveries = money("300")
	gone.ProvisionRequired = money("500")

	report := lending.BuildReport([]lending.PortfolioEntry{live, gone}, nil, lending.DefaultHealthWeights(), mar1, lending.DefaultCurrency)

	// THEN: active totals only carry the live loan
	assert.Equal(t, 2, report.Summary.TotalLoans)
	assert.True(t, report.Summary.TotalPortfolio.Equal(money("1000")))
	assert.True(t, report.Summary.TotalProvision.Equal(money("10")))
	assert.True(t, report.Summary.HealthScore.Equal(money("100")), report.Summary.HealthScore.String())

	// AND: the written-off bucket keeps its own figures
	wo := report.Bucket(lending.TierWrittenOff)
	assert.Equal(t, 1, wo.Count)
	assert.True(t, wo.TotalProvision.Equal(money("500")))
	assert.True(t, wo.SharePercent.IsZero())
	assert.True(t, report.WriteOffs.TotalRemaining.Equal(money("500")))
}

func TestBuildReport_Empty(t *testing.T) {
	report := lending.BuildReport(nil, nil, lending.DefaultHealthWeights(), mar1, lending.DefaultCurrency)

	assert.Equal(t, 0, report.Summary.TotalLoans)
	assert.True(t, report.Summary.HealthScore.IsZero())
	assert.True(t, report.WriteOffs.RecoveryRatePercent.IsZero())
	assert.Empty(t, report.WriteOffs.Entries)
}

func TestBuildReport_MovementsBalance(t *testing.T) {
	// GIVEN: A performing -> watch, B unchanged, C gone, D new
	previous := lending.PortfolioSnapshot{
		"A": lending.TierPerforming,
		"B": lending.TierWatch,
		"C": lending.TierLoss,
	}
	entries := []lending.PortfolioEntry{
		entry("A", lending.TierWatch, "100", 5),
		entry("B", lending.TierWatch, "100", 5),
		entry("D", lending.TierPerforming, "100", 0),
	}

	m := lending.BuildReport(entries, previous, lending.DefaultHealthWeights(), mar1, lending.DefaultCurrency).Movements

	assert.Equal(t, 1, m.NewLoans)
	assert.Equal(t, 1, m.RemovedLoans)
	assert.Equal(t, 2, m.TotalEntered)
	assert.Equal(t, 2, m.TotalExited)
	assert.Equal(t, m.TotalEntered-m.NewLoans, m.TotalExited-m.RemovedLoans)

	assert.Equal(t, lending.TierMovement{Tier: lending.TierWatch, Entered: 1, Exited: 0, NetChange: 1}, m.Movement(lending.TierWatch))
	assert.Equal(t, lending.TierMovement{Tier: lending.TierPerforming, Entered: 1, Exited: 1, NetChange: 0}, m.Movement(lending.TierPerforming))
	assert.Equal(t, -1, m.Movement(lending.TierLoss).NetChange)
}

func TestBuildWriteOffReport(t *testing.T) {
	a := entry("A", lending.TierWrittenOff, "0", 120)
	a.WrittenOffAmount = money("1000")
	a.Recoveries = money("250")
	b := entry("B", lending.TierPerforming, "500", 0)

	report := lending.BuildWriteOffReport([]lending.PortfolioEntry{a, b})

	require.Len(t, report.Entries, 1)
	assert.True(t, report.Entries[0].RemainingBalance.Equal(money("750")))
	assert.True(t, report.TotalWrittenOff.Equal(money("1000")))
	assert.True(t, report.RecoveryRatePercent.Equal(money("25")))
}
