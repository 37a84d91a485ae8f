package lending_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	jan1 = lending.NewDate(2024, time.January, 1)
	feb1 = lending.NewDate(2024, time.February, 1)
	mar1 = lending.NewDate(2024, time.March, 1)
	apr1 = lending.NewDate(2024, time.April, 1)
)

func money(s string) decimal.Decimal { return lending.Money(s) }

// standardPolicy: 1 / 5 / 20 / 50 / 100 percent at 0, 1, 31, 61, 91 days.
func standardPolicy() lending.ProvisioningPolicy {
	return lending.ProvisioningPolicy{
		Name:    "standard",
		Version: 1,
		Rows: []lending.PolicyRow{
			{Tier: lending.TierPerforming, MinDays: 0, MaxDays: lending.IntPtr(1), RatePercent: money("1")},
			{Tier: lending.TierWatch, MinDays: 1, MaxDays: lending.IntPtr(31), RatePercent: money("5")},
			{Tier: lending.TierSubstandard, MinDays: 31, MaxDays: lending.IntPtr(61), RatePercent: money("20")},
			{Tier: lending.TierDoubtful, MinDays: 61, MaxDays: lending.IntPtr(91), RatePercent: money("50")},
			{Tier: lending.TierLoss, MinDays: 91, RatePercent: money("100")},
		},
		WrittenOffRatePercent: money("100"),
	}
}

// flatLoan is 3,000 disbursed Jan 1 2024, repaid in three monthly
// installments of 1,000 principal + 50 interest.
func flatLoan() (lending.LoanAccount, []lending.RepaymentInstallment) {
	loan := lending.LoanAccount{
		ID:                   "L-1",
		BorrowerID:           "B-1",
		DisbursedAmount:      money("3000"),
		DisbursedOn:          jan1,
		MaturesOn:            apr1,
		AnnualRate:           money("0.20"),
		InterestMethod:       lending.InterestFlat,
		Frequency:            lending.FrequencyMonthly,
		OutstandingPrincipal: money("3000"),
		CollateralValue:      money("500"),
		Tier:                 lending.TierPerforming,
		Status:               lending.LoanActive,
	}
	var schedule []lending.RepaymentInstallment
	for i, due := range []lending.Date{feb1, mar1, apr1} {
		schedule = append(schedule, lending.RepaymentInstallment{
			LoanID:       loan.ID,
			Sequence:     i + 1,
			DueDate:      due,
			DuePrincipal: money("1000"),
			DueInterest:  money("50"),
			Status:       lending.InstallmentPending,
		})
	}
	return loan, schedule
}

func classifier() *lending.Classifier { return lending.NewClassifier(lending.DefaultCurrency) }

// =============================================================================
// ARREARS
// =============================================================================

func TestComputeArrears_NothingDueYet(t *testing.T) {
	_, schedule := flatLoan()

	// due today is not overdue
	arrears, err := lending.ComputeArrears(schedule, feb1)
	require.NoError(t, err)
	assert.Equal(t, 0, arrears.DaysInArrears)
	assert.Empty(t, arrears.Overdue)
}

func TestComputeArrears_OldestUnpaidDrives(t *testing.T) {
	// GIVEN: two unpaid installments past due on Mar 12
	_, schedule := flatLoan()
	asOf := lending.NewDate(2024, time.March, 12)

	arrears, err := lending.ComputeArrears(schedule, asOf)
	require.NoError(t, err)

	// THEN: Feb 1 is 40 days late and drives the loan
	assert.Equal(t, 40, arrears.DaysInArrears)
	require.Len(t, arrears.Overdue, 2)
	assert.Equal(t, 11, arrears.Overdue[1].DaysOverdue)
}

func TestComputeArrears_PaidInstallmentIgnored(t *testing.T) {
	_, schedule := flatLoan()
	schedule[0].PaidPrincipal = money("1000")
	schedule[0].PaidInterest = money("50")

	arrears, err := lending.ComputeArrears(schedule, lending.NewDate(2024, time.March, 12))
	require.NoError(t, err)
	assert.Equal(t, 11, arrears.DaysInArrears)
}

func TestComputeArrears_InvalidSchedule(t *testing.T) {
	_, schedule := flatLoan()
	schedule[0], schedule[1] = schedule[1], schedule[0]

	_, err := lending.ComputeArrears(schedule, mar1)
	assert.True(t, errors.Is(err, lending.ErrInvalidSchedule))

	_, schedule = flatLoan()
	schedule[2].PaidPrincipal = money("2000")
	_, err = lending.ComputeArrears(schedule, mar1)
	var invalid *lending.InvalidScheduleError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, 3, invalid.Sequence)
}

func TestValidateLoan(t *testing.T) {
	tests := map[string]func(*lending.LoanAccount, []lending.RepaymentInstallment){
		"zero disbursed":     func(l *lending.LoanAccount, _ []lending.RepaymentInstallment) { l.DisbursedAmount = decimal.Zero },
		"negative disbursed": func(l *lending.LoanAccount, _ []lending.RepaymentInstallment) { l.DisbursedAmount = money("-1") },
		"negative rate":      func(l *lending.LoanAccount, _ []lending.RepaymentInstallment) { l.AnnualRate = money("-0.01") },
		"negative collateral": func(l *lending.LoanAccount, _ []lending.RepaymentInstallment) {
			l.CollateralValue = money("-1")
		},
		"scheduled above disbursed": func(l *lending.LoanAccount, _ []lending.RepaymentInstallment) {
			l.DisbursedAmount = money("1000")
			l.OutstandingPrincipal = money("1000")
		},
		"outstanding above disbursed": func(l *lending.LoanAccount, _ []lending.RepaymentInstallment) {
			l.OutstandingPrincipal = money("3000.01")
		},
		"bad schedule": func(_ *lending.LoanAccount, s []lending.RepaymentInstallment) { s[0].DuePrincipal = money("-1") },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			loan, schedule := flatLoan()
			mutate(&loan, schedule)
			assert.True(t, errors.Is(lending.ValidateLoan(loan, schedule), lending.ErrInvalidSchedule))
		})
	}

	loan, schedule := flatLoan()
	assert.NoError(t, lending.ValidateLoan(loan, schedule))
	loan.AnnualRate = decimal.Zero
	assert.NoError(t, lending.ValidateLoan(loan, schedule), "interest-free loans are allowed")
}

// =============================================================================
// POLICY TABLE
// =============================================================================

func TestPolicyMatch(t *testing.T) {
	policy := standardPolicy()

	tests := []struct {
		days int
		want lending.Tier
	}{
		{0, lending.TierPerforming},
		{1, lending.TierWatch},
		{30, lending.TierWatch},
		{31, lending.TierSubstandard},
		{45, lending.TierSubstandard},
		{61, lending.TierDoubtful},
		{90, lending.TierDoubtful},
		{91, lending.TierLoss},
		{4000, lending.TierLoss},
	}
	for _, tt := range tests {
		row, ok := policy.Match(tt.days)
		require.True(t, ok, "days %d", tt.days)
		assert.Equal(t, tt.want, row.Tier, "days %d", tt.days)
	}
	assert.Empty(t, policy.Gaps(400))
}

func TestPolicyMatch_OverlapPicksMostSevere(t *testing.T) {
	policy := lending.ProvisioningPolicy{Rows: []lending.PolicyRow{
		{Tier: lending.TierWatch, MinDays: 0, MaxDays: lending.IntPtr(40), RatePercent: money("5")},
		{Tier: lending.TierSubstandard, MinDays: 30, RatePercent: money("20")},
	}}

	row, ok := policy.Match(35)
	require.True(t, ok)
	assert.Equal(t, lending.TierSubstandard, row.Tier)
}

func TestPolicyValidate(t *testing.T) {
	tests := map[string]lending.ProvisioningPolicy{
		"no rows": {},
		"written off row": {Rows: []lending.PolicyRow{
			{Tier: lending.TierWrittenOff, MinDays: 0, RatePercent: money("100")},
		}},
		"empty interval": {Rows: []lending.PolicyRow{
			{Tier: lending.TierWatch, MinDays: 10, MaxDays: lending.IntPtr(10), RatePercent: money("5")},
		}},
		"rate above 100": {Rows: []lending.PolicyRow{
			{Tier: lending.TierLoss, MinDays: 0, RatePercent: money("101")},
		}},
		"unknown tier": {Rows: []lending.PolicyRow{
			{Tier: "impaired", MinDays: 0, RatePercent: money("5")},
		}},
	}
	for name, policy := range tests {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.Is(policy.Validate(), lending.ErrInvalidPolicy))
		})
	}
	assert.NoError(t, standardPolicy().Validate())
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestClassify_ProvisionOnNetExposure(t *testing.T) {
	// GIVEN: 3,000 principal, 12.34 accrued, 500 collateral, 45 days late
	loan, _ := flatLoan()
	loan.AccruedInterest = money("12.34")

	result, err := classifier().Classify(loan, lending.Arrears{DaysInArrears: 45}, standardPolicy(), mar1, lending.TriggerBatch)
	require.NoError(t, err)

	// THEN: substandard, 20% of 2,512.34
	assert.Equal(t, lending.TierSubstandard, result.Tier)
	assert.True(t, result.NetExposure.Equal(money("2512.34")))
	assert.True(t, result.ProvisionRequired.Equal(money("502.47")), result.ProvisionRequired.String())
	assert.True(t, result.Changed())
	assert.Equal(t, lending.TierPerforming, result.Record.PreviousTier)
	assert.Equal(t, lending.TriggerBatch, result.Record.Trigger)
}

func TestClassify_RoundsHalfUp(t *testing.T) {
	// 5% of 1,000.10 is 50.005
	loan, _ := flatLoan()
	loan.OutstandingPrincipal = money("1000.10")
	loan.CollateralValue = decimal.Zero

	result, err := classifier().Classify(loan, lending.Arrears{DaysInArrears: 10}, standardPolicy(), mar1, lending.TriggerBatch)
	require.NoError(t, err)
	assert.True(t, result.ProvisionRequired.Equal(money("50.01")), result.ProvisionRequired.String())
}

func TestClassify_CollateralFloorsAtZero(t *testing.T) {
	loan, _ := flatLoan()
	loan.CollateralValue = money("10000")

	result, err := classifier().Classify(loan, lending.Arrears{DaysInArrears: 100}, standardPolicy(), mar1, lending.TriggerBatch)
	require.NoError(t, err)
	assert.Equal(t, lending.TierLoss, result.Tier)
	assert.True(t, result.NetExposure.IsZero())
	assert.True(t, result.ProvisionRequired.IsZero())
}

func TestClassify_GapIsAnError(t *testing.T) {
	policy := lending.ProvisioningPolicy{Rows: []lending.PolicyRow{
		{Tier: lending.TierPerforming, MinDays: 0, MaxDays: lending.IntPtr(10), RatePercent: money("1")},
		{Tier: lending.TierLoss, MinDays: 20, RatePercent: money("100")},
	}}
	loan, _ := flatLoan()

	_, err := classifier().Classify(loan, lending.Arrears{DaysInArrears: 15}, policy, mar1, lending.TriggerBatch)

	var gap *lending.UnmatchedTierError
	require.True(t, errors.As(err, &gap))
	assert.Equal(t, 15, gap.DaysInArrears)
	assert.True(t, errors.Is(err, lending.ErrUnmatchedTier))
	assert.True(t, lending.IsActionable(err))
}

func TestClassify_WrittenOffIsSticky(t *testing.T) {
	loan, _ := flatLoan()
	loan.Tier = lending.TierWrittenOff
	loan.Status = lending.LoanWrittenOff

	result, err := classifier().Classify(loan, lending.Arrears{DaysInArrears: 0}, standardPolicy(), mar1, lending.TriggerBatch)
	require.NoError(t, err)
	assert.Equal(t, lending.TierWrittenOff, result.Tier)
	assert.False(t, result.Changed())
}

func TestClassificationRecord_ForEvent(t *testing.T) {
	loan, _ := flatLoan()
	result, err := classifier().Classify(loan, lending.Arrears{DaysInArrears: 10}, standardPolicy(), mar1, lending.TriggerPayment)
	require.NoError(t, err)

	// the same transition from two events on one day gets two IDs
	first := result.Record.ForEvent("pay:TX-1")
	second := result.Record.ForEvent("pay:TX-2")
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, result.Record.ID, first.ID)

	// and the same event always gets the same one
	assert.Equal(t, first.ID, result.Record.ForEvent("pay:TX-1").ID)
	assert.Equal(t, result.Record.NewTier, first.NewTier)
}

func TestDate_UnmarshalJSON(t *testing.T) {
	var d lending.Date
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-01"`), &d))
	assert.True(t, d.Equal(mar1))

	for _, zero := range []string{`null`, `""`} {
		d = mar1
		require.NoError(t, json.Unmarshal([]byte(zero), &d), zero)
		assert.True(t, d.IsZero(), zero)
	}

	for _, bad := range []string{`123`, `true`, `{}`, `"01/03/2024"`} {
		assert.Error(t, json.Unmarshal([]byte(bad), &d), bad)
	}
}

func TestClassificationRecordID_Deterministic(t *testing.T) {
	a := lending.ClassificationRecordID("L-1", mar1, lending.TriggerBatch, lending.TierWatch, lending.TierSubstandard)
	b := lending.ClassificationRecordID("L-1", mar1, lending.TriggerBatch, lending.TierWatch, lending.TierSubstandard)
	c := lending.ClassificationRecordID("L-1", apr1, lending.TriggerBatch, lending.TierWatch, lending.TierSubstandard)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
