/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built books that populate the store with realistic loans for
  demos. Each scenario opens loans through the same services the API uses,
  so every loaded loan has a schedule, a classification history and, where
  relevant, payments.

AVAILABLE SCENARIOS:
  performing-book:    three loans paying on time
  arrears-ladder:     one loan per tier, from current to 120 days late
  payment-waterfall:  late, partial and advance payments on one loan
  write-off-recovery: a loss loan written off with a partial recovery

DATES:
  Scenarios are built relative to today so the cron pass picks them up
  without a long catch-up.

HOW SCENARIOS WORK:
 1. Reset the store (when it supports Reset)
 2. Open loans with generated flat-rate schedules
 3. Apply payments, the daily pass and write-offs as of today

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "arrears-ladder"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: services used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "performing-book",
		Name:        "Performing Book",
		Description: "Three loans, every installment paid on its due date",
		Category:    "classification",
	},
	{
		ID:          "arrears-ladder",
		Name:        "Arrears Ladder",
		Description: "Five loans 0, 10, 45, 75 and 120 days late, one per tier",
		Category:    "classification",
	},
	{
		ID:          "payment-waterfall",
		Name:        "Payment Waterfall",
		Description: "Late payment, partial payment and advance payment on a 3,000 loan",
		Category:    "allocation",
	},
	{
		ID:          "write-off-recovery",
		Name:        "Write-off & Recovery",
		Description: "A loss loan written off, then partly recovered",
		Category:    "write-off",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, today lending.Date) error

var scenarioLoaders = map[string]scenarioLoader{
	"performing-book":    loadPerformingBook,
	"arrears-ladder":     loadArrearsLadder,
	"payment-waterfall":  loadPaymentWaterfall,
	"write-off-recovery": loadWriteOffRecovery,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.loadScenario(ctx, req.ScenarioID, loader); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) loadScenario(ctx context.Context, id string, loader scenarioLoader) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rs, ok := h.Store.(Resetter); ok {
		if err := rs.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset store: %w", err)
		}
	}
	h.currentScenario = ""

	if err := loader(ctx, h, h.today()); err != nil {
		return err
	}
	h.currentScenario = id
	h.Logger.WithField("scenario", id).Info("Scenario loaded")
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

func loadPerformingBook(ctx context.Context, h *Handler, today lending.Date) error {
	borrowers := []struct {
		id, name, amount string
	}{
		{"PB-1", "Amina Yusuf", "1200"},
		{"PB-2", "Tomas Novak", "3600"},
		{"PB-3", "Li Wei", "6000"},
	}
	for _, b := range borrowers {
		firstDue := today.AddMonths(-1)
		loan, schedule := flatLoan(b.id, b.name, b.amount, "0.18", 6, firstDue)
		if _, _, err := h.Loans.Open(ctx, loan, schedule, loan.DisbursedOn); err != nil {
			return err
		}
		// first installment paid on its due date
		if err := pay(ctx, h, b.id, "1", schedule[0].DueTotal(), firstDue); err != nil {
			return err
		}
	}
	_, err := h.Batch.RunDailyPass(ctx, nil, today)
	return err
}

func loadArrearsLadder(ctx context.Context, h *Handler, today lending.Date) error {
	ladder := []struct {
		id, name string
		daysLate int
	}{
		{"AL-0", "Current Co", 0},
		{"AL-10", "Watchful Ltd", 10},
		{"AL-45", "Substandard Supplies", 45},
		{"AL-75", "Doubtful Goods", 75},
		{"AL-120", "Lost Cause Inc", 120},
	}
	for _, l := range ladder {
		loan, schedule := flatLoan(l.id, l.name, "2400", "0.24", 12, today.AddDays(-l.daysLate))
		loan.CollateralValue = decimal.NewFromInt(600)
		if _, _, err := h.Loans.Open(ctx, loan, schedule, loan.DisbursedOn); err != nil {
			return err
		}
	}
	_, err := h.Batch.RunDailyPass(ctx, nil, today)
	return err
}

func loadPaymentWaterfall(ctx context.Context, h *Handler, today lending.Date) error {
	// 3,000 flat loan, three monthly installments of 1,000 + 50
	firstDue := today.AddDays(-40)
	loan, schedule := flatLoan("PW-1", "Waterfall Traders", "3000", "0.20", 3, firstDue)
	if _, _, err := h.Loans.Open(ctx, loan, schedule, loan.DisbursedOn); err != nil {
		return err
	}
	if _, err := h.Batch.RunDailyPass(ctx, []lending.LoanID{"PW-1"}, today.AddDays(-1)); err != nil {
		return err
	}

	// late: goes to the oldest installment first
	if err := pay(ctx, h, "PW-1", "late", decimal.NewFromInt(1050), today.AddDays(-1)); err != nil {
		return err
	}
	// partial: whatever is left lands on the next installment
	if err := pay(ctx, h, "PW-1", "partial", decimal.NewFromInt(400), today); err != nil {
		return err
	}
	_, err := h.Batch.RunDailyPass(ctx, nil, today)
	return err
}

func loadWriteOffRecovery(ctx context.Context, h *Handler, today lending.Date) error {
	loan, schedule := flatLoan("WO-1", "Vanished Ventures", "5000", "0.30", 6, today.AddDays(-150))
	loan.CollateralValue = decimal.NewFromInt(800)
	if _, _, err := h.Loans.Open(ctx, loan, schedule, loan.DisbursedOn); err != nil {
		return err
	}
	if _, err := h.Batch.RunDailyPass(ctx, nil, today); err != nil {
		return err
	}
	if _, _, err := h.WriteOffs.WriteOff(ctx, "WO-1", today, "borrower unreachable, collateral seized"); err != nil {
		return err
	}
	_, err := h.WriteOffs.RecordRecovery(ctx, "WO-1", decimal.NewFromInt(800))
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// flatLoan builds a monthly flat-rate loan disbursed one month before
// firstDue. Principal is split evenly; the last installment takes the
// rounding remainder.
func flatLoan(id, borrower, amount, rate string, n int, firstDue lending.Date) (lending.LoanAccount, []lending.RepaymentInstallment) {
	principal := decimal.RequireFromString(amount)
	annual := decimal.RequireFromString(rate)
	count := decimal.NewFromInt(int64(n))

	perPrincipal := lending.RoundHalfUp(principal.Div(count), 2)
	perInterest := lending.RoundHalfUp(principal.Mul(annual).Div(decimal.NewFromInt(12)), 2)

	schedule := make([]lending.RepaymentInstallment, 0, n)
	allocated := decimal.Zero
	for i := 0; i < n; i++ {
		p := perPrincipal
		if i == n-1 {
			p = principal.Sub(allocated)
		}
		allocated = allocated.Add(p)
		schedule = append(schedule, lending.RepaymentInstallment{
			LoanID:       lending.LoanID(id),
			Sequence:     i + 1,
			DueDate:      firstDue.AddMonths(i),
			DuePrincipal: p,
			DueInterest:  perInterest,
			Status:       lending.InstallmentPending,
		})
	}

	loan := lending.LoanAccount{
		ID:              lending.LoanID(id),
		BorrowerID:      "B-" + id,
		BorrowerName:    borrower,
		DisbursedAmount: principal,
		DisbursedOn:     firstDue.AddMonths(-1),
		MaturesOn:       schedule[n-1].DueDate,
		AnnualRate:      annual,
		InterestMethod:  lending.InterestFlat,
		Frequency:       lending.FrequencyMonthly,
		CollateralValue: decimal.Zero,
	}
	return loan, schedule
}

func pay(ctx context.Context, h *Handler, loanID, ref string, amount decimal.Decimal, on lending.Date) error {
	_, err := h.Payments.Pay(ctx, lending.Payment{
		ID:     lending.TransactionID(loanID + "-" + ref),
		LoanID: lending.LoanID(loanID),
		Amount: amount,
		PaidOn: on,
		Method: "scenario",
	})
	return err
}
