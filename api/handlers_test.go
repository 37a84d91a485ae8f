/*
handlers_test.go - HTTP tests for the loan API

Tests for:
- Opening loans and schedule validation
- Payments: allocation, replay, overpayment, reversal
- Policy gaps surfacing as policy_gap
- Daily pass, reports, write-off and recovery
- Demo scenarios
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/lending"
	"github.com/warp/loan-engine/notify"
	"github.com/warp/loan-engine/servicing"
	"github.com/warp/loan-engine/store/sqlstore"
)

// =============================================================================
// FIXTURES
// =============================================================================

type testServer struct {
	h      *Handler
	router http.Handler
}

func newTestServer(t *testing.T, now time.Time) *testServer {
	t.Helper()
	st, err := sqlstore.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	deps, err := servicing.NewDeps(st, factory.StandardPolicy(), lending.DefaultCurrency)
	require.NoError(t, err)
	deps.Logger = logger

	batch := servicing.NewBatchJob(deps, 2, notify.NewLogAlerter(logger))
	h := NewHandler(deps, batch, factory.StandardSettings())
	h.now = func() time.Time { return now }
	return &testServer{h: h, router: NewRouter(h)}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// loanRequest is a 3,000 flat loan disbursed Jan 1 2024 with three monthly
// installments of 1,000 principal + 50 interest.
func loanRequest(id string) CreateLoanRequest {
	req := CreateLoanRequest{
		ID:              id,
		BorrowerID:      "B-" + id,
		BorrowerName:    "Borrower " + id,
		DisbursedAmount: decimal.NewFromInt(3000),
		DisbursedOn:     "2024-01-01",
		AnnualRate:      decimal.RequireFromString("0.20"),
		InterestMethod:  "flat",
		Frequency:       "monthly",
		CollateralValue: decimal.NewFromInt(500),
	}
	for i, due := range []string{"2024-02-01", "2024-03-01", "2024-04-01"} {
		req.Installments = append(req.Installments, InstallmentRequest{
			Sequence:     i + 1,
			DueDate:      due,
			DuePrincipal: decimal.NewFromInt(1000),
			DueInterest:  decimal.NewFromInt(50),
		})
	}
	return req
}

var jan15 = time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)

func (s *testServer) openLoan(t *testing.T, id string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/loans", loanRequest(id))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// LOANS
// =============================================================================

func TestCreateLoan_OpensPerforming(t *testing.T) {
	// GIVEN: an empty book
	s := newTestServer(t, jan15)

	// WHEN: a loan is opened before its first due date
	rec := s.do(t, http.MethodPost, "/api/loans", loanRequest("L-1"))

	// THEN: it is stored as performing with the scheduled principal outstanding
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody[struct {
		Loan           LoanDTO           `json:"loan"`
		Classification ClassificationDTO `json:"classification"`
	}](t, rec)
	assert.Equal(t, "performing", body.Loan.Tier)
	assert.True(t, body.Loan.OutstandingPrincipal.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, "2024-04-01", body.Loan.MaturesOn.String())

	rec = s.do(t, http.MethodGet, "/api/loans/L-1/installments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]InstallmentDTO](t, rec), 3)

	rec = s.do(t, http.MethodGet, "/api/loans/L-1/classifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ClassificationRecordDTO](t, rec), 1)
}

func TestCreateLoan_Duplicate(t *testing.T) {
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")

	rec := s.do(t, http.MethodPost, "/api/loans", loanRequest("L-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCreateLoan_Validation(t *testing.T) {
	s := newTestServer(t, jan15)

	t.Run("missing installments", func(t *testing.T) {
		req := loanRequest("L-1")
		req.Installments = nil
		rec := s.do(t, http.MethodPost, "/api/loans", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate sequence", func(t *testing.T) {
		req := loanRequest("L-2")
		req.Installments[1].Sequence = 1
		rec := s.do(t, http.MethodPost, "/api/loans", req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "invalid_schedule", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("negative principal", func(t *testing.T) {
		req := loanRequest("L-3")
		req.Installments[0].DuePrincipal = decimal.NewFromInt(-1)
		rec := s.do(t, http.MethodPost, "/api/loans", req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("schedule above disbursed", func(t *testing.T) {
		req := loanRequest("L-4")
		req.DisbursedAmount = decimal.NewFromInt(1000)
		rec := s.do(t, http.MethodPost, "/api/loans", req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "invalid_schedule", decodeBody[ErrorResponse](t, rec).Code)

		rec = s.do(t, http.MethodGet, "/api/loans/L-4", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetLoan_NotFound(t *testing.T) {
	s := newTestServer(t, jan15)

	rec := s.do(t, http.MethodGet, "/api/loans/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/loans/nope/payments", PaymentRequest{ID: "P-1", Amount: decimal.NewFromInt(10), PaidOn: "2024-01-20"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestCreatePayment_NewThenReplay(t *testing.T) {
	// GIVEN: an open loan
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")
	pay := PaymentRequest{ID: "P-1", Amount: decimal.NewFromInt(1050), PaidOn: "2024-02-01", Method: "bank"}

	// WHEN: the payment is posted
	rec := s.do(t, http.MethodPost, "/api/loans/L-1/payments", pay)

	// THEN: it is allocated to the first installment
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[PaymentResponseDTO](t, rec)
	assert.False(t, first.Replayed)
	assert.True(t, first.Transaction.Principal.Equal(decimal.NewFromInt(1000)))
	assert.True(t, first.Transaction.Interest.Equal(decimal.NewFromInt(50)))
	require.NotNil(t, first.Loan)
	assert.True(t, first.Loan.OutstandingPrincipal.Equal(decimal.NewFromInt(2000)))

	// WHEN: the same payment arrives again
	rec = s.do(t, http.MethodPost, "/api/loans/L-1/payments", pay)

	// THEN: nothing new is applied
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	replay := decodeBody[PaymentResponseDTO](t, rec)
	assert.True(t, replay.Replayed)
	assert.Equal(t, "P-1", replay.Transaction.ID)
	assert.Nil(t, replay.Loan)

	rec = s.do(t, http.MethodGet, "/api/loans/L-1", nil)
	loan := decodeBody[LoanDTO](t, rec)
	assert.True(t, loan.OutstandingPrincipal.Equal(decimal.NewFromInt(2000)))

	rec = s.do(t, http.MethodGet, "/api/loans/L-1/payments", nil)
	assert.Len(t, decodeBody[[]TransactionDTO](t, rec), 1)
}

func TestCreatePayment_GeneratesID(t *testing.T) {
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")

	rec := s.do(t, http.MethodPost, "/api/loans/L-1/payments", PaymentRequest{Amount: decimal.NewFromInt(100), PaidOn: "2024-01-20"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decodeBody[PaymentResponseDTO](t, rec).Transaction.ID)
}

func TestCreatePayment_Overpayment(t *testing.T) {
	// GIVEN: a loan with 3,150 scheduled in total
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")

	// WHEN: 5,000 is paid
	rec := s.do(t, http.MethodPost, "/api/loans/L-1/payments", PaymentRequest{ID: "P-1", Amount: decimal.NewFromInt(5000), PaidOn: "2024-01-20"})

	// THEN: it is rejected with the excess and nothing is stored
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decodeBody[struct {
		ErrorResponse
		Excess      decimal.Decimal `json:"excess"`
		Outstanding decimal.Decimal `json:"outstanding"`
	}](t, rec)
	assert.Equal(t, "payment_rejected_overpayment", body.Code)
	assert.True(t, body.Excess.Equal(decimal.NewFromInt(1850)), body.Excess.String())
	assert.True(t, body.Outstanding.Equal(decimal.NewFromInt(3150)), body.Outstanding.String())

	rec = s.do(t, http.MethodGet, "/api/loans/L-1/payments", nil)
	assert.Empty(t, decodeBody[[]TransactionDTO](t, rec))
}

func TestCreatePayment_InvalidAmount(t *testing.T) {
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")

	rec := s.do(t, http.MethodPost, "/api/loans/L-1/payments", PaymentRequest{ID: "P-1", Amount: decimal.Zero, PaidOn: "2024-01-20"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_payment", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/loans/L-1/payments", `{"id":"P-2","amount":"10","paid_on":"20-01-2024"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReversePayment(t *testing.T) {
	// GIVEN: a loan with one payment
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")
	rec := s.do(t, http.MethodPost, "/api/loans/L-1/payments", PaymentRequest{ID: "P-1", Amount: decimal.NewFromInt(1050), PaidOn: "2024-02-01"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: it is reversed
	rec = s.do(t, http.MethodPost, "/api/payments/P-1/reverse", ReverseRequest{On: "2024-02-05"})

	// THEN: the principal is owed again
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodGet, "/api/loans/L-1", nil)
	assert.True(t, decodeBody[LoanDTO](t, rec).OutstandingPrincipal.Equal(decimal.NewFromInt(3000)))

	// AND: a second reversal conflicts
	rec = s.do(t, http.MethodPost, "/api/payments/P-1/reverse", ReverseRequest{On: "2024-02-05"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/payments/P-404/reverse", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// POLICY
// =============================================================================

func TestPolicy_GetReportsNoGaps(t *testing.T) {
	s := newTestServer(t, jan15)

	rec := s.do(t, http.MethodGet, "/api/policy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeBody[PolicyDTO](t, rec)
	assert.Equal(t, "standard", dto.Policy.Name)
	assert.Empty(t, dto.Gaps)
}

func TestPolicy_GapSurfacesAsPolicyGap(t *testing.T) {
	// GIVEN: a table with nothing between 10 and 20 days
	s := newTestServer(t, time.Date(2024, time.February, 16, 0, 0, 0, 0, time.UTC))
	gappy := `{"name":"gappy","version":2,"tiers":[
		{"tier":"performing","min_days":0,"max_days":10,"rate_percent":1},
		{"tier":"loss","min_days":20,"rate_percent":100}]}`

	rec := s.do(t, http.MethodPut, "/api/policy", gappy)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []int{10}, decodeBody[PolicyDTO](t, rec).Gaps)

	// WHEN: a loan 15 days past its first due date is opened
	rec = s.do(t, http.MethodPost, "/api/loans", loanRequest("L-1"))

	// THEN: the gap is reported, not papered over
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "policy_gap", decodeBody[ErrorResponse](t, rec).Code)
}

func TestPolicy_UpdatePersistsAndReloads(t *testing.T) {
	s := newTestServer(t, jan15)

	rec := s.do(t, http.MethodPut, "/api/policy", factory.ConservativePolicyJSON())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "conservative", s.h.Deps.Policy.Get().Name)

	// a fresh handler over the same store picks it up
	require.NoError(t, s.h.Deps.Policy.Set(factory.StandardPolicy()))
	require.NoError(t, s.h.LoadPolicy(context.Background()))
	assert.Equal(t, "conservative", s.h.Deps.Policy.Get().Name)
}

func TestPolicy_ReloadAppliesWeightsAndAccrual(t *testing.T) {
	// GIVEN: a stored policy with its own health weights and accrual settings
	s := newTestServer(t, jan15)
	doc := `{"name":"tuned","version":2,
		"tiers":[
			{"tier":"performing","min_days":0,"max_days":1,"rate_percent":1},
			{"tier":"watch","min_days":1,"max_days":31,"rate_percent":5},
			{"tier":"substandard","min_days":31,"max_days":91,"rate_percent":25},
			{"tier":"doubtful","min_days":91,"max_days":181,"rate_percent":50},
			{"tier":"loss","min_days":181,"rate_percent":100}],
		"written_off_rate_percent":100,
		"health_weights":{"performing":1,"watch":0.5,"substandard":0.25,"doubtful":0.1,"loss":0},
		"accrual":{"day_count_basis":360,"penalty_rate_percent":0.05}}`
	rec := s.do(t, http.MethodPut, "/api/policy", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: the process restarts with defaults and loads what was stored
	s.h.Reports.Weights = lending.DefaultHealthWeights()
	s.h.Batch.Accrual = lending.DefaultAccrualOptions()
	require.NoError(t, s.h.LoadPolicy(context.Background()))

	// THEN: reports and the daily pass use the stored settings
	assert.True(t, decimal.RequireFromString("0.5").Equal(s.h.Reports.Weights[lending.TierWatch]))
	assert.Equal(t, 360, s.h.Batch.Accrual.DayCountBasis)
	assert.True(t, decimal.RequireFromString("0.05").Equal(s.h.Batch.Accrual.PenaltyRatePercent))
	assert.Equal(t, lending.DefaultCurrency.Code, s.h.Batch.Accrual.Currency.Code)
}

func TestPolicy_UpdateRejectsInvalid(t *testing.T) {
	s := newTestServer(t, jan15)

	rec := s.do(t, http.MethodPut, "/api/policy", `{"name":"bad","tiers":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_policy", decodeBody[ErrorResponse](t, rec).Code)
	assert.Equal(t, "standard", s.h.Deps.Policy.Get().Name)
}

// =============================================================================
// BATCH, WRITE-OFF, REPORTS
// =============================================================================

func TestRunBatch_ReclassifiesAndRecordsRun(t *testing.T) {
	// GIVEN: a loan whose first installment is 40 days late on Mar 12
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")

	// WHEN: the pass runs for Mar 12
	rec := s.do(t, http.MethodPost, "/api/batch/run", BatchRunRequest{AsOf: "2024-03-12"})

	// THEN: the loan moved to substandard
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[BatchResultDTO](t, rec)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Reclassified)
	assert.Empty(t, result.Errors)

	rec = s.do(t, http.MethodGet, "/api/loans/L-1", nil)
	loan := decodeBody[LoanDTO](t, rec)
	assert.Equal(t, "substandard", loan.Tier)
	assert.Equal(t, 40, loan.DaysInArrears)
	assert.True(t, loan.AccruedInterest.IsPositive())

	// AND: a second run the same day changes nothing
	rec = s.do(t, http.MethodPost, "/api/batch/run", BatchRunRequest{AsOf: "2024-03-12"})
	assert.Equal(t, 0, decodeBody[BatchResultDTO](t, rec).Reclassified)

	rec = s.do(t, http.MethodGet, "/api/batch/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeBody[[]BatchRunDTO](t, rec)
	require.Len(t, runs, 2)
	assert.Equal(t, "completed", runs[0].Status)

	rec = s.do(t, http.MethodGet, "/api/batch/runs?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunBatch_EmptyBody(t *testing.T) {
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")

	rec := s.do(t, http.MethodPost, "/api/batch/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-01-15", decodeBody[BatchResultDTO](t, rec).AsOf.String())
}

func TestWriteOffAndRecovery(t *testing.T) {
	// GIVEN: a loan 120 days late
	s := newTestServer(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC))
	s.openLoan(t, "L-1")

	// WHEN: it is written off and 500 is recovered
	rec := s.do(t, http.MethodPost, "/api/loans/L-1/write-off", WriteOffRequest{Reason: "uncollectable"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/loans/L-1/recoveries", RecoveryRequest{Amount: decimal.NewFromInt(500)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: payments are refused and the report shows the recovery
	rec = s.do(t, http.MethodPost, "/api/loans/L-1/payments", PaymentRequest{ID: "P-1", Amount: decimal.NewFromInt(10), PaidOn: "2024-06-01"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/loans/L-1/write-off", WriteOffRequest{Reason: "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/reports/write-offs", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[WriteOffReportDTO](t, rec)
	require.Len(t, report.Entries, 1)
	assert.True(t, report.TotalRecoveries.Equal(decimal.NewFromInt(500)))
	assert.True(t, report.RecoveryRatePercent.IsPositive())
}

func TestRecordRecovery_RequiresWriteOff(t *testing.T) {
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")

	rec := s.do(t, http.MethodPost, "/api/loans/L-1/recoveries", RecoveryRequest{Amount: decimal.NewFromInt(5)})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPortfolioReport(t *testing.T) {
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")
	s.openLoan(t, "L-2")

	rec := s.do(t, http.MethodGet, "/api/reports/portfolio?as_of=2024-01-15", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[PortfolioReportDTO](t, rec)
	assert.Equal(t, 2, report.TotalLoans)
	assert.True(t, report.TotalPortfolio.Equal(decimal.NewFromInt(6000)), report.TotalPortfolio.String())
	assert.Equal(t, 2, report.Movements.NewLoans)

	rec = s.do(t, http.MethodGet, "/api/reports/portfolio?as_of=2024-01-15&previous=2024-02-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/reports/portfolio?as_of=15/01/2024", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_ArrearsLadder(t *testing.T) {
	// GIVEN: the arrears ladder scenario
	s := newTestServer(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC))

	rec := s.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))

	// WHEN: it is loaded
	rec = s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "arrears-ladder"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: there is one loan per tier
	rec = s.do(t, http.MethodGet, "/api/loans", nil)
	loans := decodeBody[[]LoanDTO](t, rec)
	tiers := map[string]string{}
	for _, l := range loans {
		tiers[l.ID] = l.Tier
	}
	assert.Equal(t, map[string]string{
		"AL-0":   "performing",
		"AL-10":  "watch",
		"AL-45":  "substandard",
		"AL-75":  "doubtful",
		"AL-120": "loss",
	}, tiers)

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "arrears-ladder", decodeBody[ScenarioDTO](t, rec).ID)
}

func TestScenarios_AllLoad(t *testing.T) {
	s := newTestServer(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC))

	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: sc.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = s.do(t, http.MethodGet, "/api/loans", nil)
			assert.NotEmpty(t, decodeBody[[]LoanDTO](t, rec))
		})
	}

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, jan15)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
