/*
handlers.go - HTTP API handlers for the loan engine

PURPOSE:
  Exposes classification, provisioning and repayment allocation over REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  servicing layer. No engine rule lives here.

ENDPOINTS:
  Loans:
    GET    /api/loans                         List loans
    POST   /api/loans                         Open a loan with its schedule
    GET    /api/loans/{id}                    Loan details
    GET    /api/loans/{id}/installments       Schedule with paid amounts
    GET    /api/loans/{id}/classifications    Tier history
    POST   /api/loans/{id}/classify           Reclassify now (manual trigger)

  Payments:
    POST   /api/loans/{id}/payments           Allocate a repayment
    GET    /api/loans/{id}/payments           Repayment history
    POST   /api/payments/{txID}/reverse       Reverse a repayment

  Write-off:
    POST   /api/loans/{id}/write-off          Write the loan off
    POST   /api/loans/{id}/recoveries         Record a post write-off recovery

  Batch:
    POST   /api/batch/run                     Run the daily pass now
    GET    /api/batch/runs                    Run history

  Reports:
    GET    /api/reports/portfolio?as_of=&previous=
    GET    /api/reports/write-offs?as_of=

  Policy:
    GET    /api/policy                        Active provisioning table
    PUT    /api/policy                        Replace it

AS-OF DATES:
  Every engine call takes an explicit date. Handlers default it to today in
  UTC; this is the only place the wall clock is read.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: malformed body, invalid payment or policy
  - 404: loan or transaction not found
  - 409: already reversed, already written off, loan exists
  - 422: overpayment (payment_rejected_overpayment), invalid schedule
  - 500: policy_gap (table does not cover the days in arrears), internal
  - 503: per-loan lock not acquired in time

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/lending"
	"github.com/warp/loan-engine/lock"
	"github.com/warp/loan-engine/servicing"
	"github.com/warp/loan-engine/store/sqlstore"
)

// gapHorizon bounds the days scanned when reporting policy gaps.
const gapHorizon = 3650

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// PolicyStore is implemented by stores that persist the policy document.
type PolicyStore interface {
	SavePolicy(ctx context.Context, p sqlstore.PolicyRecord) error
	LatestPolicy(ctx context.Context) (*sqlstore.PolicyRecord, error)
}

// Resetter is implemented by stores the demo scenarios can wipe.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         lending.TxStore
	PolicyFactory *factory.PolicyFactory
	Logger        logrus.FieldLogger

	Deps      servicing.Deps
	Loans     *servicing.LoanService
	Payments  *servicing.PaymentService
	Classify  *servicing.ClassificationService
	WriteOffs *servicing.WriteOffService
	Reports   *servicing.ReportService
	Batch     *servicing.BatchJob

	validate *validator.Validate
	now      func() time.Time

	mu              sync.RWMutex
	settings        factory.Settings
	currentScenario string
}

// NewHandler wires the services over deps. settings carry the health
// weights and accrual options loaded with the policy.
func NewHandler(deps servicing.Deps, batch *servicing.BatchJob, settings factory.Settings) *Handler {
	return &Handler{
		Store:         deps.Store,
		PolicyFactory: factory.NewPolicyFactory(),
		Logger:        deps.Logger,
		Deps:          deps,
		Loans:         servicing.NewLoanService(deps),
		Payments:      servicing.NewPaymentService(deps),
		Classify:      servicing.NewClassificationService(deps),
		WriteOffs:     servicing.NewWriteOffService(deps),
		Reports:       servicing.NewReportService(deps, settings.HealthWeights),
		Batch:         batch,
		validate:      validator.New(),
		now:           time.Now,
		settings:      settings,
	}
}

// LoadPolicy activates the most recently stored policy, if the store keeps
// policies and has one. Besides the tier table it applies the document's
// health weights and accrual settings, so it must run before the server
// takes traffic.
func (h *Handler) LoadPolicy(ctx context.Context) error {
	ps, ok := h.Store.(PolicyStore)
	if !ok {
		return nil
	}
	record, err := ps.LatestPolicy(ctx)
	if err != nil || record == nil {
		return err
	}
	policy, settings, err := h.PolicyFactory.ParsePolicy(record.ConfigJSON)
	if err != nil {
		return fmt.Errorf("stored policy %s: %w", record.ID, err)
	}
	if err := h.Deps.Policy.Set(*policy); err != nil {
		return err
	}
	h.applySettings(settings)
	h.Logger.WithField("policy", policy.Name).Info("Loaded stored provisioning policy")
	return nil
}

// applySettings hands a document's weights and accrual settings to the
// services that use them.
func (h *Handler) applySettings(settings factory.Settings) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.settings = settings
	if settings.HealthWeights != nil {
		h.Reports.Weights = settings.HealthWeights
	}
	accrual := settings.AccrualOptions(h.Deps.Accrual.Currency)
	h.Deps.Accrual = accrual
	if h.Batch != nil {
		h.Batch.Accrual = accrual
	}
}

func (h *Handler) today() lending.Date {
	return lending.DateOf(h.now().UTC())
}

// =============================================================================
// LOAN ENDPOINTS
// =============================================================================

// ListLoans returns every loan.
// GET /api/loans
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.Store.ListLoans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list loans", err)
		return
	}
	dtos := make([]LoanDTO, 0, len(loans))
	for _, l := range loans {
		dtos = append(dtos, toLoanDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLoan returns one loan.
// GET /api/loans/{id}
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.Store.GetLoan(r.Context(), loanID(r))
	if err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*loan))
}

// CreateLoan opens a loan with an explicit schedule.
// POST /api/loans
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if !h.decode(w, r, &req) {
		return
	}

	disbursedOn, _ := lending.ParseDate(req.DisbursedOn)
	loan := lending.LoanAccount{
		ID:              lending.LoanID(req.ID),
		BorrowerID:      req.BorrowerID,
		BorrowerName:    req.BorrowerName,
		DisbursedAmount: req.DisbursedAmount,
		DisbursedOn:     disbursedOn,
		AnnualRate:      req.AnnualRate,
		InterestMethod:  lending.InterestMethod(req.InterestMethod),
		Frequency:       lending.Frequency(req.Frequency),
		CollateralValue: req.CollateralValue,
	}
	if loan.InterestMethod == "" {
		loan.InterestMethod = lending.InterestFlat
	}
	if loan.Frequency == "" {
		loan.Frequency = lending.FrequencyMonthly
	}
	if req.MaturesOn != "" {
		loan.MaturesOn, _ = lending.ParseDate(req.MaturesOn)
	}

	schedule := make([]lending.RepaymentInstallment, 0, len(req.Installments))
	for _, in := range req.Installments {
		due, _ := lending.ParseDate(in.DueDate)
		schedule = append(schedule, lending.RepaymentInstallment{
			Sequence:     in.Sequence,
			DueDate:      due,
			DuePrincipal: in.DuePrincipal,
			DueInterest:  in.DueInterest,
		})
	}
	if loan.MaturesOn.IsZero() {
		loan.MaturesOn = schedule[len(schedule)-1].DueDate
	}

	opened, result, err := h.Loans.Open(r.Context(), loan, schedule, h.today())
	if err != nil {
		writeDomainError(w, "Failed to open loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"loan":           toLoanDTO(opened),
		"classification": toClassificationDTO(result),
	})
}

// GetInstallments returns the loan's schedule.
// GET /api/loans/{id}/installments
func (h *Handler) GetInstallments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := loanID(r)
	if _, err := h.Store.GetLoan(ctx, id); err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}
	insts, err := h.Store.Installments(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get installments", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(insts))
}

// GetClassifications returns the tier history.
// GET /api/loans/{id}/classifications
func (h *Handler) GetClassifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := loanID(r)
	if _, err := h.Store.GetLoan(ctx, id); err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}
	records, err := h.Store.ClassificationHistory(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get classification history", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

// ClassifyLoan recomputes the tier as of ?as_of (default today).
// POST /api/loans/{id}/classify
func (h *Handler) ClassifyLoan(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.dateQuery(w, r, "as_of", h.today())
	if !ok {
		return
	}
	result, err := h.Classify.Classify(r.Context(), loanID(r), asOf)
	if err != nil {
		writeDomainError(w, "Failed to classify loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toClassificationDTO(result))
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// CreatePayment allocates a repayment. A replayed ID returns the stored
// transaction with 200 and replayed=true; a new one returns 201.
// POST /api/loans/{id}/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	paidOn, _ := lending.ParseDate(req.PaidOn)

	res, err := h.Payments.Pay(r.Context(), lending.Payment{
		ID:     lending.TransactionID(req.ID),
		LoanID: loanID(r),
		Amount: req.Amount,
		PaidOn: paidOn,
		Method: req.Method,
	})
	if err != nil {
		writeDomainError(w, "Failed to apply payment", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toPaymentResponse(res))
}

// ListPayments returns the loan's repayment history.
// GET /api/loans/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := loanID(r)
	if _, err := h.Store.GetLoan(ctx, id); err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}
	txs, err := h.Store.Transactions(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get payments", err)
		return
	}
	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, toTransactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReversePayment undoes a repayment.
// POST /api/payments/{txID}/reverse
func (h *Handler) ReversePayment(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	on := h.today()
	if req.On != "" {
		on, _ = lending.ParseDate(req.On)
	}

	res, err := h.Payments.Reverse(r.Context(), lending.TransactionID(chi.URLParam(r, "txID")), on)
	if err != nil {
		writeDomainError(w, "Failed to reverse payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction":    toTransactionDTO(res.Transaction),
		"loan":           toLoanDTO(res.Loan),
		"installments":   toInstallmentDTOs(res.Installments),
		"classification": toClassificationDTO(res.Classification),
	})
}

// =============================================================================
// WRITE-OFF ENDPOINTS
// =============================================================================

// WriteOffLoan writes the loan off.
// POST /api/loans/{id}/write-off
func (h *Handler) WriteOffLoan(w http.ResponseWriter, r *http.Request) {
	var req WriteOffRequest
	if !h.decode(w, r, &req) {
		return
	}
	asOf := h.today()
	if req.AsOf != "" {
		asOf, _ = lending.ParseDate(req.AsOf)
	}

	loan, record, err := h.WriteOffs.WriteOff(r.Context(), loanID(r), asOf, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to write off loan", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loan":   toLoanDTO(loan),
		"record": toRecordDTOs([]lending.LoanClassificationRecord{record})[0],
	})
}

// RecordRecovery books cash recovered after write-off.
// POST /api/loans/{id}/recoveries
func (h *Handler) RecordRecovery(w http.ResponseWriter, r *http.Request) {
	var req RecoveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	loan, err := h.WriteOffs.RecordRecovery(r.Context(), loanID(r), req.Amount)
	if err != nil {
		writeDomainError(w, "Failed to record recovery", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(loan))
}

// =============================================================================
// BATCH ENDPOINTS
// =============================================================================

// RunBatch runs the daily pass now, for all loans or the ones listed.
// POST /api/batch/run
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRunRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	asOf := h.today()
	if req.AsOf != "" {
		asOf, _ = lending.ParseDate(req.AsOf)
	}
	ids := make([]lending.LoanID, 0, len(req.LoanIDs))
	for _, id := range req.LoanIDs {
		ids = append(ids, lending.LoanID(id))
	}

	result, err := h.Batch.RunDailyPass(r.Context(), ids, asOf)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Daily pass interrupted", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

// ListBatchRuns returns the run history, newest first.
// GET /api/batch/runs?limit=
func (h *Handler) ListBatchRuns(w http.ResponseWriter, r *http.Request) {
	runStore, ok := h.Store.(lending.BatchRunStore)
	if !ok {
		writeJSON(w, http.StatusOK, []BatchRunDTO{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := runStore.ListBatchRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get batch runs", err)
		return
	}
	dtos := make([]BatchRunDTO, 0, len(runs))
	for _, run := range runs {
		dto := BatchRunDTO{
			ID:           run.ID,
			AsOf:         run.AsOf,
			Status:       string(run.Status),
			Processed:    run.Processed,
			Skipped:      run.Skipped,
			Accrued:      run.Accrued,
			Reclassified: run.Reclassified,
			Failed:       run.Failed,
			Error:        run.Error,
			StartedAt:    run.StartedAt.Format(time.RFC3339),
		}
		if run.CompletedAt != nil {
			dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REPORT ENDPOINTS
// =============================================================================

// PortfolioReport aggregates the book as of ?as_of, with movements against
// ?previous (omit for an empty baseline).
// GET /api/reports/portfolio
func (h *Handler) PortfolioReport(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.dateQuery(w, r, "as_of", h.today())
	if !ok {
		return
	}
	previous, ok := h.dateQuery(w, r, "previous", lending.Date{})
	if !ok {
		return
	}
	if !previous.IsZero() && previous.After(asOf) {
		writeError(w, http.StatusBadRequest, "previous must not be after as_of", nil)
		return
	}

	report, err := h.Reports.Portfolio(r.Context(), asOf, previous)
	if err != nil {
		writeDomainError(w, "Failed to build portfolio report", err)
		return
	}
	writeJSON(w, http.StatusOK, toPortfolioReportDTO(report))
}

// WriteOffReport lists written-off loans and recoveries.
// GET /api/reports/write-offs
func (h *Handler) WriteOffReport(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.dateQuery(w, r, "as_of", h.today())
	if !ok {
		return
	}
	report, err := h.Reports.WriteOffs(r.Context(), asOf)
	if err != nil {
		writeDomainError(w, "Failed to build write-off report", err)
		return
	}
	writeJSON(w, http.StatusOK, toWriteOffReportDTO(report))
}

// =============================================================================
// POLICY ENDPOINTS
// =============================================================================

// GetPolicy returns the active provisioning table.
// GET /api/policy
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy := h.Deps.Policy.Get()
	h.mu.RLock()
	settings := h.settings
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, PolicyDTO{
		Policy: h.PolicyFactory.ToJSON(policy, settings),
		Gaps:   policy.Gaps(gapHorizon),
	})
}

// UpdatePolicy replaces the provisioning table. Runs already in progress
// keep the table they started with. Accrual settings and health weights are
// stored with the document and take effect on restart.
// PUT /api/policy
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	policy, settings, err := h.PolicyFactory.ParsePolicy(string(body))
	if err != nil {
		writeDomainError(w, "Invalid policy configuration", err)
		return
	}

	if ps, ok := h.Store.(PolicyStore); ok {
		doc, err := h.PolicyFactory.ToJSONString(*policy, settings)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encode policy", err)
			return
		}
		record := sqlstore.PolicyRecord{ID: policy.Name, Name: policy.Name, ConfigJSON: doc, Version: policy.Version}
		if err := ps.SavePolicy(r.Context(), record); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
			return
		}
	}
	if err := h.Deps.Policy.Set(*policy); err != nil {
		writeDomainError(w, "Invalid policy configuration", err)
		return
	}
	h.mu.Lock()
	h.settings = settings
	h.mu.Unlock()

	gaps := policy.Gaps(gapHorizon)
	h.Logger.WithFields(logrus.Fields{"policy": policy.Name, "version": policy.Version, "gaps": gaps}).
		Info("[Policy] Provisioning table replaced")
	writeJSON(w, http.StatusOK, PolicyDTO{Policy: h.PolicyFactory.ToJSON(*policy, settings), Gaps: gaps})
}

// =============================================================================
// HELPERS
// =============================================================================

func loanID(r *http.Request) lending.LoanID {
	return lending.LoanID(chi.URLParam(r, "id"))
}

// decode reads and validates a JSON body. It writes the 400 itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

// decodeOptional is decode for endpoints where the body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

func (h *Handler) dateQuery(w http.ResponseWriter, r *http.Request, key string, fallback lending.Date) (lending.Date, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, true
	}
	d, err := lending.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s (use YYYY-MM-DD)", key), err)
		return lending.Date{}, false
	}
	return d, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var (
		status = http.StatusInternalServerError
		code   string
	)
	var over *lending.OverpaymentError
	switch {
	case errors.As(err, &over):
		status, code = http.StatusUnprocessableEntity, "payment_rejected_overpayment"
	case errors.Is(err, lending.ErrInvalidSchedule):
		status, code = http.StatusUnprocessableEntity, "invalid_schedule"
	case errors.Is(err, lending.ErrUnmatchedTier):
		status, code = http.StatusInternalServerError, "policy_gap"
	case lending.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, lending.ErrAlreadyReversed),
		errors.Is(err, lending.ErrAlreadyWrittenOff),
		errors.Is(err, lending.ErrNotWrittenOff),
		errors.Is(err, servicing.ErrLoanExists):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, lending.ErrInvalidPayment):
		status, code = http.StatusBadRequest, "invalid_payment"
	case errors.Is(err, lending.ErrInvalidPolicy):
		status, code = http.StatusBadRequest, "invalid_policy"
	case errors.Is(err, lock.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "loan_busy"
	}

	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}
	if over != nil {
		writeJSON(w, status, struct {
			ErrorResponse
			Excess      decimal.Decimal `json:"excess"`
			Outstanding decimal.Decimal `json:"outstanding"`
		}{resp, over.Excess, over.Outstanding})
		return
	}
	writeJSON(w, status, resp)
}
