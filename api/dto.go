/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's structs from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as decimal strings ("1050.00"), never floats.

DATES:
  Calendar days as "YYYY-MM-DD".

VALIDATION:
  Request structs carry go-playground/validator tags, checked in
  handlers.decode before any domain call.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/lending"
	"github.com/warp/loan-engine/servicing"
)

// =============================================================================
// LOANS
// =============================================================================

type LoanDTO struct {
	ID                   string          `json:"id"`
	BorrowerID           string          `json:"borrower_id"`
	BorrowerName         string          `json:"borrower_name,omitempty"`
	DisbursedAmount      decimal.Decimal `json:"disbursed_amount"`
	DisbursedOn          lending.Date    `json:"disbursed_on"`
	MaturesOn            lending.Date    `json:"matures_on"`
	AnnualRate           decimal.Decimal `json:"annual_rate"`
	InterestMethod       string          `json:"interest_method"`
	Frequency            string          `json:"frequency"`
	OutstandingPrincipal decimal.Decimal `json:"outstanding_principal"`
	AccruedInterest      decimal.Decimal `json:"accrued_interest"`
	CollateralValue      decimal.Decimal `json:"collateral_value"`
	Tier                 string          `json:"tier"`
	DaysInArrears        int             `json:"days_in_arrears"`
	Status               string          `json:"status"`
	LastAccruedOn        lending.Date    `json:"last_accrued_on"`
	WrittenOffAmount     decimal.Decimal `json:"written_off_amount"`
	Recoveries           decimal.Decimal `json:"recoveries"`
	WrittenOffOn         lending.Date    `json:"written_off_on"`
}

func toLoanDTO(l lending.LoanAccount) LoanDTO {
	return LoanDTO{
		ID:                   string(l.ID),
		BorrowerID:           l.BorrowerID,
		BorrowerName:         l.BorrowerName,
		DisbursedAmount:      l.DisbursedAmount,
		DisbursedOn:          l.DisbursedOn,
		MaturesOn:            l.MaturesOn,
		AnnualRate:           l.AnnualRate,
		InterestMethod:       string(l.InterestMethod),
		Frequency:            string(l.Frequency),
		OutstandingPrincipal: l.OutstandingPrincipal,
		AccruedInterest:      l.AccruedInterest,
		CollateralValue:      l.CollateralValue,
		Tier:                 string(l.Tier),
		DaysInArrears:        l.DaysInArrears,
		Status:               string(l.Status),
		LastAccruedOn:        l.LastAccruedOn,
		WrittenOffAmount:     l.WrittenOffAmount,
		Recoveries:           l.Recoveries,
		WrittenOffOn:         l.WrittenOffOn,
	}
}

// CreateLoanRequest opens a loan with an explicit schedule.
type CreateLoanRequest struct {
	ID              string               `json:"id" validate:"required"`
	BorrowerID      string               `json:"borrower_id" validate:"required"`
	BorrowerName    string               `json:"borrower_name"`
	DisbursedAmount decimal.Decimal      `json:"disbursed_amount"`
	DisbursedOn     string               `json:"disbursed_on" validate:"required,datetime=2006-01-02"`
	MaturesOn       string               `json:"matures_on" validate:"omitempty,datetime=2006-01-02"`
	AnnualRate      decimal.Decimal      `json:"annual_rate"`
	InterestMethod  string               `json:"interest_method" validate:"omitempty,oneof=flat reducing_balance"`
	Frequency       string               `json:"frequency" validate:"omitempty,oneof=weekly biweekly monthly quarterly"`
	CollateralValue decimal.Decimal      `json:"collateral_value"`
	Installments    []InstallmentRequest `json:"installments" validate:"required,min=1,dive"`
}

type InstallmentRequest struct {
	Sequence     int             `json:"sequence" validate:"gte=1"`
	DueDate      string          `json:"due_date" validate:"required,datetime=2006-01-02"`
	DuePrincipal decimal.Decimal `json:"due_principal"`
	DueInterest  decimal.Decimal `json:"due_interest"`
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

type InstallmentDTO struct {
	Sequence      int             `json:"sequence"`
	DueDate       lending.Date    `json:"due_date"`
	DuePrincipal  decimal.Decimal `json:"due_principal"`
	DueInterest   decimal.Decimal `json:"due_interest"`
	PaidPrincipal decimal.Decimal `json:"paid_principal"`
	PaidInterest  decimal.Decimal `json:"paid_interest"`
	PenaltyAmount decimal.Decimal `json:"penalty_amount"`
	PaidPenalty   decimal.Decimal `json:"paid_penalty"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	Status        string          `json:"status"`
	DelayedDays   int             `json:"delayed_days"`
}

func toInstallmentDTOs(insts []lending.RepaymentInstallment) []InstallmentDTO {
	out := make([]InstallmentDTO, 0, len(insts))
	for _, i := range insts {
		out = append(out, InstallmentDTO{
			Sequence:      i.Sequence,
			DueDate:       i.DueDate,
			DuePrincipal:  i.DuePrincipal,
			DueInterest:   i.DueInterest,
			PaidPrincipal: i.PaidPrincipal,
			PaidInterest:  i.PaidInterest,
			PenaltyAmount: i.PenaltyAmount,
			PaidPenalty:   i.PaidPenalty,
			Outstanding:   i.Outstanding(),
			Status:        string(i.Status),
			DelayedDays:   i.DelayedDays,
		})
	}
	return out
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

type ClassificationDTO struct {
	LoanID            string          `json:"loan_id"`
	PreviousTier      string          `json:"previous_tier,omitempty"`
	Tier              string          `json:"tier"`
	Changed           bool            `json:"changed"`
	DaysInArrears     int             `json:"days_in_arrears"`
	ProvisioningRate  decimal.Decimal `json:"provisioning_rate_percent"`
	NetExposure       decimal.Decimal `json:"net_exposure"`
	ProvisionRequired decimal.Decimal `json:"provision_required"`
}

func toClassificationDTO(r lending.ClassificationResult) ClassificationDTO {
	return ClassificationDTO{
		LoanID:            string(r.LoanID),
		PreviousTier:      string(r.PreviousTier),
		Tier:              string(r.Tier),
		Changed:           r.Changed(),
		DaysInArrears:     r.DaysInArrears,
		ProvisioningRate:  r.ProvisioningRate,
		NetExposure:       r.NetExposure,
		ProvisionRequired: r.ProvisionRequired,
	}
}

type ClassificationRecordDTO struct {
	ID                string          `json:"id"`
	ClassifiedOn      lending.Date    `json:"classified_on"`
	PreviousTier      string          `json:"previous_tier,omitempty"`
	NewTier           string          `json:"new_tier"`
	DaysInArrears     int             `json:"days_in_arrears"`
	NetExposure       decimal.Decimal `json:"net_exposure"`
	ProvisioningRate  decimal.Decimal `json:"provisioning_rate_percent"`
	ProvisionRequired decimal.Decimal `json:"provision_required"`
	Trigger           string          `json:"trigger"`
}

func toRecordDTOs(records []lending.LoanClassificationRecord) []ClassificationRecordDTO {
	out := make([]ClassificationRecordDTO, 0, len(records))
	for _, r := range records {
		out = append(out, ClassificationRecordDTO{
			ID:                r.ID,
			ClassifiedOn:      r.ClassifiedOn,
			PreviousTier:      string(r.PreviousTier),
			NewTier:           string(r.NewTier),
			DaysInArrears:     r.DaysInArrears,
			NetExposure:       r.NetExposure,
			ProvisioningRate:  r.ProvisioningRate,
			ProvisionRequired: r.ProvisionRequired,
			Trigger:           string(r.Trigger),
		})
	}
	return out
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentRequest posts a repayment. ID is the idempotency key; the server
// generates one when absent.
type PaymentRequest struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	PaidOn string          `json:"paid_on" validate:"required,datetime=2006-01-02"`
	Method string          `json:"method"`
}

type AllocationLineDTO struct {
	Sequence         int             `json:"sequence"`
	DueDate          lending.Date    `json:"due_date"`
	Penalty          decimal.Decimal `json:"penalty"`
	Interest         decimal.Decimal `json:"interest"`
	Principal        decimal.Decimal `json:"principal"`
	StatusAfter      string          `json:"status_after,omitempty"`
	DelayedDaysAfter int             `json:"delayed_days_after"`
	WasEarlyPayment  bool            `json:"was_early_payment"`
	Advance          bool            `json:"advance"`
}

type TransactionDTO struct {
	ID         string              `json:"id"`
	LoanID     string              `json:"loan_id"`
	Amount     decimal.Decimal     `json:"amount"`
	PaidOn     lending.Date        `json:"paid_on"`
	Method     string              `json:"method,omitempty"`
	Principal  decimal.Decimal     `json:"principal"`
	Interest   decimal.Decimal     `json:"interest"`
	Penalty    decimal.Decimal     `json:"penalty"`
	Lines      []AllocationLineDTO `json:"lines"`
	Reversed   bool                `json:"reversed"`
	ReversedOn lending.Date        `json:"reversed_on"`
}

func toTransactionDTO(tx lending.RepaymentTransaction) TransactionDTO {
	dto := TransactionDTO{
		ID:         string(tx.ID),
		LoanID:     string(tx.LoanID),
		Amount:     tx.Amount,
		PaidOn:     tx.PaidOn,
		Method:     tx.Method,
		Principal:  tx.Principal,
		Interest:   tx.Interest,
		Penalty:    tx.Penalty,
		Lines:      make([]AllocationLineDTO, 0, len(tx.Lines)),
		Reversed:   tx.Reversed,
		ReversedOn: tx.ReversedOn,
	}
	for _, l := range tx.Lines {
		dto.Lines = append(dto.Lines, AllocationLineDTO{
			Sequence:         l.Sequence,
			DueDate:          l.DueDate,
			Penalty:          l.Penalty,
			Interest:         l.Interest,
			Principal:        l.Principal,
			StatusAfter:      string(l.StatusAfter),
			DelayedDaysAfter: l.DelayedDaysAfter,
			WasEarlyPayment:  l.WasEarlyPayment,
			Advance:          l.Advance,
		})
	}
	return dto
}

type PaymentResponseDTO struct {
	Replayed       bool               `json:"replayed"`
	Transaction    TransactionDTO     `json:"transaction"`
	Loan           *LoanDTO           `json:"loan,omitempty"`
	Classification *ClassificationDTO `json:"classification,omitempty"`
}

func toPaymentResponse(res servicing.PaymentResult) PaymentResponseDTO {
	out := PaymentResponseDTO{Replayed: res.Replayed, Transaction: toTransactionDTO(res.Transaction)}
	if !res.Replayed {
		loan := toLoanDTO(res.Loan)
		cls := toClassificationDTO(res.Classification)
		out.Loan = &loan
		out.Classification = &cls
	}
	return out
}

type ReverseRequest struct {
	On string `json:"on" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// WRITE-OFF
// =============================================================================

type WriteOffRequest struct {
	AsOf   string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	Reason string `json:"reason" validate:"required"`
}

type RecoveryRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// =============================================================================
// BATCH
// =============================================================================

type BatchRunRequest struct {
	AsOf    string   `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	LoanIDs []string `json:"loan_ids"`
}

type BatchResultDTO struct {
	RunID        string         `json:"run_id"`
	AsOf         lending.Date   `json:"as_of"`
	Processed    int            `json:"processed"`
	Skipped      int            `json:"skipped"`
	Accrued      int            `json:"accrued"`
	Reclassified int            `json:"reclassified"`
	Cancelled    bool           `json:"cancelled"`
	Errors       []LoanErrorDTO `json:"errors"`
}

type LoanErrorDTO struct {
	LoanID string `json:"loan_id"`
	Error  string `json:"error"`
}

func toBatchResultDTO(r servicing.BatchResult) BatchResultDTO {
	dto := BatchResultDTO{
		RunID:        r.RunID,
		AsOf:         r.AsOf,
		Processed:    r.Processed,
		Skipped:      r.Skipped,
		Accrued:      r.Accrued,
		Reclassified: r.Reclassified,
		Cancelled:    r.Cancelled,
		Errors:       make([]LoanErrorDTO, 0, len(r.Errors)),
	}
	for _, e := range r.Errors {
		dto.Errors = append(dto.Errors, LoanErrorDTO{LoanID: string(e.LoanID), Error: e.Err.Error()})
	}
	return dto
}

type BatchRunDTO struct {
	ID           string       `json:"id"`
	AsOf         lending.Date `json:"as_of"`
	Status       string       `json:"status"`
	Processed    int          `json:"processed"`
	Skipped      int          `json:"skipped"`
	Accrued      int          `json:"accrued"`
	Reclassified int          `json:"reclassified"`
	Failed       int          `json:"failed"`
	Error        string       `json:"error,omitempty"`
	StartedAt    string       `json:"started_at"`
	CompletedAt  string       `json:"completed_at,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

type TierBucketDTO struct {
	Tier               string          `json:"tier"`
	Count              int             `json:"count"`
	TotalOutstanding   decimal.Decimal `json:"total_outstanding"`
	TotalProvision     decimal.Decimal `json:"total_provision"`
	AverageDaysOverdue decimal.Decimal `json:"average_days_overdue"`
	CollateralCoverage decimal.Decimal `json:"collateral_coverage"`
	AverageLoanSize    decimal.Decimal `json:"average_loan_size"`
	SharePercent       decimal.Decimal `json:"share_percent"`
}

type TierMovementDTO struct {
	Tier      string `json:"tier"`
	Entered   int    `json:"entered"`
	Exited    int    `json:"exited"`
	NetChange int    `json:"net_change"`
}

type MovementsDTO struct {
	ByTier       []TierMovementDTO `json:"by_tier"`
	TotalEntered int               `json:"total_entered"`
	TotalExited  int               `json:"total_exited"`
	NewLoans     int               `json:"new_loans"`
	RemovedLoans int               `json:"removed_loans"`
}

type WriteOffEntryDTO struct {
	LoanID           string          `json:"loan_id"`
	BorrowerName     string          `json:"borrower_name,omitempty"`
	WrittenOffOn     lending.Date    `json:"written_off_on"`
	AmountWrittenOff decimal.Decimal `json:"amount_written_off"`
	Recoveries       decimal.Decimal `json:"recoveries"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

type WriteOffReportDTO struct {
	Entries             []WriteOffEntryDTO `json:"entries"`
	TotalWrittenOff     decimal.Decimal    `json:"total_written_off"`
	TotalRecoveries     decimal.Decimal    `json:"total_recoveries"`
	TotalRemaining      decimal.Decimal    `json:"total_remaining"`
	RecoveryRatePercent decimal.Decimal    `json:"recovery_rate_percent"`
}

type PortfolioReportDTO struct {
	AsOf           lending.Date      `json:"as_of"`
	TotalLoans     int               `json:"total_loans"`
	TotalPortfolio decimal.Decimal   `json:"total_portfolio"`
	TotalProvision decimal.Decimal   `json:"total_provision"`
	HealthScore    decimal.Decimal   `json:"health_score"`
	Buckets        []TierBucketDTO   `json:"buckets"`
	Movements      MovementsDTO      `json:"movements"`
	WriteOffs      WriteOffReportDTO `json:"write_offs"`
}

func toWriteOffReportDTO(r lending.WriteOffReport) WriteOffReportDTO {
	dto := WriteOffReportDTO{
		Entries:             make([]WriteOffEntryDTO, 0, len(r.Entries)),
		TotalWrittenOff:     r.TotalWrittenOff,
		TotalRecoveries:     r.TotalRecoveries,
		TotalRemaining:      r.TotalRemaining,
		RecoveryRatePercent: r.RecoveryRatePercent,
	}
	for _, e := range r.Entries {
		dto.Entries = append(dto.Entries, WriteOffEntryDTO{
			LoanID:           string(e.LoanID),
			BorrowerName:     e.BorrowerName,
			WrittenOffOn:     e.WrittenOffOn,
			AmountWrittenOff: e.AmountWrittenOff,
			Recoveries:       e.Recoveries,
			RemainingBalance: e.RemainingBalance,
		})
	}
	return dto
}

func toPortfolioReportDTO(r lending.PortfolioReport) PortfolioReportDTO {
	dto := PortfolioReportDTO{
		AsOf:           r.AsOf,
		TotalLoans:     r.Summary.TotalLoans,
		TotalPortfolio: r.Summary.TotalPortfolio,
		TotalProvision: r.Summary.TotalProvision,
		HealthScore:    r.Summary.HealthScore,
		Buckets:        make([]TierBucketDTO, 0, len(r.Buckets)),
		Movements: MovementsDTO{
			ByTier:       make([]TierMovementDTO, 0, len(r.Movements.ByTier)),
			TotalEntered: r.Movements.TotalEntered,
			TotalExited:  r.Movements.TotalExited,
			NewLoans:     r.Movements.NewLoans,
			RemovedLoans: r.Movements.RemovedLoans,
		},
		WriteOffs: toWriteOffReportDTO(r.WriteOffs),
	}
	for _, b := range r.Buckets {
		dto.Buckets = append(dto.Buckets, TierBucketDTO{
			Tier:               string(b.Tier),
			Count:              b.Count,
			TotalOutstanding:   b.TotalOutstanding,
			TotalProvision:     b.TotalProvision,
			AverageDaysOverdue: b.AverageDaysOverdue,
			CollateralCoverage: b.CollateralCoverage,
			AverageLoanSize:    b.AverageLoanSize,
			SharePercent:       b.SharePercent,
		})
	}
	for _, m := range r.Movements.ByTier {
		dto.Movements.ByTier = append(dto.Movements.ByTier, TierMovementDTO{
			Tier: string(m.Tier), Entered: m.Entered, Exited: m.Exited, NetChange: m.NetChange,
		})
	}
	return dto
}

// =============================================================================
// POLICY AND SCENARIOS
// =============================================================================

// PolicyDTO wraps the policy document with its detected gaps.
type PolicyDTO struct {
	Policy factory.PolicyJSON `json:"policy"`
	Gaps   []int              `json:"gaps,omitempty"`
}

// ScenarioDTO represents a demo scenario in API responses.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is returned for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
