package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/lending"
)

// timestampLayout is fixed-width so created_at sorts lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nowStamp() string {
	return time.Now().UTC().Format(timestampLayout)
}

// conn runs lending.Store queries against a *sql.DB or *sql.Tx.
// It takes no locks; Store and WithTx do that.
type conn struct {
	q       querier
	dialect dialect
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, rebind(c.dialect, query), args...)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, rebind(c.dialect, query), args...)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, rebind(c.dialect, query), args...)
}

// =============================================================================
// LOANS
// =============================================================================

const loanColumns = `id, borrower_id, borrower_name, disbursed_amount, disbursed_on, matures_on,
	annual_rate, interest_method, frequency, outstanding_principal, accrued_interest,
	collateral_value, tier, days_in_arrears, status, last_accrued_on,
	written_off_amount, recoveries, written_off_on`

func (c *conn) GetLoan(ctx context.Context, id lending.LoanID) (*lending.LoanAccount, error) {
	row := c.queryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, string(id))
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lending.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *conn) ListLoans(ctx context.Context) ([]lending.LoanAccount, error) {
	rows, err := c.query(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []lending.LoanAccount
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

func (c *conn) SaveLoan(ctx context.Context, loan lending.LoanAccount) error {
	_, err := c.exec(ctx, `
		INSERT INTO loans (`+loanColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			borrower_id = excluded.borrower_id,
			borrower_name = excluded.borrower_name,
			disbursed_amount = excluded.disbursed_amount,
			disbursed_on = excluded.disbursed_on,
			matures_on = excluded.matures_on,
			annual_rate = excluded.annual_rate,
			interest_method = excluded.interest_method,
			frequency = excluded.frequency,
			outstanding_principal = excluded.outstanding_principal,
			accrued_interest = excluded.accrued_interest,
			collateral_value = excluded.collateral_value,
			tier = excluded.tier,
			days_in_arrears = excluded.days_in_arrears,
			status = excluded.status,
			last_accrued_on = excluded.last_accrued_on,
			written_off_amount = excluded.written_off_amount,
			recoveries = excluded.recoveries,
			written_off_on = excluded.written_off_on,
			updated_at = excluded.updated_at
	`,
		string(loan.ID), loan.BorrowerID, nullString(loan.BorrowerName),
		loan.DisbursedAmount.String(), loan.DisbursedOn.String(), nullDate(loan.MaturesOn),
		loan.AnnualRate.String(), string(loan.InterestMethod), string(loan.Frequency),
		loan.OutstandingPrincipal.String(), loan.AccruedInterest.String(),
		loan.CollateralValue.String(), nullString(string(loan.Tier)), loan.DaysInArrears,
		string(loan.Status), nullDate(loan.LastAccruedOn),
		loan.WrittenOffAmount.String(), loan.Recoveries.String(), nullDate(loan.WrittenOffOn),
		nowStamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to save loan %s: %w", loan.ID, err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(s scanner) (lending.LoanAccount, error) {
	var (
		id, borrowerID, disbursed, disbursedOn, rate, method, freq   string
		outstanding, accrued, collateral, status, writtenOff, recovs string
		borrowerName, maturesOn, tier, lastAccrued, writtenOffOn     sql.NullString
		days                                                         int
	)
	if err := s.Scan(&id, &borrowerID, &borrowerName, &disbursed, &disbursedOn, &maturesOn,
		&rate, &method, &freq, &outstanding, &accrued, &collateral, &tier, &days, &status,
		&lastAccrued, &writtenOff, &recovs, &writtenOffOn); err != nil {
		return lending.LoanAccount{}, err
	}

	var d decoder
	loan := lending.LoanAccount{
		ID:                   lending.LoanID(id),
		BorrowerID:           borrowerID,
		BorrowerName:         borrowerName.String,
		DisbursedAmount:      d.decimal(disbursed),
		DisbursedOn:          d.date(disbursedOn),
		MaturesOn:            d.nullDate(maturesOn),
		AnnualRate:           d.decimal(rate),
		InterestMethod:       lending.InterestMethod(method),
		Frequency:            lending.Frequency(freq),
		OutstandingPrincipal: d.decimal(outstanding),
		AccruedInterest:      d.decimal(accrued),
		CollateralValue:      d.decimal(collateral),
		Tier:                 lending.Tier(tier.String),
		DaysInArrears:        days,
		Status:               lending.LoanStatus(status),
		LastAccruedOn:        d.nullDate(lastAccrued),
		WrittenOffAmount:     d.decimal(writtenOff),
		Recoveries:           d.decimal(recovs),
		WrittenOffOn:         d.nullDate(writtenOffOn),
	}
	if d.err != nil {
		return lending.LoanAccount{}, fmt.Errorf("corrupt loan row %s: %w", id, d.err)
	}
	return loan, nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (c *conn) Installments(ctx context.Context, id lending.LoanID) ([]lending.RepaymentInstallment, error) {
	rows, err := c.query(ctx, `
		SELECT sequence, due_date, due_principal, due_interest, paid_principal, paid_interest,
		       penalty_amount, paid_penalty, status, delayed_days, last_delayed_on
		FROM installments
		WHERE loan_id = ?
		ORDER BY due_date, sequence
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lending.RepaymentInstallment
	for rows.Next() {
		var (
			seq, delayed                                           int
			due, duePrin, dueInt, paidPrin, paidInt, pen, paidPen  string
			status                                                 string
			lastDelayed                                            sql.NullString
		)
		if err := rows.Scan(&seq, &due, &duePrin, &dueInt, &paidPrin, &paidInt,
			&pen, &paidPen, &status, &delayed, &lastDelayed); err != nil {
			return nil, err
		}
		var d decoder
		inst := lending.RepaymentInstallment{
			LoanID:        id,
			Sequence:      seq,
			DueDate:       d.date(due),
			DuePrincipal:  d.decimal(duePrin),
			DueInterest:   d.decimal(dueInt),
			PaidPrincipal: d.decimal(paidPrin),
			PaidInterest:  d.decimal(paidInt),
			PenaltyAmount: d.decimal(pen),
			PaidPenalty:   d.decimal(paidPen),
			Status:        lending.InstallmentStatus(status),
			DelayedDays:   delayed,
			LastDelayedOn: d.nullDate(lastDelayed),
		}
		if d.err != nil {
			return nil, fmt.Errorf("corrupt installment %s/%d: %w", id, seq, d.err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// SaveInstallments replaces the loan's schedule. Callers outside a
// transaction go through Store.SaveInstallments, which wraps this in one.
func (c *conn) SaveInstallments(ctx context.Context, id lending.LoanID, installments []lending.RepaymentInstallment) error {
	if _, err := c.exec(ctx, `DELETE FROM installments WHERE loan_id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to clear installments for %s: %w", id, err)
	}
	for _, inst := range installments {
		_, err := c.exec(ctx, `
			INSERT INTO installments (loan_id, sequence, due_date, due_principal, due_interest,
				paid_principal, paid_interest, penalty_amount, paid_penalty, status,
				delayed_days, last_delayed_on)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			string(id), inst.Sequence, inst.DueDate.String(),
			inst.DuePrincipal.String(), inst.DueInterest.String(),
			inst.PaidPrincipal.String(), inst.PaidInterest.String(),
			inst.PenaltyAmount.String(), inst.PaidPenalty.String(),
			string(inst.Status), inst.DelayedDays, nullDate(inst.LastDelayedOn),
		)
		if err != nil {
			return fmt.Errorf("failed to save installment %s/%d: %w", id, inst.Sequence, err)
		}
	}
	return nil
}

// =============================================================================
// REPAYMENT TRANSACTIONS
// =============================================================================

const transactionColumns = `id, loan_id, amount, paid_on, method, principal, interest, penalty,
	effect_principal, effect_interest, lines_json, reversed, reversed_on`

func (c *conn) GetTransaction(ctx context.Context, id lending.TransactionID) (*lending.RepaymentTransaction, error) {
	row := c.queryRow(ctx, `SELECT `+transactionColumns+` FROM repayment_transactions WHERE id = ?`, string(id))
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lending.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *conn) SaveTransaction(ctx context.Context, tx lending.RepaymentTransaction) error {
	lines, err := json.Marshal(tx.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode allocation lines: %w", err)
	}
	_, err = c.exec(ctx, `
		INSERT INTO repayment_transactions (`+transactionColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(tx.ID), string(tx.LoanID), tx.Amount.String(), tx.PaidOn.String(),
		nullString(tx.Method), tx.Principal.String(), tx.Interest.String(), tx.Penalty.String(),
		tx.Effect.Principal.String(), tx.Effect.AccruedInterest.String(),
		string(lines), boolInt(tx.Reversed), nullDate(tx.ReversedOn), nowStamp(),
	)
	if isUniqueConstraintError(err) {
		return &lending.ReplayedTransactionError{TransactionID: tx.ID}
	}
	if err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (c *conn) MarkReversed(ctx context.Context, id lending.TransactionID, on lending.Date) error {
	res, err := c.exec(ctx, `
		UPDATE repayment_transactions SET reversed = 1, reversed_on = ?
		WHERE id = ? AND reversed = 0
	`, on.String(), string(id))
	if err != nil {
		return fmt.Errorf("failed to reverse transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := c.GetTransaction(ctx, id); err != nil {
		return err
	}
	return lending.ErrAlreadyReversed
}

func (c *conn) Transactions(ctx context.Context, loanID lending.LoanID) ([]lending.RepaymentTransaction, error) {
	rows, err := c.query(ctx, `
		SELECT `+transactionColumns+` FROM repayment_transactions
		WHERE loan_id = ?
		ORDER BY paid_on, id
	`, string(loanID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lending.RepaymentTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(s scanner) (lending.RepaymentTransaction, error) {
	var (
		id, loanID, amount, paidOn, principal, interest, penalty string
		effectPrincipal, effectInterest, lines                 string
		method, reversedOn                                     sql.NullString
		reversed                                               int
	)
	if err := s.Scan(&id, &loanID, &amount, &paidOn, &method, &principal, &interest, &penalty,
		&effectPrincipal, &effectInterest, &lines, &reversed, &reversedOn); err != nil {
		return lending.RepaymentTransaction{}, err
	}

	var d decoder
	tx := lending.RepaymentTransaction{
		ID:         lending.TransactionID(id),
		LoanID:     lending.LoanID(loanID),
		Amount:     d.decimal(amount),
		PaidOn:     d.date(paidOn),
		Method:     method.String,
		Principal:  d.decimal(principal),
		Interest:   d.decimal(interest),
		Penalty:    d.decimal(penalty),
		Effect: lending.LoanEffect{
			Principal:       d.decimal(effectPrincipal),
			AccruedInterest: d.decimal(effectInterest),
		},
		Reversed:   reversed != 0,
		ReversedOn: d.nullDate(reversedOn),
	}
	if d.err == nil {
		if err := json.Unmarshal([]byte(lines), &tx.Lines); err != nil {
			d.err = fmt.Errorf("allocation lines: %w", err)
		}
	}
	if d.err != nil {
		return lending.RepaymentTransaction{}, fmt.Errorf("corrupt transaction row %s: %w", id, d.err)
	}
	return tx, nil
}

// =============================================================================
// CLASSIFICATION HISTORY (append-only)
// =============================================================================

// AppendClassification numbers records per loan in append order. Writes for
// one loan are serialized by the caller's loan lock, so MAX(seq)+1 is safe.
func (c *conn) AppendClassification(ctx context.Context, r lending.LoanClassificationRecord) error {
	var seq int
	if err := c.queryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM classification_records WHERE loan_id = ?
	`, string(r.LoanID)).Scan(&seq); err != nil {
		return fmt.Errorf("failed to number classification %s: %w", r.ID, err)
	}

	_, err := c.exec(ctx, `
		INSERT INTO classification_records (id, loan_id, classified_on, previous_tier, new_tier,
			days_in_arrears, outstanding_principal, accrued_interest, collateral_value,
			net_exposure, provisioning_rate, provision_required, trigger_type, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID, string(r.LoanID), r.ClassifiedOn.String(), nullString(string(r.PreviousTier)),
		string(r.NewTier), r.DaysInArrears, r.OutstandingPrincipal.String(),
		r.AccruedInterest.String(), r.CollateralValue.String(), r.NetExposure.String(),
		r.ProvisioningRate.String(), r.ProvisionRequired.String(), string(r.Trigger), seq, nowStamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to append classification %s: %w", r.ID, err)
	}
	return nil
}

func (c *conn) ClassificationHistory(ctx context.Context, id lending.LoanID) ([]lending.LoanClassificationRecord, error) {
	rows, err := c.query(ctx, `
		SELECT id, classified_on, previous_tier, new_tier, days_in_arrears,
		       outstanding_principal, accrued_interest, collateral_value, net_exposure,
		       provisioning_rate, provision_required, trigger_type
		FROM classification_records
		WHERE loan_id = ?
		ORDER BY seq
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lending.LoanClassificationRecord
	for rows.Next() {
		var (
			recID, on, newTier, principal, interest, collateral string
			net, rate, provision, trigger                       string
			prevTier                                            sql.NullString
			days                                                int
		)
		if err := rows.Scan(&recID, &on, &prevTier, &newTier, &days, &principal, &interest,
			&collateral, &net, &rate, &provision, &trigger); err != nil {
			return nil, err
		}
		var d decoder
		rec := lending.LoanClassificationRecord{
			ID:                   recID,
			LoanID:               id,
			ClassifiedOn:         d.date(on),
			PreviousTier:         lending.Tier(prevTier.String),
			NewTier:              lending.Tier(newTier),
			DaysInArrears:        days,
			OutstandingPrincipal: d.decimal(principal),
			AccruedInterest:      d.decimal(interest),
			CollateralValue:      d.decimal(collateral),
			NetExposure:          d.decimal(net),
			ProvisioningRate:     d.decimal(rate),
			ProvisionRequired:    d.decimal(provision),
			Trigger:              lending.ClassificationTrigger(trigger),
		}
		if d.err != nil {
			return nil, fmt.Errorf("corrupt classification record %s: %w", recID, d.err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (c *conn) TiersAsOf(ctx context.Context, on lending.Date) (lending.PortfolioSnapshot, error) {
	// Rows arrive oldest first per loan; the last one seen wins.
	rows, err := c.query(ctx, `
		SELECT loan_id, new_tier FROM classification_records
		WHERE classified_on <= ?
		ORDER BY loan_id, classified_on, seq
	`, on.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshot := make(lending.PortfolioSnapshot)
	for rows.Next() {
		var loanID, tier string
		if err := rows.Scan(&loanID, &tier); err != nil {
			return nil, err
		}
		snapshot[lending.LoanID(loanID)] = lending.Tier(tier)
	}
	return snapshot, rows.Err()
}

// =============================================================================
// DECODING
// =============================================================================

// decoder parses TEXT columns and keeps the first error.
type decoder struct {
	err error
}

func (d *decoder) decimal(s string) decimal.Decimal {
	if d.err != nil {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.err = err
	}
	return v
}

func (d *decoder) date(s string) lending.Date {
	if d.err != nil {
		return lending.Date{}
	}
	v, err := lending.ParseDate(s)
	if err != nil {
		d.err = err
	}
	return v
}

func (d *decoder) nullDate(s sql.NullString) lending.Date {
	if !s.Valid || s.String == "" {
		return lending.Date{}
	}
	return d.date(s.String)
}
