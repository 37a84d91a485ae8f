// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state
}

type state struct {
	loans           map[lending.LoanID]lending.LoanAccount
	installments    map[lending.LoanID][]lending.RepaymentInstallment
	transactions    map[lending.TransactionID]lending.RepaymentTransaction
	classifications map[lending.LoanID][]lending.LoanClassificationRecord
	recordIDs       map[string]bool
	runs            []lending.BatchRun
}

func newState() state {
	return state{
		loans:           make(map[lending.LoanID]lending.LoanAccount),
		installments:    make(map[lending.LoanID][]lending.RepaymentInstallment),
		transactions:    make(map[lending.TransactionID]lending.RepaymentTransaction),
		classifications: make(map[lending.LoanID][]lending.LoanClassificationRecord),
		recordIDs:       make(map[string]bool),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

// Reset drops everything. Used by the demo scenario loader.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

func (m *Memory) GetLoan(_ context.Context, id lending.LoanID) (*lending.LoanAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLoan(id)
}

func (m *Memory) ListLoans(_ context.Context) ([]lending.LoanAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLoans(), nil
}

func (m *Memory) SaveLoan(_ context.Context, loan lending.LoanAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[loan.ID] = loan
	return nil
}

func (m *Memory) Installments(_ context.Context, id lending.LoanID) ([]lending.RepaymentInstallment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lending.CloneInstallments(m.installments[id]), nil
}

func (m *Memory) SaveInstallments(_ context.Context, id lending.LoanID, installments []lending.RepaymentInstallment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveInstallments(id, installments)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id lending.TransactionID) (*lending.RepaymentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransaction(id)
}

func (m *Memory) SaveTransaction(_ context.Context, tx lending.RepaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveTransaction(tx)
}

func (m *Memory) MarkReversed(_ context.Context, id lending.TransactionID, on lending.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markReversed(id, on)
}

func (m *Memory) Transactions(_ context.Context, loanID lending.LoanID) ([]lending.RepaymentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loanTransactions(loanID), nil
}

func (m *Memory) AppendClassification(_ context.Context, record lending.LoanClassificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendClassification(record)
	return nil
}

func (m *Memory) ClassificationHistory(_ context.Context, id lending.LoanID) ([]lending.LoanClassificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]lending.LoanClassificationRecord(nil), m.classifications[id]...), nil
}

func (m *Memory) TiersAsOf(_ context.Context, on lending.Date) (lending.PortfolioSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tiersAsOf(on), nil
}

func (m *Memory) SaveBatchRun(_ context.Context, run lending.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListBatchRuns(_ context.Context, limit int) ([]lending.BatchRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]lending.BatchRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// LOCK-FREE HELPERS (callers hold mu)
// =============================================================================

func (s *state) getLoan(id lending.LoanID) (*lending.LoanAccount, error) {
	loan, ok := s.loans[id]
	if !ok {
		return nil, lending.ErrLoanNotFound
	}
	return &loan, nil
}

func (s *state) listLoans() []lending.LoanAccount {
	out := make([]lending.LoanAccount, 0, len(s.loans))
	for _, loan := range s.loans {
		out = append(out, loan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) saveInstallments(id lending.LoanID, installments []lending.RepaymentInstallment) {
	sorted := lending.CloneInstallments(installments)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].DueDate.Equal(sorted[j].DueDate) {
			return sorted[i].DueDate.Before(sorted[j].DueDate)
		}
		return sorted[i].Sequence < sorted[j].Sequence
	})
	s.installments[id] = sorted
}

func (s *state) getTransaction(id lending.TransactionID) (*lending.RepaymentTransaction, error) {
	tx, ok := s.transactions[id]
	if !ok {
		return nil, lending.ErrTransactionNotFound
	}
	return &tx, nil
}

func (s *state) saveTransaction(tx lending.RepaymentTransaction) error {
	if _, exists := s.transactions[tx.ID]; exists {
		return &lending.ReplayedTransactionError{TransactionID: tx.ID}
	}
	s.transactions[tx.ID] = tx
	return nil
}

func (s *state) markReversed(id lending.TransactionID, on lending.Date) error {
	tx, ok := s.transactions[id]
	if !ok {
		return lending.ErrTransactionNotFound
	}
	if tx.Reversed {
		return lending.ErrAlreadyReversed
	}
	tx.Reversed = true
	tx.ReversedOn = on
	s.transactions[id] = tx
	return nil
}

func (s *state) loanTransactions(loanID lending.LoanID) []lending.RepaymentTransaction {
	var out []lending.RepaymentTransaction
	for _, tx := range s.transactions {
		if tx.LoanID == loanID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaidOn.Equal(out[j].PaidOn) {
			return out[i].PaidOn.Before(out[j].PaidOn)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) appendClassification(record lending.LoanClassificationRecord) {
	if s.recordIDs[record.ID] {
		return
	}
	s.recordIDs[record.ID] = true
	s.classifications[record.LoanID] = append(s.classifications[record.LoanID], record)
}

func (s *state) tiersAsOf(on lending.Date) lending.PortfolioSnapshot {
	snapshot := make(lending.PortfolioSnapshot)
	for id, records := range s.classifications {
		var latest *lending.LoanClassificationRecord
		for i := range records {
			r := &records[i]
			if r.ClassifiedOn.After(on) {
				continue
			}
			// same-day records: the later append wins
			if latest == nil || !r.ClassifiedOn.Before(latest.ClassifiedOn) {
				latest = r
			}
		}
		if latest != nil {
			snapshot[id] = latest.NewTier
		}
	}
	return snapshot
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.installments {
		c.installments[k] = lending.CloneInstallments(v)
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.classifications {
		c.classifications[k] = append([]lending.LoanClassificationRecord(nil), v...)
	}
	for k, v := range s.recordIDs {
		c.recordIDs[k] = v
	}
	c.runs = append([]lending.BatchRun(nil), s.runs...)
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(lending.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()

	if err := fn(&txMemoryView{s: &tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

// txMemoryView operates on the parent state while the parent lock is held.
type txMemoryView struct {
	s *state
}

func (v *txMemoryView) GetLoan(_ context.Context, id lending.LoanID) (*lending.LoanAccount, error) {
	return v.s.getLoan(id)
}

func (v *txMemoryView) ListLoans(_ context.Context) ([]lending.LoanAccount, error) {
	return v.s.listLoans(), nil
}

func (v *txMemoryView) SaveLoan(_ context.Context, loan lending.LoanAccount) error {
	v.s.loans[loan.ID] = loan
	return nil
}

func (v *txMemoryView) Installments(_ context.Context, id lending.LoanID) ([]lending.RepaymentInstallment, error) {
	return lending.CloneInstallments(v.s.installments[id]), nil
}

func (v *txMemoryView) SaveInstallments(_ context.Context, id lending.LoanID, installments []lending.RepaymentInstallment) error {
	v.s.saveInstallments(id, installments)
	return nil
}

func (v *txMemoryView) GetTransaction(_ context.Context, id lending.TransactionID) (*lending.RepaymentTransaction, error) {
	return v.s.getTransaction(id)
}

func (v *txMemoryView) SaveTransaction(_ context.Context, tx lending.RepaymentTransaction) error {
	return v.s.saveTransaction(tx)
}

func (v *txMemoryView) MarkReversed(_ context.Context, id lending.TransactionID, on lending.Date) error {
	return v.s.markReversed(id, on)
}

func (v *txMemoryView) Transactions(_ context.Context, loanID lending.LoanID) ([]lending.RepaymentTransaction, error) {
	return v.s.loanTransactions(loanID), nil
}

func (v *txMemoryView) AppendClassification(_ context.Context, record lending.LoanClassificationRecord) error {
	v.s.appendClassification(record)
	return nil
}

func (v *txMemoryView) ClassificationHistory(_ context.Context, id lending.LoanID) ([]lending.LoanClassificationRecord, error) {
	return append([]lending.LoanClassificationRecord(nil), v.s.classifications[id]...), nil
}

func (v *txMemoryView) TiersAsOf(_ context.Context, on lending.Date) (lending.PortfolioSnapshot, error) {
	return v.s.tiersAsOf(on), nil
}
