package api

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/lending"
)

// flakyStore fails ListLoans the first failures times.
type flakyStore struct {
	lending.TxStore

	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) ListLoans(ctx context.Context) ([]lending.LoanAccount, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, errors.New("database is locked")
	}
	return f.TxStore.ListLoans(ctx)
}

func (f *flakyStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewBatchScheduler_RejectsBadSpec(t *testing.T) {
	_, err := NewBatchScheduler(nil, "every day at noon", nil)
	assert.Error(t, err)
}

func TestBatchScheduler_RunNowUsesToday(t *testing.T) {
	// GIVEN: a loan 40 days late on Mar 12
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	sched, err := NewBatchScheduler(s.h.Batch, "5 0 * * *", logger)
	require.NoError(t, err)
	sched.now = func() time.Time { return time.Date(2024, time.March, 12, 0, 5, 0, 0, time.UTC) }

	// WHEN: the scheduled pass fires
	sched.RunNow()

	// THEN: the loan is advanced to that day
	loan, err := s.h.Store.GetLoan(context.Background(), "L-1")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-12", loan.LastAccruedOn.String())
	assert.Equal(t, "substandard", string(loan.Tier))
}

func TestBatchScheduler_StartStop(t *testing.T) {
	s := newTestServer(t, jan15)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sched, err := NewBatchScheduler(s.h.Batch, "@daily", logger)
	require.NoError(t, err)
	require.NoError(t, sched.Start())
	assert.False(t, sched.NextRun().IsZero())
	sched.Stop()
}

func TestBatchScheduler_RetriesPassThatFailsToStart(t *testing.T) {
	// GIVEN: a store whose loan list fails twice before recovering
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")
	flaky := &flakyStore{TxStore: s.h.Batch.Store, failures: 2}
	s.h.Batch.Store = flaky

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	sched, err := NewBatchScheduler(s.h.Batch, "5 0 * * *", logger)
	require.NoError(t, err)
	sched.RetryDelay = time.Millisecond
	sched.now = func() time.Time { return time.Date(2024, time.March, 12, 0, 5, 0, 0, time.UTC) }

	// WHEN: the scheduled pass fires
	sched.RunNow()

	// THEN: the third attempt goes through
	assert.Equal(t, 3, flaky.Calls())
	loan, err := s.h.Store.GetLoan(context.Background(), "L-1")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-12", loan.LastAccruedOn.String())
}

func TestBatchScheduler_GivesUpAfterRetries(t *testing.T) {
	// GIVEN: a store whose loan list never comes back
	s := newTestServer(t, jan15)
	s.openLoan(t, "L-1")
	flaky := &flakyStore{TxStore: s.h.Batch.Store, failures: 100}
	s.h.Batch.Store = flaky

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	sched, err := NewBatchScheduler(s.h.Batch, "5 0 * * *", logger)
	require.NoError(t, err)
	sched.Retries = 2
	sched.RetryDelay = time.Millisecond

	// WHEN: the scheduled pass fires
	sched.RunNow()

	// THEN: it stops after the first attempt plus two retries
	assert.Equal(t, 3, flaky.Calls())
	loan, err := s.h.Store.GetLoan(context.Background(), "L-1")
	require.NoError(t, err)
	assert.True(t, loan.LastAccruedOn.IsZero())
}

func TestBatchScheduler_StopInterruptsRetryWait(t *testing.T) {
	s := newTestServer(t, jan15)
	flaky := &flakyStore{TxStore: s.h.Batch.Store, failures: 100}
	s.h.Batch.Store = flaky

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	sched, err := NewBatchScheduler(s.h.Batch, "5 0 * * *", logger)
	require.NoError(t, err)
	sched.RetryDelay = time.Hour

	done := make(chan struct{})
	go func() {
		sched.RunNow()
		close(done)
	}()
	require.Eventually(t, func() bool { return flaky.Calls() == 1 }, time.Second, time.Millisecond)
	sched.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunNow still waiting after Stop")
	}
	assert.Equal(t, 1, flaky.Calls())
}
