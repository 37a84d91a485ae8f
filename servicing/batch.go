/*
batch.go - Daily accrual and reclassification pass

PURPOSE:
  Advances every active loan to asOf: accrues interest for the elapsed days,
  increments delayed days on overdue installments, recomputes arrears and
  reclassifies. One loan is one atomic unit.

DESIGN:
  - Bounded worker pool (errgroup with SetLimit); loans are independent
  - Each loan: Lock -> WithTx(AdvanceDay + save) -> unlock
  - A loan's failure is recorded in BatchResult.Errors and never stops
    the others
  - Cancellation is checked before each loan starts. A loan already in
    progress finishes and commits
  - Idempotent: loans already advanced to asOf come back Skipped

AUDIT:
  Each call is persisted as a lending.BatchRun (running -> completed,
  failed or cancelled) when the store keeps runs.

ALERTS:
  Policy gaps and invalid policies go to the Alerter. They are never
  defaulted to a tier.

SEE ALSO:
  - lending/daily.go: AdvanceDay
  - api/scheduler.go: cron trigger
*/
package servicing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warp/loan-engine/lending"
	"github.com/warp/loan-engine/notify"
)

// LoanError is one loan's failure inside a pass.
type LoanError struct {
	LoanID lending.LoanID
	Err    error
}

func (e LoanError) Error() string { return fmt.Sprintf("loan %s: %v", e.LoanID, e.Err) }
func (e LoanError) Unwrap() error { return e.Err }

// BatchResult summarizes one pass.
type BatchResult struct {
	RunID string
	AsOf  lending.Date

	// Processed counts loans handled without error, Skipped included.
	Processed    int
	Skipped      int
	Accrued      int
	Reclassified int
	Cancelled    bool
	Errors       []LoanError
}

type BatchJob struct {
	Deps
	Workers int

	// Alerter receives actionable failures. Optional.
	Alerter notify.Alerter

	now func() time.Time
}

func NewBatchJob(deps Deps, workers int, alerter notify.Alerter) *BatchJob {
	if workers < 1 {
		workers = 1
	}
	return &BatchJob{Deps: deps, Workers: workers, Alerter: alerter, now: time.Now}
}

// RunDailyPass advances loanIDs (all loans when empty) to asOf.
//
// The returned error is for the pass as a whole: the loan list could not
// be read, or ctx was cancelled. Per-loan failures are in result.Errors.
func (j *BatchJob) RunDailyPass(ctx context.Context, loanIDs []lending.LoanID, asOf lending.Date) (BatchResult, error) {
	result := BatchResult{RunID: uuid.NewString(), AsOf: asOf}
	log := j.Logger.WithFields(logrus.Fields{"run_id": result.RunID, "as_of": asOf.String()})

	run := lending.BatchRun{
		ID:        result.RunID,
		AsOf:      asOf,
		Status:    lending.BatchRunning,
		StartedAt: j.now(),
	}
	j.saveRun(ctx, run, log)

	if len(loanIDs) == 0 {
		loans, err := j.Store.ListLoans(ctx)
		if err != nil {
			err = fmt.Errorf("failed to list loans: %w", err)
			j.finishRun(ctx, run, result, err, log)
			return result, err
		}
		for _, l := range loans {
			loanIDs = append(loanIDs, l.ID)
		}
	}

	// Snapshot the policy once so a concurrent PUT cannot split the pass.
	policy := j.Policy.Get()
	log.Infof("[Batch] Starting daily pass over %d loans with %d workers", len(loanIDs), j.Workers)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(j.Workers)

	for _, id := range loanIDs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			// Once started, a loan runs to commit even if ctx is cancelled.
			adv, err := j.advanceLoan(context.WithoutCancel(ctx), id, asOf, policy)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, LoanError{LoanID: id, Err: err})
				return nil
			}
			result.Processed++
			switch {
			case adv.Skipped:
				result.Skipped++
			default:
				result.Accrued++
				if adv.Reclassified {
					result.Reclassified++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var runErr error
	if ctx.Err() != nil {
		result.Cancelled = true
		runErr = ctx.Err()
	}

	for _, le := range result.Errors {
		log.WithField("loan_id", le.LoanID).WithError(le.Err).Warn("[Batch] Loan failed")
		if lending.IsActionable(le.Err) {
			j.alert(ctx, notify.Alert{
				Subject: "Daily pass: loan needs operator attention",
				RunID:   result.RunID,
				LoanID:  string(le.LoanID),
				AsOf:    asOf.String(),
				Err:     le.Err,
			}, log)
		}
	}

	j.finishRun(ctx, run, result, runErr, log)
	log.Infof("[Batch] Completed: %d processed, %d skipped, %d accrued, %d reclassified, %d failed",
		result.Processed, result.Skipped, result.Accrued, result.Reclassified, len(result.Errors))
	return result, runErr
}

func (j *BatchJob) advanceLoan(ctx context.Context, id lending.LoanID, asOf lending.Date, policy lending.ProvisioningPolicy) (lending.DayAdvance, error) {
	var adv lending.DayAdvance
	err := j.withLoan(ctx, id, func(tx lending.Store) error {
		loan, installments, err := loadLoan(ctx, tx, id)
		if err != nil {
			return err
		}
		adv, err = lending.AdvanceDay(loan, installments, policy, asOf, j.Classifier, j.Accrual)
		if err != nil {
			return err
		}
		if adv.Skipped {
			return nil
		}
		var record *lending.LoanClassificationRecord
		if adv.Reclassified {
			record = &adv.Classification.Record
		}
		return saveLoan(ctx, tx, adv.Loan, adv.Installments, record)
	})
	return adv, err
}

func (j *BatchJob) saveRun(ctx context.Context, run lending.BatchRun, log logrus.FieldLogger) {
	runs, ok := j.Store.(lending.BatchRunStore)
	if !ok {
		return
	}
	if err := runs.SaveBatchRun(context.WithoutCancel(ctx), run); err != nil {
		log.WithError(err).Error("[Batch] Failed to save run record")
	}
}

func (j *BatchJob) finishRun(ctx context.Context, run lending.BatchRun, result BatchResult, runErr error, log logrus.FieldLogger) {
	completed := j.now()
	run.Processed = result.Processed
	run.Skipped = result.Skipped
	run.Accrued = result.Accrued
	run.Reclassified = result.Reclassified
	run.Failed = len(result.Errors)
	run.CompletedAt = &completed

	switch {
	case result.Cancelled:
		run.Status = lending.BatchCancelled
		run.Error = runErr.Error()
	case runErr != nil:
		run.Status = lending.BatchFailed
		run.Error = runErr.Error()
		j.alert(ctx, notify.Alert{Subject: "Daily pass failed", RunID: run.ID, AsOf: run.AsOf.String(), Err: runErr}, log)
	default:
		run.Status = lending.BatchCompleted
		if n := len(result.Errors); n > 0 {
			run.Error = errors.Join(loanErrs(result.Errors)...).Error()
		}
	}
	j.saveRun(ctx, run, log)
}

func (j *BatchJob) alert(ctx context.Context, a notify.Alert, log logrus.FieldLogger) {
	if j.Alerter == nil {
		return
	}
	if err := j.Alerter.Alert(context.WithoutCancel(ctx), a); err != nil {
		log.WithError(err).Error("[Batch] Failed to deliver alert")
	}
}

func loanErrs(in []LoanError) []error {
	out := make([]error, len(in))
	for i, e := range in {
		out[i] = e
	}
	return out
}
