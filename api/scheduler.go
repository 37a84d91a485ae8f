/*
scheduler.go - Automated daily pass scheduler

PURPOSE:
  Runs the daily accrual and reclassification pass for the whole book on a
  cron schedule. The pass is idempotent per as-of date, so a restart that
  fires it twice on the same day changes nothing.

DESIGN:
  - robfig/cron/v3 with a standard 5-field spec (default "5 0 * * *")
  - SkipIfStillRunning: a slow pass is never overlapped by the next tick
  - asOf is today in UTC at fire time; the engine itself never reads the clock
  - Stop cancels the in-flight pass; loans already started finish, the rest
    are left for the next run to catch up
  - A pass that fails to start (the loan list cannot be read) is retried up
    to Retries times, waiting RetryDelay and doubling it each attempt.
    Per-loan failures are not retried; the next run catches them up.

USAGE:
  scheduler, err := NewBatchScheduler(job, "5 0 * * *", logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunBatch endpoint (manual trigger)
  - servicing/batch.go: BatchJob.RunDailyPass
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/lending"
	"github.com/warp/loan-engine/servicing"
)

const (
	defaultRetries    = 3
	defaultRetryDelay = 30 * time.Second
)

// BatchScheduler fires the daily pass.
type BatchScheduler struct {
	Job    *servicing.BatchJob
	Spec   string
	Logger logrus.FieldLogger

	Retries    int
	RetryDelay time.Duration

	cron   *cron.Cron
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewBatchScheduler validates spec and builds a stopped scheduler.
func NewBatchScheduler(job *servicing.BatchJob, spec string, logger logrus.FieldLogger) (*BatchScheduler, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid batch cron spec %q: %w", spec, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchScheduler{
		Job:        job,
		Spec:       spec,
		Logger:     logger,
		Retries:    defaultRetries,
		RetryDelay: defaultRetryDelay,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start registers the job and starts the cron loop.
func (s *BatchScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.Spec, s.RunNow); err != nil {
		return fmt.Errorf("failed to schedule daily pass: %w", err)
	}
	s.cron.Start()
	s.Logger.WithField("spec", s.Spec).Info("[Scheduler] Started")
	return nil
}

// Stop cancels the in-flight pass and waits for it to return.
func (s *BatchScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.Logger.Info("[Scheduler] Stopped")
}

// RunNow runs the pass for today immediately.
func (s *BatchScheduler) RunNow() {
	asOf := lending.DateOf(s.now().UTC())
	log := s.Logger.WithField("as_of", asOf.String())
	log.Info("[Scheduler] Running daily pass")

	var (
		result servicing.BatchResult
		err    error
	)
	delay := s.RetryDelay
	for attempt := 0; ; attempt++ {
		result, err = s.Job.RunDailyPass(s.ctx, nil, asOf)
		if err == nil {
			break
		}
		if s.ctx.Err() != nil {
			log.WithError(err).Warn("[Scheduler] Daily pass interrupted")
			return
		}
		if attempt >= s.Retries {
			log.WithError(err).WithField("attempts", attempt+1).Error("[Scheduler] Daily pass failed, giving up until next run")
			return
		}
		log.WithError(err).WithField("attempt", attempt+1).Warnf("[Scheduler] Daily pass failed to start, retrying in %s", delay)
		select {
		case <-s.ctx.Done():
			log.Warn("[Scheduler] Daily pass interrupted")
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
	log.WithFields(logrus.Fields{
		"run_id":       result.RunID,
		"processed":    result.Processed,
		"skipped":      result.Skipped,
		"reclassified": result.Reclassified,
		"failed":       len(result.Errors),
	}).Info("[Scheduler] Daily pass completed")
}

// NextRun returns when the pass fires next, or the zero time when stopped.
func (s *BatchScheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
