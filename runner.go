package photoflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// runner is the polling consumer: one timer-driven loop per process that
// claims eligible jobs and dispatches them to handlers.
type runner struct {
	flow   *Flow
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wakeup chan struct{}
}

func startRunner(ctx context.Context, f *Flow) *runner {
	runCtx, cancel := context.WithCancel(ctx)
	r := &runner{
		flow:   f,
		cfg:    f.cfg,
		ctx:    runCtx,
		cancel: cancel,
		wakeup: make(chan struct{}, 1),
	}

	f.cfg.logInfo(LogEvent{
		Message:  fmt.Sprintf("runner started (batch %d, poll %s)", f.cfg.BatchSize, f.cfg.PollInterval),
		RunnerID: f.cfg.RunnerID,
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run()
	}()
	return r
}

// run polls the job store until the context is canceled. The loop suspends
// between cycles; a wakeup signal from Enqueue shortcuts the wait.
func (r *runner) run() {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.cfg.logInfo(LogEvent{
				Message:  "runner context canceled, stopping",
				RunnerID: r.cfg.RunnerID,
			})
			return
		case <-ticker.C:
		case <-r.wakeup:
		}

		if _, err := runCycle(r.ctx, r.flow, r.cfg.BatchSize); err != nil {
			r.cfg.logError(LogEvent{
				Message:  "poll cycle failed",
				RunnerID: r.cfg.RunnerID,
				Err:      err,
			})
		}
	}
}

// shutdown attempts a graceful stop: cancel the loop, wait up to timeout.
func (r *runner) shutdown(timeout time.Duration) {
	r.cfg.logInfo(LogEvent{Message: "shutdown requested, stopping runner", RunnerID: r.cfg.RunnerID})
	r.cancel()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		r.cfg.logInfo(LogEvent{Message: "runner exited cleanly", RunnerID: r.cfg.RunnerID})
	case <-time.After(timeout):
		r.cfg.logError(LogEvent{
			Message:  fmt.Sprintf("shutdown timed out after %v, a handler may still be running", timeout),
			RunnerID: r.cfg.RunnerID,
		})
	}
}

// runCycle performs one full poll cycle: reclaim stale locks, adopt
// operator-forced jobs, claim a batch of pending jobs, execute each claimed
// job under bounded concurrency, and record outcomes. Handler failures are
// captured on the job row and never propagate out of the cycle.
func runCycle(ctx context.Context, f *Flow, batchSize int) (CycleSummary, error) {
	start := time.Now()
	cfg := f.cfg
	var summary CycleSummary

	reclaimed, err := reclaimStaleJobs(ctx, cfg.DB, dbNow().Add(-cfg.LockTimeout))
	if err != nil {
		return summary, fmt.Errorf("stale lock reclaim failed: %w", err)
	}
	summary.Reclaimed = reclaimed
	if reclaimed > 0 {
		cfg.logInfo(LogEvent{
			Message:  fmt.Sprintf("reclaimed %d stale jobs", reclaimed),
			RunnerID: cfg.RunnerID,
		})
	}

	claimed := make([]*Job, 0, batchSize)

	// Operator-forced jobs run ahead of the pending batch.
	forced, err := selectForcedJobs(ctx, cfg.DB, batchSize)
	if err != nil {
		return summary, fmt.Errorf("failed to select forced jobs: %w", err)
	}
	for _, job := range forced {
		if job.LockedBy == nil || !strings.HasPrefix(*job.LockedBy, operatorLockPrefix) {
			continue
		}
		ok, err := adoptForcedJob(ctx, cfg.DB, job.ID, *job.LockedBy, cfg.RunnerID)
		if err != nil {
			return summary, fmt.Errorf("failed to adopt forced job %s: %w", job.ID, err)
		}
		if ok {
			claimed = append(claimed, job)
		}
	}

	if remaining := batchSize - len(claimed); remaining > 0 {
		pending, err := selectPendingJobs(ctx, cfg.DB, remaining)
		if err != nil {
			return summary, fmt.Errorf("failed to select pending jobs: %w", err)
		}
		for _, job := range pending {
			ok, err := claimJob(ctx, cfg.DB, job.ID, cfg.RunnerID)
			if err != nil {
				return summary, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
			}
			// Another runner won the row; skip silently.
			if ok {
				claimed = append(claimed, job)
			}
		}
	}

	summary.Claimed = len(claimed)
	metricJobsClaimed.Add(float64(len(claimed)))

	maxParallel := cfg.MaxConcurrency
	if maxParallel <= 0 {
		maxParallel = len(claimed)
	}
	sem := make(chan struct{}, max(maxParallel, 1))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, job := range claimed {
		wg.Add(1)
		sem <- struct{}{}
		go func(job *Job) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := processJob(ctx, f, job)
			mu.Lock()
			switch outcome {
			case outcomeSucceeded:
				summary.Succeeded++
			case outcomeFailed:
				summary.Failed++
			case outcomeDiscarded:
				summary.Discarded++
			}
			mu.Unlock()
		}(job)
	}
	wg.Wait()

	summary.Duration = time.Since(start)
	metricCycleDuration.Observe(summary.Duration.Seconds())
	if summary.Claimed > 0 {
		d := summary.Duration
		cfg.logInfo(LogEvent{
			Message: fmt.Sprintf("cycle done: claimed=%d succeeded=%d failed=%d discarded=%d",
				summary.Claimed, summary.Succeeded, summary.Failed, summary.Discarded),
			RunnerID: cfg.RunnerID,
			Duration: &d,
		})
	}
	return summary, nil
}

// jobOutcome classifies what processJob did with a claimed job.
type jobOutcome int

const (
	outcomeSucceeded jobOutcome = iota
	outcomeFailed
	outcomeDiscarded
)

// processJob executes a single claimed job and records its outcome.
func processJob(ctx context.Context, f *Flow, job *Job) jobOutcome {
	cfg := f.cfg
	start := time.Now()
	execErr := executeJob(ctx, f, job)

	final := JobCompleted
	if execErr != nil {
		final = JobFailed
	}

	// The outcome write must land even when the runner context is already
	// canceled, otherwise a graceful shutdown strands the job RUNNING until
	// the stale-lock reclaim pass consumes one of its attempts.
	wrote, err := finishJob(context.WithoutCancel(ctx), cfg.DB, job.ID, cfg.RunnerID, final, execErr)
	if err != nil {
		cfg.logError(LogEvent{
			Message:  "failed to record job outcome",
			RunnerID: cfg.RunnerID,
			JobID:    job.ID,
			JobType:  job.Type,
			Err:      err,
		})
		return outcomeFailed
	}
	if !wrote {
		// The job left RUNNING under our lock, i.e. an operator cancelled it
		// mid-flight. The stored state wins; the handler outcome is dropped.
		cfg.logInfo(LogEvent{
			Message:  "job no longer owned at completion, outcome discarded",
			RunnerID: cfg.RunnerID,
			JobID:    job.ID,
			JobType:  job.Type,
		})
		return outcomeDiscarded
	}

	elapsed := time.Since(start)
	metricJobsProcessed.WithLabelValues(string(job.Type), string(final)).Inc()
	metricJobDuration.WithLabelValues(string(job.Type)).Observe(elapsed.Seconds())

	if execErr != nil {
		cfg.logError(LogEvent{
			Message:  fmt.Sprintf("job failed in %v", elapsed),
			RunnerID: cfg.RunnerID,
			JobID:    job.ID,
			JobType:  job.Type,
			ImageID:  job.ImageID,
			Duration: &elapsed,
			Err:      execErr,
		})
		return outcomeFailed
	}
	cfg.logInfo(LogEvent{
		Message:  fmt.Sprintf("job completed in %v", elapsed),
		RunnerID: cfg.RunnerID,
		JobID:    job.ID,
		JobType:  job.Type,
		ImageID:  job.ImageID,
		Duration: &elapsed,
	})
	return outcomeSucceeded
}

// executeJob dispatches to the registered handler, optionally enforcing the
// configured per-job timeout. A handler that overruns the timeout keeps its
// goroutine but no longer blocks the batch; the job is failed with a timeout
// error.
func executeJob(ctx context.Context, f *Flow, job *Job) error {
	handler, err := f.getHandler(job.Type)
	if err != nil {
		return err
	}

	if f.cfg.JobTimeout <= 0 {
		return handler(ctx, job)
	}

	jobCtx, cancel := context.WithTimeout(ctx, f.cfg.JobTimeout)
	defer cancel()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- handler(jobCtx, job)
	}()

	select {
	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("job timed out after %s", f.cfg.JobTimeout)
		}
		return jobCtx.Err()
	case err := <-doneCh:
		return err
	}
}
