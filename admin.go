package photoflow

import (
	"context"
	"fmt"
)

// operatorLockPrefix attributes a force-run lock to a human rather than a
// runner instance. The next poll cycle adopts rows locked this way.
const operatorLockPrefix = "operator:"

// CancelJob transitions a PENDING or RUNNING job to CANCELLED and clears its
// lock. Cancellation is cooperative: an in-flight handler is not interrupted,
// but its outcome write loses against the cancelled state. Any other source
// state is rejected with an InvalidTransitionError.
func (f *Flow) CancelJob(ctx context.Context, jobID string) (*Job, error) {
	ok, err := cancelJobRow(ctx, f.cfg.DB, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, f.rejectTransition(ctx, jobID, "cancel", "only PENDING or RUNNING jobs can be cancelled")
	}
	f.cfg.logInfo(LogEvent{Message: "job cancelled", JobID: jobID})
	return getJob(ctx, f.cfg.DB, jobID)
}

// RetryJob resubmits a FAILED job to PENDING, consuming one attempt and
// clearing its last error. Rejected when the job is not FAILED or its
// attempts are exhausted.
func (f *Flow) RetryJob(ctx context.Context, jobID string) (*Job, error) {
	ok, err := retryJobRow(ctx, f.cfg.DB, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, f.rejectTransition(ctx, jobID, "retry", "only FAILED jobs with attempts remaining can be retried")
	}
	f.cfg.logInfo(LogEvent{Message: "job resubmitted for retry", JobID: jobID})
	f.wake()
	return getJob(ctx, f.cfg.DB, jobID)
}

// ForceRunJob marks an unlocked PENDING job RUNNING under an
// operator-attributed lock. It does not execute the handler itself; the next
// poll cycle (of any runner instance) adopts and runs the job. Rejected when
// the job is not PENDING or already locked.
func (f *Flow) ForceRunJob(ctx context.Context, jobID, operator string) (*Job, error) {
	if operator == "" {
		operator = "unattributed"
	}
	ok, err := forceRunJobRow(ctx, f.cfg.DB, jobID, operatorLockPrefix+operator)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, f.rejectTransition(ctx, jobID, "force-run", "only unlocked PENDING jobs can be force-run")
	}
	f.cfg.logInfo(LogEvent{Message: fmt.Sprintf("job force-run requested by %s", operator), JobID: jobID})
	f.wake()
	return getJob(ctx, f.cfg.DB, jobID)
}

// GetJob returns one job by id, or ErrJobNotFound.
func (f *Flow) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return getJob(ctx, f.cfg.DB, jobID)
}

// ListJobs returns jobs matching the filter, newest first.
func (f *Flow) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	return listJobs(ctx, f.cfg.DB, filter)
}

// rejectTransition builds the InvalidTransitionError for a conditional update
// that affected no rows, looking the job up for its current status. A missing
// job surfaces as ErrJobNotFound instead.
func (f *Flow) rejectTransition(ctx context.Context, jobID, action, reason string) error {
	job, err := getJob(ctx, f.cfg.DB, jobID)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{
		JobID:  jobID,
		Action: action,
		Status: job.Status,
		Reason: reason,
	}
}
