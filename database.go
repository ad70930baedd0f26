package photoflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
  id           CHAR(36)     NOT NULL,
  type         VARCHAR(64)  NOT NULL,
  status       VARCHAR(16)  NOT NULL DEFAULT 'PENDING',
  payload      JSON         NULL,
  attempts     INT UNSIGNED NOT NULL DEFAULT 0,
  max_attempts INT UNSIGNED NOT NULL DEFAULT 3,
  last_error   TEXT         NULL,
  locked_at    DATETIME(6)  NULL,
  locked_by    VARCHAR(128) NULL,
  image_id     VARCHAR(64)  NOT NULL,
  created_at   DATETIME(6)  NOT NULL,
  updated_at   DATETIME(6)  NOT NULL,
  PRIMARY KEY (id),
  KEY idx_jobs_status_created (status, created_at),
  KEY idx_jobs_image (image_id)
)`

// InitSchema creates the jobs table if it does not exist yet.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	return nil
}

const jobColumns = `id, type, status, payload, attempts, max_attempts, last_error, locked_at, locked_by, image_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var rec Job
	var typeStr, statusStr string
	var payload []byte
	err := row.Scan(
		&rec.ID,
		&typeStr,
		&statusStr,
		&payload,
		&rec.Attempts,
		&rec.MaxAttempts,
		&rec.LastError,
		&rec.LockedAt,
		&rec.LockedBy,
		&rec.ImageID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Type = JobType(typeStr)
	rec.Status = JobStatus(statusStr)
	if len(payload) > 0 {
		rec.Payload = payload
	}
	return &rec, nil
}

func dbNow() time.Time {
	return time.Now().UTC().Round(time.Microsecond)
}

func insertJob(ctx context.Context, db *sql.DB, job *Job) error {
	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		job.ID,
		string(job.Type),
		string(job.Status),
		[]byte(job.Payload),
		job.Attempts,
		job.MaxAttempts,
		job.ImageID,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// selectPendingJobs returns up to limit unclaimed PENDING jobs, oldest first.
func selectPendingJobs(ctx context.Context, db *sql.DB, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'PENDING' AND locked_by IS NULL
		ORDER BY created_at
		LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}

// selectForcedJobs returns jobs an operator marked for immediate execution.
// They carry a RUNNING status with an operator-attributed lock owner and are
// adopted by whichever runner polls next.
func selectForcedJobs(ctx context.Context, db *sql.DB, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'RUNNING' AND locked_by LIKE 'operator:%'
		ORDER BY locked_at
		LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}

// claimJob attempts the PENDING -> RUNNING transition for one job. The
// conditional update is the sole concurrency-control primitive: when two
// runners race on the same row, exactly one update affects a row.
func claimJob(ctx context.Context, db *sql.DB, jobID, runnerID string) (bool, error) {
	stmt := `UPDATE jobs
		SET status = 'RUNNING', locked_at = ?, locked_by = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING' AND locked_by IS NULL`
	now := dbNow()
	res, err := db.ExecContext(ctx, stmt, now, runnerID, now, jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// adoptForcedJob transfers an operator-forced lock to this runner. Conditional
// on the lock owner being unchanged so two runners cannot both adopt it.
func adoptForcedJob(ctx context.Context, db *sql.DB, jobID, operatorOwner, runnerID string) (bool, error) {
	stmt := `UPDATE jobs
		SET locked_at = ?, locked_by = ?, updated_at = ?
		WHERE id = ? AND status = 'RUNNING' AND locked_by = ?`
	now := dbNow()
	res, err := db.ExecContext(ctx, stmt, now, runnerID, now, jobID, operatorOwner)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// finishJob records a handler outcome, clearing the lock. The update is
// conditional on the job still being RUNNING under this runner's lock, so a
// cancellation that landed mid-flight is never clobbered. Returns false when
// the outcome write lost that race.
func finishJob(ctx context.Context, db *sql.DB, jobID, runnerID string, final JobStatus, execErr error) (bool, error) {
	var lastErr *string
	if execErr != nil {
		msg := execErr.Error()
		lastErr = &msg
	}
	stmt := `UPDATE jobs
		SET status = ?, last_error = ?, locked_at = NULL, locked_by = NULL, updated_at = ?
		WHERE id = ? AND status = 'RUNNING' AND locked_by = ?`
	res, err := db.ExecContext(ctx, stmt, string(final), lastErr, dbNow(), jobID, runnerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// reclaimStaleJobs recovers RUNNING jobs whose lock is older than cutoff,
// meaning the owning runner is presumed dead. Jobs with attempts left are
// resubmitted to PENDING (consuming an attempt); exhausted ones are failed.
func reclaimStaleJobs(ctx context.Context, db *sql.DB, cutoff time.Time) (int, error) {
	now := dbNow()
	resubmit := `UPDATE jobs
		SET status = 'PENDING', attempts = attempts + 1,
		    last_error = 'runner lock expired', locked_at = NULL, locked_by = NULL, updated_at = ?
		WHERE status = 'RUNNING' AND locked_at < ? AND attempts < max_attempts`
	res, err := db.ExecContext(ctx, resubmit, now, cutoff)
	if err != nil {
		return 0, err
	}
	resubmitted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	exhaust := `UPDATE jobs
		SET status = 'FAILED',
		    last_error = 'runner lock expired, attempts exhausted', locked_at = NULL, locked_by = NULL, updated_at = ?
		WHERE status = 'RUNNING' AND locked_at < ? AND attempts >= max_attempts`
	res, err = db.ExecContext(ctx, exhaust, now, cutoff)
	if err != nil {
		return int(resubmitted), err
	}
	exhausted, err := res.RowsAffected()
	if err != nil {
		return int(resubmitted), err
	}
	return int(resubmitted + exhausted), nil
}

// cancelJobRow performs PENDING|RUNNING -> CANCELLED, clearing the lock.
func cancelJobRow(ctx context.Context, db *sql.DB, jobID string) (bool, error) {
	stmt := `UPDATE jobs
		SET status = 'CANCELLED', locked_at = NULL, locked_by = NULL, updated_at = ?
		WHERE id = ? AND status IN ('PENDING', 'RUNNING')`
	res, err := db.ExecContext(ctx, stmt, dbNow(), jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// retryJobRow performs FAILED -> PENDING while attempts remain, consuming one
// attempt and clearing last_error and the lock.
func retryJobRow(ctx context.Context, db *sql.DB, jobID string) (bool, error) {
	stmt := `UPDATE jobs
		SET status = 'PENDING', attempts = attempts + 1,
		    last_error = NULL, locked_at = NULL, locked_by = NULL, updated_at = ?
		WHERE id = ? AND status = 'FAILED' AND attempts < max_attempts`
	res, err := db.ExecContext(ctx, stmt, dbNow(), jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// forceRunJobRow marks an unlocked PENDING job RUNNING under an
// operator-attributed lock so the next poll cycle executes it.
func forceRunJobRow(ctx context.Context, db *sql.DB, jobID, operator string) (bool, error) {
	stmt := `UPDATE jobs
		SET status = 'RUNNING', locked_at = ?, locked_by = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING' AND locked_by IS NULL`
	now := dbNow()
	res, err := db.ExecContext(ctx, stmt, now, operator, now, jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func getJob(ctx context.Context, db *sql.DB, jobID string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	rec, err := scanJob(db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return rec, nil
}

func listJobs(ctx context.Context, db *sql.DB, filter JobFilter) ([]*Job, error) {
	conds := []string{"1=1"}
	args := []any{}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.ImageID != "" {
		conds = append(conds, "image_id = ?")
		args = append(args, filter.ImageID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		jobColumns, strings.Join(conds, " AND "))
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}
