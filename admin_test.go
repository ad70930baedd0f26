package photoflow

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlow(t *testing.T) (*Flow, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(Config{DB: db, RunnerID: "runner-test"}), mock
}

func pendingRow(id string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(jobCols).
		AddRow(id, "THUMBNAIL_GENERATION", "PENDING", nil, 0, 3, nil, nil, nil, "img1", now, now)
}

func rowWithStatus(id, status string, attempts, maxAttempts uint) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(jobCols).
		AddRow(id, "THUMBNAIL_GENERATION", status, nil, attempts, maxAttempts, nil, nil, nil, "img1", now, now)
}

func TestCancelPendingJob(t *testing.T) {
	f, mock := newTestFlow(t)

	mock.ExpectExec(`SET status = 'CANCELLED'`).
		WithArgs(sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \?`).
		WithArgs("job-1").
		WillReturnRows(rowWithStatus("job-1", "CANCELLED", 0, 3))

	job, err := f.CancelJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, job.Status)
	assert.False(t, job.Locked())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelCompletedJobRejected(t *testing.T) {
	f, mock := newTestFlow(t)

	mock.ExpectExec(`SET status = 'CANCELLED'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \?`).
		WillReturnRows(rowWithStatus("job-1", "COMPLETED", 0, 3))

	_, err := f.CancelJob(context.Background(), "job-1")
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, JobCompleted, transition.Status)
	assert.Equal(t, "cancel", transition.Action)
}

func TestRetryFailedJobConsumesAttempt(t *testing.T) {
	f, mock := newTestFlow(t)

	mock.ExpectExec(`SET status = 'PENDING', attempts = attempts \+ 1`).
		WithArgs(sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \?`).
		WillReturnRows(rowWithStatus("job-1", "PENDING", 1, 3))

	job, err := f.RetryJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
	assert.Equal(t, uint(1), job.Attempts)
	assert.Nil(t, job.LastError)
}

func TestRetryRejectedOnceAttemptsExhausted(t *testing.T) {
	f, mock := newTestFlow(t)

	// The conditional update requires attempts < max_attempts; however many
	// times retry is invoked, an exhausted job never matches.
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`SET status = 'PENDING', attempts = attempts \+ 1`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \?`).
			WillReturnRows(rowWithStatus("job-1", "FAILED", 3, 3))
	}

	for i := 0; i < 3; i++ {
		_, err := f.RetryJob(context.Background(), "job-1")
		var transition *InvalidTransitionError
		require.ErrorAs(t, err, &transition)
		assert.Equal(t, "retry", transition.Action)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryCancelledJobRejected(t *testing.T) {
	f, mock := newTestFlow(t)

	mock.ExpectExec(`SET status = 'PENDING', attempts = attempts \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \?`).
		WillReturnRows(rowWithStatus("job-1", "CANCELLED", 0, 3))

	_, err := f.RetryJob(context.Background(), "job-1")
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, JobCancelled, transition.Status)
}

func TestForceRunMarksOperatorLock(t *testing.T) {
	f, mock := newTestFlow(t)

	mock.ExpectExec(`SET status = 'RUNNING'`).
		WithArgs(sqlmock.AnyArg(), "operator:alex", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \?`).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("job-1", "THUMBNAIL_GENERATION", "RUNNING", nil, 0, 3, nil,
				now, "operator:alex", "img1", now, now))

	job, err := f.ForceRunJob(context.Background(), "job-1", "alex")
	require.NoError(t, err)
	assert.Equal(t, JobRunning, job.Status)
	require.True(t, job.Locked())
	assert.Equal(t, "operator:alex", *job.LockedBy)
}

func TestForceRunLockedJobRejected(t *testing.T) {
	f, mock := newTestFlow(t)

	mock.ExpectExec(`SET status = 'RUNNING'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \?`).
		WillReturnRows(rowWithStatus("job-1", "RUNNING", 0, 3))

	_, err := f.ForceRunJob(context.Background(), "job-1", "alex")
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, "force-run", transition.Action)
}

func TestAdminActionOnMissingJob(t *testing.T) {
	f, mock := newTestFlow(t)

	mock.ExpectExec(`SET status = 'CANCELLED'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \?`).
		WillReturnRows(sqlmock.NewRows(jobCols))

	_, err := f.CancelJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
