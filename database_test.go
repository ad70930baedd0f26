package photoflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobCols = []string{
	"id", "type", "status", "payload", "attempts", "max_attempts",
	"last_error", "locked_at", "locked_by", "image_id", "created_at", "updated_at",
}

func TestClaimJobWinsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(sqlmock.AnyArg(), "runner-a", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := claimJob(context.Background(), db, "job-1", "runner-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJobLosesRaceAffectsZeroRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Another runner already transitioned the row; the conditional update
	// matches nothing and the claim fails silently.
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(sqlmock.AnyArg(), "runner-b", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := claimJob(context.Background(), db, "job-1", "runner-b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobRespectsCancelledState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// The job was cancelled while the handler ran: it is no longer RUNNING
	// under our lock, so the completion write must affect zero rows rather
	// than clobber CANCELLED back to COMPLETED.
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("COMPLETED", nil, sqlmock.AnyArg(), "job-1", "runner-a").
		WillReturnResult(sqlmock.NewResult(0, 0))

	wrote, err := finishJob(context.Background(), db, "job-1", "runner-a", JobCompleted, nil)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobRecordsFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("FAILED", "unsupported format", sqlmock.AnyArg(), "job-2", "runner-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	wrote, err := finishJob(context.Background(), db, "job-2", "runner-a", JobFailed, errors.New("unsupported format"))
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReclaimStaleJobsCountsBothPasses(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SET status = 'PENDING', attempts = attempts \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`SET status = 'FAILED'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := reclaimStaleJobs(context.Background(), db, time.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectPendingJobsOldestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(jobCols).
		AddRow("job-old", "THUMBNAIL_GENERATION", "PENDING", []byte(`{"imageId":"img1"}`),
			0, 3, nil, nil, nil, "img1", now.Add(-time.Hour), now.Add(-time.Hour)).
		AddRow("job-new", "PREVIEW_GENERATION", "PENDING", []byte(`{"imageId":"img2"}`),
			0, 3, nil, nil, nil, "img2", now, now)
	mock.ExpectQuery(`WHERE status = 'PENDING' AND locked_by IS NULL`).
		WithArgs(5).
		WillReturnRows(rows)

	jobs, err := selectPendingJobs(context.Background(), db, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-old", jobs[0].ID)
	assert.Equal(t, JobThumbnail, jobs[0].Type)
	assert.Equal(t, JobPending, jobs[0].Status)
	assert.JSONEq(t, `{"imageId":"img1"}`, string(jobs[0].Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \?`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(jobCols))

	_, err = getJob(context.Background(), db, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListJobsAppliesFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(jobCols).
		AddRow("job-1", "EXIF_ENRICHMENT", "FAILED", nil,
			1, 3, "boom", now.Add(-time.Minute), nil, "img9", now, now)
	mock.ExpectQuery(`WHERE 1=1 AND status = \? AND image_id = \? ORDER BY created_at DESC LIMIT \? OFFSET \?`).
		WithArgs("FAILED", "img9", 10, 20).
		WillReturnRows(rows)

	jobs, err := listJobs(context.Background(), db, JobFilter{
		Status:  JobFailed,
		ImageID: "img9",
		Limit:   10,
		Offset:  20,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "boom", *jobs[0].LastError)
	assert.True(t, jobs[0].CanRetry())
	assert.NoError(t, mock.ExpectationsWereMet())
}
