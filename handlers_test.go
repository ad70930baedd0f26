package photoflow

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterHandlerOverwrites(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	f := New(Config{DB: db})

	var called string
	f.RegisterHandler(JobThumbnail, func(ctx context.Context, job *Job) error {
		called = "first"
		return nil
	})
	f.RegisterHandler(JobThumbnail, func(ctx context.Context, job *Job) error {
		called = "second"
		return nil
	})

	handler, err := f.getHandler(JobThumbnail)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), &Job{}))
	assert.Equal(t, "second", called)
}

func TestGetHandlerUnknownType(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	f := New(Config{DB: db})

	_, err = f.getHandler(JobType("VIDEO_TRANSCODE"))
	var unknown *UnknownJobTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, JobType("VIDEO_TRANSCODE"), unknown.Type)
}
