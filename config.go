package photoflow

import (
	"database/sql"
	"time"
)

// Config holds the settings and resources needed by the pipeline.
type Config struct {
	// DB is the user-provided database connection where the jobs table is stored.
	DB *sql.DB

	// RunnerID identifies this runner instance in lock ownership fields.
	// If empty, a random id is generated at startup.
	RunnerID string

	// BatchSize is the maximum number of jobs claimed per poll cycle.
	BatchSize int

	// PollInterval is how frequently the runner checks for new jobs.
	PollInterval time.Duration

	// MaxConcurrency bounds how many claimed jobs of one batch execute in
	// parallel. If zero, the whole batch runs concurrently.
	MaxConcurrency int

	// JobTimeout is how long an individual handler may run before the job is
	// marked failed with a timeout error. If zero, there is no enforced timeout.
	JobTimeout time.Duration

	// LockTimeout is how long a RUNNING job may hold its lock before the
	// reclaim pass treats the owning runner as dead. If zero, a default of
	// fifteen minutes applies.
	LockTimeout time.Duration

	// DefaultMaxAttempts applies to enqueued jobs that don't set their own.
	DefaultMaxAttempts uint

	// InfoLog is called for informational or success logs.
	// If nil, defaults to structured logging via slog.
	InfoLog func(ev LogEvent)

	// ErrorLog is called for error logs.
	// If nil, defaults to structured logging via slog.
	ErrorLog func(ev LogEvent)
}

const (
	defaultBatchSize    = 10
	defaultPollInterval = 5 * time.Second
	defaultLockTimeout  = 15 * time.Minute
	defaultMaxAttempts  = 3
)

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = defaultLockTimeout
	}
	if c.DefaultMaxAttempts == 0 {
		c.DefaultMaxAttempts = defaultMaxAttempts
	}
}
