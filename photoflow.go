// Package photoflow implements the background processing pipeline of a media
// gallery: a durable, polling-based job queue that offloads uploaded
// originals, generates thumbnails and previews, enriches EXIF metadata and
// runs face recognition, with retry, optimistic locking and cancellation
// semantics. The host application hands it a *sql.DB holding the jobs table;
// the row store is the only channel between the enqueuing side and the
// runner, so a crash on either side never loses accepted work.
package photoflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Flow ties together the job store, the handler registry and the runner.
type Flow struct {
	cfg       *Config
	runnerMu  sync.Mutex
	runner    *runner // guarded by runnerMu
	handlers  map[JobType]Handler
	handlerMu sync.RWMutex
}

// New validates the config, applies defaults and returns a Flow ready for
// handler registration.
func New(cfg Config) *Flow {
	cfg.applyDefaults()
	if cfg.RunnerID == "" {
		cfg.RunnerID = "runner-" + uuid.NewString()
	}
	return &Flow{
		cfg:      &cfg,
		handlers: make(map[JobType]Handler),
	}
}

// Enqueue durably inserts a new PENDING job and returns its id. It is
// fire-and-forget: no handler runs, no processing is awaited. A write failure
// propagates to the caller, which must treat its enclosing operation as
// failed — an upload whose job row was never created would otherwise sit
// unprocessed forever with no trace.
func (f *Flow) Enqueue(ctx context.Context, req JobRequest) (string, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload for %s job: %w", req.Type, err)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = f.cfg.DefaultMaxAttempts
	}
	now := dbNow()
	job := &Job{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Status:      JobPending,
		Payload:     payload,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		ImageID:     req.ImageID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := insertJob(ctx, f.cfg.DB, job); err != nil {
		return "", err
	}

	metricJobsEnqueued.WithLabelValues(string(job.Type)).Inc()
	f.cfg.logInfo(LogEvent{
		Message: "job enqueued",
		JobID:   job.ID,
		JobType: job.Type,
		ImageID: job.ImageID,
	})

	// Wake an in-process runner so a fresh job doesn't wait a full poll
	// interval. Cross-process runners pick it up on their next cycle.
	f.wake()
	return job.ID, nil
}

// wake nudges the in-process runner, if one is running. Never blocks.
func (f *Flow) wake() {
	f.runnerMu.Lock()
	r := f.runner
	f.runnerMu.Unlock()
	if r == nil {
		return
	}
	select {
	case r.wakeup <- struct{}{}:
	default:
	}
}

// StartRunner launches the polling loop with the configured batch size and
// poll interval. It returns immediately; call Shutdown to stop. Starting an
// already-started Flow is a no-op, so the host application may call this from
// multiple init paths safely.
func (f *Flow) StartRunner(ctx context.Context) {
	f.runnerMu.Lock()
	defer f.runnerMu.Unlock()
	if f.runner != nil {
		f.cfg.logError(LogEvent{
			Message:  "runner already started on this Flow instance",
			RunnerID: f.cfg.RunnerID,
		})
		return
	}
	f.runner = startRunner(ctx, f)
}

// Shutdown gracefully stops the runner, waiting up to timeout for the
// in-flight cycle to finish.
func (f *Flow) Shutdown(timeout time.Duration) {
	f.runnerMu.Lock()
	r := f.runner
	f.runner = nil
	f.runnerMu.Unlock()
	if r == nil {
		f.cfg.logInfo(LogEvent{Message: "no runner to shut down (did you call StartRunner?)"})
		return
	}
	r.shutdown(timeout)
	f.cfg.logInfo(LogEvent{Message: "photoflow shutdown complete", RunnerID: f.cfg.RunnerID})
}

// ProcessPendingJobs runs a single poll cycle on demand and returns its
// summary. It is the entry point for externally triggered scheduling (a cron
// hitting a secured endpoint) and shares all claim semantics with the timer
// loop, so an external trigger and a live runner never double-execute a job.
func (f *Flow) ProcessPendingJobs(ctx context.Context, batchSize int) (CycleSummary, error) {
	if batchSize <= 0 {
		batchSize = f.cfg.BatchSize
	}
	return runCycle(ctx, f, batchSize)
}
