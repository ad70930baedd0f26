package photoflow

import (
	"log/slog"
	"time"
)

// LogEvent captures information about a logging event.
type LogEvent struct {
	// A human-readable message about the event.
	Message string

	// The ID of the runner that triggered the log (if any).
	RunnerID string

	// The Job ID, if available.
	JobID string

	// The job type, if available.
	JobType JobType

	// The image the job concerns, if available.
	ImageID string

	// Any error associated with the event.
	Err error

	// How long the job or cycle took, if relevant.
	Duration *time.Duration
}

func (ev LogEvent) attrs() []any {
	args := make([]any, 0, 12)
	if ev.RunnerID != "" {
		args = append(args, "runner_id", ev.RunnerID)
	}
	if ev.JobID != "" {
		args = append(args, "job_id", ev.JobID)
	}
	if ev.JobType != "" {
		args = append(args, "job_type", string(ev.JobType))
	}
	if ev.ImageID != "" {
		args = append(args, "image_id", ev.ImageID)
	}
	if ev.Duration != nil {
		args = append(args, "duration", ev.Duration.String())
	}
	if ev.Err != nil {
		args = append(args, "error", ev.Err)
	}
	return args
}

func defaultInfoLog(ev LogEvent) {
	slog.Info(ev.Message, ev.attrs()...)
}

func defaultErrorLog(ev LogEvent) {
	slog.Error(ev.Message, ev.attrs()...)
}

// Helper methods to invoke logging
func (c *Config) logInfo(ev LogEvent) {
	if c.InfoLog == nil {
		defaultInfoLog(ev)
		return
	}
	c.InfoLog(ev)
}

func (c *Config) logError(ev LogEvent) {
	if c.ErrorLog == nil {
		defaultErrorLog(ev)
		return
	}
	c.ErrorLog(ev)
}
