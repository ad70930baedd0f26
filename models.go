package photoflow

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates the possible states of a job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// JobType identifies which handler processes a job.
type JobType string

const (
	JobOffloadOriginal JobType = "OFFLOAD_ORIGINAL"
	JobThumbnail       JobType = "THUMBNAIL_GENERATION"
	JobPreview         JobType = "PREVIEW_GENERATION"
	JobExifEnrichment  JobType = "EXIF_ENRICHMENT"
	JobFaceRecognition JobType = "FACE_RECOGNITION"
)

// Job corresponds to one row in the jobs table. The row is the single source
// of truth for a unit of background work; the runner and the admin surface
// communicate only through it.
type Job struct {
	ID          string
	Type        JobType
	Status      JobStatus
	Payload     json.RawMessage
	Attempts    uint
	MaxAttempts uint
	LastError   *string
	LockedAt    *time.Time
	LockedBy    *string
	ImageID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Locked reports whether the row currently carries a lock.
func (j *Job) Locked() bool {
	return j.LockedAt != nil && j.LockedBy != nil
}

// CanRetry reports whether an administrative retry would be accepted.
func (j *Job) CanRetry() bool {
	return j.Status == JobFailed && j.Attempts < j.MaxAttempts
}

// LockAge returns how long the job has been locked, or zero if unlocked.
func (j *Job) LockAge(now time.Time) time.Duration {
	if j.LockedAt == nil {
		return 0
	}
	return now.Sub(*j.LockedAt)
}

// JobRequest describes a job to enqueue. Payload is marshalled to JSON at
// enqueue time and handed to the handler byte for byte.
type JobRequest struct {
	Type        JobType
	ImageID     string
	Payload     any
	MaxAttempts uint
}

// CycleSummary is the aggregate outcome of one poll cycle.
type CycleSummary struct {
	Claimed   int           `json:"claimed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Discarded int           `json:"discarded"`
	Reclaimed int           `json:"reclaimed"`
	Duration  time.Duration `json:"duration"`
}

// JobFilter narrows ListJobs. Zero values mean "no filter".
type JobFilter struct {
	Status  JobStatus
	Type    JobType
	ImageID string
	Limit   int
	Offset  int
}
