package photoflow

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when a job id does not exist in the store.
var ErrJobNotFound = errors.New("job not found")

// MetadataError indicates a source file whose metadata could not be read
// (corrupt, truncated or unsupported content). It ends the ingest attempt.
type MetadataError struct {
	Path string
	Err  error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("cannot extract metadata from %s: %v", e.Path, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// TempStorageError indicates a failed stream, write or rename while
// persisting an upload to temp storage.
type TempStorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *TempStorageError) Error() string {
	return fmt.Sprintf("temp storage %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *TempStorageError) Unwrap() error { return e.Err }

// UnknownJobTypeError is recorded on a claimed job whose type has no
// registered handler.
type UnknownJobTypeError struct {
	Type JobType
}

func (e *UnknownJobTypeError) Error() string {
	return fmt.Sprintf("no handler registered for job type %s", e.Type)
}

// InvalidTransitionError rejects an administrative action on a job that is
// not in an eligible state. The job is left untouched.
type InvalidTransitionError struct {
	JobID  string
	Action string
	Status JobStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s job %s in status %s: %s", e.Action, e.JobID, e.Status, e.Reason)
	}
	return fmt.Sprintf("cannot %s job %s in status %s", e.Action, e.JobID, e.Status)
}
