package mediajobs

import (
	"encoding/json"
	"fmt"

	"github.com/gallerium/photoflow"
)

// OffloadPayload moves an uploaded original from temp to durable storage.
type OffloadPayload struct {
	ImageID   string `json:"imageId"`
	TempPath  string `json:"tempPath"`
	Checksum  string `json:"checksum"`
	Extension string `json:"extension"`
}

// DerivativePayload drives thumbnail and preview generation.
type DerivativePayload struct {
	ImageID    string `json:"imageId"`
	SourcePath string `json:"sourcePath"`
}

// AnalysisPayload drives EXIF enrichment and face recognition.
type AnalysisPayload struct {
	ImageID    string `json:"imageId"`
	SourcePath string `json:"sourcePath"`
}

// decodePayload unmarshals a job's payload into the handler's own shape.
// Payloads round-trip losslessly through JSON; a payload that does not parse
// is a bug at the enqueue site and fails the job.
func decodePayload(job *photoflow.Job, v any) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", job.Type, err)
	}
	return nil
}
