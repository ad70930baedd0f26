package mediajobs

import (
	"context"
	"fmt"
	"io"

	"github.com/gallerium/photoflow"
)

// IngestResult is what the synchronous upload path learns about a file.
type IngestResult struct {
	TempPath string
	Metadata *photoflow.BasicMetadata
	JobIDs   []string
}

// IngestOption tweaks what IngestUpload enqueues for a file.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	faceRecognition bool
}

// WithFaceRecognition additionally enqueues a face recognition job for the
// upload. Callers set this when a face detector is actually deployed;
// enqueueing it unconditionally would fail a job per upload on installs
// without a detector binary.
func WithFaceRecognition() IngestOption {
	return func(o *ingestOptions) { o.faceRecognition = true }
}

// IngestUpload is the synchronous half of the pipeline: persist the inbound
// stream to temp storage, extract basic metadata, then enqueue the background
// jobs that do everything slow. Any failure aborts the whole ingest — the
// temp file is removed and no job rows exist, so the caller can safely reject
// the upload. In particular a job row that fails to write fails the upload:
// accepting a file that nothing will ever process is worse than rejecting it.
func IngestUpload(ctx context.Context, f *photoflow.Flow, imageID, extension string, r io.Reader, opts ...IngestOption) (*IngestResult, error) {
	var options ingestOptions
	for _, opt := range opts {
		opt(&options)
	}
	tempPath, err := photoflow.StreamToTempStorage(imageID, extension, r)
	if err != nil {
		return nil, err
	}

	meta, err := photoflow.ExtractBasicMetadata(tempPath)
	if err != nil {
		_ = photoflow.CleanupTempFile(tempPath)
		return nil, err
	}

	requests := []photoflow.JobRequest{
		{
			Type:    photoflow.JobOffloadOriginal,
			ImageID: imageID,
			Payload: OffloadPayload{
				ImageID:   imageID,
				TempPath:  tempPath,
				Checksum:  meta.Checksum,
				Extension: extension,
			},
		},
		{
			Type:    photoflow.JobThumbnail,
			ImageID: imageID,
			Payload: DerivativePayload{ImageID: imageID, SourcePath: tempPath},
		},
		{
			Type:    photoflow.JobPreview,
			ImageID: imageID,
			Payload: DerivativePayload{ImageID: imageID, SourcePath: tempPath},
		},
		{
			Type:    photoflow.JobExifEnrichment,
			ImageID: imageID,
			Payload: AnalysisPayload{ImageID: imageID, SourcePath: tempPath},
		},
	}
	if options.faceRecognition {
		requests = append(requests, photoflow.JobRequest{
			Type:    photoflow.JobFaceRecognition,
			ImageID: imageID,
			Payload: AnalysisPayload{ImageID: imageID, SourcePath: tempPath},
		})
	}

	result := &IngestResult{TempPath: tempPath, Metadata: meta}
	for _, req := range requests {
		id, err := f.Enqueue(ctx, req)
		if err != nil {
			_ = photoflow.CleanupTempFile(tempPath)
			return nil, fmt.Errorf("upload accepted but job creation failed, rejecting: %w", err)
		}
		result.JobIDs = append(result.JobIDs, id)
	}
	return result, nil
}
