package mediajobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gallerium/photoflow"
)

// OffloadHandler moves the uploaded original from temp storage to the blob
// store, keyed by content checksum so a re-run lands on the same key, then
// records the durable path on the media record and removes the temp file.
func OffloadHandler(deps *Deps) photoflow.Handler {
	return func(ctx context.Context, job *photoflow.Job) error {
		var p OffloadPayload
		if err := decodePayload(job, &p); err != nil {
			return err
		}

		src, err := os.Open(p.TempPath)
		if err != nil {
			return fmt.Errorf("cannot open temp file %s: %w", p.TempPath, err)
		}
		defer src.Close()

		key := p.Checksum + "." + p.Extension
		storedPath, err := deps.Blobs.Store(ctx, key, src)
		if err != nil {
			return fmt.Errorf("offload to blob store failed: %w", err)
		}
		if err := deps.Media.SetOriginalPath(ctx, p.ImageID, storedPath); err != nil {
			return fmt.Errorf("cannot record offloaded path: %w", err)
		}

		// The temp file is gone on a successful first run, so a retry that
		// gets this far must tolerate its absence.
		if err := photoflow.CleanupTempFile(p.TempPath); err != nil {
			return err
		}
		return nil
	}
}

// ThumbnailHandler writes a small derivative next to the gallery's other
// thumbnails and records its path. Overwrites any previous derivative for the
// image, so re-running the job converges on the same state.
func ThumbnailHandler(deps *Deps) photoflow.Handler {
	return func(ctx context.Context, job *photoflow.Job) error {
		var p DerivativePayload
		if err := decodePayload(job, &p); err != nil {
			return err
		}
		dst := filepath.Join(deps.DerivativeDir, p.ImageID+"_thumb.jpg")
		if err := generateDerivative(ctx, deps, p, dst, deps.thumbnailMaxEdge()); err != nil {
			return err
		}
		return deps.Media.SetThumbnailPath(ctx, p.ImageID, dst)
	}
}

// PreviewHandler is ThumbnailHandler at screen resolution, writing to the
// preview path field instead. The two fields are distinct, so both jobs may
// run concurrently for one image.
func PreviewHandler(deps *Deps) photoflow.Handler {
	return func(ctx context.Context, job *photoflow.Job) error {
		var p DerivativePayload
		if err := decodePayload(job, &p); err != nil {
			return err
		}
		dst := filepath.Join(deps.DerivativeDir, p.ImageID+"_preview.jpg")
		if err := generateDerivative(ctx, deps, p, dst, deps.previewMaxEdge()); err != nil {
			return err
		}
		return deps.Media.SetPreviewPath(ctx, p.ImageID, dst)
	}
}

func generateDerivative(ctx context.Context, deps *Deps, p DerivativePayload, dst string, maxEdge int) error {
	src, err := resolveSource(ctx, deps, p.ImageID, p.SourcePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("cannot create derivative dir: %w", err)
	}
	if err := deps.Resizer.Resize(ctx, src, dst, maxEdge); err != nil {
		return fmt.Errorf("resize to %dpx failed: %w", maxEdge, err)
	}
	return nil
}

// resolveSource returns the payload's source path while it still exists, and
// otherwise falls back to the image's offloaded original. Jobs for one image
// run in no guaranteed order, so the offload job may already have moved the
// temp file a derivative job was enqueued against.
func resolveSource(ctx context.Context, deps *Deps, imageID, payloadPath string) (string, error) {
	if _, err := os.Stat(payloadPath); err == nil {
		return payloadPath, nil
	}
	rec, err := deps.Media.GetImage(ctx, imageID)
	if err != nil {
		return "", fmt.Errorf("source %s is gone and image lookup failed: %w", payloadPath, err)
	}
	if rec.OriginalPath == "" {
		return "", fmt.Errorf("source %s is gone and image %s has no offloaded original yet", payloadPath, imageID)
	}
	return rec.OriginalPath, nil
}

// ExifHandler parses the EXIF block of the original and stores the tags on
// the media record. Deliberately decoupled from the synchronous ingest path,
// which only reads the image header.
func ExifHandler(deps *Deps) photoflow.Handler {
	return func(ctx context.Context, job *photoflow.Job) error {
		var p AnalysisPayload
		if err := decodePayload(job, &p); err != nil {
			return err
		}
		src, err := resolveSource(ctx, deps, p.ImageID, p.SourcePath)
		if err != nil {
			return err
		}
		tags, err := deps.Exif.Read(ctx, src)
		if err != nil {
			return fmt.Errorf("exif read failed: %w", err)
		}
		return deps.Media.SetExif(ctx, p.ImageID, tags)
	}
}

// FaceHandler runs face detection over the original and stores the detected
// regions. The detection result replaces any previous one wholesale.
func FaceHandler(deps *Deps) photoflow.Handler {
	return func(ctx context.Context, job *photoflow.Job) error {
		var p AnalysisPayload
		if err := decodePayload(job, &p); err != nil {
			return err
		}
		src, err := resolveSource(ctx, deps, p.ImageID, p.SourcePath)
		if err != nil {
			return err
		}
		faces, err := deps.Faces.Detect(ctx, src)
		if err != nil {
			return fmt.Errorf("face detection failed: %w", err)
		}
		return deps.Media.SetFaces(ctx, p.ImageID, faces)
	}
}
