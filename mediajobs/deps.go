// Package mediajobs provides the gallery's concrete job handlers: offloading
// uploaded originals to durable storage, thumbnail and preview generation,
// EXIF enrichment and face recognition. The image processing itself lives
// behind small collaborator interfaces; this package owns the payload shapes,
// the re-run safety of each handler and the partial updates they apply to the
// owning media record.
package mediajobs

import (
	"context"
	"io"

	"github.com/gallerium/photoflow"
)

// ImageRecord is the summary of a media row the handlers work against. The
// row itself is owned by the surrounding gallery application.
type ImageRecord struct {
	ID           string
	OriginalPath string
	Checksum     string
	MimeType     string
}

// FaceRegion is one detected face, in pixel coordinates of the original.
type FaceRegion struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Score  float64 `json:"score"`
}

// MediaStore reads and mutates media records by id. Each setter is a targeted
// partial update on its own field, so two handlers concurrently finishing
// different jobs for the same image never clobber each other's writes.
type MediaStore interface {
	GetImage(ctx context.Context, id string) (*ImageRecord, error)
	SetOriginalPath(ctx context.Context, id, path string) error
	SetThumbnailPath(ctx context.Context, id, path string) error
	SetPreviewPath(ctx context.Context, id, path string) error
	SetExif(ctx context.Context, id string, tags map[string]string) error
	SetFaces(ctx context.Context, id string, faces []FaceRegion) error
}

// BlobStore is the durable home of offloaded originals. Store must overwrite
// deterministically when the same key is written twice.
type BlobStore interface {
	Store(ctx context.Context, key string, r io.Reader) (string, error)
}

// Resizer produces a scaled derivative of an image file, overwriting dst if
// it exists. Used for both thumbnails and previews; only the target size
// differs.
type Resizer interface {
	Resize(ctx context.Context, src, dst string, maxEdge int) error
}

// ExifReader parses the EXIF block of an image file.
type ExifReader interface {
	Read(ctx context.Context, path string) (map[string]string, error)
}

// FaceDetector locates faces in an image file.
type FaceDetector interface {
	Detect(ctx context.Context, path string) ([]FaceRegion, error)
}

// Deps bundles the collaborators the handlers need. Constructed once at
// startup and passed into Register; there is no package-level state.
type Deps struct {
	Media   MediaStore
	Blobs   BlobStore
	Resizer Resizer
	Exif    ExifReader
	Faces   FaceDetector

	// ThumbnailMaxEdge and PreviewMaxEdge default sensibly when zero.
	ThumbnailMaxEdge int
	PreviewMaxEdge   int

	// DerivativeDir is where thumbnails and previews are written.
	DerivativeDir string
}

const (
	defaultThumbnailMaxEdge = 256
	defaultPreviewMaxEdge   = 1600
)

func (d *Deps) thumbnailMaxEdge() int {
	if d.ThumbnailMaxEdge > 0 {
		return d.ThumbnailMaxEdge
	}
	return defaultThumbnailMaxEdge
}

func (d *Deps) previewMaxEdge() int {
	if d.PreviewMaxEdge > 0 {
		return d.PreviewMaxEdge
	}
	return defaultPreviewMaxEdge
}

// Register wires all five handlers into the flow. Registration is idempotent;
// calling it twice just overwrites the same entries.
func Register(f *photoflow.Flow, deps *Deps) {
	f.RegisterHandler(photoflow.JobOffloadOriginal, OffloadHandler(deps))
	f.RegisterHandler(photoflow.JobThumbnail, ThumbnailHandler(deps))
	f.RegisterHandler(photoflow.JobPreview, PreviewHandler(deps))
	f.RegisterHandler(photoflow.JobExifEnrichment, ExifHandler(deps))
	f.RegisterHandler(photoflow.JobFaceRecognition, FaceHandler(deps))
}
