package photoflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// BasicMetadata is what the synchronous ingest path needs to know about an
// uploaded file before any background job runs. Deep EXIF parsing is
// deliberately not done here; that is the EXIF_ENRICHMENT job's work, so the
// upload request stays fast and bounded.
type BasicMetadata struct {
	MimeType  string
	Width     int
	Height    int
	SizeBytes int64
	Checksum  string
}

var mimeByFormat = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// ExtractBasicMetadata reads the file at path and returns its content
// checksum, header-derived dimensions and format, and byte size. The checksum
// is a streamed sha256 so arbitrarily large files never load into memory; the
// dimensions come from the image header alone, without a full decode. A file
// whose header cannot be parsed fails with a MetadataError.
func ExtractBasicMetadata(path string) (*BasicMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &MetadataError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &MetadataError{Path: path, Err: err}
	}

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, &MetadataError{Path: path, Err: fmt.Errorf("cannot decode image header: %w", err)}
	}
	mime, ok := mimeByFormat[format]
	if !ok {
		mime = "application/octet-stream"
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, &MetadataError{Path: path, Err: err}
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, &MetadataError{Path: path, Err: fmt.Errorf("checksum failed: %w", err)}
	}

	return &BasicMetadata{
		MimeType:  mime,
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: info.Size(),
		Checksum:  hex.EncodeToString(h.Sum(nil)),
	}, nil
}
