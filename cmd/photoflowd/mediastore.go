package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gallerium/photoflow"
	"github.com/gallerium/photoflow/mediajobs"
)

// mediaStore adapts the gallery's images table to the handler contract. The
// table is owned by the gallery application; this side only applies targeted
// single-column updates so concurrent handlers for one image never clobber
// each other.
type mediaStore struct {
	db *sql.DB
}

func (s *mediaStore) GetImage(ctx context.Context, id string) (*mediajobs.ImageRecord, error) {
	var rec mediajobs.ImageRecord
	var originalPath, checksum, mimeType sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, original_path, checksum, mime_type FROM images WHERE id = ?`, id).
		Scan(&rec.ID, &originalPath, &checksum, &mimeType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("image %s not found", id)
		}
		return nil, err
	}
	rec.OriginalPath = originalPath.String
	rec.Checksum = checksum.String
	rec.MimeType = mimeType.String
	return &rec, nil
}

// MediaSummary backs the admin API's single-job view with the gallery row.
// An unknown image yields a nil summary, not an error; jobs can outlive
// their gallery records.
func (s *mediaStore) MediaSummary(ctx context.Context, imageID string) (*photoflow.MediaSummary, error) {
	var sum photoflow.MediaSummary
	var originalPath, thumbnailPath, previewPath, checksum, mimeType sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mime_type, checksum, original_path, thumbnail_path, preview_path FROM images WHERE id = ?`, imageID).
		Scan(&sum.ID, &mimeType, &checksum, &originalPath, &thumbnailPath, &previewPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sum.MimeType = mimeType.String
	sum.Checksum = checksum.String
	sum.OriginalPath = originalPath.String
	sum.ThumbnailPath = thumbnailPath.String
	sum.PreviewPath = previewPath.String
	return &sum, nil
}

func (s *mediaStore) setColumn(ctx context.Context, id, column string, value any) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE images SET %s = ? WHERE id = ?`, column), value, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("image %s not found", id)
	}
	return nil
}

func (s *mediaStore) SetOriginalPath(ctx context.Context, id, path string) error {
	return s.setColumn(ctx, id, "original_path", path)
}

func (s *mediaStore) SetThumbnailPath(ctx context.Context, id, path string) error {
	return s.setColumn(ctx, id, "thumbnail_path", path)
}

func (s *mediaStore) SetPreviewPath(ctx context.Context, id, path string) error {
	return s.setColumn(ctx, id, "preview_path", path)
}

func (s *mediaStore) SetExif(ctx context.Context, id string, tags map[string]string) error {
	blob, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	return s.setColumn(ctx, id, "exif", blob)
}

func (s *mediaStore) SetFaces(ctx context.Context, id string, faces []mediajobs.FaceRegion) error {
	blob, err := json.Marshal(faces)
	if err != nil {
		return err
	}
	return s.setColumn(ctx, id, "faces", blob)
}
