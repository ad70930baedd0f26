package mediajobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSBlobStore keeps offloaded originals on a local (or mounted) filesystem.
// Writes go through a ".part" rename, the same atomic commit the temp storage
// layer uses, and a second Store of the same key overwrites the first, which
// is what makes the offload handler safe to re-run.
type FSBlobStore struct {
	Root string
}

func (s *FSBlobStore) Store(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return "", fmt.Errorf("cannot create blob root %s: %w", s.Root, err)
	}

	finalPath := filepath.Join(s.Root, key)
	partPath := finalPath + ".part"

	f, err := os.Create(partPath)
	if err != nil {
		return "", fmt.Errorf("cannot create %s: %w", partPath, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(partPath)
		return "", fmt.Errorf("cannot write %s: %w", partPath, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(partPath)
		return "", fmt.Errorf("cannot close %s: %w", partPath, err)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		_ = os.Remove(partPath)
		return "", fmt.Errorf("cannot commit %s: %w", finalPath, err)
	}
	return finalPath, nil
}
