package photoflow

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// TempDirEnv overrides the temp storage root. Restricted deployment
// environments usually only get one writable directory; everywhere else the
// OS temp directory is used.
const TempDirEnv = "PHOTOFLOW_TMPDIR"

var (
	tempRootOnce sync.Once
	tempRoot     string
	tempRootErr  error
)

// tempStorageRoot resolves the process-wide temp root lazily, creating the
// directory if needed. Creation is idempotent.
func tempStorageRoot() (string, error) {
	tempRootOnce.Do(func() {
		root := os.Getenv(TempDirEnv)
		if root == "" {
			root = filepath.Join(os.TempDir(), "photoflow")
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			tempRootErr = fmt.Errorf("cannot create temp root %s: %w", root, err)
			return
		}
		tempRoot = root
	})
	return tempRoot, tempRootErr
}

// StreamToTempStorage persists an inbound byte stream under the deterministic
// path {root}/{id}.{ext}. The stream is written to a ".part" sibling and only
// renamed into place after it has been fully consumed, so a reader can never
// observe a partially written file at the final path. On any failure the
// partial file is removed best-effort and a TempStorageError is returned.
func StreamToTempStorage(id, extension string, r io.Reader) (string, error) {
	root, err := tempStorageRoot()
	if err != nil {
		return "", &TempStorageError{Op: "resolve root", Path: root, Err: err}
	}

	finalPath := filepath.Join(root, id+"."+extension)
	partPath := finalPath + ".part"

	f, err := os.Create(partPath)
	if err != nil {
		return "", &TempStorageError{Op: "create", Path: partPath, Err: err}
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(partPath)
		return "", &TempStorageError{Op: "write", Path: partPath, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(partPath)
		return "", &TempStorageError{Op: "close", Path: partPath, Err: err}
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		_ = os.Remove(partPath)
		return "", &TempStorageError{Op: "rename", Path: finalPath, Err: err}
	}
	return finalPath, nil
}

// CleanupTempFile removes path, treating "already absent" as success so
// cleanup can be retried freely. Only unexpected errors surface.
func CleanupTempFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &TempStorageError{Op: "remove", Path: path, Err: err}
	}
	return nil
}
