package mediajobs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSBlobStoreOverwritesSameKey(t *testing.T) {
	store := &FSBlobStore{Root: t.TempDir()}

	first, err := store.Store(context.Background(), "abc.jpg", strings.NewReader("v1"))
	require.NoError(t, err)
	second, err := store.Store(context.Background(), "abc.jpg", strings.NewReader("v2"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := os.ReadDir(store.Root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFSBlobStoreInterruptedWriteLeavesNoFinalFile(t *testing.T) {
	store := &FSBlobStore{Root: t.TempDir()}

	_, err := store.Store(context.Background(), "broken.jpg", &failingReader{data: []byte("half")})
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(store.Root, "broken.jpg"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(store.Root, "broken.jpg.part"))
	assert.True(t, os.IsNotExist(err))
}

type failingReader struct {
	data []byte
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, os.ErrClosed
}
