package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(fis []*vfs.FileInfo) []string {
	out := make([]string, len(fis))
	for i, fi := range fis {
		out[i] = fi.Name
	}
	return out
}

func TestList(t *testing.T) {
	ctx := context.Background()
	b := NewFromPaths([]string{"/docs/", "/docs/b.txt", "/docs/a.txt", "/readme", "/photos/2024/img.jpg"})

	t.Run("Root", func(t *testing.T) {
		entries, err := b.List(ctx, "/")
		require.NoError(t, err)
		assert.Equal(t, []string{"docs", "photos", "readme"}, names(entries))
		assert.True(t, entries[0].IsDir())
		assert.False(t, entries[2].IsDir())
	})

	t.Run("SortedByName", func(t *testing.T) {
		entries, err := b.List(ctx, "/docs")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt", "b.txt"}, names(entries))
	})

	t.Run("ParentsCreated", func(t *testing.T) {
		entries, err := b.List(ctx, "photos/2024/")
		require.NoError(t, err)
		assert.Equal(t, []string{"img.jpg"}, names(entries))
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := b.List(ctx, "/missing")
		assert.ErrorIs(t, err, vfs.ErrNotFound)
	})

	t.Run("NotDirectory", func(t *testing.T) {
		_, err := b.List(ctx, "/readme")
		assert.ErrorIs(t, err, vfs.ErrNotDirectory)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		entries, err := b.List(ctx, "/docs")
		require.NoError(t, err)
		entries[0].Name = "changed"

		again, err := b.List(ctx, "/docs")
		require.NoError(t, err)
		assert.Equal(t, "a.txt", again[0].Name)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := b.List(cctx, "/")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPutAndRemove(t *testing.T) {
	ctx := context.Background()
	b := New()

	b.Put("/a/file", &vfs.FileInfo{Type: vfs.FileTypeRegular, Size: 42})
	entries, err := b.List(ctx, "/a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file", entries[0].Name)
	assert.Equal(t, uint64(42), entries[0].Size)

	b.Put("/a/sub", &vfs.FileInfo{Type: vfs.FileTypeDirectory})
	entries, err = b.List(ctx, "/a/sub")
	require.NoError(t, err)
	assert.Empty(t, entries)

	b.Remove("/a")
	_, err = b.List(ctx, "/a")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
	_, err = b.List(ctx, "/a/sub")
	assert.ErrorIs(t, err, vfs.ErrNotFound)

	entries, err = b.List(ctx, "/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
