// Package local_test tests the on-disk media archive.
package local_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{Root: filepath.Join(t.TempDir(), "nested", "root")})
		require.NoError(t, err)
		assert.DirExists(t, store.Root())
	})

	t.Run("MissingRoot", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("RootIsNotADirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		_, err := local.New(local.Config{Root: path})
		assert.Error(t, err)
	})

	t.Run("RootNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for root")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		_, err := local.New(local.Config{Root: tempDir})
		assert.Error(t, err)
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		require.NoError(t, os.Chmod(tempDir, 0o700))
	})
}

func TestEnsureDirectories(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{Root: t.TempDir()})
	require.NoError(t, err)
	vocab := archive.Vocabulary{Content: []string{"KF"}, Safety: []string{"Safe", "NSFW"}}
	require.NoError(t, store.EnsureDirectories(vocab.Pairs()))

	for _, pair := range vocab.Pairs() {
		assert.DirExists(t, store.Dir(pair))
	}
	assert.Equal(t, filepath.Join(store.Root(), "KF", "NSFW"), store.Dir(archive.Rating{Content: "KF", Safety: "NSFW"}))
}

func TestEnsureDirRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{Root: t.TempDir()})
	require.NoError(t, err)
	err = store.EnsureDir(archive.Rating{Content: "..", Safety: ".."})
	require.ErrorContains(t, err, "path traversal")
}

func TestWriteScratch(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{Root: t.TempDir()})
	require.NoError(t, err)

	path, err := store.WriteScratch("alice_101_0.jpg", []byte("image"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "Waiting", "Waiting", "alice_101_0.jpg"), path)
	// #nosec G304 -- test reads from the controlled temp directory.
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "image", string(got))
	assert.NoFileExists(t, path+".tmp")

	_, err = store.WriteScratch("../escape.jpg", []byte("x"))
	assert.Error(t, err)
}

func TestMove(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{Root: t.TempDir()})
	require.NoError(t, err)
	src, err := store.WriteScratch("a.png", []byte("png"))
	require.NoError(t, err)

	dst := filepath.Join(store.Dir(archive.Rating{Content: "KF", Safety: "Safe"}), "a.png")
	require.NoError(t, store.Move(src, dst))
	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)

	require.NoError(t, store.Move(dst, dst), "moving onto itself is a no-op")
	assert.FileExists(t, dst)

	require.Error(t, store.Move(src, dst), "source is gone")
}
