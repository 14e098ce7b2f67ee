// Package local implements the on-disk media archive laid out as
// {root}/{content_rating}/{safety_rating}/{file}.
package local

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

// Config captures the parameters for the archive store.
type Config struct {
	// Root is the directory holding one subdirectory per content rating.
	Root string `mapstructure:"root" yaml:"root"`
}

// ArchiveStore writes and relocates media files below a root directory.
type ArchiveStore struct {
	root string
}

// New creates the archive root if needed and verifies that it is writable.
func New(cfg Config) (*ArchiveStore, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("archive root is required")
	}
	root := filepath.Clean(cfg.Root)

	info, err := os.Stat(root)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat archive root: %w", err)
		}
		if mkErr := os.MkdirAll(root, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create archive root: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("archive root is not a directory")
	}

	testFile := filepath.Join(root, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("archive root is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &ArchiveStore{root: root}, nil
}

// Root returns the archive root directory.
func (s *ArchiveStore) Root() string {
	return s.root
}

// Dir returns the directory that holds files rated r.
func (s *ArchiveStore) Dir(r archive.Rating) string {
	return filepath.Join(s.root, r.Content, r.Safety)
}

// EnsureDirectories creates the directory for every pair.
func (s *ArchiveStore) EnsureDirectories(pairs []archive.Rating) error {
	for _, pair := range pairs {
		if err := s.EnsureDir(pair); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDir creates the directory for r and returns it.
func (s *ArchiveStore) EnsureDir(r archive.Rating) error {
	dir := s.Dir(r)
	if err := s.within(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create rating directory %s: %w", dir, err)
	}
	return nil
}

// WriteScratch stores data under the unclassified directory and returns the full path.
// The file is written to a temporary name, synced and renamed into place.
func (s *ArchiveStore) WriteScratch(name string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if err := s.EnsureDir(archive.WaitingRating); err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.Dir(archive.WaitingRating), name)
	if err := s.within(fullPath); err != nil {
		return "", err
	}
	if err := writeAtomic(fullPath, data); err != nil {
		return "", err
	}
	return fullPath, nil
}

// Move relocates a file, copying across filesystems when a rename is not possible.
// Moving a file onto itself is a no-op.
func (s *ArchiveStore) Move(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename %s: %w", src, err)
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove moved source %s: %w", src, err)
	}
	return nil
}

func (s *ArchiveStore) within(path string) error {
	clean := filepath.Clean(path)
	if clean != s.root && !strings.HasPrefix(clean, s.root+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected")
	}
	return nil
}

func writeAtomic(fullPath string, data []byte) error {
	tmpPath := fullPath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- paths come from the archive index.
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmpPath := dst + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	return nil
}
