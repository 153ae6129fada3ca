// Package fsutil holds the file-system helpers shared by the record and store
// writers.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// FileMode is used for every file grimoire writes (owner read/write only).
	FileMode = 0o600
	// DirMode is used for directories grimoire creates.
	DirMode = 0o700
)

// WriteFileAtomic replaces path with data. The bytes are written to a
// temporary file in the same directory, flushed to disk and renamed over the
// destination, so a crash leaves either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("fsutil: failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("fsutil: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return fmt.Errorf("fsutil: failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("fsutil: failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsutil: failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fsutil: failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fsutil: failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
