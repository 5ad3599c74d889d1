package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xtxerr/pick9/internal/errors"
	"github.com/xtxerr/pick9/internal/storage/types"
)

// ReadFile loads and decodes the snapshot at path. A missing file is
// reported with an error wrapping both ErrSnapshotNotFound and
// os.ErrNotExist.
func ReadFile(schema types.Schema, path string) (*types.CounterSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w: %w", path, errors.ErrSnapshotNotFound, os.ErrNotExist)
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	c, err := Decode(schema, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// WriteFile replaces the file at path with data.
//
// The data is written to a temporary file in the same directory, synced and
// renamed over path, so a reader sees either the previous or the new
// document, never a torn one.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}

	// Persist the rename itself. Not every platform supports syncing a
	// directory, so failures here are ignored.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}

	return nil
}

// Exists reports whether a snapshot file is present at path.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", path)
	}
	return true, nil
}
