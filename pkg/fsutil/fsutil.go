// Package fsutil provides small filesystem helpers for result store
// path handling.
package fsutil

import (
	"fmt"
	"os"
)

// Exists reports whether a regular file or directory exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

// EnsureDir creates the directory and all missing parents. It succeeds
// if the directory already exists.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("creating directory %q: %w", path, err)
	}

	return nil
}

// RemoveIfExists deletes the file at path. A missing file is not an error.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %w", path, err)
	}

	return nil
}
