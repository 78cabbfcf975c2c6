// Package fs has small filesystem helpers shared by the repository publishing code.
package fs

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

func DirExists(dirPath string) bool {
	dir, err := os.Stat(dirPath)
	if err == nil && dir.IsDir() {
		return true
	}
	return false
}

// Exists reports whether anything (including a dangling symlink) is present at the path.
func Exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

func EnsureExists(dirPath string) error {
	const perm = 0o755 // owner rwx, group rx, public rx
	return os.MkdirAll(dirPath, perm)
}

// EnsureParentExists creates the parent directory of the path, if it does not already exist.
func EnsureParentExists(p string) error {
	return EnsureExists(filepath.Dir(p))
}

// WriteFileAtomic writes the data to a sibling temporary file (the path with ".new" appended) and
// then renames it over the path, so that readers never observe a partially-written file.
func WriteFileAtomic(outputPath string, data []byte) error {
	tmpPath := outputPath + ".new"
	const perm = 0o644 // owner rw, group r, public r
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return errors.Wrapf(err, "couldn't write temporary file %s", tmpPath)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return errors.Wrapf(err, "couldn't move %s into place at %s", tmpPath, outputPath)
	}
	return nil
}
