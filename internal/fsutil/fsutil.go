// Package fsutil provides the two filesystem guarantees the rest of the
// server leans on: atomic writes (readers never observe a half-written
// file) and root confinement for client-supplied paths.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// tempInfix marks temp files created by WriteFileAtomic so interrupted
// writes can be recognized and cleaned up later.
const tempInfix = ".tmp-"

// WriteFileAtomic writes data to path by way of a temp file in the same
// directory, fsync, then rename. On failure the temp file is removed and
// the destination is untouched.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+tempInfix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	tmpName = ""
	return nil
}

// IsTempArtifact reports whether a file name looks like a leftover from an
// interrupted atomic write.
func IsTempArtifact(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, tempInfix)
}

// WithinRoot reports whether path resolves inside root. Both are made
// absolute and cleaned first, so ".." traversal cannot escape. Paths that
// cannot be resolved are treated as outside.
func WithinRoot(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
