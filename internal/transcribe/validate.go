package transcribe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
	"github.com/kotoba-app/kotoba-server/internal/fsutil"
)

// Validator checks client-supplied audio paths before any work starts:
// absolute-normalizable, confined to an allowed root, a supported
// extension, and an existing regular file.
type Validator struct {
	roots []string
	exts  map[string]struct{}
}

// NewValidator builds a validator. When no roots are configured it falls
// back to the working directory and the user's home directory.
func NewValidator(roots []string, extensions []string) (*Validator, error) {
	if len(roots) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		roots = append(roots, cwd)
		if home, err := os.UserHomeDir(); err == nil {
			roots = append(roots, home)
		}
	}
	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving allowed root %q: %w", root, err)
		}
		resolved = append(resolved, abs)
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	return &Validator{roots: resolved, exts: exts}, nil
}

// Confine normalizes a client path and checks it against the allowed
// roots, without touching the filesystem. Output paths go through this
// too, so every client-supplied location obeys the same boundary.
func (v *Validator) Confine(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", apperr.New(apperr.KindValidation, msgNoFilePath)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, msgPathNotAllowed, err)
	}
	abs = filepath.Clean(abs)

	for _, root := range v.roots {
		if fsutil.WithinRoot(root, abs) {
			return abs, nil
		}
	}
	return "", apperr.New(apperr.KindValidation, msgPathNotAllowed)
}

// AudioPath validates a client path and returns its absolute form. Errors
// carry apperr kinds so handlers map them straight to status codes.
func (v *Validator) AudioPath(path string) (string, error) {
	abs, err := v.Confine(path)
	if err != nil {
		return "", err
	}

	if len(v.exts) > 0 {
		if _, ok := v.exts[strings.ToLower(filepath.Ext(abs))]; !ok {
			return "", apperr.New(apperr.KindValidation, msgBadExtension)
		}
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperr.New(apperr.KindNotFound, msgFileNotFound)
		}
		return "", apperr.Wrap(apperr.KindValidation, msgPathNotAllowed, err)
	}
	if info.IsDir() {
		return "", apperr.New(apperr.KindValidation, msgPathNotAllowed)
	}
	return abs, nil
}

// Roots returns the resolved allowed roots.
func (v *Validator) Roots() []string {
	out := make([]string, len(v.roots))
	copy(out, v.roots)
	return out
}
