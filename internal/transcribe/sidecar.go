package transcribe

import (
	"path/filepath"
	"strings"

	"github.com/kotoba-app/kotoba-server/internal/fsutil"
)

// DefaultSidecarLabel is appended to the source file's stem when naming the
// transcript file written next to it.
const DefaultSidecarLabel = "文字起こし"

// SidecarPath returns the transcript path for a source file:
// <dir>/<stem>_<label>.txt.
func SidecarPath(src, label string) string {
	if label == "" {
		label = DefaultSidecarLabel
	}
	base := filepath.Base(src)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(src), stem+"_"+label+".txt")
}

// WriteSidecar writes the transcript next to the source file through a
// temp-file rename, and returns the path written.
func WriteSidecar(src, label, text string) (string, error) {
	path := SidecarPath(src, label)
	if err := fsutil.WriteFileAtomic(path, []byte(text), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
