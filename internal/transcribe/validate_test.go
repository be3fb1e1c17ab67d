package transcribe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
)

func TestValidatorAcceptsFileUnderRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audio.wav")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	v, err := NewValidator([]string{dir}, []string{".wav"})
	require.NoError(t, err)

	abs, err := v.AudioPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, abs)
}

func TestValidatorNormalizesTraversal(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "inner")
	require.NoError(t, os.Mkdir(sub, 0o755))
	path := filepath.Join(dir, "audio.wav")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	v, err := NewValidator([]string{dir}, []string{".wav"})
	require.NoError(t, err)

	// A dotted path that still lands under the root is fine once cleaned.
	abs, err := v.AudioPath(filepath.Join(sub, "..", "audio.wav"))
	require.NoError(t, err)
	assert.Equal(t, path, abs)

	// One that escapes the root is not.
	_, err = v.AudioPath(filepath.Join(dir, "..", "escape.wav"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestValidatorRejectsDirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "folder.wav")
	require.NoError(t, os.Mkdir(sub, 0o755))

	v, err := NewValidator([]string{dir}, []string{".wav"})
	require.NoError(t, err)

	_, err = v.AudioPath(sub)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestValidatorExtensionCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AUDIO.WAV")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	v, err := NewValidator([]string{dir}, []string{".wav"})
	require.NoError(t, err)

	_, err = v.AudioPath(path)
	assert.NoError(t, err)
}

func TestValidatorDefaultRootsIncludeCwd(t *testing.T) {
	v, err := NewValidator(nil, []string{".wav"})
	require.NoError(t, err)

	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Contains(t, v.Roots(), cwd)
}

func TestSidecarPathNaming(t *testing.T) {
	got := SidecarPath(filepath.Join("/tmp", "meeting.wav"), "")
	assert.Equal(t, filepath.Join("/tmp", "meeting_文字起こし.txt"), got)

	got = SidecarPath(filepath.Join("/tmp", "interview.final.mp3"), "議事録")
	assert.Equal(t, filepath.Join("/tmp", "interview.final_議事録.txt"), got)
}

func TestWriteSidecarAtomic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.wav")

	path, err := WriteSidecar(src, "", "こんにちは。")
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "こんにちは。", string(body))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp artifacts must not survive the rename")
}
