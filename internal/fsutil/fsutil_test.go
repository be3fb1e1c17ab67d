package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomicCreatesAndOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	require.NoError(t, WriteFileAtomic(path, []byte("第一版"), 0o644))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "第一版", string(got))

	require.NoError(t, WriteFileAtomic(path, []byte("第二版"), 0o644))
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "第二版", string(got))
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteFileAtomic(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name())
}

func TestWriteFileAtomicFailureKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing-subdir", "out.txt")

	err := WriteFileAtomic(path, []byte("x"), 0o644)
	assert.Error(t, err, "temp creation in a missing directory must fail")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestIsTempArtifact(t *testing.T) {
	assert.True(t, IsTempArtifact(".out.txt.tmp-123456"))
	assert.False(t, IsTempArtifact("out.txt"))
	assert.False(t, IsTempArtifact(".hidden"))
	assert.False(t, IsTempArtifact("tmp-123"))
}

func TestWithinRoot(t *testing.T) {
	root := t.TempDir()

	cases := []struct {
		path string
		want bool
	}{
		{filepath.Join(root, "a.wav"), true},
		{filepath.Join(root, "sub", "a.wav"), true},
		{root, true},
		{filepath.Join(root, "..", "escape.wav"), false},
		{filepath.Join(root, "sub", "..", "..", "escape.wav"), false},
		{filepath.Join(os.TempDir(), "elsewhere.wav"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, WithinRoot(root, tc.path), "path %s", tc.path)
	}
}
