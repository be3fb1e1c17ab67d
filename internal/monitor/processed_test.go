package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
)

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

func TestProcessedSetStartsEmpty(t *testing.T) {
	set, err := LoadProcessedSet(t.TempDir(), 10, noopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestProcessedSetAddPersistsSorted(t *testing.T) {
	dir := t.TempDir()
	set, err := LoadProcessedSet(dir, 10, noopLogger{})
	require.NoError(t, err)

	b := filepath.Join(dir, "b.wav")
	a := filepath.Join(dir, "a.wav")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("x"), 0o644))

	require.NoError(t, set.Add(b))
	require.NoError(t, set.Add(a))
	require.NoError(t, set.Add(a)) // duplicate is a no-op

	assert.True(t, set.Contains(a))
	assert.True(t, set.Contains(b))
	assert.Equal(t, 2, set.Len())

	body, err := os.ReadFile(filepath.Join(dir, ProcessedFileName))
	require.NoError(t, err)
	assert.Equal(t, a+"\n"+b+"\n", string(body))

	// A fresh load sees the same entries.
	reloaded, err := LoadProcessedSet(dir, 10, noopLogger{})
	require.NoError(t, err)
	assert.True(t, reloaded.Contains(a))
	assert.Equal(t, 2, reloaded.Len())
}

func TestProcessedSetRejectsOutsidePaths(t *testing.T) {
	dir := t.TempDir()
	set, err := LoadProcessedSet(dir, 10, noopLogger{})
	require.NoError(t, err)

	err = set.Add("/etc/passwd")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	err = set.Add(filepath.Join(dir, "..", "escape.wav"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestProcessedSetLoadDropsForeignEntries(t *testing.T) {
	dir := t.TempDir()
	inside := filepath.Join(dir, "ok.wav")
	ledger := strings.Join([]string{
		inside,
		"/etc/passwd",
		"relative/path.wav",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProcessedFileName), []byte(ledger), 0o644))

	set, err := LoadProcessedSet(dir, 10, noopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	assert.True(t, set.Contains(inside))
}

func TestProcessedSetPruneEvictsVanished(t *testing.T) {
	dir := t.TempDir()
	set, err := LoadProcessedSet(dir, 10, noopLogger{})
	require.NoError(t, err)

	kept := filepath.Join(dir, "kept.wav")
	gone := filepath.Join(dir, "gone.wav")
	require.NoError(t, os.WriteFile(kept, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(gone, []byte("x"), 0o644))
	require.NoError(t, set.Add(kept))
	require.NoError(t, set.Add(gone))

	require.NoError(t, os.Remove(gone))
	require.NoError(t, set.Prune())

	assert.True(t, set.Contains(kept))
	assert.False(t, set.Contains(gone))

	body, err := os.ReadFile(filepath.Join(dir, ProcessedFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(body), "gone.wav")
}

func TestProcessedSetPrunesAtLimit(t *testing.T) {
	dir := t.TempDir()
	set, err := LoadProcessedSet(dir, 2, noopLogger{})
	require.NoError(t, err)

	real1 := filepath.Join(dir, "one.wav")
	real2 := filepath.Join(dir, "two.wav")
	require.NoError(t, os.WriteFile(real1, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(real2, []byte("x"), 0o644))
	require.NoError(t, set.Add(real1))
	require.NoError(t, set.Add(real2))

	// The third entry pushes the set over its limit; pruning evicts the
	// vanished path, which is the new entry itself here.
	ghost := filepath.Join(dir, "ghost.wav")
	require.NoError(t, set.Add(ghost))

	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(real1))
	assert.True(t, set.Contains(real2))
	assert.False(t, set.Contains(ghost))
}
