package maintenance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

type stubPruner struct {
	calls int
	err   error
}

func (p *stubPruner) Prune() error {
	p.calls++
	return p.err
}

func tempArtifact(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
	return path
}

func TestRunOnceSweepsStaleArtifacts(t *testing.T) {
	dir := t.TempDir()
	stale := tempArtifact(t, dir, ".out.txt.tmp-123", 2*time.Hour)
	fresh := tempArtifact(t, dir, ".out.txt.tmp-456", time.Minute)
	keeper := filepath.Join(dir, "result.txt")
	require.NoError(t, os.WriteFile(keeper, []byte("done"), 0o644))

	j := NewJanitor(nil, noopLogger{}, WithDirs(func() []string { return []string{dir} }))
	assert.Equal(t, 1, j.RunOnce())

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	for _, path := range []string{fresh, keeper} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
}

func TestRunOnceCompactsLedgerEvenWhenSweepIsEmpty(t *testing.T) {
	pruner := &stubPruner{}
	j := NewJanitor(pruner, noopLogger{})
	assert.Equal(t, 0, j.RunOnce())
	assert.Equal(t, 1, pruner.calls)
}

func TestRunOnceContinuesPastPruneFailure(t *testing.T) {
	dir := t.TempDir()
	tempArtifact(t, dir, ".a.json.tmp-1", 2*time.Hour)

	pruner := &stubPruner{err: errors.New("ledger on fire")}
	j := NewJanitor(pruner, noopLogger{}, WithDirs(func() []string { return []string{dir} }))
	assert.Equal(t, 1, j.RunOnce())
	assert.Equal(t, 1, pruner.calls)
}

func TestSweepSkipsMissingAndDuplicateDirs(t *testing.T) {
	dir := t.TempDir()
	tempArtifact(t, dir, ".a.json.tmp-1", 2*time.Hour)

	j := NewJanitor(nil, noopLogger{}, WithDirs(func() []string {
		return []string{dir, dir, filepath.Join(dir, "gone"), ""}
	}))
	assert.Equal(t, 1, j.RunOnce())
}

func TestScheduledRunFires(t *testing.T) {
	dir := t.TempDir()
	stale := tempArtifact(t, dir, ".a.json.tmp-1", 2*time.Hour)

	j := NewJanitor(nil, noopLogger{},
		WithSchedule("@every 50ms"),
		WithDirs(func() []string { return []string{dir} }))
	require.NoError(t, j.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = j.Stop(ctx)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond, "scheduled sweep never removed the artifact")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	j := NewJanitor(nil, noopLogger{}, WithSchedule("every hour on the hour"))
	require.Error(t, j.Start(context.Background()))
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	j := NewJanitor(nil, noopLogger{})
	assert.NoError(t, j.Stop(context.Background()))
}

func TestStartTwiceIsNoop(t *testing.T) {
	j := NewJanitor(nil, noopLogger{}, WithSchedule("@every 1h"))
	require.NoError(t, j.Start(context.Background()))
	require.NoError(t, j.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, j.Stop(ctx))
}
