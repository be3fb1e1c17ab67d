package worker

import (
	"context"
	"sync"
	"sync/atomic"
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

// stubWorker is a hand-driven Worker for registry tests.
type stubWorker struct {
	kind      Kind
	alive     atomic.Bool
	cancelled atomic.Bool
	done      chan struct{}
	exitOnce  sync.Once
}

func newStubWorker(kind Kind) *stubWorker {
	w := &stubWorker{kind: kind, done: make(chan struct{})}
	w.alive.Store(true)
	return w
}

func (w *stubWorker) Kind() Kind            { return w.kind }
func (w *stubWorker) Alive() bool           { return w.alive.Load() }
func (w *stubWorker) Cancel()               { w.cancelled.Store(true) }
func (w *stubWorker) Done() <-chan struct{} { return w.done }

func (w *stubWorker) exit() {
	w.exitOnce.Do(func() {
		w.alive.Store(false)
		close(w.done)
	})
}

// cooperativeStub exits shortly after Cancel, like a real worker loop.
type cooperativeStub struct {
	*stubWorker
}

func (w *cooperativeStub) Cancel() {
	w.stubWorker.Cancel()
	go func() {
		time.Sleep(10 * time.Millisecond)
		w.exit()
	}()
}

func TestTrySetClaimsEmptySlot(t *testing.T) {
	r := NewRegistry(noopLogger{})
	w := newStubWorker(KindTranscription)

	assert.True(t, r.TrySet(w))

	got, ok := r.Get(KindTranscription)
	require.True(t, ok)
	assert.Same(t, w, got.(*stubWorker))
}

func TestTrySetRefusedWhileOccupantLive(t *testing.T) {
	r := NewRegistry(noopLogger{})
	first := newStubWorker(KindTranscription)
	require.True(t, r.TrySet(first))

	second := newStubWorker(KindTranscription)
	assert.False(t, r.TrySet(second))

	// A dead occupant no longer defends the slot.
	first.exit()
	assert.True(t, r.TrySet(second))
}

func TestSlotsAreIndependentPerKind(t *testing.T) {
	r := NewRegistry(noopLogger{})
	require.True(t, r.TrySet(newStubWorker(KindTranscription)))
	assert.True(t, r.TrySet(newStubWorker(KindBatch)))
	assert.True(t, r.TrySet(newStubWorker(KindRealtime)))
	assert.True(t, r.TrySet(newStubWorker(KindFolderMonitor)))
}

func TestReleaseOnlyRemovesOwnWorker(t *testing.T) {
	r := NewRegistry(noopLogger{})
	old := newStubWorker(KindRealtime)
	require.True(t, r.TrySet(old))
	old.exit()

	replacement := newStubWorker(KindRealtime)
	require.True(t, r.TrySet(replacement))

	// The finished worker's deferred cleanup must not evict the new one.
	r.Release(old)
	got, ok := r.Get(KindRealtime)
	require.True(t, ok)
	assert.Same(t, replacement, got.(*stubWorker))

	r.Release(replacement)
	_, ok = r.Get(KindRealtime)
	assert.False(t, ok)
}

func TestClearIsUnconditionalAndIdempotent(t *testing.T) {
	r := NewRegistry(noopLogger{})
	require.True(t, r.TrySet(newStubWorker(KindBatch)))

	r.Clear(KindBatch)
	r.Clear(KindBatch)
	_, ok := r.Get(KindBatch)
	assert.False(t, ok)
}

func TestSetReplacesLiveOccupant(t *testing.T) {
	r := NewRegistry(noopLogger{})
	first := newStubWorker(KindBatch)
	require.True(t, r.TrySet(first))

	second := newStubWorker(KindBatch)
	r.Set(second)

	got, ok := r.Get(KindBatch)
	require.True(t, ok)
	assert.Same(t, second, got.(*stubWorker))
}

func TestJoinTimesOut(t *testing.T) {
	w := newStubWorker(KindTranscription)
	assert.False(t, Join(w, 20*time.Millisecond))

	w.exit()
	assert.True(t, Join(w, 20*time.Millisecond))
}

func TestDrainAllCancelsAndJoins(t *testing.T) {
	r := NewRegistry(noopLogger{})
	tr := &cooperativeStub{newStubWorker(KindTranscription)}
	rt := &cooperativeStub{newStubWorker(KindRealtime)}
	require.True(t, r.TrySet(tr))
	require.True(t, r.TrySet(rt))

	DrainAll(context.Background(), r, noopLogger{})

	assert.True(t, tr.cancelled.Load())
	assert.True(t, rt.cancelled.Load())
	assert.Empty(t, r.Snapshot())
}

func TestDrainAllLeavesStuckWorkerBehind(t *testing.T) {
	r := NewRegistry(noopLogger{})
	stuck := newStubWorker(KindRealtime) // never exits on Cancel
	require.True(t, r.TrySet(stuck))

	start := time.Now()
	DrainAll(context.Background(), r, noopLogger{})

	assert.True(t, stuck.cancelled.Load())
	// Budget for realtime is three seconds; drain must not hang past it.
	assert.Less(t, time.Since(start), 5*time.Second)

	_, ok := r.Get(KindRealtime)
	assert.True(t, ok, "stuck worker stays registered for diagnostics")
}

func TestConcurrentTrySetSingleWinner(t *testing.T) {
	r := NewRegistry(noopLogger{})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TrySet(newStubWorker(KindTranscription)) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
