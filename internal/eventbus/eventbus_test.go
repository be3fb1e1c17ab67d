package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStartedBus(t *testing.T, queueSize int) *Bus {
	t.Helper()
	bus := New(queueSize, noopLogger{})
	require.NoError(t, bus.Start(context.Background()))
	return bus
}

func TestSubscribeEmitReceive(t *testing.T) {
	bus := newStartedBus(t, 0)

	sub, err := bus.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	before := float64(time.Now().UnixNano()) / 1e9
	bus.Emit(EventTypeTextReady, map[string]any{"text": "こんにちは"})

	select {
	case evt := <-sub.Events():
		assert.Equal(t, EventTypeTextReady, evt.Type)
		assert.Equal(t, "こんにちは", evt.Data["text"])
		assert.GreaterOrEqual(t, evt.Timestamp, before)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPerEmitterOrdering(t *testing.T) {
	bus := newStartedBus(t, 0)

	sub, err := bus.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	const n = 200
	for i := 0; i < n; i++ {
		bus.Emit(EventTypeProgress, map[string]any{"seq": i})
	}

	for i := 0; i < n; i++ {
		select {
		case evt := <-sub.Events():
			assert.Equal(t, i, evt.Data["seq"])
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestSubscriberIDsMonotonic(t *testing.T) {
	bus := newStartedBus(t, 0)

	a, err := bus.Subscribe()
	require.NoError(t, err)
	b, err := bus.Subscribe()
	require.NoError(t, err)

	assert.Greater(t, b.ID(), a.ID())

	// IDs are never reused, even after the earlier subscriber leaves.
	a.Close()
	c, err := bus.Subscribe()
	require.NoError(t, err)
	assert.Greater(t, c.ID(), b.ID())
}

func TestEmitBeforeStartIsDropped(t *testing.T) {
	bus := New(0, noopLogger{})

	sub, err := bus.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	bus.Emit(EventTypeTextReady, nil)

	_, dropped := bus.Stats()
	assert.Equal(t, uint64(1), dropped)
	assert.Empty(t, sub.Events())
}

func TestQueueOverflowEvictsOldest(t *testing.T) {
	logger := &recordingLogger{}
	bus := New(4, logger)
	require.NoError(t, bus.Start(context.Background()))

	sub, err := bus.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	// No consumer: six events into a queue of four evicts the two oldest.
	for i := 0; i < 6; i++ {
		bus.Emit(EventTypeProgress, map[string]any{"seq": i})
	}

	var got []int
	for i := 0; i < 4; i++ {
		evt := <-sub.Events()
		got = append(got, evt.Data["seq"].(int))
	}
	assert.Equal(t, []int{2, 3, 4, 5}, got)
	assert.Empty(t, sub.Events())

	delivered, dropped := bus.Stats()
	assert.Equal(t, uint64(6), delivered)
	assert.Equal(t, uint64(2), dropped)
	// Eviction with a successful retry is not the warn path.
	assert.Zero(t, logger.warnCount())
}

func TestCloseUnregistersSubscriber(t *testing.T) {
	bus := newStartedBus(t, 0)

	sub, err := bus.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, 1, bus.SubscriberCount())

	sub.Close()
	sub.Close() // idempotent
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Emit(EventTypeTextReady, nil)
	assert.Empty(t, sub.Events())
}

func TestShutdownSendsSentinelToAll(t *testing.T) {
	bus := newStartedBus(t, 0)

	a, err := bus.Subscribe()
	require.NoError(t, err)
	b, err := bus.Subscribe()
	require.NoError(t, err)

	bus.Shutdown()
	bus.Shutdown() // idempotent

	for _, sub := range []*Subscription{a, b} {
		select {
		case evt := <-sub.Events():
			assert.Equal(t, EventTypeShutdown, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("sentinel not delivered")
		}
	}

	// The bus refuses new work after shutdown.
	bus.Emit(EventTypeTextReady, nil)
	assert.Empty(t, a.Events())

	_, err = bus.Subscribe()
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestSentinelReachesFullQueue(t *testing.T) {
	bus := newStartedBus(t, 1)

	sub, err := bus.Subscribe()
	require.NoError(t, err)

	bus.Emit(EventTypeProgress, map[string]any{"seq": 0})
	bus.Shutdown()

	// The queued event was evicted to make room for the sentinel.
	evt := <-sub.Events()
	assert.Equal(t, EventTypeShutdown, evt.Type)
}

func TestStopDelegatesToShutdown(t *testing.T) {
	bus := newStartedBus(t, 0)
	sub, err := bus.Subscribe()
	require.NoError(t, err)

	require.NoError(t, bus.Stop(context.Background()))

	evt := <-sub.Events()
	assert.Equal(t, EventTypeShutdown, evt.Type)
}
