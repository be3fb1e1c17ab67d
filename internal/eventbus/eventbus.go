// Package eventbus implements the in-process broadcast bus that carries
// worker progress to WebSocket clients. Every subscriber sees every event;
// there are no topics. Emitters never block: a subscriber that cannot keep
// up loses its oldest queued event first, then the new one.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kotoba-app/kotoba-server/internal/logging"
)

// DefaultQueueSize is the per-subscriber queue bound when none is configured.
const DefaultQueueSize = 1000

// Event is the unit of delivery. Data must not be mutated after Emit.
// Timestamp is seconds since the Unix epoch.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp float64        `json:"timestamp"`
}

// Subscription is one subscriber's bounded event stream. Exactly one
// goroutine should receive from Events. Close unregisters the subscription;
// the channel is left open and becomes garbage once unreferenced, so a
// receiver must stop on the shutdown sentinel rather than on channel close.
type Subscription struct {
	id        int64
	events    chan Event
	bus       *Bus
	closeOnce sync.Once
}

// ID returns the subscriber's identifier. IDs increase monotonically for
// the lifetime of the bus and are never reused.
func (s *Subscription) ID() int64 {
	return s.id
}

// Events returns the ordered receive channel for this subscriber.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.unsubscribe(s.id)
	})
}

// Bus fans events out to all current subscribers. Emit reads a snapshot of
// the subscriber list maintained copy-on-write, so emitters never contend
// with the registry lock held by Subscribe and Close.
type Bus struct {
	logger    logging.Logger
	queueSize int

	regMutex sync.Mutex
	subs     map[int64]*Subscription
	snapshot atomic.Value // []*Subscription

	nextID    atomic.Int64
	started   atomic.Bool
	shutdown  atomic.Bool
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a bus with the given per-subscriber queue bound.
// Sizes below 1 fall back to DefaultQueueSize.
func New(queueSize int, logger logging.Logger) *Bus {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		logger:    logger,
		queueSize: queueSize,
		subs:      make(map[int64]*Subscription),
	}
	b.snapshot.Store([]*Subscription{})
	return b
}

// Name implements the lifecycle service interface.
func (b *Bus) Name() string { return "event-bus" }

// Start enables delivery. Events emitted before Start are dropped.
func (b *Bus) Start(_ context.Context) error {
	b.started.Store(true)
	return nil
}

// Stop shuts the bus down, delivering the sentinel to every subscriber.
func (b *Bus) Stop(_ context.Context) error {
	b.Shutdown()
	return nil
}

// Subscribe registers a new subscriber and returns its stream.
func (b *Bus) Subscribe() (*Subscription, error) {
	if b.shutdown.Load() {
		return nil, ErrBusClosed
	}
	sub := &Subscription{
		id:     b.nextID.Add(1),
		events: make(chan Event, b.queueSize),
		bus:    b,
	}
	b.regMutex.Lock()
	b.subs[sub.id] = sub
	b.rebuildSnapshotLocked()
	b.regMutex.Unlock()

	b.logger.Debug("subscriber registered", "subscriber", sub.id)
	return sub, nil
}

func (b *Bus) unsubscribe(id int64) {
	b.regMutex.Lock()
	if _, ok := b.subs[id]; ok {
		delete(b.subs, id)
		b.rebuildSnapshotLocked()
	}
	b.regMutex.Unlock()
}

func (b *Bus) rebuildSnapshotLocked() {
	snap := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		snap = append(snap, sub)
	}
	b.snapshot.Store(snap)
}

// Emit broadcasts an event to every current subscriber without blocking.
// Events emitted from a single goroutine arrive at each subscriber in
// emission order; no ordering holds across emitters. Emits before Start or
// after Shutdown are dropped.
func (b *Bus) Emit(eventType string, data map[string]any) {
	if !b.started.Load() || b.shutdown.Load() {
		b.dropped.Add(1)
		b.logger.Debug("event dropped, bus not running", "type", eventType)
		return
	}
	b.broadcast(Event{
		Type:      eventType,
		Data:      data,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
}

func (b *Bus) broadcast(event Event) {
	snap, _ := b.snapshot.Load().([]*Subscription)
	for _, sub := range snap {
		b.deliver(sub, event)
	}
}

// deliver enqueues the event for one subscriber. On a full queue the oldest
// queued event is evicted and the send retried once; if the queue is still
// full the new event is dropped and a warning names the subscriber.
func (b *Bus) deliver(sub *Subscription, event Event) {
	select {
	case sub.events <- event:
		b.delivered.Add(1)
		return
	default:
	}

	select {
	case <-sub.events:
		b.dropped.Add(1)
	default:
	}

	select {
	case sub.events <- event:
		b.delivered.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("subscriber queue full, dropping event",
			"subscriber", sub.id, "type", event.Type)
	}
}

// Shutdown marks the bus closed and sends the shutdown sentinel to every
// subscriber. Later emits are dropped; later subscribes fail. Idempotent.
func (b *Bus) Shutdown() {
	if !b.shutdown.CompareAndSwap(false, true) {
		return
	}
	sentinel := Event{
		Type:      EventTypeShutdown,
		Data:      map[string]any{},
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
	snap, _ := b.snapshot.Load().([]*Subscription)
	for _, sub := range snap {
		b.deliver(sub, sentinel)
	}
	b.logger.Info("event bus shut down", "subscribers", len(snap))
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.regMutex.Lock()
	defer b.regMutex.Unlock()
	return len(b.subs)
}

// Stats reports totals since construction: events enqueued to subscriber
// queues, and events dropped (evictions, overflow, and emits while the bus
// was not running).
func (b *Bus) Stats() (delivered, dropped uint64) {
	return b.delivered.Load(), b.dropped.Load()
}
