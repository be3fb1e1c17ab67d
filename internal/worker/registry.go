// Package worker tracks the single long-running job allowed per workload
// kind. A slot holds at most one worker; starting a second transcription
// while one is live is refused at this layer, not by the HTTP handler.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/kotoba-app/kotoba-server/internal/logging"
)

// Kind names a workload slot.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindBatch         Kind = "batch"
	KindRealtime      Kind = "realtime"
	KindFolderMonitor Kind = "folder_monitor"
)

// Worker is a cancellable background job occupying one slot.
type Worker interface {
	// Kind names the slot this worker occupies.
	Kind() Kind

	// Alive reports whether the worker goroutine is still running.
	Alive() bool

	// Cancel requests a cooperative stop. Idempotent.
	Cancel()

	// Done is closed when the worker goroutine has exited.
	Done() <-chan struct{}
}

// Registry holds one slot per kind behind a single mutex.
type Registry struct {
	mu     sync.Mutex
	slots  map[Kind]Worker
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		slots:  make(map[Kind]Worker),
		logger: logger,
	}
}

// TrySet claims the worker's slot. It succeeds when the slot is empty or
// its occupant is no longer alive; a live occupant keeps the slot.
func (r *Registry) TrySet(w Worker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if occupant, ok := r.slots[w.Kind()]; ok && occupant.Alive() {
		return false
	}
	r.slots[w.Kind()] = w
	return true
}

// Get returns the current occupant of a slot.
func (r *Registry) Get(kind Kind) (Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.slots[kind]
	return w, ok
}

// Set replaces a slot's occupant unconditionally. Callers must have
// established exclusivity themselves; everything else goes through TrySet.
func (r *Registry) Set(w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[w.Kind()] = w
}

// Clear empties a slot unconditionally.
func (r *Registry) Clear(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, kind)
}

// Release empties the slot only if w is still its occupant, so a finished
// worker cannot evict its replacement.
func (r *Registry) Release(w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if occupant, ok := r.slots[w.Kind()]; ok && occupant == w {
		delete(r.slots, w.Kind())
	}
}

// Snapshot returns a copy of the current slot assignments.
func (r *Registry) Snapshot() map[Kind]Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Kind]Worker, len(r.slots))
	for k, w := range r.slots {
		out[k] = w
	}
	return out
}

// Join waits for the worker to exit, up to the timeout. Returns false on
// timeout.
func Join(w Worker, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.Done():
		return true
	case <-timer.C:
		return false
	}
}

// drainBudget is the bounded join time per kind during shutdown.
var drainBudget = []struct {
	kind    Kind
	timeout time.Duration
}{
	{KindTranscription, 5 * time.Second},
	{KindBatch, 10 * time.Second},
	{KindRealtime, 3 * time.Second},
	{KindFolderMonitor, 5 * time.Second},
}

// DrainAll cancels every registered worker in shutdown order and waits for
// each within its budget. Timeouts are logged, never raised; shutdown must
// not hang on a stuck worker.
func DrainAll(ctx context.Context, r *Registry, logger logging.Logger) {
	for _, entry := range drainBudget {
		if ctx.Err() != nil {
			logger.Warn("worker drain aborted", "reason", ctx.Err())
			return
		}
		w, ok := r.Get(entry.kind)
		if !ok || !w.Alive() {
			continue
		}
		logger.Info("stopping worker", "kind", entry.kind)
		w.Cancel()
		if !Join(w, entry.timeout) {
			logger.Warn("worker did not stop in time", "kind", entry.kind, "timeout", entry.timeout)
			continue
		}
		r.Release(w)
	}
}
