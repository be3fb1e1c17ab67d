package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/logging"
)

// DefaultDebounce is the delay after the last file event before reloading.
// Desktop shells write settings in bursts; 500ms coalesces a burst into a
// single re-read.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the store when the settings file changes on disk and
// broadcasts the masked document as a status_update event. Echoes of the
// store's own writes reload to an identical document and stay silent.
type Watcher struct {
	store    *Store
	bus      *eventbus.Bus
	logger   logging.Logger
	debounce time.Duration

	fw       *fsnotify.Watcher
	signals  chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// Guards the debounce timer so Stop can cancel it safely.
	mu    sync.Mutex
	timer *time.Timer
}

// WatcherOption adjusts watcher behavior.
type WatcherOption func(*Watcher)

// WithDebounce overrides the reload debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher wires a watcher over the store's file.
func NewWatcher(store *Store, bus *eventbus.Bus, logger logging.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		store:    store,
		bus:      bus,
		logger:   logger,
		debounce: DefaultDebounce,
		signals:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name identifies the watcher in lifecycle logs.
func (w *Watcher) Name() string {
	return "settings-watcher"
}

// Start begins watching the settings file's directory. Watching the
// directory instead of the file keeps the watch alive across the atomic
// rename our own writes and most editors use.
func (w *Watcher) Start(_ context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	dir := filepath.Dir(w.store.Path())
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.fw = fw
	go w.run()
	w.logger.Info("settings watcher started", "path", w.store.Path())
	return nil
}

// Stop ends the watch and waits for the loop to exit.
func (w *Watcher) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.done) })
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	if w.fw != nil {
		_ = w.fw.Close()
	}
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) run() {
	defer close(w.stopped)
	base := filepath.Base(w.store.Path())

	for {
		select {
		case <-w.done:
			return
		case <-w.signals:
			w.reload()
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			w.bump()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings watcher error", "error", err)
		}
	}
}

// bump restarts the debounce timer; the reload fires once the file has
// been quiet for the full window.
func (w *Watcher) bump() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.sendSignal)
}

// sendSignal is a non-blocking send; a pending signal already covers the
// newest state.
func (w *Watcher) sendSignal() {
	select {
	case w.signals <- struct{}{}:
	default:
	}
}

func (w *Watcher) reload() {
	changed, err := w.store.Reload()
	if err != nil {
		w.logger.Error("settings reload failed", "path", w.store.Path(), "error", err)
		return
	}
	if !changed {
		return
	}
	w.logger.Info("settings file changed on disk", "path", w.store.Path())
	w.bus.Emit(eventbus.EventTypeStatusUpdate, map[string]any{
		"settings": w.store.Masked(),
	})
}
