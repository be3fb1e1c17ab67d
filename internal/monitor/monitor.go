package monitor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/logging"
	"github.com/kotoba-app/kotoba-server/internal/transcribe"
	"github.com/kotoba-app/kotoba-server/internal/worker"
)

// Config holds one watch session's parameters.
type Config struct {
	Directory      string
	SidecarLabel   string
	Extensions     []string
	Patterns       []glob.Glob
	CheckInterval  time.Duration
	StableWait     time.Duration
	ProcessedLimit int
}

// Watch states reported over HTTP and in status_update events.
const (
	StateScanning = "scanning"
	StateWaiting  = "waiting"
	StateStopping = "stopping"
	StateStopped  = "stopped"
)

// Worker polls a directory for new, settled audio files and announces them
// over the bus. It never transcribes; the shell decides what to do with
// detections and calls mark-processed afterwards.
type Worker struct {
	cfg    Config
	set    *ProcessedSet
	exts   map[string]struct{}
	bus    *eventbus.Bus
	logger logging.Logger

	ctx       context.Context
	cancelCtx context.CancelFunc
	running   atomic.Bool
	detected  atomic.Int64

	stateMu sync.Mutex
	state   string

	done     chan struct{}
	exitOnce sync.Once
}

func newWorker(cfg Config, set *ProcessedSet, bus *eventbus.Bus, logger logging.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	w := &Worker{
		cfg:       cfg,
		set:       set,
		exts:      exts,
		bus:       bus,
		logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
		state:     StateWaiting,
		done:      make(chan struct{}),
	}
	w.running.Store(true)
	return w
}

// Kind names the registry slot.
func (w *Worker) Kind() worker.Kind { return worker.KindFolderMonitor }

// Alive reports whether the poll loop is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Cancel asks the loop to stop. Idempotent.
func (w *Worker) Cancel() {
	w.running.Store(false)
	w.cancelCtx()
}

// Done is closed when the loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) finish() { w.exitOnce.Do(func() { close(w.done) }) }

func (w *Worker) setState(state string) {
	w.stateMu.Lock()
	w.state = state
	w.stateMu.Unlock()
}

// State returns the current position in the watch loop.
func (w *Worker) State() string {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

func (w *Worker) run() {
	defer w.finish()
	w.logger.Info("folder watch started",
		"directory", w.cfg.Directory, "interval", w.cfg.CheckInterval)

	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for w.running.Load() {
		w.setState(StateScanning)
		w.scan()
		w.setState(StateWaiting)

		select {
		case <-ticker.C:
		case <-w.ctx.Done():
		}
	}

	w.setState(StateStopped)
	w.logger.Info("folder watch stopped", "directory", w.cfg.Directory)
}

// scan walks the directory once. Errors are logged and swallowed; a bad
// pass must not kill the loop.
func (w *Worker) scan() {
	entries, err := os.ReadDir(w.cfg.Directory)
	if err != nil {
		w.logger.Error("watch directory scan failed",
			"directory", w.cfg.Directory, "error", err)
		return
	}

	var detected []string
	for _, entry := range entries {
		if !w.running.Load() {
			return
		}
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(w.cfg.Directory, entry.Name())
		if !w.candidate(entry.Name()) {
			continue
		}
		if w.set.Contains(path) {
			continue
		}
		if _, err := os.Stat(transcribe.SidecarPath(path, w.cfg.SidecarLabel)); err == nil {
			continue
		}
		if !Ready(w.ctx, path, w.cfg.StableWait) {
			continue
		}
		detected = append(detected, path)
	}

	if len(detected) == 0 {
		return
	}
	total := w.detected.Add(int64(len(detected)))
	w.logger.Info("new files detected", "count", len(detected), "total", total)
	w.bus.Emit(eventbus.EventTypeNewFilesDetected, map[string]any{
		"paths": detected,
		"count": len(detected),
	})
	w.bus.Emit(eventbus.EventTypeStatusUpdate, map[string]any{
		"directory":       w.cfg.Directory,
		"state":           StateScanning,
		"new_files":       len(detected),
		"processed_count": w.set.Len(),
	})
}

// candidate applies the extension set and include patterns to a file name.
func (w *Worker) candidate(name string) bool {
	if name == ProcessedFileName || strings.HasPrefix(name, ".") {
		return false
	}
	if _, ok := w.exts[strings.ToLower(filepath.Ext(name))]; !ok {
		return false
	}
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	for _, pattern := range w.cfg.Patterns {
		if pattern.Match(name) {
			return true
		}
	}
	return false
}
