package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kotoba-app/kotoba-server/internal/logging"
)

// Manager owns the configured engines, the active-engine selection, and the
// process-wide inference gate. The gate is a one-slot semaphore: whoever
// holds it may run inference or load/unload models; everyone else gets
// ErrEngineBusy after their timeout.
type Manager struct {
	logger  logging.Logger
	gate    chan struct{}
	initMu  sync.Mutex // guards lazy loading and active switching
	engines map[string]Engine
	active  string
}

// ModelInfo describes one engine for the models/info endpoint.
type ModelInfo struct {
	ID     string `json:"id"`
	Loaded bool   `json:"loaded"`
	Active bool   `json:"active"`
}

// NewManager creates a manager over the configured engines. The default
// engine becomes active; an empty defaultID selects the lexicographically
// first engine so startup stays deterministic.
func NewManager(engines map[string]Engine, defaultID string, logger logging.Logger) (*Manager, error) {
	if len(engines) == 0 {
		return nil, ErrNoEngines
	}
	if defaultID == "" {
		ids := make([]string, 0, len(engines))
		for id := range engines {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		defaultID = ids[0]
	}
	if _, ok := engines[defaultID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, defaultID)
	}
	return &Manager{
		logger:  logger,
		gate:    make(chan struct{}, 1),
		engines: engines,
		active:  defaultID,
	}, nil
}

// TryAcquire claims the inference gate, waiting at most the given timeout.
// The returned release function is idempotent.
func (m *Manager) TryAcquire(timeout time.Duration) (func(), error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m.gate <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-m.gate })
		}, nil
	case <-timer.C:
		return nil, ErrEngineBusy
	}
}

// Engine resolves an engine by ID; empty selects the active engine.
func (m *Manager) Engine(id string) (Engine, error) {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if id == "" {
		id = m.active
	}
	eng, ok := m.engines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, id)
	}
	return eng, nil
}

// EnsureLoaded resolves an engine and loads its model if necessary. Loading
// happens under the init mutex so concurrent callers load at most once.
func (m *Manager) EnsureLoaded(ctx context.Context, id string) (Engine, error) {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if id == "" {
		id = m.active
	}
	eng, ok := m.engines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, id)
	}
	if eng.Loaded() {
		return eng, nil
	}
	start := time.Now()
	if err := eng.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading model %q: %w", id, err)
	}
	m.logger.Info("model loaded", "engine", id, "duration", time.Since(start))
	return eng, nil
}

// SetActive switches the default engine for subsequent requests.
func (m *Manager) SetActive(id string) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if _, ok := m.engines[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEngine, id)
	}
	m.active = id
	return nil
}

// Active returns the current default engine ID.
func (m *Manager) Active() string {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.active
}

// Unload releases the named model (empty = active). It takes the inference
// gate so a model is never pulled out from under a running job.
func (m *Manager) Unload(ctx context.Context, id string, gateTimeout time.Duration) error {
	release, err := m.TryAcquire(gateTimeout)
	if err != nil {
		return err
	}
	defer release()

	eng, err := m.Engine(id)
	if err != nil {
		return err
	}
	if !eng.Loaded() {
		return nil
	}
	if err := eng.Unload(ctx); err != nil {
		return fmt.Errorf("unloading model %q: %w", eng.ID(), err)
	}
	m.logger.Info("model unloaded", "engine", eng.ID())
	return nil
}

// Info lists every configured engine sorted by ID.
func (m *Manager) Info() []ModelInfo {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	infos := make([]ModelInfo, 0, len(m.engines))
	for id, eng := range m.engines {
		infos = append(infos, ModelInfo{
			ID:     id,
			Loaded: eng.Loaded(),
			Active: id == m.active,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// LoadedFlags reports each engine's loaded state, for the health endpoint.
func (m *Manager) LoadedFlags() map[string]bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	flags := make(map[string]bool, len(m.engines))
	for id, eng := range m.engines {
		flags[id] = eng.Loaded()
	}
	return flags
}
