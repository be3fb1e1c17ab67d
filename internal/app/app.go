// Package app owns process lifecycle: services start in registration
// order, stop in reverse, and lifecycle transitions are published to
// observers as CloudEvents.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kotoba-app/kotoba-server/internal/logging"
)

var (
	ErrAlreadyStarted = errors.New("application already started")
	ErrNotStarted     = errors.New("application not started")
)

// DefaultStopTimeout bounds the whole reverse-order shutdown pass.
const DefaultStopTimeout = 30 * time.Second

// Service is one startable unit of the process. Start must return once
// the service is running; Stop must honor the context deadline.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Funcs adapts plain start/stop functions to the Service interface, for
// collaborators that don't carry a name of their own.
type Funcs struct {
	ServiceName string
	OnStart     func(ctx context.Context) error
	OnStop      func(ctx context.Context) error
}

func (f Funcs) Name() string { return f.ServiceName }

func (f Funcs) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Funcs) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

// App runs registered services and fans lifecycle events out to
// observers.
type App struct {
	logger      logging.Logger
	stopTimeout time.Duration

	mu       sync.Mutex
	services []Service
	started  bool

	observerMu sync.RWMutex
	observers  map[string]*observerRegistration

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// Option adjusts app behavior.
type Option func(*App)

// WithStopTimeout overrides the shutdown deadline.
func WithStopTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.stopTimeout = d
		}
	}
}

// New builds an empty application.
func New(logger logging.Logger, opts ...Option) *App {
	a := &App{
		logger:      logger,
		stopTimeout: DefaultStopTimeout,
		observers:   make(map[string]*observerRegistration),
		shutdownCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register appends a service to the start order.
func (a *App) Register(svc Service) {
	a.mu.Lock()
	a.services = append(a.services, svc)
	a.mu.Unlock()
	a.emitEvent(context.Background(), EventTypeServiceRegistered,
		map[string]any{"service": svc.Name()}, nil)
}

// Start brings services up in registration order. A failure stops the
// already-started services in reverse before returning.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return ErrAlreadyStarted
	}

	started := make([]Service, 0, len(a.services))
	for _, svc := range a.services {
		a.logger.Info("starting service", "service", svc.Name())
		if err := svc.Start(ctx); err != nil {
			a.emitEvent(ctx, EventTypeServiceFailed,
				map[string]any{"service": svc.Name(), "error": err.Error()}, nil)
			a.stopServices(started)
			return fmt.Errorf("starting %s: %w", svc.Name(), err)
		}
		started = append(started, svc)
		a.emitEvent(ctx, EventTypeServiceStarted,
			map[string]any{"service": svc.Name()}, nil)
	}

	a.started = true
	a.emitEvent(ctx, EventTypeAppStarted, nil, nil)
	return nil
}

// Stop brings services down in reverse order. Failures are logged and do
// not keep later services from stopping; the last failure is returned.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return ErrNotStarted
	}
	a.started = false

	ctx, cancel := context.WithTimeout(ctx, a.stopTimeout)
	defer cancel()

	err := a.stopServicesCtx(ctx, a.services)
	if err != nil {
		a.emitEvent(ctx, EventTypeAppStopped,
			map[string]any{"error": err.Error()}, nil)
		return err
	}
	a.emitEvent(ctx, EventTypeAppStopped, nil, nil)
	return nil
}

func (a *App) stopServices(services []Service) {
	ctx, cancel := context.WithTimeout(context.Background(), a.stopTimeout)
	defer cancel()
	_ = a.stopServicesCtx(ctx, services)
}

func (a *App) stopServicesCtx(ctx context.Context, services []Service) error {
	ordered := make([]Service, len(services))
	copy(ordered, services)
	slices.Reverse(ordered)

	var lastErr error
	for _, svc := range ordered {
		a.logger.Info("stopping service", "service", svc.Name())
		if err := svc.Stop(ctx); err != nil {
			a.logger.Error("service stop failed", "service", svc.Name(), "error", err)
			a.emitEvent(ctx, EventTypeServiceFailed,
				map[string]any{"service": svc.Name(), "error": err.Error()}, nil)
			lastErr = err
			continue
		}
		a.emitEvent(ctx, EventTypeServiceStopped,
			map[string]any{"service": svc.Name()}, nil)
	}
	return lastErr
}

// Shutdown requests a graceful stop of a running Run loop. It reports
// false when shutdown is already under way.
func (a *App) Shutdown() bool {
	requested := false
	a.shutdownOnce.Do(func() {
		requested = true
		close(a.shutdownCh)
	})
	if requested {
		a.emitEvent(context.Background(), EventTypeShutdownRequested, nil, nil)
	}
	return requested
}

// Run starts the services and blocks until the context is cancelled or
// Shutdown is called, then stops everything.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case <-a.shutdownCh:
		a.logger.Info("shutdown requested")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), a.stopTimeout)
	defer cancel()
	return a.Stop(stopCtx)
}
