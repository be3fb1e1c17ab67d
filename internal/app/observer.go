package app

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/kotoba-app/kotoba-server/internal/logging"
)

// CloudEvent aliases the CloudEvents type for package consumers.
type CloudEvent = cloudevents.Event

// Lifecycle event types, reverse-domain per the CloudEvents convention.
const (
	EventTypeServiceRegistered = "com.kotoba.service.registered"
	EventTypeServiceStarted    = "com.kotoba.service.started"
	EventTypeServiceStopped    = "com.kotoba.service.stopped"
	EventTypeServiceFailed     = "com.kotoba.service.failed"
	EventTypeAppStarted        = "com.kotoba.app.started"
	EventTypeAppStopped        = "com.kotoba.app.stopped"
	EventTypeConfigLoaded      = "com.kotoba.config.loaded"
	EventTypeShutdownRequested = "com.kotoba.shutdown.requested"
)

// eventSource identifies this process in emitted CloudEvents.
const eventSource = "kotoba-server"

// Observer receives lifecycle CloudEvents. Handlers should return fast;
// slow work belongs on the observer's own goroutines.
type Observer interface {
	OnEvent(ctx context.Context, event CloudEvent) error
	ObserverID() string
}

type observerRegistration struct {
	observer   Observer
	eventTypes map[string]bool
}

// RegisterObserver subscribes an observer, optionally filtered to the
// given event types. No filter means every event.
func (a *App) RegisterObserver(observer Observer, eventTypes ...string) {
	filter := make(map[string]bool, len(eventTypes))
	for _, et := range eventTypes {
		filter[et] = true
	}
	a.observerMu.Lock()
	a.observers[observer.ObserverID()] = &observerRegistration{
		observer:   observer,
		eventTypes: filter,
	}
	a.observerMu.Unlock()
	a.logger.Debug("observer registered", "observer", observer.ObserverID(), "types", eventTypes)
}

// UnregisterObserver removes an observer; unknown observers are a no-op.
func (a *App) UnregisterObserver(observer Observer) {
	a.observerMu.Lock()
	delete(a.observers, observer.ObserverID())
	a.observerMu.Unlock()
}

// NotifyObservers delivers an event to every interested observer. Each
// delivery runs on its own goroutine; panics and errors are contained and
// logged.
func (a *App) NotifyObservers(ctx context.Context, event CloudEvent) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid lifecycle event: %w", err)
	}

	a.observerMu.RLock()
	defer a.observerMu.RUnlock()
	for _, reg := range a.observers {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[event.Type()] {
			continue
		}
		reg := reg
		go func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("observer panicked",
						"observer", reg.observer.ObserverID(), "event", event.Type(), "panic", r)
				}
			}()
			if err := reg.observer.OnEvent(ctx, event); err != nil {
				a.logger.Error("observer failed",
					"observer", reg.observer.ObserverID(), "event", event.Type(), "error", err)
			}
		}()
	}
	return nil
}

func (a *App) emitEvent(ctx context.Context, eventType string, data any, metadata map[string]any) {
	event := NewEvent(eventType, eventSource, data, metadata)
	if err := a.NotifyObservers(ctx, event); err != nil {
		a.logger.Error("lifecycle event dropped", "event", eventType, "error", err)
	}
}

// NewEvent builds a CloudEvent with the required attributes set.
func NewEvent(eventType, source string, data any, metadata map[string]any) CloudEvent {
	event := cloudevents.NewEvent()
	event.SetID(eventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

// eventID returns a time-ordered id, falling back to random when the
// clock-based variant is unavailable.
func eventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// FuncObserver wraps a handler function as an Observer.
type FuncObserver struct {
	ID      string
	Handler func(ctx context.Context, event CloudEvent) error
}

func (f FuncObserver) OnEvent(ctx context.Context, event CloudEvent) error {
	return f.Handler(ctx, event)
}

func (f FuncObserver) ObserverID() string {
	return f.ID
}

// LoggingObserver writes every lifecycle event to the structured log.
type LoggingObserver struct {
	Logger logging.Logger
}

func (o LoggingObserver) OnEvent(_ context.Context, event CloudEvent) error {
	o.Logger.Debug("lifecycle event",
		"type", event.Type(), "id", event.ID(), "data", string(event.Data()))
	return nil
}

func (o LoggingObserver) ObserverID() string {
	return "logging-observer"
}
