package engine

import "errors"

var (
	// ErrEngineBusy is returned when the inference gate cannot be acquired
	// within the caller's timeout.
	ErrEngineBusy = errors.New("engine busy")

	// ErrUnknownEngine is returned for an engine ID that is not configured.
	ErrUnknownEngine = errors.New("unknown engine")

	// ErrNoEngines is returned when the manager is built without engines.
	ErrNoEngines = errors.New("no engines configured")

	// ErrNotLoaded is returned when inference runs against an unloaded model.
	ErrNotLoaded = errors.New("model not loaded")
)
