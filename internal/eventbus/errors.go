package eventbus

import "errors"

var (
	// ErrBusClosed is returned by Subscribe after Shutdown.
	ErrBusClosed = errors.New("event bus closed")
)
