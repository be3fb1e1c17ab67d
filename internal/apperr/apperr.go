// Package apperr defines the error taxonomy shared by HTTP handlers and
// background workers. Handlers map errors to JSON responses; workers convert
// them to error events instead of letting failures cross goroutine boundaries.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and event categorization.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindAuth        Kind = "auth"
	KindBusy        Kind = "busy"
	KindUnsupported Kind = "unsupported"
	KindInternal    Kind = "internal"
)

// Worker event categories that never surface as HTTP statuses directly.
const (
	CategoryCancelled     = "cancelled"
	CategoryModelLoad     = "model_load"
	CategoryTranscription = "transcription"
	CategoryAudioDevice   = "audio_device"
)

// Error carries a kind, a short user-facing message, and an optional cause.
// The message is what clients see; the cause stays in logs.
type Error struct {
	Kind    Kind
	Message string
	Status  int // optional override of the kind's default HTTP status
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithStatus overrides the HTTP status derived from the kind.
func (e *Error) WithStatus(code int) *Error {
	e.Status = code
	return e
}

// New creates an Error of the given kind with a user-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error that records its cause for logging.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf creates an Error with a formatted user-facing message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error chain, defaulting to internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error chain to its HTTP status code.
func HTTPStatus(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	if appErr.Status != 0 {
		return appErr.Status
	}
	switch appErr.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth:
		return http.StatusForbidden
	case KindBusy:
		return http.StatusConflict
	case KindUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the client-safe message for an error chain. Internal
// errors collapse to a generic message so details never leak to clients.
func UserMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "内部エラーが発生しました"
}

// detailBody is the JSON error body shape shared by every endpoint.
type detailBody struct {
	Detail string `json:"detail"`
}

// WriteJSON writes the error as a {"detail": ...} JSON response with the
// status derived from the error chain.
func WriteJSON(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(detailBody{Detail: UserMessage(err)})
}

// WriteDetail writes an arbitrary detail message with an explicit status.
func WriteDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(detailBody{Detail: detail})
}
