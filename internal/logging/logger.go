// Package logging provides the structured logger used across the server.
//
// All output goes to stderr so stdout stays reserved for the single
// machine-readable startup line the desktop shell parses.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the logging interface passed to every service constructor.
// It uses variadic key-value pairs, compatible with log/slog:
//
//	logger.Info("model loaded", "engine", "whisper", "duration", d)
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostic information.
	Debug(msg string, args ...any)
}

type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// New returns a Logger writing text-formatted records to w at the given level.
func New(w io.Writer, level slog.Level) Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

// NewStderr returns the standard process logger. The level string is one of
// "debug", "info", "warn", "error"; unknown values fall back to info.
func NewStderr(level string) Logger {
	return New(os.Stderr, ParseLevel(level))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
