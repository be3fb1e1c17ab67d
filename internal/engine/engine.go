// Package engine abstracts the speech-to-text backends. The server never
// links model runtimes directly; an Engine either fakes results (dev, tests)
// or drives an external recognizer process. All inference in the process is
// serialized by the Manager's single gate.
package engine

import "context"

// Options tunes a single transcription run.
type Options struct {
	// Language hints the recognizer, e.g. "ja". Empty means auto-detect.
	Language string

	// Timestamps requests per-segment start/end offsets.
	Timestamps bool
}

// Segment is one timed span of recognized text.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Result is the outcome of one transcription run.
type Result struct {
	Text            string    `json:"text"`
	Segments        []Segment `json:"segments,omitempty"`
	Language        string    `json:"language,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
}

// Engine is a speech-to-text backend. Load may be expensive; callers go
// through Manager.EnsureLoaded so models load lazily and exactly once.
type Engine interface {
	// ID is the engine's configured name, e.g. "whisper".
	ID() string

	// Load prepares the model for inference.
	Load(ctx context.Context) error

	// Unload releases the model's resources.
	Unload(ctx context.Context) error

	// Loaded reports whether the model is ready.
	Loaded() bool

	// TranscribeFile recognizes speech from an audio file on disk.
	TranscribeFile(ctx context.Context, path string, opts Options) (*Result, error)

	// TranscribeSamples recognizes speech from raw mono float32 samples.
	TranscribeSamples(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error)
}
