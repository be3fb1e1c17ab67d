// Package postproc holds the optional text post-processing collaborators.
// Each is independent: a missing or failing collaborator degrades the
// pipeline to raw recognizer output, it never fails a transcription.
package postproc

import (
	"context"

	"github.com/kotoba-app/kotoba-server/internal/engine"
)

// Formatter cleans up recognizer output for human reading.
type Formatter interface {
	Format(ctx context.Context, text string) (string, error)
}

// Corrector applies the user dictionary to recognized text.
type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

// Diarizer assigns speaker labels to recognized segments.
type Diarizer interface {
	Diarize(ctx context.Context, path string, segments []engine.Segment) ([]engine.Segment, error)
}
