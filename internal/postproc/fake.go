package postproc

import (
	"context"
	"fmt"

	"github.com/kotoba-app/kotoba-server/internal/engine"
)

// FakeDiarizer labels segments round-robin across a fixed speaker count.
// It stands in for a real diarization backend in tests and dev mode.
type FakeDiarizer struct {
	Speakers int
	Err      error
}

func (d *FakeDiarizer) Diarize(_ context.Context, _ string, segments []engine.Segment) ([]engine.Segment, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	speakers := d.Speakers
	if speakers < 1 {
		speakers = 2
	}
	out := make([]engine.Segment, len(segments))
	for i, seg := range segments {
		seg.Speaker = fmt.Sprintf("SPEAKER_%02d", i%speakers)
		out[i] = seg
	}
	return out, nil
}
