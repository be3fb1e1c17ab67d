package realtime

import (
	"context"
	"sync"
	"time"
)

// Source abstracts microphone capture. Open starts the stream and returns
// a channel of fixed-size mono frames; the channel closes when the context
// is cancelled or the device fails.
type Source interface {
	Open(ctx context.Context, sampleRate, frameLen int) (<-chan []float32, error)
	Close() error
}

// FakeSource replays scripted frames, then silence, at a configurable
// pace. It backs the "fake" source type so realtime capture runs without
// audio hardware, and it drives the worker tests.
type FakeSource struct {
	// Frames are emitted in order before the source falls back to silence.
	Frames [][]float32
	// Interval paces frame delivery; zero means as fast as the consumer
	// accepts.
	Interval time.Duration
	// OpenErr makes Open fail, simulating a missing device.
	OpenErr error

	mu     sync.Mutex
	closed bool
}

func (s *FakeSource) Open(ctx context.Context, sampleRate, frameLen int) (<-chan []float32, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	out := make(chan []float32, 8)
	go func() {
		defer close(out)
		var ticker *time.Ticker
		if s.Interval > 0 {
			ticker = time.NewTicker(s.Interval)
			defer ticker.Stop()
		}
		next := 0
		for {
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				}
			}
			var frame []float32
			if next < len(s.Frames) {
				frame = s.Frames[next]
				next++
			} else {
				frame = make([]float32, frameLen)
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *FakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called, for test assertions.
func (s *FakeSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
