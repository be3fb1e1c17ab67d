package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// Fake is a scripted engine. It backs the "fake" engine type so the server
// runs end to end without a recognizer installed, and it is the test double
// for every pipeline test.
type Fake struct {
	id string

	mu            sync.Mutex
	loaded        bool
	loadCount     int
	loadErr       error
	transcribeErr error
	pathErrs      map[string]error
	delay         time.Duration
	script        func(path string) *Result
}

// NewFake creates a fake engine that returns a canned result.
func NewFake(id string) *Fake {
	return &Fake{id: id}
}

func (f *Fake) ID() string { return f.id }

// SetLoadError scripts the next Load calls to fail.
func (f *Fake) SetLoadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadErr = err
}

// SetTranscribeError scripts transcription calls to fail.
func (f *Fake) SetTranscribeError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcribeErr = err
}

// SetPathError scripts transcriptions of one specific path to fail.
func (f *Fake) SetPathError(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pathErrs == nil {
		f.pathErrs = make(map[string]error)
	}
	f.pathErrs[path] = err
}

// SetDelay makes each transcription take d, honoring context cancellation.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// SetScript overrides the result per input path.
func (f *Fake) SetScript(fn func(path string) *Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = fn
}

// LoadCount reports how many times Load ran, for lazy-load assertions.
func (f *Fake) LoadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadCount
}

func (f *Fake) Load(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loadCount++
	f.loaded = true
	return nil
}

func (f *Fake) Unload(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = false
	return nil
}

func (f *Fake) Loaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *Fake) TranscribeFile(ctx context.Context, path string, opts Options) (*Result, error) {
	if err := f.run(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	script := f.script
	pathErr := f.pathErrs[path]
	f.mu.Unlock()
	if pathErr != nil {
		return nil, pathErr
	}
	if script != nil {
		return script(path), nil
	}
	result := &Result{
		Text:            fmt.Sprintf("%s の文字起こし結果です。", filepath.Base(path)),
		Language:        opts.Language,
		DurationSeconds: 1,
	}
	if opts.Timestamps {
		result.Segments = []Segment{{Start: 0, End: 1, Text: result.Text}}
	}
	return result, nil
}

func (f *Fake) TranscribeSamples(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	if err := f.run(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	script := f.script
	f.mu.Unlock()
	if script != nil {
		return script(""), nil
	}
	seconds := float64(len(samples)) / float64(sampleRate)
	return &Result{
		Text:            fmt.Sprintf("%.1f秒の音声を認識しました。", seconds),
		Language:        opts.Language,
		DurationSeconds: seconds,
	}, nil
}

// run applies scripted failure and delay, respecting cancellation.
func (f *Fake) run(ctx context.Context) error {
	f.mu.Lock()
	loaded := f.loaded
	delay := f.delay
	terr := f.transcribeErr
	f.mu.Unlock()

	if !loaded {
		return ErrNotLoaded
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if terr != nil {
		return terr
	}
	return nil
}
