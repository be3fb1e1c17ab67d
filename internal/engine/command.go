package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/kotoba-app/kotoba-server/internal/logging"
)

// CommandConfig describes an external recognizer invocation. Args may use
// the placeholders {input}, {model} and {language}; an arg whose placeholder
// expands empty is dropped entirely, so optional flags should use the
// single-arg form "--language={language}".
type CommandConfig struct {
	ID        string
	Command   string
	Args      []string
	ModelPath string
}

// CommandEngine runs a recognizer binary per request and reads a JSON
// result from its stdout. "Loading" resolves the binary and checks the
// model file; the weights themselves load inside the subprocess each run.
type CommandEngine struct {
	cfg    CommandConfig
	logger logging.Logger

	mu       sync.Mutex
	loaded   bool
	resolved string
}

// commandResult is the JSON contract expected on the recognizer's stdout.
type commandResult struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
}

// NewCommandEngine creates an engine driving the configured binary.
func NewCommandEngine(cfg CommandConfig, logger logging.Logger) *CommandEngine {
	return &CommandEngine{cfg: cfg, logger: logger}
}

func (e *CommandEngine) ID() string { return e.cfg.ID }

func (e *CommandEngine) Load(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return nil
	}
	resolved, err := exec.LookPath(e.cfg.Command)
	if err != nil {
		return fmt.Errorf("recognizer binary %q: %w", e.cfg.Command, err)
	}
	if e.cfg.ModelPath != "" {
		if _, err := os.Stat(e.cfg.ModelPath); err != nil {
			return fmt.Errorf("model file: %w", err)
		}
	}
	e.resolved = resolved
	e.loaded = true
	return nil
}

func (e *CommandEngine) Unload(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = false
	e.resolved = ""
	return nil
}

func (e *CommandEngine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *CommandEngine) TranscribeFile(ctx context.Context, path string, opts Options) (*Result, error) {
	e.mu.Lock()
	loaded, binary := e.loaded, e.resolved
	e.mu.Unlock()
	if !loaded {
		return nil, ErrNotLoaded
	}

	args := expandArgs(e.cfg.Args, map[string]string{
		"{input}":    path,
		"{model}":    e.cfg.ModelPath,
		"{language}": opts.Language,
	})

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("recognizer failed: %w: %s", err, tail(stderr.String(), 300))
	}

	var raw commandResult
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("parsing recognizer output: %w", err)
	}
	result := &Result{
		Text:            strings.TrimSpace(raw.Text),
		Language:        raw.Language,
		DurationSeconds: raw.Duration,
	}
	if opts.Timestamps {
		result.Segments = raw.Segments
	}
	return result, nil
}

func (e *CommandEngine) TranscribeSamples(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	tmp, err := os.CreateTemp("", "kotoba-rt-*.wav")
	if err != nil {
		return nil, fmt.Errorf("creating capture file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteWAV(tmp, samples, sampleRate); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing capture file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing capture file: %w", err)
	}
	return e.TranscribeFile(ctx, tmp.Name(), opts)
}

// expandArgs substitutes placeholders, dropping any arg whose placeholder
// expanded to the empty string.
func expandArgs(args []string, vals map[string]string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		skip := false
		for placeholder, val := range vals {
			if !strings.Contains(arg, placeholder) {
				continue
			}
			if val == "" {
				skip = true
				break
			}
			arg = strings.ReplaceAll(arg, placeholder, val)
		}
		if !skip {
			out = append(out, arg)
		}
	}
	return out
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
