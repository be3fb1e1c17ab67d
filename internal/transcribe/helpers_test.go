package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kotoba-app/kotoba-server/internal/engine"
	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/postproc"
	"github.com/kotoba-app/kotoba-server/internal/worker"
)

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

type fixture struct {
	dir      string
	fake     *engine.Fake
	manager  *engine.Manager
	bus      *eventbus.Bus
	registry *worker.Registry
	pipeline *Pipeline
	svc      *Service
}

func newFixture(t *testing.T, opts ...PipelineOption) *fixture {
	t.Helper()
	logger := noopLogger{}
	dir := t.TempDir()

	fake := engine.NewFake("fake")
	manager, err := engine.NewManager(map[string]engine.Engine{"fake": fake}, "fake", logger)
	require.NoError(t, err)

	bus := eventbus.New(256, logger)
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	validator, err := NewValidator([]string{dir}, []string{".wav", ".mp3"})
	require.NoError(t, err)

	allOpts := append([]PipelineOption{
		WithFormatter(postproc.NewTextFormatter(true)),
		WithDiarizer(&postproc.FakeDiarizer{Speakers: 2}),
	}, opts...)
	pipeline := NewPipeline(manager, bus, validator, logger, allOpts...)
	registry := worker.NewRegistry(logger)

	return &fixture{
		dir:      dir,
		fake:     fake,
		manager:  manager,
		bus:      bus,
		registry: registry,
		pipeline: pipeline,
		svc:      NewService(pipeline, registry, manager, bus, logger),
	}
}

// audioFile drops a placeholder audio file into the sandbox dir.
func (f *fixture) audioFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("RIFF fake audio"), 0o644))
	return path
}

// collectUntil drains events until one of the terminal types arrives.
func collectUntil(t *testing.T, sub *eventbus.Subscription, terminals ...string) []eventbus.Event {
	t.Helper()
	want := make(map[string]struct{}, len(terminals))
	for _, term := range terminals {
		want[term] = struct{}{}
	}
	deadline := time.After(5 * time.Second)
	var events []eventbus.Event
	for {
		select {
		case ev := <-sub.Events():
			events = append(events, ev)
			if _, ok := want[ev.Type]; ok {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v, got %d events", terminals, len(events))
		}
	}
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish in time")
	}
}

func eventTypes(events []eventbus.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
