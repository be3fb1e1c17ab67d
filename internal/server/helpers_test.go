package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-app/kotoba-server/internal/auth"
	"github.com/kotoba-app/kotoba-server/internal/config"
	"github.com/kotoba-app/kotoba-server/internal/engine"
	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/export"
	"github.com/kotoba-app/kotoba-server/internal/monitor"
	"github.com/kotoba-app/kotoba-server/internal/postproc"
	"github.com/kotoba-app/kotoba-server/internal/realtime"
	"github.com/kotoba-app/kotoba-server/internal/server"
	"github.com/kotoba-app/kotoba-server/internal/settings"
	"github.com/kotoba-app/kotoba-server/internal/transcribe"
	"github.com/kotoba-app/kotoba-server/internal/worker"
)

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

var testOrigins = []string{"tauri://localhost", "app://localhost", "http://localhost:5173"}

type fixtureConfig struct {
	maxConns int
	diarizer postproc.Diarizer
	dev      bool
}

type fixtureOption func(*fixtureConfig)

func withMaxConns(n int) fixtureOption {
	return func(fc *fixtureConfig) { fc.maxConns = n }
}

func withDiarizer(d postproc.Diarizer) fixtureOption {
	return func(fc *fixtureConfig) { fc.diarizer = d }
}

func withDev() fixtureOption {
	return func(fc *fixtureConfig) { fc.dev = true }
}

// fixture runs the full handler stack behind httptest, with the fake
// engine and scripted collaborators underneath.
type fixture struct {
	t        *testing.T
	dir      string
	fake     *engine.Fake
	engines  *engine.Manager
	bus      *eventbus.Bus
	registry *worker.Registry
	tokens   *auth.TokenManager
	hub      *server.Hub
	ts       *httptest.Server
	token    string
	confPath string

	shutdownMu    sync.Mutex
	shutdownCalls int
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	fc := fixtureConfig{maxConns: 10}
	for _, opt := range opts {
		opt(&fc)
	}

	logger := noopLogger{}
	dir := t.TempDir()

	fake := engine.NewFake("fake")
	engines, err := engine.NewManager(map[string]engine.Engine{"fake": fake}, "fake", logger)
	require.NoError(t, err)

	bus := eventbus.New(256, logger)
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	registry := worker.NewRegistry(logger)

	validator, err := transcribe.NewValidator([]string{dir}, []string{".wav", ".mp3"})
	require.NoError(t, err)
	pipeline := transcribe.NewPipeline(engines, bus, validator, logger,
		transcribe.WithFormatter(postproc.NewTextFormatter(true)))
	transcripts := transcribe.NewService(pipeline, registry, engines, bus, logger)

	live := realtime.NewService(realtime.Config{
		FrameMs:         10,
		WindowSeconds:   0.2,
		SilenceSeconds:  0.05,
		MinFlushSeconds: 0.05,
		VolumeInterval:  10 * time.Millisecond,
		StopJoinTimeout: 2 * time.Second,
	}, func() realtime.Source {
		return &realtime.FakeSource{Interval: 5 * time.Millisecond}
	}, nil, engines, registry, bus, logger)

	watch := monitor.NewService(monitor.Defaults{
		Extensions:    []string{".wav", ".mp3"},
		CheckInterval: 50 * time.Millisecond,
		StableWait:    10 * time.Millisecond,
	}, registry, bus, logger)

	store, err := settings.NewStore(filepath.Join(dir, "app_settings.json"), logger)
	require.NoError(t, err)

	conf, err := config.Default()
	require.NoError(t, err)
	require.NoError(t, conf.Validate())
	confPath := filepath.Join(dir, "config.yaml")

	tokens, err := auth.NewTokenManager(time.Hour, logger)
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		dir:      dir,
		fake:     fake,
		engines:  engines,
		bus:      bus,
		registry: registry,
		tokens:   tokens,
		confPath: confPath,
		token:    tokens.Current(),
	}

	handlers, err := server.NewHandlers(server.Deps{
		Logger:          logger,
		Engines:         engines,
		Transcripts:     transcripts,
		Live:            live,
		Watch:           watch,
		Settings:        store,
		Exports:         export.NewRegistry(validator, logger),
		Formatter:       postproc.NewTextFormatter(true),
		Corrector:       postproc.NewDictionaryCorrector(map[string]string{"こんにちわ": "こんにちは"}),
		Diarizer:        fc.diarizer,
		RequestShutdown: f.requestShutdown,
		Conf:            conf,
		ConfPath:        confPath,
		Version:         "test",
	})
	require.NoError(t, err)

	f.hub = server.NewHub(bus, fc.maxConns, testOrigins, logger)
	router := server.NewRouter(handlers, f.hub, tokens, server.RouterConfig{
		AllowedOrigins: testOrigins,
		Dev:            fc.dev,
	}, logger)

	f.ts = httptest.NewServer(router)
	t.Cleanup(f.ts.Close)
	t.Cleanup(func() { _ = watch.Stop(); _ = live.Stop() })
	return f
}

// requestShutdown mimics the application: the first call wins, repeats
// report an in-flight shutdown.
func (f *fixture) requestShutdown() bool {
	f.shutdownMu.Lock()
	defer f.shutdownMu.Unlock()
	f.shutdownCalls++
	return f.shutdownCalls == 1
}

// request performs an authenticated call and decodes the JSON object body.
func (f *fixture) request(method, path string, body any) (*http.Response, map[string]any) {
	f.t.Helper()
	return f.requestWithToken(method, path, body, f.token)
}

func (f *fixture) requestWithToken(method, path string, body any, token string) (*http.Response, map[string]any) {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(f.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	var decoded map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(f.t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

// audioFile drops a placeholder audio file into the sandbox dir.
func (f *fixture) audioFile(name string) string {
	f.t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(f.t, os.WriteFile(path, []byte("RIFF fake audio"), 0o644))
	return path
}

// subscribe opens a bus subscription that is cleaned up with the test.
func (f *fixture) subscribe() *eventbus.Subscription {
	f.t.Helper()
	sub, err := f.bus.Subscribe()
	require.NoError(f.t, err)
	f.t.Cleanup(sub.Close)
	return sub
}

// waitEvent drains the subscription until an event of the wanted type.
func waitEvent(t *testing.T, sub *eventbus.Subscription, eventType string) eventbus.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

// dialWS opens a WebSocket connection against the test server.
func (f *fixture) dialWS(header http.Header) (*websocket.Conn, *http.Response, error) {
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	return websocket.DefaultDialer.Dial(wsURL, header)
}

// dialWSAuthed connects with the bearer header and registers cleanup.
func (f *fixture) dialWSAuthed() *websocket.Conn {
	f.t.Helper()
	header := http.Header{"Authorization": []string{"Bearer " + f.token}}
	conn, resp, err := f.dialWS(header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitSubscribers blocks until the bus has at least n subscribers, so a
// test can emit without racing the pump registration.
func (f *fixture) waitSubscribers(n int) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		return f.bus.SubscriberCount() >= n
	}, 2*time.Second, 5*time.Millisecond, "bus never reached %d subscribers", n)
}
