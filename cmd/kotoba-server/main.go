// Command kotoba-server is the local transcription backend for the desktop
// shell. It binds a loopback port, prints one JSON line with the address
// and session token to stdout, and then serves the HTTP and WebSocket API
// until a shutdown request or signal arrives. Everything else it logs goes
// to stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kotoba-app/kotoba-server/internal/app"
	"github.com/kotoba-app/kotoba-server/internal/auth"
	"github.com/kotoba-app/kotoba-server/internal/config"
	"github.com/kotoba-app/kotoba-server/internal/engine"
	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/export"
	"github.com/kotoba-app/kotoba-server/internal/logging"
	"github.com/kotoba-app/kotoba-server/internal/maintenance"
	"github.com/kotoba-app/kotoba-server/internal/monitor"
	"github.com/kotoba-app/kotoba-server/internal/postproc"
	"github.com/kotoba-app/kotoba-server/internal/realtime"
	"github.com/kotoba-app/kotoba-server/internal/server"
	"github.com/kotoba-app/kotoba-server/internal/settings"
	"github.com/kotoba-app/kotoba-server/internal/transcribe"
	"github.com/kotoba-app/kotoba-server/internal/worker"
)

// version is stamped by the release build via -ldflags; "dev" otherwise.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kotoba-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "config file (YAML or TOML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := logging.NewStderr(cfg.LogLevel)
	logger.Info("kotoba-server starting", "version", version, "config", *configPath)

	// Entropy failure here is fatal: without a token the API has no
	// protection at all.
	tokens, err := auth.NewTokenManager(time.Duration(cfg.TokenTTLMinutes)*time.Minute, logger)
	if err != nil {
		return err
	}

	bus := eventbus.New(cfg.EventQueueSize, logger)
	registry := worker.NewRegistry(logger)

	engines, err := buildEngines(cfg, logger)
	if err != nil {
		return err
	}
	manager, err := engine.NewManager(engines, cfg.DefaultEngine, logger)
	if err != nil {
		return err
	}

	validator, err := transcribe.NewValidator(cfg.Transcribe.AllowedRoots, cfg.Transcribe.AllowedExtensions)
	if err != nil {
		return err
	}

	store, err := settings.NewStore(cfg.SettingsPath, logger)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	watcher := settings.NewWatcher(store, bus, logger)

	formatter := postproc.NewTextFormatter(cfg.Transcribe.EnsurePeriod)
	corrector := postproc.NewDictionaryCorrector(userDictionary(store.Snapshot()))
	var diarizer postproc.Diarizer
	if cfg.Dev {
		diarizer = &postproc.FakeDiarizer{}
	}

	pipeline := transcribe.NewPipeline(manager, bus, validator, logger,
		transcribe.WithFormatter(formatter),
		transcribe.WithDiarizer(diarizer),
		transcribe.WithSidecarLabel(cfg.Transcribe.SidecarLabel))
	transcripts := transcribe.NewService(pipeline, registry, manager, bus, logger)

	live := realtime.NewService(realtime.Config{
		SampleRate:      cfg.Realtime.SampleRate,
		FrameMs:         cfg.Realtime.FrameMs,
		WindowSeconds:   cfg.Realtime.WindowSeconds,
		SilenceSeconds:  cfg.Realtime.SilenceSeconds,
		MinFlushSeconds: cfg.Realtime.MinFlushSeconds,
		RingSeconds:     cfg.Realtime.RingSeconds,
		VolumeInterval:  time.Duration(cfg.Realtime.VolumeIntervalMs) * time.Millisecond,
	}, audioSource(cfg), realtime.NewEnergyVAD(cfg.Realtime.VADThreshold), manager, registry, bus, logger)

	watch := monitor.NewService(monitor.Defaults{
		SidecarLabel:   cfg.Transcribe.SidecarLabel,
		Extensions:     cfg.Transcribe.AllowedExtensions,
		Patterns:       cfg.Monitor.IncludePatterns,
		CheckInterval:  time.Duration(cfg.Monitor.CheckIntervalSeconds * float64(time.Second)),
		StableWait:     time.Duration(cfg.Monitor.StableWaitMs) * time.Millisecond,
		ProcessedLimit: cfg.Monitor.ProcessedLimit,
	}, registry, bus, logger)

	exports := export.NewRegistry(validator, logger)

	janitor := maintenance.NewJanitor(watch, logger,
		maintenance.WithSchedule(cfg.Maintenance.Schedule),
		maintenance.WithTempMaxAge(time.Duration(cfg.Maintenance.TempMaxAgeMinutes)*time.Minute),
		maintenance.WithDirs(func() []string {
			dirs := []string{filepath.Dir(store.Path())}
			if status := watch.Status(); status.Running {
				dirs = append(dirs, status.Directory)
			}
			return dirs
		}))

	application := app.New(logger)
	application.RegisterObserver(app.LoggingObserver{Logger: logger})

	handlers, err := server.NewHandlers(server.Deps{
		Logger:          logger,
		Engines:         manager,
		Transcripts:     transcripts,
		Live:            live,
		Watch:           watch,
		Settings:        store,
		Exports:         exports,
		Formatter:       formatter,
		Corrector:       corrector,
		Diarizer:        diarizer,
		RequestShutdown: application.Shutdown,
		Conf:            cfg,
		ConfPath:        *configPath,
		Version:         version,
	})
	if err != nil {
		return err
	}

	hub := server.NewHub(bus, cfg.MaxConnections, cfg.CORSOrigins, logger)
	router := server.NewRouter(handlers, hub, tokens, server.RouterConfig{
		AllowedOrigins: cfg.CORSOrigins,
		Dev:            cfg.Dev,
	}, logger)
	srv := server.New(server.Config{Host: cfg.Host, Port: cfg.Port}, router, hub, bus, registry, logger,
		server.WithOnReady(func(port int) {
			announce(cfg.Host, port, tokens.Current())
		}))

	// Start order: the bus first so worker events are never dropped, the
	// listener last so the announce line only prints once everything
	// behind it is ready. Stop runs in reverse, so the server drains
	// workers and WebSockets before the bus goes down.
	application.Register(bus)
	application.Register(watcher)
	application.Register(janitor)
	application.Register(srv)

	// Keep the corrector in step with the user dictionary when the shell
	// rewrites the settings file behind our back.
	followDictionary(bus, store, corrector, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = application.NotifyObservers(ctx, app.NewEvent(app.EventTypeConfigLoaded, "kotoba-server",
		map[string]any{"config": *configPath, "engines": len(cfg.Engines)}, nil))

	return application.Run(ctx)
}

// startupLine is the machine-readable contract with the supervisor. It is
// the only thing this process ever writes to stdout.
type startupLine struct {
	Port  int    `json:"port"`
	Host  string `json:"host"`
	Token string `json:"token"`
}

func announce(host string, port int, token string) {
	line, err := json.Marshal(startupLine{Port: port, Host: host, Token: token})
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stdout, string(line))
	_ = os.Stdout.Sync()
}

// buildEngines turns the configured engine list into live backends.
func buildEngines(cfg *config.Config, logger logging.Logger) (map[string]engine.Engine, error) {
	engines := make(map[string]engine.Engine, len(cfg.Engines))
	for _, ec := range cfg.Engines {
		switch ec.Type {
		case "fake":
			engines[ec.Name] = engine.NewFake(ec.Name)
		case "command":
			engines[ec.Name] = engine.NewCommandEngine(engine.CommandConfig{
				ID:        ec.Name,
				Command:   ec.Command,
				Args:      ec.Args,
				ModelPath: ec.ModelPath,
			}, logger)
		default:
			return nil, fmt.Errorf("engine %q: unsupported type %q", ec.Name, ec.Type)
		}
	}
	return engines, nil
}

// audioSource builds the per-session capture source factory.
func audioSource(cfg *config.Config) func() realtime.Source {
	if cfg.Realtime.Source == "command" && cfg.Realtime.SourceCommand != "" {
		return func() realtime.Source {
			return &realtime.CommandSource{
				Command: cfg.Realtime.SourceCommand,
				Args:    cfg.Realtime.SourceArgs,
			}
		}
	}
	return func() realtime.Source { return &realtime.FakeSource{} }
}

// userDictionary extracts the from→to correction pairs the shell keeps
// under the settings "dictionary" key. Non-string values are skipped.
func userDictionary(doc map[string]any) map[string]string {
	raw, ok := doc["dictionary"].(map[string]any)
	if !ok {
		return nil
	}
	dict := make(map[string]string, len(raw))
	for from, to := range raw {
		if s, ok := to.(string); ok {
			dict[from] = s
		}
	}
	return dict
}

// followDictionary refreshes the corrector whenever the settings watcher
// reports an on-disk change. The subscriber exits with the bus.
func followDictionary(bus *eventbus.Bus, store *settings.Store, corrector *postproc.DictionaryCorrector, logger logging.Logger) {
	sub, err := bus.Subscribe()
	if err != nil {
		return
	}
	go func() {
		defer sub.Close()
		for event := range sub.Events() {
			if event.Type == eventbus.EventTypeShutdown {
				return
			}
			if event.Type != eventbus.EventTypeStatusUpdate {
				continue
			}
			if _, ok := event.Data["settings"]; !ok {
				continue
			}
			corrector.Replace(userDictionary(store.Snapshot()))
			logger.Debug("user dictionary refreshed")
		}
	}()
}
