package realtime

import (
	"github.com/kotoba-app/kotoba-server/internal/apperr"
	"github.com/kotoba-app/kotoba-server/internal/engine"
	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/logging"
	"github.com/kotoba-app/kotoba-server/internal/worker"
)

// User-facing Japanese messages for realtime control.
const (
	msgRealtimeBusy       = "リアルタイム文字起こしは既に実行中です"
	msgRealtimeNotRunning = "リアルタイム文字起こしが実行されていません"
	msgUnknownEngine      = "不明な音声認識エンジンです"
	msgAudioDevice        = "音声デバイスでエラーが発生しました"
	msgModelLoad          = "モデルの読み込みに失敗しました"
	msgTranscription      = "音声認識に失敗しました"
)

// Status is the realtime state reported over HTTP.
type Status struct {
	Running         bool    `json:"running"`
	Paused          bool    `json:"paused"`
	Engine          string  `json:"engine,omitempty"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	BufferedSeconds float64 `json:"buffered_seconds"`
}

// StartRequest selects the engine and language for a capture session.
type StartRequest struct {
	Engine   string
	Language string
}

// Service starts, pauses, and stops the single realtime capture session.
type Service struct {
	cfg       Config
	newSource func() Source
	vad       VAD
	engines   *engine.Manager
	registry  *worker.Registry
	bus       *eventbus.Bus
	logger    logging.Logger
}

// NewService wires realtime control. newSource builds a fresh capture
// source per session; vad may be nil to get the energy default.
func NewService(cfg Config, newSource func() Source, vad VAD, engines *engine.Manager, registry *worker.Registry, bus *eventbus.Bus, logger logging.Logger) *Service {
	cfg.fillDefaults()
	if vad == nil {
		vad = NewEnergyVAD(0.015)
	}
	if newSource == nil {
		newSource = func() Source { return &FakeSource{} }
	}
	return &Service{
		cfg:       cfg,
		newSource: newSource,
		vad:       vad,
		engines:   engines,
		registry:  registry,
		bus:       bus,
		logger:    logger,
	}
}

// Start launches a capture session. Busy when one is already running.
func (s *Service) Start(req StartRequest) error {
	cfg := s.cfg
	cfg.Engine = req.Engine
	if cfg.Engine == "" {
		cfg.Engine = s.engines.Active()
	}
	if req.Language != "" {
		cfg.Language = req.Language
	}
	if _, err := s.engines.Engine(cfg.Engine); err != nil {
		return apperr.Wrap(apperr.KindValidation, msgUnknownEngine, err)
	}

	w := newWorker(cfg, s.newSource(), s.vad, s.engines, s.bus, s.logger)
	if !s.registry.TrySet(w) {
		return apperr.New(apperr.KindBusy, msgRealtimeBusy)
	}
	go w.run()
	return nil
}

// Stop cancels the session and waits briefly for the loop to wind down.
// Stopping an idle service is a no-op.
func (s *Service) Stop() bool {
	w := s.current()
	if w == nil {
		return false
	}
	w.Cancel()
	if !worker.Join(w, s.cfg.StopJoinTimeout) {
		// Keep the slot claimed; a new session must not open the device
		// while the old loop still owns it.
		s.logger.Warn("realtime worker did not stop in time", "timeout", s.cfg.StopJoinTimeout)
		return true
	}
	s.registry.Release(w)
	return true
}

// Pause suspends frame processing without releasing the device.
func (s *Service) Pause() error {
	w := s.current()
	if w == nil {
		return apperr.New(apperr.KindBusy, msgRealtimeNotRunning)
	}
	w.setPaused(true)
	s.bus.Emit(eventbus.EventTypeStatusChanged, map[string]any{"status": "paused"})
	return nil
}

// Resume continues a paused session.
func (s *Service) Resume() error {
	w := s.current()
	if w == nil {
		return apperr.New(apperr.KindBusy, msgRealtimeNotRunning)
	}
	w.setPaused(false)
	s.bus.Emit(eventbus.EventTypeStatusChanged, map[string]any{"status": "recording"})
	return nil
}

// Status reports the current session state.
func (s *Service) Status() Status {
	w := s.current()
	if w == nil {
		return Status{Running: false}
	}
	return w.status()
}

func (s *Service) current() *Worker {
	occupant, ok := s.registry.Get(worker.KindRealtime)
	if !ok || !occupant.Alive() {
		return nil
	}
	w, ok := occupant.(*Worker)
	if !ok {
		return nil
	}
	return w
}
