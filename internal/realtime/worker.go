package realtime

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
	"github.com/kotoba-app/kotoba-server/internal/engine"
	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/logging"
	"github.com/kotoba-app/kotoba-server/internal/worker"
)

// Config holds the capture and flush parameters for one realtime run.
type Config struct {
	SampleRate      int
	FrameMs         int
	WindowSeconds   float64
	SilenceSeconds  float64
	MinFlushSeconds float64
	RingSeconds     int
	VolumeInterval  time.Duration
	GateTimeout     time.Duration
	StopJoinTimeout time.Duration
	Engine          string
	Language        string
}

func (c *Config) fillDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameMs <= 0 {
		c.FrameMs = 30
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 3
	}
	if c.SilenceSeconds <= 0 {
		c.SilenceSeconds = 0.5
	}
	if c.MinFlushSeconds <= 0 {
		c.MinFlushSeconds = 0.3
	}
	if c.RingSeconds <= 0 {
		c.RingSeconds = 60
	}
	if c.VolumeInterval <= 0 {
		c.VolumeInterval = 100 * time.Millisecond
	}
	if c.GateTimeout <= 0 {
		c.GateTimeout = time.Second
	}
	if c.StopJoinTimeout <= 0 {
		c.StopJoinTimeout = 3 * time.Second
	}
}

// pauseTick is how long a paused loop iteration sleeps before rechecking.
const pauseTick = 100 * time.Millisecond

// Worker runs one capture session: read frames, track volume, buffer into
// the ring, and flush windows to the recognizer. The loop is the only
// goroutine touching the ring.
type Worker struct {
	cfg     Config
	source  Source
	vad     VAD
	engines *engine.Manager
	bus     *eventbus.Bus
	logger  logging.Logger

	ctx       context.Context
	cancelCtx context.CancelFunc
	running   atomic.Bool
	paused    atomic.Bool
	buffered  atomic.Int64
	startedAt time.Time

	ring     *Ring
	done     chan struct{}
	exitOnce sync.Once
}

func newWorker(cfg Config, source Source, vad VAD, engines *engine.Manager, bus *eventbus.Bus, logger logging.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		cfg:       cfg,
		source:    source,
		vad:       vad,
		engines:   engines,
		bus:       bus,
		logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
		startedAt: time.Now(),
		ring:      NewRing(cfg.RingSeconds * cfg.SampleRate),
		done:      make(chan struct{}),
	}
	w.running.Store(true)
	return w
}

// Kind names the registry slot.
func (w *Worker) Kind() worker.Kind { return worker.KindRealtime }

// Alive reports whether the capture loop is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Cancel asks the loop to stop. Idempotent.
func (w *Worker) Cancel() {
	w.running.Store(false)
	w.cancelCtx()
}

// Done is closed when the loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) finish() { w.exitOnce.Do(func() { close(w.done) }) }

func (w *Worker) setPaused(paused bool) { w.paused.Store(paused) }

func (w *Worker) status() Status {
	return Status{
		Running:         w.Alive(),
		Paused:          w.paused.Load(),
		Engine:          w.cfg.Engine,
		ElapsedSeconds:  time.Since(w.startedAt).Seconds(),
		BufferedSeconds: float64(w.buffered.Load()) / float64(w.cfg.SampleRate),
	}
}

func (w *Worker) run() {
	defer w.finish()

	frameLen := w.cfg.SampleRate * w.cfg.FrameMs / 1000
	frames, err := w.source.Open(w.ctx, w.cfg.SampleRate, frameLen)
	if err != nil {
		w.logger.Error("audio capture failed to start", "error", err)
		w.emitError(apperr.CategoryAudioDevice, msgAudioDevice)
		w.emitStatus("stopped")
		return
	}
	defer func() { _ = w.source.Close() }()

	if err := w.loadModel(); err != nil {
		w.emitError(apperr.CategoryModelLoad, msgModelLoad)
		w.emitStatus("stopped")
		return
	}

	w.emitStatus("recording")
	w.logger.Info("realtime transcription started",
		"engine", w.cfg.Engine, "sample_rate", w.cfg.SampleRate)

	var lastVolume time.Time
loop:
	for w.running.Load() {
		if w.paused.Load() {
			select {
			case <-time.After(pauseTick):
			case <-w.ctx.Done():
			}
			continue
		}
		select {
		case frame, ok := <-frames:
			if !ok {
				if w.ctx.Err() == nil {
					w.logger.Error("audio stream ended unexpectedly")
					w.emitError(apperr.CategoryAudioDevice, msgAudioDevice)
				}
				break loop
			}
			w.handleFrame(frame, &lastVolume)
		case <-w.ctx.Done():
			break loop
		}
	}

	w.flush()
	w.unloadModel()
	w.emitStatus("stopped")
	w.logger.Info("realtime transcription stopped")
}

func (w *Worker) loadModel() error {
	release, err := w.engines.TryAcquire(w.cfg.GateTimeout)
	if err != nil {
		w.logger.Error("inference gate busy, cannot start realtime", "error", err)
		return err
	}
	defer release()
	if _, err := w.engines.EnsureLoaded(w.ctx, w.cfg.Engine); err != nil {
		w.logger.Error("model load failed", "engine", w.cfg.Engine, "error", err)
		return err
	}
	return nil
}

func (w *Worker) handleFrame(frame []float32, lastVolume *time.Time) {
	now := time.Now()
	if lastVolume.IsZero() || now.Sub(*lastVolume) >= w.cfg.VolumeInterval {
		w.bus.Emit(eventbus.EventTypeVolumeChanged, map[string]any{
			"volume": RMS(frame),
		})
		*lastVolume = now
	}

	w.ring.Append(frame)
	w.buffered.Store(int64(w.ring.Len()))

	bufferedSeconds := float64(w.ring.Len()) / float64(w.cfg.SampleRate)
	switch {
	case bufferedSeconds >= w.cfg.WindowSeconds:
		w.flush()
	case !w.vad.IsSpeech(frame) && bufferedSeconds > w.cfg.SilenceSeconds:
		w.flush()
	}
}

// flush sends the buffered audio to the recognizer. Windows shorter than
// the minimum are discarded, and a busy gate drops the window rather than
// stalling capture.
func (w *Worker) flush() {
	samples := w.ring.Take()
	w.buffered.Store(0)

	seconds := float64(len(samples)) / float64(w.cfg.SampleRate)
	if seconds < w.cfg.MinFlushSeconds {
		return
	}

	release, err := w.engines.TryAcquire(w.cfg.GateTimeout)
	if err != nil {
		w.logger.Warn("inference gate busy, dropping audio window", "seconds", seconds)
		return
	}
	defer release()

	eng, err := w.engines.Engine(w.cfg.Engine)
	if err != nil {
		w.logger.Error("engine lookup failed", "engine", w.cfg.Engine, "error", err)
		return
	}
	result, err := eng.TranscribeSamples(context.Background(), samples, w.cfg.SampleRate, engine.Options{
		Language: w.cfg.Language,
	})
	if err != nil {
		w.logger.Error("realtime inference failed", "seconds", seconds, "error", err)
		w.emitError(apperr.CategoryTranscription, msgTranscription)
		return
	}
	if text := strings.TrimSpace(result.Text); text != "" {
		w.bus.Emit(eventbus.EventTypeTextReady, map[string]any{
			"text": text,
		})
	}
}

func (w *Worker) unloadModel() {
	if err := w.engines.Unload(context.Background(), w.cfg.Engine, w.cfg.GateTimeout); err != nil {
		w.logger.Warn("model unload skipped", "engine", w.cfg.Engine, "error", err)
	}
}

func (w *Worker) emitStatus(status string) {
	w.bus.Emit(eventbus.EventTypeStatusChanged, map[string]any{
		"status": status,
	})
}

func (w *Worker) emitError(category, message string) {
	w.bus.Emit(eventbus.EventTypeError, map[string]any{
		"category": category,
		"message":  message,
	})
}
