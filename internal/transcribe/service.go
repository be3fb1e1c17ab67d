package transcribe

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
	"github.com/kotoba-app/kotoba-server/internal/engine"
	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/logging"
	"github.com/kotoba-app/kotoba-server/internal/worker"
)

// Service starts and cancels transcription jobs. One single-file job and
// one batch job may run at a time, each in its own registry slot; the
// inference gate serializes their engine use.
type Service struct {
	pipeline *Pipeline
	registry *worker.Registry
	engines  *engine.Manager
	bus      *eventbus.Bus
	logger   logging.Logger
}

// NewService wires the orchestration layer over the pipeline.
func NewService(pipeline *Pipeline, registry *worker.Registry, engines *engine.Manager, bus *eventbus.Bus, logger logging.Logger) *Service {
	return &Service{
		pipeline: pipeline,
		registry: registry,
		engines:  engines,
		bus:      bus,
		logger:   logger,
	}
}

// BatchRequest describes a batch run over several files.
type BatchRequest struct {
	FilePaths []string
	Engine    string
	Language  string
	Diarize   bool
}

// Start validates the request, claims the transcription slot and the
// inference gate, and launches the pipeline. Validation and slot errors
// return synchronously so the handler can answer 4xx; everything after
// that surfaces through events.
func (s *Service) Start(req Request) (*Job, error) {
	abs, err := s.pipeline.ValidatePath(req.FilePath)
	if err != nil {
		return nil, err
	}
	req.FilePath = abs
	if _, err := s.engines.Engine(req.Engine); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, msgUnknownEngine, err)
	}

	job := NewJob(worker.KindTranscription)
	if !s.registry.TrySet(job) {
		return nil, apperr.New(apperr.KindBusy, msgTranscribeBusy)
	}
	release, err := s.engines.TryAcquire(s.pipeline.GateTimeout())
	if err != nil {
		job.finish()
		s.registry.Release(job)
		return nil, apperr.Wrap(apperr.KindBusy, msgEngineBusy, err)
	}

	s.logger.Info("transcription started", "job", job.ID(), "file", filepath.Base(req.FilePath))
	go s.run(job, req, release)
	return job, nil
}

func (s *Service) run(job *Job, req Request, release func()) {
	defer func() {
		job.finish()
		s.registry.Release(job)
	}()

	outcome, err := s.pipeline.RunAcquired(context.Background(), job, req, release)
	if err != nil {
		s.emitFailure(job, filepath.Base(req.FilePath), err)
		return
	}

	s.logger.Info("transcription finished", "job", job.ID(),
		"file", filepath.Base(req.FilePath), "chars", len(outcome.Text))
	s.bus.Emit(eventbus.EventTypeFinished, map[string]any{
		"text":             outcome.Text,
		"segments":         segmentPayload(outcome.Segments),
		"file_name":        filepath.Base(req.FilePath),
		"output_path":      outcome.OutputPath,
		"duration_seconds": outcome.DurationSeconds,
	})
}

// StartBatch validates every path up front, claims the batch slot, and
// processes the files sequentially on one goroutine.
func (s *Service) StartBatch(req BatchRequest) (*Job, error) {
	if len(req.FilePaths) == 0 {
		return nil, apperr.New(apperr.KindValidation, msgNoBatchFiles)
	}
	resolved := make([]string, 0, len(req.FilePaths))
	for _, path := range req.FilePaths {
		abs, err := s.pipeline.ValidatePath(path)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, abs)
	}
	if _, err := s.engines.Engine(req.Engine); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, msgUnknownEngine, err)
	}

	job := NewJob(worker.KindBatch)
	if !s.registry.TrySet(job) {
		return nil, apperr.New(apperr.KindBusy, msgBatchBusy)
	}

	s.logger.Info("batch started", "job", job.ID(), "files", len(resolved))
	go s.runBatch(job, req, resolved)
	return job, nil
}

func (s *Service) runBatch(job *Job, req BatchRequest, paths []string) {
	defer func() {
		job.finish()
		s.registry.Release(job)
	}()

	total := len(paths)
	succeeded, failed := 0, 0
	cancelled := false

	for i, path := range paths {
		if job.Cancelled() {
			cancelled = true
			break
		}
		s.bus.Emit(eventbus.EventTypeBatchProgress, map[string]any{
			"index":     i + 1,
			"total":     total,
			"path":      path,
			"file_name": filepath.Base(path),
		})

		_, err := s.pipeline.Run(context.Background(), job, Request{
			FilePath:     path,
			Engine:       req.Engine,
			Language:     req.Language,
			Diarize:      req.Diarize,
			WriteSidecar: true,
		})
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				cancelled = true
				break
			}
			failed++
			cerr := Categorize(err)
			s.logger.Error("batch item failed", "job", job.ID(),
				"file", filepath.Base(path), "category", cerr.Category, "error", err)
			continue
		}
		succeeded++
	}

	s.logger.Info("batch finished", "job", job.ID(), "total", total,
		"succeeded", succeeded, "failed", failed, "cancelled", cancelled)
	s.bus.Emit(eventbus.EventTypeBatchFinished, map[string]any{
		"total":     total,
		"succeeded": succeeded,
		"failed":    failed,
		"cancelled": cancelled,
	})
}

// CancelTranscription flags the running single-file job, if any. Always
// succeeds; cancelling an idle slot is a no-op.
func (s *Service) CancelTranscription() bool {
	return s.cancelSlot(worker.KindTranscription)
}

// CancelBatch flags the running batch job, if any.
func (s *Service) CancelBatch() bool {
	return s.cancelSlot(worker.KindBatch)
}

func (s *Service) cancelSlot(kind worker.Kind) bool {
	w, ok := s.registry.Get(kind)
	if !ok || !w.Alive() {
		return false
	}
	s.logger.Info("cancel requested", "kind", kind)
	w.Cancel()
	return true
}

func (s *Service) emitFailure(job *Job, fileName string, err error) {
	cerr := Categorize(err)
	if cerr.Category == apperr.CategoryCancelled {
		s.logger.Info("transcription cancelled", "job", job.ID(), "file", fileName)
	} else {
		s.logger.Error("transcription failed", "job", job.ID(),
			"file", fileName, "category", cerr.Category, "error", err)
	}
	s.bus.Emit(eventbus.EventTypeError, map[string]any{
		"category": cerr.Category,
		"message":  cerr.Message,
	})
}

// segmentPayload converts segments to the wire shape used in events.
func segmentPayload(segments []engine.Segment) []map[string]any {
	out := make([]map[string]any, 0, len(segments))
	for _, seg := range segments {
		m := map[string]any{
			"start": seg.Start,
			"end":   seg.End,
			"text":  seg.Text,
		}
		if seg.Speaker != "" {
			m["speaker"] = seg.Speaker
		}
		out = append(out, m)
	}
	return out
}
