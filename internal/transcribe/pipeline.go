package transcribe

import (
	"context"
	"path/filepath"
	"time"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
	"github.com/kotoba-app/kotoba-server/internal/engine"
	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/logging"
	"github.com/kotoba-app/kotoba-server/internal/postproc"
)

// DefaultGateTimeout bounds how long a pipeline waits for the inference
// gate before reporting busy.
const DefaultGateTimeout = time.Second

// Progress checkpoints. The cancel flag is examined before each one.
const (
	checkpointValidated = 5
	checkpointAcquired  = 10
	checkpointLoaded    = 20
	checkpointInference = 40
	checkpointRecognize = 70
	checkpointPostProc  = 80
	checkpointComplete  = 100
)

// Request describes one file to transcribe.
type Request struct {
	FilePath string
	Engine   string
	Language string
	Diarize  bool

	// WriteSidecar writes the transcript next to the source on success.
	WriteSidecar bool
	// SidecarLabel overrides the configured label for this request.
	SidecarLabel string
}

// Outcome is the result of a completed pipeline run.
type Outcome struct {
	Text            string
	Segments        []engine.Segment
	Language        string
	DurationSeconds float64
	OutputPath      string
}

// Pipeline executes the single-file flow: validate, gate, load, recognize,
// post-process, persist. Collaborator failures after recognition degrade
// the result instead of failing the run.
type Pipeline struct {
	engines      *engine.Manager
	bus          *eventbus.Bus
	formatter    postproc.Formatter
	diarizer     postproc.Diarizer
	validator    *Validator
	sidecarLabel string
	gateTimeout  time.Duration
	logger       logging.Logger
}

// PipelineOption adjusts optional collaborators and limits.
type PipelineOption func(*Pipeline)

// WithFormatter sets the text formatting collaborator.
func WithFormatter(f postproc.Formatter) PipelineOption {
	return func(p *Pipeline) { p.formatter = f }
}

// WithDiarizer sets the speaker labelling collaborator.
func WithDiarizer(d postproc.Diarizer) PipelineOption {
	return func(p *Pipeline) { p.diarizer = d }
}

// WithSidecarLabel sets the default transcript file label.
func WithSidecarLabel(label string) PipelineOption {
	return func(p *Pipeline) {
		if label != "" {
			p.sidecarLabel = label
		}
	}
}

// WithGateTimeout sets how long to wait for the inference gate.
func WithGateTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.gateTimeout = d
		}
	}
}

// NewPipeline wires the pipeline over its collaborators.
func NewPipeline(engines *engine.Manager, bus *eventbus.Bus, validator *Validator, logger logging.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		engines:      engines,
		bus:          bus,
		validator:    validator,
		sidecarLabel: DefaultSidecarLabel,
		gateTimeout:  DefaultGateTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ValidatePath runs path validation for a request, returning the absolute
// path. Exposed so handlers can reject bad requests before claiming a slot.
func (p *Pipeline) ValidatePath(path string) (string, error) {
	return p.validator.AudioPath(path)
}

// GateTimeout returns the configured inference gate timeout.
func (p *Pipeline) GateTimeout() time.Duration { return p.gateTimeout }

// Run acquires the inference gate and executes the pipeline. Gate
// contention surfaces as a busy error.
func (p *Pipeline) Run(ctx context.Context, job *Job, req Request) (*Outcome, error) {
	release, err := p.engines.TryAcquire(p.gateTimeout)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBusy, msgEngineBusy, err)
	}
	return p.RunAcquired(ctx, job, req, release)
}

// RunAcquired executes the pipeline with the inference gate already held.
// The release function is always called, at the latest on return; on the
// happy path it is released right after recognition so diarization and
// formatting never block the next inference.
func (p *Pipeline) RunAcquired(ctx context.Context, job *Job, req Request, release func()) (*Outcome, error) {
	defer release()

	fileName := filepath.Base(req.FilePath)

	p.checkpoint(job, checkpointValidated, fileName)
	if job.Cancelled() {
		return nil, ErrCancelled
	}

	p.checkpoint(job, checkpointAcquired, fileName)
	if job.Cancelled() {
		return nil, ErrCancelled
	}

	eng, err := p.engines.EnsureLoaded(ctx, req.Engine)
	if err != nil {
		return nil, &CategorizedError{Category: apperr.CategoryModelLoad, Message: msgModelLoad, Err: err}
	}
	p.checkpoint(job, checkpointLoaded, fileName)
	if job.Cancelled() {
		return nil, ErrCancelled
	}

	p.checkpoint(job, checkpointInference, fileName)
	result, err := eng.TranscribeFile(ctx, req.FilePath, engine.Options{
		Language:   req.Language,
		Timestamps: true,
	})
	if err != nil {
		return nil, &CategorizedError{Category: apperr.CategoryTranscription, Message: msgTranscription, Err: err}
	}
	release()

	p.checkpoint(job, checkpointRecognize, fileName)
	if job.Cancelled() {
		return nil, ErrCancelled
	}

	text := result.Text
	segments := result.Segments
	if req.Diarize && p.diarizer != nil && len(segments) > 0 {
		labelled, derr := p.diarizer.Diarize(ctx, req.FilePath, segments)
		if derr != nil {
			p.logger.Warn("diarization failed, continuing without speakers", "file", fileName, "error", derr)
		} else {
			segments = labelled
		}
	}
	if p.formatter != nil {
		formatted, ferr := p.formatter.Format(ctx, text)
		if ferr != nil {
			p.logger.Warn("text formatting failed, using raw text", "file", fileName, "error", ferr)
		} else {
			text = formatted
		}
	}
	p.checkpoint(job, checkpointPostProc, fileName)
	if job.Cancelled() {
		return nil, ErrCancelled
	}

	outputPath := ""
	if req.WriteSidecar {
		label := req.SidecarLabel
		if label == "" {
			label = p.sidecarLabel
		}
		written, werr := WriteSidecar(req.FilePath, label, text)
		if werr != nil {
			p.logger.Warn("transcript file write failed", "file", fileName, "error", werr)
		} else {
			outputPath = written
		}
	}
	p.checkpoint(job, checkpointComplete, fileName)

	return &Outcome{
		Text:            text,
		Segments:        segments,
		Language:        result.Language,
		DurationSeconds: result.DurationSeconds,
		OutputPath:      outputPath,
	}, nil
}

func (p *Pipeline) checkpoint(job *Job, pct int, fileName string) {
	job.setProgress(pct)
	p.bus.Emit(eventbus.EventTypeProgress, map[string]any{
		"progress":  pct,
		"file_name": fileName,
	})
}
