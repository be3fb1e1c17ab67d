package transcribe

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kotoba-app/kotoba-server/internal/worker"
)

// Job is one transcription or batch run occupying a registry slot. The
// cancel flag is advisory; the pipeline examines it at checkpoint
// boundaries only, so an in-flight inference call always completes.
type Job struct {
	id        string
	kind      worker.Kind
	startedAt time.Time

	cancel   atomic.Bool
	progress atomic.Int64

	done     chan struct{}
	exitOnce sync.Once
}

// NewJob creates a job for the given slot kind.
func NewJob(kind worker.Kind) *Job {
	return &Job{
		id:        uuid.NewString(),
		kind:      kind,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the job's unique identifier, used in logs.
func (j *Job) ID() string { return j.id }

// Kind names the registry slot this job occupies.
func (j *Job) Kind() worker.Kind { return j.kind }

// StartedAt reports when the job was created.
func (j *Job) StartedAt() time.Time { return j.startedAt }

// Cancel requests a cooperative stop. Idempotent.
func (j *Job) Cancel() { j.cancel.Store(true) }

// Cancelled reports whether a cancel was requested.
func (j *Job) Cancelled() bool { return j.cancel.Load() }

// Alive reports whether the job goroutine is still running.
func (j *Job) Alive() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// Done is closed when the job goroutine exits.
func (j *Job) Done() <-chan struct{} { return j.done }

// Progress returns the last checkpoint reached, 0..100.
func (j *Job) Progress() int { return int(j.progress.Load()) }

func (j *Job) setProgress(pct int) { j.progress.Store(int64(pct)) }

// finish marks the job exited. Safe to call more than once.
func (j *Job) finish() { j.exitOnce.Do(func() { close(j.done) }) }
