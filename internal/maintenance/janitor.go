// Package maintenance runs periodic housekeeping: compacting the
// processed-files ledger and sweeping leftovers of interrupted atomic
// writes.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kotoba-app/kotoba-server/internal/fsutil"
	"github.com/kotoba-app/kotoba-server/internal/logging"
)

const (
	// DefaultSchedule runs housekeeping once an hour.
	DefaultSchedule = "@every 1h"

	// DefaultTempMaxAge is how old a temp artifact must be before the
	// sweep removes it. Young temp files may belong to a write still in
	// flight.
	DefaultTempMaxAge = time.Hour
)

// Pruner compacts a ledger of processed paths. The folder monitor's
// service satisfies this and no-ops while no watch is running.
type Pruner interface {
	Prune() error
}

// Janitor owns the cron schedule and the sweep itself.
type Janitor struct {
	schedule string
	maxAge   time.Duration
	pruner   Pruner
	dirs     func() []string
	logger   logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

// Option adjusts janitor behavior.
type Option func(*Janitor)

// WithSchedule overrides the cron schedule, e.g. "@every 30m".
func WithSchedule(schedule string) Option {
	return func(j *Janitor) {
		if schedule != "" {
			j.schedule = schedule
		}
	}
}

// WithTempMaxAge overrides how old temp artifacts must be to be swept.
func WithTempMaxAge(maxAge time.Duration) Option {
	return func(j *Janitor) {
		if maxAge > 0 {
			j.maxAge = maxAge
		}
	}
}

// WithDirs sets the callback producing the directories to sweep. It runs
// on every pass so the set can follow the active watch directory.
func WithDirs(dirs func() []string) Option {
	return func(j *Janitor) {
		if dirs != nil {
			j.dirs = dirs
		}
	}
}

// NewJanitor builds a janitor. The pruner may be nil when no ledger
// exists to compact.
func NewJanitor(pruner Pruner, logger logging.Logger, opts ...Option) *Janitor {
	j := &Janitor{
		schedule: DefaultSchedule,
		maxAge:   DefaultTempMaxAge,
		pruner:   pruner,
		dirs:     func() []string { return nil },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Name identifies the janitor in lifecycle logs.
func (j *Janitor) Name() string {
	return "maintenance-janitor"
}

// Start validates the schedule and begins periodic runs.
func (j *Janitor) Start(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return nil
	}
	if _, err := cron.ParseStandard(j.schedule); err != nil {
		return fmt.Errorf("parsing maintenance schedule %q: %w", j.schedule, err)
	}

	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, func() { j.RunOnce() }); err != nil {
		return fmt.Errorf("scheduling maintenance: %w", err)
	}
	j.cron.Start()
	j.started = true
	j.logger.Info("maintenance scheduled", "schedule", j.schedule, "temp_max_age", j.maxAge)
	return nil
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		return nil
	}
	j.started = false
	stopCtx := j.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one housekeeping pass and returns the number of temp
// artifacts removed. Errors are logged; a failing ledger prune never
// blocks the sweep.
func (j *Janitor) RunOnce() int {
	if j.pruner != nil {
		if err := j.pruner.Prune(); err != nil {
			j.logger.Warn("ledger prune failed", "error", err)
		}
	}

	removed := 0
	cutoff := time.Now().Add(-j.maxAge)
	for _, dir := range dedupe(j.dirs()) {
		removed += j.sweepDir(dir, cutoff)
	}
	if removed > 0 {
		j.logger.Info("temp artifacts removed", "count", removed)
	}
	return removed
}

func (j *Janitor) sweepDir(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		j.logger.Debug("sweep skipped", "directory", dir, "error", err)
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !fsutil.IsTempArtifact(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Warn("temp artifact removal failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}

func dedupe(dirs []string) []string {
	seen := make(map[string]struct{}, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}
