package monitor

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/logging"
	"github.com/kotoba-app/kotoba-server/internal/worker"
)

const (
	msgMonitorBusy       = "フォルダ監視は既に実行中です"
	msgMonitorNotRunning = "フォルダ監視が実行されていません"
	msgNoDirectory       = "フォルダが指定されていません"
	msgDirectoryNotFound = "フォルダが見つかりません"
	msgNotADirectory     = "指定されたパスはフォルダではありません"
	msgBadPattern        = "無効なファイルパターンです"
)

// StopJoinTimeout bounds how long Stop waits for the poll loop.
const StopJoinTimeout = 5 * time.Second

// Defaults configure new watch sessions; per-request values override them.
type Defaults struct {
	SidecarLabel   string
	Extensions     []string
	Patterns       []string
	CheckInterval  time.Duration
	StableWait     time.Duration
	ProcessedLimit int
}

// StartRequest begins watching a directory.
type StartRequest struct {
	Directory            string
	CheckIntervalSeconds float64
	Patterns             []string
}

// Status is the monitor state reported over HTTP.
type Status struct {
	Running        bool    `json:"running"`
	Directory      string  `json:"directory,omitempty"`
	State          string  `json:"state"`
	IntervalSecond float64 `json:"check_interval_seconds,omitempty"`
	ProcessedCount int     `json:"processed_count"`
	DetectedTotal  int64   `json:"detected_total"`
}

// Service starts and stops the single folder watch session.
type Service struct {
	defaults Defaults
	registry *worker.Registry
	bus      *eventbus.Bus
	logger   logging.Logger
}

// NewService wires folder-watch control.
func NewService(defaults Defaults, registry *worker.Registry, bus *eventbus.Bus, logger logging.Logger) *Service {
	if defaults.SidecarLabel == "" {
		defaults.SidecarLabel = "文字起こし"
	}
	if defaults.CheckInterval <= 0 {
		defaults.CheckInterval = 3 * time.Second
	}
	if defaults.StableWait <= 0 {
		defaults.StableWait = time.Second
	}
	if defaults.ProcessedLimit <= 0 {
		defaults.ProcessedLimit = DefaultProcessedLimit
	}
	return &Service{
		defaults: defaults,
		registry: registry,
		bus:      bus,
		logger:   logger,
	}
}

// Start begins watching a directory. Busy when a watch is already running.
func (s *Service) Start(req StartRequest) error {
	if req.Directory == "" {
		return apperr.New(apperr.KindValidation, msgNoDirectory)
	}
	abs, err := filepath.Abs(req.Directory)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, msgDirectoryNotFound, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return apperr.New(apperr.KindNotFound, msgDirectoryNotFound)
		}
		return apperr.Wrap(apperr.KindValidation, msgDirectoryNotFound, err)
	}
	if !info.IsDir() {
		return apperr.New(apperr.KindValidation, msgNotADirectory)
	}

	patterns := req.Patterns
	if len(patterns) == 0 {
		patterns = s.defaults.Patterns
	}
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, msgBadPattern, err)
		}
		compiled = append(compiled, g)
	}

	interval := s.defaults.CheckInterval
	if req.CheckIntervalSeconds > 0 {
		interval = time.Duration(req.CheckIntervalSeconds * float64(time.Second))
	}

	set, err := LoadProcessedSet(abs, s.defaults.ProcessedLimit, s.logger)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "処理済みリストの読み込みに失敗しました", err)
	}

	w := newWorker(Config{
		Directory:      abs,
		SidecarLabel:   s.defaults.SidecarLabel,
		Extensions:     s.defaults.Extensions,
		Patterns:       compiled,
		CheckInterval:  interval,
		StableWait:     s.defaults.StableWait,
		ProcessedLimit: s.defaults.ProcessedLimit,
	}, set, s.bus, s.logger)
	if !s.registry.TrySet(w) {
		return apperr.New(apperr.KindBusy, msgMonitorBusy)
	}
	go w.run()
	return nil
}

// Stop ends the watch session. Stopping an idle service is a no-op.
func (s *Service) Stop() bool {
	w := s.current()
	if w == nil {
		return false
	}
	w.setState(StateStopping)
	w.Cancel()
	if !worker.Join(w, StopJoinTimeout) {
		s.logger.Warn("folder watch did not stop in time", "timeout", StopJoinTimeout)
		return true
	}
	s.registry.Release(w)
	return true
}

// MarkProcessed records a path in the active session's ledger so later
// scans skip it.
func (s *Service) MarkProcessed(path string) error {
	w := s.current()
	if w == nil {
		return apperr.New(apperr.KindBusy, msgMonitorNotRunning)
	}
	return w.set.Add(path)
}

// Status reports the current watch state.
func (s *Service) Status() Status {
	w := s.current()
	if w == nil {
		return Status{Running: false, State: StateStopped}
	}
	return Status{
		Running:        true,
		Directory:      w.cfg.Directory,
		State:          w.State(),
		IntervalSecond: w.cfg.CheckInterval.Seconds(),
		ProcessedCount: w.set.Len(),
		DetectedTotal:  w.detected.Load(),
	}
}

// Prune drops vanished files from the active ledger, if a watch is
// running. The maintenance janitor calls this on its schedule.
func (s *Service) Prune() error {
	w := s.current()
	if w == nil {
		return nil
	}
	return w.set.Prune()
}

func (s *Service) current() *Worker {
	occupant, ok := s.registry.Get(worker.KindFolderMonitor)
	if !ok || !occupant.Alive() {
		return nil
	}
	w, ok := occupant.(*Worker)
	if !ok {
		return nil
	}
	return w
}
