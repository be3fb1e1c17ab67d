package monitor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
	"github.com/kotoba-app/kotoba-server/internal/fsutil"
	"github.com/kotoba-app/kotoba-server/internal/logging"
)

// ProcessedFileName is the per-directory ledger of already-handled files,
// one absolute path per line.
const ProcessedFileName = ".processed_files.txt"

// DefaultProcessedLimit caps the in-memory set before pruning kicks in.
const DefaultProcessedLimit = 50000

// maxProcessedFileBytes rejects ledgers too large to be plausible; a
// corrupt or runaway file must not stall startup.
const maxProcessedFileBytes = 50 * 1024 * 1024

const msgPathOutsideWatch = "監視フォルダの外のパスは登録できません"

// ProcessedSet tracks which files in a watched directory have already been
// handled. Every mutation is persisted atomically so a crash never loses
// or truncates the ledger.
type ProcessedSet struct {
	mu      sync.Mutex
	dir     string
	path    string
	limit   int
	entries map[string]struct{}
	logger  logging.Logger
}

// LoadProcessedSet reads the ledger inside dir. A missing ledger starts
// empty; an oversized one is rejected and logged, also starting empty.
// Entries that escape the watched directory are dropped on load.
func LoadProcessedSet(dir string, limit int, logger logging.Logger) (*ProcessedSet, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving watch directory: %w", err)
	}
	if limit <= 0 {
		limit = DefaultProcessedLimit
	}
	s := &ProcessedSet{
		dir:     abs,
		path:    filepath.Join(abs, ProcessedFileName),
		limit:   limit,
		entries: make(map[string]struct{}),
		logger:  logger,
	}

	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading processed ledger: %w", err)
	}
	if info.Size() > maxProcessedFileBytes {
		logger.Error("processed ledger too large, starting empty",
			"path", s.path, "size", info.Size())
		return s, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening processed ledger: %w", err)
	}
	defer f.Close()

	skipped := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !filepath.IsAbs(line) || !fsutil.WithinRoot(abs, line) {
			skipped++
			continue
		}
		s.entries[filepath.Clean(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading processed ledger: %w", err)
	}
	if skipped > 0 {
		logger.Warn("dropped ledger entries outside watch directory",
			"path", s.path, "count", skipped)
	}
	return s, nil
}

// Contains reports whether path is already marked processed.
func (s *ProcessedSet) Contains(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[filepath.Clean(path)]
	return ok
}

// Add marks a path processed and persists the ledger. Paths outside the
// watched directory are refused.
func (s *ProcessedSet) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, msgPathOutsideWatch, err)
	}
	abs = filepath.Clean(abs)
	if !fsutil.WithinRoot(s.dir, abs) {
		return apperr.New(apperr.KindValidation, msgPathOutsideWatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[abs]; ok {
		return nil
	}
	s.entries[abs] = struct{}{}
	if len(s.entries) > s.limit {
		s.pruneLocked()
	}
	return s.saveLocked()
}

// Len returns the number of tracked paths.
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Prune drops entries whose files no longer exist and rewrites the ledger.
func (s *ProcessedSet) Prune() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pruneLocked() == 0 {
		return nil
	}
	return s.saveLocked()
}

// pruneLocked evicts entries for vanished files, returning how many went.
func (s *ProcessedSet) pruneLocked() int {
	evicted := 0
	for path := range s.entries {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			delete(s.entries, path)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Info("pruned processed ledger", "evicted", evicted, "remaining", len(s.entries))
	}
	return evicted
}

func (s *ProcessedSet) saveLocked() error {
	lines := make([]string, 0, len(s.entries))
	for path := range s.entries {
		lines = append(lines, path)
	}
	sort.Strings(lines)
	data := strings.Join(lines, "\n")
	if len(lines) > 0 {
		data += "\n"
	}
	return fsutil.WriteFileAtomic(s.path, []byte(data), 0o644)
}
