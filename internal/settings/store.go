// Package settings persists user preferences in app_settings.json and
// keeps the in-process view in sync with edits made by the desktop shell.
package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
	"github.com/kotoba-app/kotoba-server/internal/fsutil"
	"github.com/kotoba-app/kotoba-server/internal/logging"
)

// Redacted replaces secret-like values in masked snapshots.
const Redacted = "[REDACTED]"

const (
	msgBadSettings  = "設定の形式が正しくありません"
	msgSaveSettings = "設定の保存に失敗しました"
)

// secretMarkers flag keys whose values must never leave the process
// unmasked. Matching is case-insensitive on the key name.
var secretMarkers = []string{"token", "secret", "password", "credential", "apikey", "api_key"}

// Store is the settings document backed by a JSON file. The document is a
// free-form object owned by the desktop shell; the server only merges,
// persists, and masks it.
type Store struct {
	mu     sync.RWMutex
	path   string
	data   map[string]any
	logger logging.Logger
}

// NewStore loads the settings file at path, or starts empty when it does
// not exist yet. A file that is not valid JSON is logged and ignored so a
// bad hand-edit cannot keep the server from booting.
func NewStore(path string, logger logging.Logger) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	doc, err := readDocument(abs, logger)
	if err != nil {
		return nil, err
	}
	return &Store{path: abs, data: doc, logger: logger}, nil
}

func readDocument(path string, logger logging.Logger) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Warn("settings file is not valid JSON, starting empty",
			"path", path, "error", err)
		return map[string]any{}, nil
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// Path returns the absolute settings file location.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns an unmasked copy of the document for in-process use.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyValue(s.data).(map[string]any)
}

// Masked returns a copy of the document with secret-like values redacted.
// This is the only view that may cross the HTTP boundary.
func (s *Store) Masked() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maskValue(s.data).(map[string]any)
}

// Update applies a JSON merge patch: objects merge recursively, explicit
// nulls delete keys, everything else replaces. The merged document is
// written atomically and the masked result returned.
func (s *Store) Update(patch map[string]any) (map[string]any, error) {
	normalized, err := normalize(patch)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, msgBadSettings, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	merged := mergeObjects(s.data, normalized)
	if err := persist(s.path, merged); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, msgSaveSettings, err)
	}
	s.data = merged
	return maskValue(s.data).(map[string]any), nil
}

// Reload re-reads the file and reports whether the document changed. The
// watcher uses the changed flag to swallow echoes of the store's own
// writes.
func (s *Store) Reload() (bool, error) {
	doc, err := readDocument(s.path, s.logger)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.DeepEqual(s.data, doc) {
		return false, nil
	}
	s.data = doc
	return true, nil
}

// normalize round-trips the patch through JSON so the in-memory document
// only ever holds JSON types. Without this, reloads would see numeric type
// drift (int vs float64) as a change.
func normalize(patch map[string]any) (map[string]any, error) {
	if patch == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func mergeObjects(dst, patch map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(patch))
	for k, v := range dst {
		out[k] = copyValue(v)
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		patchObj, patchIsObj := v.(map[string]any)
		dstObj, dstIsObj := out[k].(map[string]any)
		if patchIsObj && dstIsObj {
			out[k] = mergeObjects(dstObj, patchObj)
			continue
		}
		out[k] = copyValue(v)
	}
	return out
}

func persist(path string, doc map[string]any) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	return fsutil.WriteFileAtomic(path, raw, 0o600)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = copyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = copyValue(vv)
		}
		return out
	default:
		return v
	}
}

func maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			if secretLike(k) && !isEmptyValue(vv) {
				out[k] = Redacted
				continue
			}
			out[k] = maskValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = maskValue(vv)
		}
		return out
	default:
		return v
	}
}

func secretLike(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range secretMarkers {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return k == "key" || strings.HasSuffix(k, "_key")
}

// isEmptyValue keeps unset secrets visible as unset so clients can tell
// "not configured" from "configured and hidden".
func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
