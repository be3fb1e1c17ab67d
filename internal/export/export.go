// Package export renders transcripts to files. Plain text and JSON render
// in process; richer formats (docx, xlsx, srt, vtt) come from external
// collaborators registered at startup. Requesting a format nobody
// registered reports unsupported instead of failing.
package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
	"github.com/kotoba-app/kotoba-server/internal/engine"
	"github.com/kotoba-app/kotoba-server/internal/fsutil"
	"github.com/kotoba-app/kotoba-server/internal/logging"
	"github.com/kotoba-app/kotoba-server/internal/transcribe"
)

// Formats the API names. txt and json always resolve; the rest only when
// an exporter has been registered for them.
const (
	FormatTxt  = "txt"
	FormatJSON = "json"
	FormatSRT  = "srt"
	FormatVTT  = "vtt"
	FormatDocx = "docx"
	FormatXlsx = "xlsx"
)

var knownFormats = map[string]struct{}{
	FormatTxt:  {},
	FormatJSON: {},
	FormatSRT:  {},
	FormatVTT:  {},
	FormatDocx: {},
	FormatXlsx: {},
}

const (
	msgUnknownFormat     = "不明なエクスポート形式です"
	msgUnsupportedFormat = "この形式のエクスポートには対応していません"
	msgNoOutputPath      = "出力先が指定されていません"
	msgExtensionMismatch = "出力先の拡張子が形式と一致しません"
	msgOutputDirMissing  = "出力先フォルダが見つかりません"
	msgNothingToExport   = "エクスポートする内容がありません"
	msgExportFailed      = "エクスポートに失敗しました"
)

// Document is the transcript payload a client asks to export.
type Document struct {
	Text     string           `json:"text"`
	Segments []engine.Segment `json:"segments,omitempty"`
	Language string           `json:"language,omitempty"`
}

func (d Document) empty() bool {
	return strings.TrimSpace(d.Text) == "" && len(d.Segments) == 0
}

// Exporter renders a document to the bytes of one output format. The
// registry owns writing them to disk so every format gets the same atomic
// write.
type Exporter interface {
	Render(doc Document) ([]byte, error)
}

// Request carries one export operation.
type Request struct {
	Format     string
	OutputPath string
	Document   Document
}

// Registry resolves formats to exporters and performs the writes. Paths
// obey the same root confinement as audio inputs.
type Registry struct {
	mu        sync.RWMutex
	exporters map[string]Exporter
	validator *transcribe.Validator
	logger    logging.Logger
}

// NewRegistry builds a registry with the built-in txt and json exporters.
func NewRegistry(validator *transcribe.Validator, logger logging.Logger) *Registry {
	return &Registry{
		exporters: map[string]Exporter{
			FormatTxt:  TextExporter{},
			FormatJSON: JSONExporter{},
		},
		validator: validator,
		logger:    logger,
	}
}

// Register installs an exporter for one of the known formats. Collaborator
// plugins call this during startup wiring.
func (r *Registry) Register(format string, exporter Exporter) error {
	format = normalizeFormat(format)
	if _, ok := knownFormats[format]; !ok {
		return apperr.New(apperr.KindValidation, msgUnknownFormat)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exporters[format] = exporter
	return nil
}

// Formats lists the formats that currently resolve, sorted.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exporters))
	for format := range r.exporters {
		out = append(out, format)
	}
	sort.Strings(out)
	return out
}

// Export renders the document and writes it to the requested path,
// returning the absolute path written.
func (r *Registry) Export(req Request) (string, error) {
	format := normalizeFormat(req.Format)
	if _, ok := knownFormats[format]; !ok {
		return "", apperr.New(apperr.KindValidation, msgUnknownFormat)
	}

	r.mu.RLock()
	exporter, ok := r.exporters[format]
	r.mu.RUnlock()
	if !ok {
		return "", apperr.New(apperr.KindUnsupported, msgUnsupportedFormat)
	}

	if req.Document.empty() {
		return "", apperr.New(apperr.KindValidation, msgNothingToExport)
	}

	if strings.TrimSpace(req.OutputPath) == "" {
		return "", apperr.New(apperr.KindValidation, msgNoOutputPath)
	}
	abs, err := r.validator.Confine(req.OutputPath)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(filepath.Ext(abs), "."+format) {
		return "", apperr.New(apperr.KindValidation, msgExtensionMismatch)
	}
	if info, err := os.Stat(filepath.Dir(abs)); err != nil || !info.IsDir() {
		return "", apperr.New(apperr.KindNotFound, msgOutputDirMissing)
	}

	raw, err := exporter.Render(req.Document)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, msgExportFailed, err)
	}
	if err := fsutil.WriteFileAtomic(abs, raw, 0o644); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, msgExportFailed, err)
	}
	r.logger.Info("transcript exported", "format", format, "path", abs, "bytes", len(raw))
	return abs, nil
}

func normalizeFormat(format string) string {
	return strings.ToLower(strings.TrimSpace(format))
}

// TextExporter writes the plain transcript text. When only segments are
// present their texts are joined line by line.
type TextExporter struct{}

func (TextExporter) Render(doc Document) ([]byte, error) {
	text := doc.Text
	if strings.TrimSpace(text) == "" {
		lines := make([]string, 0, len(doc.Segments))
		for _, seg := range doc.Segments {
			lines = append(lines, seg.Text)
		}
		text = strings.Join(lines, "\n")
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return []byte(text), nil
}

// JSONExporter writes the full document as indented JSON.
type JSONExporter struct{}

func (JSONExporter) Render(doc Document) ([]byte, error) {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}
