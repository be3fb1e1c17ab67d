package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
	"github.com/kotoba-app/kotoba-server/internal/config"
	"github.com/kotoba-app/kotoba-server/internal/engine"
	"github.com/kotoba-app/kotoba-server/internal/export"
	"github.com/kotoba-app/kotoba-server/internal/logging"
	"github.com/kotoba-app/kotoba-server/internal/monitor"
	"github.com/kotoba-app/kotoba-server/internal/postproc"
	"github.com/kotoba-app/kotoba-server/internal/realtime"
	"github.com/kotoba-app/kotoba-server/internal/settings"
	"github.com/kotoba-app/kotoba-server/internal/transcribe"
)

// maxBodyBytes caps request bodies. Export payloads carry full transcripts,
// so the bound is generous.
const maxBodyBytes = 16 << 20

// defaultGateTimeout bounds how long model endpoints wait for the
// inference gate before answering busy.
const defaultGateTimeout = time.Second

// User-facing Japanese messages for the HTTP surface.
const (
	msgBadBody      = "リクエスト本文を解析できません"
	msgSchema       = "リクエストの形式が正しくありません"
	msgShutdownBusy = "シャットダウンは既に進行中です"
	msgUnknownModel = "指定されたエンジンが見つかりません"
	msgModelLoad    = "モデルの読み込みに失敗しました"
	msgModelUnload  = "モデルの解放に失敗しました"
	msgEngineBusy   = "エンジンが使用中です"
	msgNoFormatter  = "テキスト整形機能は利用できません"
	msgNoCorrector  = "テキスト補正機能は利用できません"
	msgNoDiarizer   = "話者分離機能は利用できません"
	msgFormatFailed = "テキスト整形に失敗しました"
	msgCorrectFail  = "テキスト補正に失敗しました"
	msgDiarizeFail  = "話者分離に失敗しました"
	msgBadConfig    = "設定の内容が正しくありません"
	msgSaveConfig   = "設定ファイルの保存に失敗しました"
)

// Deps collects everything the handlers call into.
type Deps struct {
	Logger      logging.Logger
	Engines     *engine.Manager
	Transcripts *transcribe.Service
	Live        *realtime.Service
	Watch       *monitor.Service
	Settings    *settings.Store
	Exports     *export.Registry

	// Optional collaborators; a nil entry answers 501 on its endpoint.
	Formatter postproc.Formatter
	Corrector postproc.Corrector
	Diarizer  postproc.Diarizer

	// RequestShutdown asks the application to stop. It reports false when
	// a shutdown is already under way.
	RequestShutdown func() bool

	// Conf is the effective configuration served by /api/config; PATCH
	// persists it back to ConfPath when set.
	Conf     *config.Config
	ConfPath string

	Version     string
	GateTimeout time.Duration
}

// Handlers implements every route. Construction compiles the request
// schemas, so it can fail.
type Handlers struct {
	deps    Deps
	schemas *schemaSet

	confMu sync.Mutex
	conf   *config.Config
}

// NewHandlers builds the handler set over its dependencies.
func NewHandlers(deps Deps) (*Handlers, error) {
	if deps.GateTimeout <= 0 {
		deps.GateTimeout = defaultGateTimeout
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Handlers{deps: deps, schemas: schemas, conf: deps.Conf}, nil
}

// Wire shapes for request bodies. Responses reuse the domain types, which
// already carry JSON tags.
type transcribeRequest struct {
	FilePath string `json:"file_path"`
	Engine   string `json:"engine"`
	Language string `json:"language"`
	Diarize  bool   `json:"diarize"`
}

type batchRequest struct {
	FilePaths []string `json:"file_paths"`
	Engine    string   `json:"engine"`
	Language  string   `json:"language"`
	Diarize   bool     `json:"diarize"`
}

type realtimeStartRequest struct {
	Engine   string `json:"engine"`
	Language string `json:"language"`
}

type monitorStartRequest struct {
	Directory            string   `json:"directory"`
	CheckIntervalSeconds float64  `json:"check_interval_seconds"`
	Patterns             []string `json:"patterns"`
}

type markProcessedRequest struct {
	FilePath string `json:"file_path"`
}

type textRequest struct {
	Text string `json:"text"`
}

type diarizeRequest struct {
	FilePath string           `json:"file_path"`
	Segments []engine.Segment `json:"segments"`
}

type exportRequest struct {
	OutputPath string           `json:"output_path"`
	Text       string           `json:"text"`
	Language   string           `json:"language"`
	Segments   []engine.Segment `json:"segments"`
}

// decode reads the body, checks it against the endpoint schema, and
// unmarshals into out. An empty body counts as an empty object so control
// endpoints accept bare POSTs. Schema violations answer 422; bodies that
// are not JSON at all answer 400.
func (h *Handlers) decode(r *http.Request, schema *jsonschema.Schema, out any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, msgBadBody, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, msgBadBody, err)
	}
	if err := schema.Validate(doc); err != nil {
		return apperr.Wrap(apperr.KindValidation, msgSchema, err).
			WithStatus(http.StatusUnprocessableEntity)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.Wrap(apperr.KindValidation, msgBadBody, err)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Health reports liveness and per-engine model state. Public.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.deps.Version,
		"engines": h.deps.Engines.LoadedFlags(),
	})
}

// Shutdown asks the application to stop. A second call while the first is
// winding down answers 409.
func (h *Handlers) Shutdown(w http.ResponseWriter, _ *http.Request) {
	if !h.deps.RequestShutdown() {
		apperr.WriteJSON(w, apperr.New(apperr.KindBusy, msgShutdownBusy))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "shutting_down"})
}

// Transcribe starts a single-file job. Progress and the result arrive over
// the WebSocket stream; the response only confirms the start.
func (h *Handlers) Transcribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := h.decode(r, h.schemas.transcribe, &req); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	job, err := h.deps.Transcripts.Start(transcribe.Request{
		FilePath:     req.FilePath,
		Engine:       req.Engine,
		Language:     req.Language,
		Diarize:      req.Diarize,
		WriteSidecar: true,
	})
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "started", "job_id": job.ID()})
}

// BatchTranscribe starts a sequential batch job.
func (h *Handlers) BatchTranscribe(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := h.decode(r, h.schemas.batch, &req); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	job, err := h.deps.Transcripts.StartBatch(transcribe.BatchRequest{
		FilePaths: req.FilePaths,
		Engine:    req.Engine,
		Language:  req.Language,
		Diarize:   req.Diarize,
	})
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "started",
		"job_id": job.ID(),
		"total":  len(req.FilePaths),
	})
}

// CancelTranscription flags the running single-file job. Cancelling an
// idle slot succeeds and reports false.
func (h *Handlers) CancelTranscription(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": h.deps.Transcripts.CancelTranscription()})
}

// CancelBatch flags the running batch job.
func (h *Handlers) CancelBatch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": h.deps.Transcripts.CancelBatch()})
}

// RealtimeStart begins a capture session. The body is optional.
func (h *Handlers) RealtimeStart(w http.ResponseWriter, r *http.Request) {
	var req realtimeStartRequest
	if err := h.decode(r, h.schemas.realtimeStart, &req); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if err := h.deps.Live.Start(realtime.StartRequest{Engine: req.Engine, Language: req.Language}); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "recording"})
}

// RealtimeStop ends the session. Stopping an idle service is a no-op.
func (h *Handlers) RealtimeStop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stopped": h.deps.Live.Stop()})
}

// RealtimePause suspends frame processing without releasing the device.
func (h *Handlers) RealtimePause(w http.ResponseWriter, _ *http.Request) {
	if err := h.deps.Live.Pause(); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "paused"})
}

// RealtimeResume continues a paused session.
func (h *Handlers) RealtimeResume(w http.ResponseWriter, _ *http.Request) {
	if err := h.deps.Live.Resume(); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "recording"})
}

// RealtimeStatus reports the capture state.
func (h *Handlers) RealtimeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Live.Status())
}

// MonitorStart begins watching a directory for new audio.
func (h *Handlers) MonitorStart(w http.ResponseWriter, r *http.Request) {
	var req monitorStartRequest
	if err := h.decode(r, h.schemas.monitorStart, &req); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	err := h.deps.Watch.Start(monitor.StartRequest{
		Directory:            req.Directory,
		CheckIntervalSeconds: req.CheckIntervalSeconds,
		Patterns:             req.Patterns,
	})
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "watching"})
}

// MonitorStop ends the watch session.
func (h *Handlers) MonitorStop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stopped": h.deps.Watch.Stop()})
}

// MonitorStatus reports the watch state.
func (h *Handlers) MonitorStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Watch.Status())
}

// MonitorMarkProcessed adds a file to the processed set so the scanner
// skips it. Requires a running watch.
func (h *Handlers) MonitorMarkProcessed(w http.ResponseWriter, r *http.Request) {
	var req markProcessedRequest
	if err := h.decode(r, h.schemas.markProcessed, &req); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if err := h.deps.Watch.MarkProcessed(req.FilePath); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ModelLoad loads the named engine's model. The handler blocks until the
// load finishes; the inference gate keeps it from racing a running job.
func (h *Handlers) ModelLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "engine")
	release, err := h.deps.Engines.TryAcquire(h.deps.GateTimeout)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindBusy, msgEngineBusy, err))
		return
	}
	defer release()

	if _, err := h.deps.Engines.EnsureLoaded(r.Context(), id); err != nil {
		apperr.WriteJSON(w, modelError(err, msgModelLoad))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"engine": id, "loaded": true})
}

// ModelUnload releases the named engine's model.
func (h *Handlers) ModelUnload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "engine")
	if err := h.deps.Engines.Unload(r.Context(), id, h.deps.GateTimeout); err != nil {
		if errors.Is(err, engine.ErrEngineBusy) {
			apperr.WriteJSON(w, apperr.Wrap(apperr.KindBusy, msgEngineBusy, err))
			return
		}
		apperr.WriteJSON(w, modelError(err, msgModelUnload))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"engine": id, "loaded": false})
}

// ModelInfo reports one engine's model state.
func (h *Handlers) ModelInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "engine")
	eng, err := h.deps.Engines.Engine(id)
	if err != nil {
		apperr.WriteJSON(w, modelError(err, msgModelLoad))
		return
	}
	writeJSON(w, http.StatusOK, engine.ModelInfo{
		ID:     eng.ID(),
		Loaded: eng.Loaded(),
		Active: eng.ID() == h.deps.Engines.Active(),
	})
}

// modelError maps engine manager failures onto the HTTP taxonomy.
func modelError(err error, fallback string) error {
	if errors.Is(err, engine.ErrUnknownEngine) {
		return apperr.Wrap(apperr.KindValidation, msgUnknownModel, err)
	}
	return apperr.Wrap(apperr.KindInternal, fallback, err)
}

// FormatText runs the formatting collaborator. 501 when none is installed.
func (h *Handlers) FormatText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := h.decode(r, h.schemas.text, &req); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if h.deps.Formatter == nil {
		apperr.WriteJSON(w, apperr.New(apperr.KindUnsupported, msgNoFormatter))
		return
	}
	out, err := h.deps.Formatter.Format(r.Context(), req.Text)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, msgFormatFailed, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": out})
}

// CorrectText applies the user dictionary. 501 when none is installed.
func (h *Handlers) CorrectText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := h.decode(r, h.schemas.text, &req); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if h.deps.Corrector == nil {
		apperr.WriteJSON(w, apperr.New(apperr.KindUnsupported, msgNoCorrector))
		return
	}
	out, err := h.deps.Corrector.Correct(r.Context(), req.Text)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, msgCorrectFail, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": out})
}

// Diarize labels segments with speakers. 501 when no diarizer is installed.
func (h *Handlers) Diarize(w http.ResponseWriter, r *http.Request) {
	var req diarizeRequest
	if err := h.decode(r, h.schemas.diarize, &req); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if h.deps.Diarizer == nil {
		apperr.WriteJSON(w, apperr.New(apperr.KindUnsupported, msgNoDiarizer))
		return
	}
	segments, err := h.deps.Diarizer.Diarize(r.Context(), req.FilePath, req.Segments)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, msgDiarizeFail, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": segments})
}

// SettingsGet returns the persisted settings with secret-like keys masked.
func (h *Handlers) SettingsGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Settings.Masked())
}

// SettingsPatch merges the patch into the settings document and persists
// it. Null values delete keys. The response is the masked result.
func (h *Handlers) SettingsPatch(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := h.decode(r, h.schemas.patch, &patch); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	masked, err := h.deps.Settings.Update(patch)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, masked)
}

// ConfigGet returns the effective server configuration.
func (h *Handlers) ConfigGet(w http.ResponseWriter, _ *http.Request) {
	h.confMu.Lock()
	defer h.confMu.Unlock()
	writeJSON(w, http.StatusOK, h.conf)
}

// ConfigPatch overlays the patch onto the configuration, validates the
// result, and persists it. Listener fields take effect on restart.
func (h *Handlers) ConfigPatch(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := h.decode(r, h.schemas.patch, &patch); err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	h.confMu.Lock()
	defer h.confMu.Unlock()

	clone := *h.conf
	raw, err := json.Marshal(patch)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindValidation, msgBadConfig, err))
		return
	}
	if err := json.Unmarshal(raw, &clone); err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindValidation, msgBadConfig, err))
		return
	}
	if err := clone.Validate(); err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindValidation, msgBadConfig, err))
		return
	}
	if h.deps.ConfPath != "" {
		if err := config.Save(&clone, h.deps.ConfPath); err != nil {
			apperr.WriteJSON(w, apperr.Wrap(apperr.KindInternal, msgSaveConfig, err))
			return
		}
	}
	h.conf = &clone
	writeJSON(w, http.StatusOK, h.conf)
}

// Export renders the document into the requested format and writes it to
// the client-supplied path. Unregistered optional formats answer 501.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")
	var req exportRequest
	if err := h.decode(r, h.schemas.export, &req); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	path, err := h.deps.Exports.Export(export.Request{
		Format:     format,
		OutputPath: req.OutputPath,
		Document: export.Document{
			Text:     req.Text,
			Segments: req.Segments,
			Language: req.Language,
		},
	})
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"output_path": path})
}
