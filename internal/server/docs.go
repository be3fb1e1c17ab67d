package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Documentation routes, mounted only in dev mode. The OpenAPI document is
// deliberately terse; it exists so the shell developers can poke the API
// from a browser, not as a contract generator.
func mountDocRoutes(r chi.Router) {
	r.Get("/openapi.json", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, openAPIDocument)
	})
	page := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(redocPage))
	}
	r.Get("/docs", page)
	r.Get("/redoc", page)
}

const redocPage = `<!DOCTYPE html>
<html>
<head>
  <title>kotoba server API</title>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <style>body { margin: 0; padding: 0; }</style>
</head>
<body>
  <redoc spec-url="/openapi.json"></redoc>
  <script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
</body>
</html>
`

var openAPIDocument = map[string]any{
	"openapi": "3.0.3",
	"info": map[string]any{
		"title":       "kotoba server",
		"description": "Loopback transcription API for the desktop shell. All routes except /api/health require Authorization: Bearer <token>.",
		"version":     "1",
	},
	"paths": map[string]any{
		"/api/health":                 pathItem("get", "Liveness and per-engine model state (public)"),
		"/api/shutdown":               pathItem("post", "Graceful shutdown; 409 when already shutting down"),
		"/api/transcribe":             pathItem("post", "Start a single-file transcription"),
		"/api/batch-transcribe":       pathItem("post", "Start a sequential batch transcription"),
		"/api/cancel-transcription":   pathItem("post", "Request cancel of the running transcription"),
		"/api/cancel-batch":           pathItem("post", "Request cancel of the running batch"),
		"/api/realtime/start":         pathItem("post", "Start realtime capture"),
		"/api/realtime/stop":          pathItem("post", "Stop realtime capture"),
		"/api/realtime/pause":         pathItem("post", "Pause realtime capture"),
		"/api/realtime/resume":        pathItem("post", "Resume realtime capture"),
		"/api/realtime/status":        pathItem("get", "Realtime capture state"),
		"/api/monitor/start":          pathItem("post", "Start watching a folder for new audio"),
		"/api/monitor/stop":           pathItem("post", "Stop the folder watch"),
		"/api/monitor/status":         pathItem("get", "Folder watch state"),
		"/api/monitor/mark-processed": pathItem("post", "Mark a file as already processed"),
		"/api/models/{engine}/load":   pathItem("post", "Load the engine's model (blocking)"),
		"/api/models/{engine}/unload": pathItem("post", "Unload the engine's model"),
		"/api/models/{engine}/info":   pathItem("get", "Engine model state"),
		"/api/format-text":            pathItem("post", "Format text via the optional collaborator"),
		"/api/correct-text":           pathItem("post", "Apply the user dictionary via the optional collaborator"),
		"/api/diarize":                pathItem("post", "Label segments with speakers via the optional collaborator"),
		"/api/settings":               pathItem("get,patch", "Persisted user settings; secret-like keys masked"),
		"/api/config":                 pathItem("get,patch", "Server configuration"),
		"/api/export/{format}":        pathItem("post", "Export text or segments to a file (txt, json, srt, vtt, docx, xlsx)"),
		"/ws":                         pathItem("get", "WebSocket event stream"),
	},
}

// pathItem builds a minimal OpenAPI path entry for the listed methods.
func pathItem(methods, summary string) map[string]any {
	item := make(map[string]any)
	for _, method := range strings.Split(methods, ",") {
		item[method] = map[string]any{
			"summary":   summary,
			"responses": map[string]any{"200": map[string]any{"description": "OK"}},
		}
	}
	return item
}
