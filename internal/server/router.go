package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kotoba-app/kotoba-server/internal/auth"
	"github.com/kotoba-app/kotoba-server/internal/logging"
)

// RouterConfig controls the cross-cutting route behavior.
type RouterConfig struct {
	// AllowedOrigins for CORS; the desktop shell schemes plus the dev
	// server origin.
	AllowedOrigins []string

	// Dev mounts the public documentation routes.
	Dev bool
}

// NewRouter assembles the middleware chain and the route table. CORS runs
// before auth so preflight requests, which carry no Authorization header,
// answer 204 instead of 401.
func NewRouter(h *Handlers, hub *Hub, tokens *auth.TokenManager, cfg RouterConfig, logger logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	public := map[string]struct{}{
		"/api/health": {},
	}
	if cfg.Dev {
		public["/docs"] = struct{}{}
		public["/redoc"] = struct{}{}
		public["/openapi.json"] = struct{}{}
	}
	r.Use(auth.Middleware(tokens, auth.MiddlewareConfig{
		PublicPaths:     public,
		QueryTokenPaths: map[string]struct{}{"/ws": {}},
	}, logger))

	r.Get("/api/health", h.Health)
	r.Post("/api/shutdown", h.Shutdown)

	r.Post("/api/transcribe", h.Transcribe)
	r.Post("/api/batch-transcribe", h.BatchTranscribe)
	r.Post("/api/cancel-transcription", h.CancelTranscription)
	r.Post("/api/cancel-batch", h.CancelBatch)

	r.Route("/api/realtime", func(r chi.Router) {
		r.Post("/start", h.RealtimeStart)
		r.Post("/stop", h.RealtimeStop)
		r.Post("/pause", h.RealtimePause)
		r.Post("/resume", h.RealtimeResume)
		r.Get("/status", h.RealtimeStatus)
	})

	r.Route("/api/monitor", func(r chi.Router) {
		r.Post("/start", h.MonitorStart)
		r.Post("/stop", h.MonitorStop)
		r.Get("/status", h.MonitorStatus)
		r.Post("/mark-processed", h.MonitorMarkProcessed)
	})

	r.Route("/api/models/{engine}", func(r chi.Router) {
		r.Post("/load", h.ModelLoad)
		r.Post("/unload", h.ModelUnload)
		r.Get("/info", h.ModelInfo)
	})

	r.Post("/api/format-text", h.FormatText)
	r.Post("/api/correct-text", h.CorrectText)
	r.Post("/api/diarize", h.Diarize)

	r.Get("/api/settings", h.SettingsGet)
	r.Patch("/api/settings", h.SettingsPatch)
	r.Get("/api/config", h.ConfigGet)
	r.Patch("/api/config", h.ConfigPatch)

	r.Post("/api/export/{format}", h.Export)

	r.Get("/ws", hub.Handle)

	if cfg.Dev {
		mountDocRoutes(r)
	}
	return r
}

// corsMiddleware reflects the origin back when it is on the allow list.
// The method and header lists are fixed; the API surface never grows
// per-deployment.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, candidate := range allowedOrigins {
				if candidate == "*" || candidate == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger writes one debug line per request to the stderr logger.
// chi's stock logger prints to stdout, which the startup contract reserves
// for the announce line.
func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
