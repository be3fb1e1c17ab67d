package auth

import (
	"net/http"
	"strings"

	"github.com/kotoba-app/kotoba-server/internal/apperr"
	"github.com/kotoba-app/kotoba-server/internal/logging"
)

const bearerPrefix = "Bearer "

// MiddlewareConfig controls which paths bypass or relax token checks.
type MiddlewareConfig struct {
	// PublicPaths are served without any credentials.
	PublicPaths map[string]struct{}

	// QueryTokenPaths may authenticate via the token query parameter when
	// no Authorization header is present. Kept for older WebSocket clients
	// that cannot set handshake headers; logged as deprecated.
	QueryTokenPaths map[string]struct{}
}

// Middleware returns a chi-compatible handler that enforces the bearer
// token. A missing header yields 401 with a WWW-Authenticate challenge; a
// present but invalid credential yields 403.
func Middleware(tokens *TokenManager, cfg MiddlewareConfig, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := cfg.PublicPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				if _, ok := cfg.QueryTokenPaths[r.URL.Path]; ok {
					if candidate := r.URL.Query().Get("token"); candidate != "" {
						logger.Warn("query-string token is deprecated, send an Authorization header",
							"path", r.URL.Path)
						verify(w, r, next, tokens, candidate)
						return
					}
				}
				w.Header().Set("WWW-Authenticate", "Bearer")
				apperr.WriteDetail(w, http.StatusUnauthorized, "認証情報がありません")
				return
			}

			if !strings.HasPrefix(header, bearerPrefix) {
				apperr.WriteDetail(w, http.StatusForbidden, "認証に失敗しました")
				return
			}
			verify(w, r, next, tokens, strings.TrimPrefix(header, bearerPrefix))
		})
	}
}

func verify(w http.ResponseWriter, r *http.Request, next http.Handler, tokens *TokenManager, candidate string) {
	if !tokens.Verify(candidate) {
		apperr.WriteDetail(w, http.StatusForbidden, "認証に失敗しました")
		return
	}
	next.ServeHTTP(w, r)
}
