package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMiddleware(t *testing.T) (*TokenManager, http.Handler) {
	t.Helper()
	m, err := NewTokenManager(0, noopLogger{})
	require.NoError(t, err)

	cfg := MiddlewareConfig{
		PublicPaths:     map[string]struct{}{"/api/health": {}},
		QueryTokenPaths: map[string]struct{}{"/ws": {}},
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return m, Middleware(m, cfg, noopLogger{})(inner)
}

func TestMissingHeaderIs401WithChallenge(t *testing.T) {
	_, handler := newTestMiddleware(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transcribe", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.Contains(t, rec.Body.String(), "認証情報がありません")
}

func TestWrongTokenIs403(t *testing.T) {
	_, handler := newTestMiddleware(t)

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", nil)
	req.Header.Set("Authorization", "Bearer deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestMalformedSchemeIs403(t *testing.T) {
	m, handler := newTestMiddleware(t)

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", nil)
	req.Header.Set("Authorization", "Basic "+m.Current())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestValidTokenPasses(t *testing.T) {
	m, handler := newTestMiddleware(t)

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", nil)
	req.Header.Set("Authorization", "Bearer "+m.Current())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublicPathSkipsAuth(t *testing.T) {
	_, handler := newTestMiddleware(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueryTokenFallbackOnlyOnConfiguredPaths(t *testing.T) {
	m, handler := newTestMiddleware(t)

	// Allowed on /ws for older clients.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+m.Current(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Not honored elsewhere.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transcribe?token="+m.Current(), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHeaderTakesPrecedenceOverQuery(t *testing.T) {
	m, handler := newTestMiddleware(t)

	// A bad header is rejected even when a valid query token is present.
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+m.Current(), nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
