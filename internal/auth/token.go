// Package auth implements the per-session bearer token and the HTTP
// middleware that enforces it. The token is opaque: random bytes, no claims,
// no signature. It is handed to the desktop shell once on stdout at startup
// and rotated in place afterwards.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/kotoba-app/kotoba-server/internal/logging"
)

const (
	// tokenByteLength is the entropy of a token before hex encoding.
	tokenByteLength = 32

	// DefaultTTL is how long a token stays current before lazy rotation.
	DefaultTTL = 60 * time.Minute

	// DefaultGrace is how long the previous token is still accepted after
	// a rotation, so in-flight clients do not get cut off mid-request.
	DefaultGrace = 5 * time.Minute
)

// TokenManager issues and verifies the session token. Rotation is lazy:
// nothing rotates until Current or Verify is called past the TTL. A single
// mutex serializes rotation and verification.
type TokenManager struct {
	mu       sync.Mutex
	current  string
	previous string
	issuedAt time.Time
	ttl      time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   logging.Logger
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

// WithGrace overrides the grace window for the previous token.
func WithGrace(d time.Duration) TokenOption {
	return func(m *TokenManager) { m.grace = d }
}

// NewTokenManager creates a manager with an initial token already issued.
// A TTL of zero or less falls back to DefaultTTL. Failure to draw entropy
// is fatal to construction.
func NewTokenManager(ttl time.Duration, logger logging.Logger, opts ...TokenOption) (*TokenManager, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &TokenManager{
		ttl:    ttl,
		grace:  DefaultGrace,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("issuing initial token: %w", err)
	}
	m.current = token
	m.issuedAt = m.now()
	return m, nil
}

func newToken() (string, error) {
	bytes := make([]byte, tokenByteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Current returns the valid token, rotating first if the TTL has elapsed.
func (m *TokenManager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateIfExpiredLocked()
	return m.current
}

// Verify reports whether the candidate matches the current token, or the
// previous one within the grace window after rotation. Comparison is
// constant-time; malformed input simply fails.
func (m *TokenManager) Verify(candidate string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateIfExpiredLocked()

	if candidate == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(m.current)) == 1 {
		return true
	}
	if m.previous != "" && m.now().Sub(m.issuedAt) <= m.grace {
		return subtle.ConstantTimeCompare([]byte(candidate), []byte(m.previous)) == 1
	}
	return false
}

// rotateIfExpiredLocked replaces the current token once its TTL has passed.
// If entropy fails mid-flight the old token stays valid; a dead token would
// lock the client out entirely.
func (m *TokenManager) rotateIfExpiredLocked() {
	if m.now().Sub(m.issuedAt) < m.ttl {
		return
	}
	token, err := newToken()
	if err != nil {
		m.logger.Error("token rotation failed, keeping current token", "error", err)
		return
	}
	m.previous = m.current
	m.current = token
	m.issuedAt = m.now()
	m.logger.Info("session token rotated")
}
