package auth

import (
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewTokenManagerIssuesHexToken(t *testing.T) {
	m, err := NewTokenManager(0, noopLogger{})
	require.NoError(t, err)

	token := m.Current()
	assert.Len(t, token, tokenByteLength*2)
	_, err = hex.DecodeString(token)
	assert.NoError(t, err, "token must be hex")

	other, err := NewTokenManager(0, noopLogger{})
	require.NoError(t, err)
	assert.NotEqual(t, token, other.Current())
}

func TestCurrentStableWithinTTL(t *testing.T) {
	clock := newFakeClock()
	m, err := NewTokenManager(time.Hour, noopLogger{}, WithClock(clock.Now))
	require.NoError(t, err)

	token := m.Current()
	clock.Advance(59 * time.Minute)
	assert.Equal(t, token, m.Current())
	assert.True(t, m.Verify(token))
}

func TestLazyRotationAfterTTL(t *testing.T) {
	clock := newFakeClock()
	m, err := NewTokenManager(time.Hour, noopLogger{}, WithClock(clock.Now))
	require.NoError(t, err)

	old := m.Current()
	clock.Advance(time.Hour)

	rotated := m.Current()
	assert.NotEqual(t, old, rotated)
	assert.True(t, m.Verify(rotated))
}

func TestPreviousTokenValidWithinGrace(t *testing.T) {
	clock := newFakeClock()
	m, err := NewTokenManager(time.Hour, noopLogger{}, WithClock(clock.Now))
	require.NoError(t, err)

	old := m.Current()
	clock.Advance(time.Hour)

	// Verify triggers the rotation itself; the old token rides the grace
	// window that starts at rotation time.
	assert.True(t, m.Verify(old))

	clock.Advance(4 * time.Minute)
	assert.True(t, m.Verify(old))

	clock.Advance(2 * time.Minute)
	assert.False(t, m.Verify(old), "grace window expired")
}

func TestSecondRotationInvalidatesOlderToken(t *testing.T) {
	clock := newFakeClock()
	m, err := NewTokenManager(time.Hour, noopLogger{}, WithClock(clock.Now))
	require.NoError(t, err)

	first := m.Current()
	clock.Advance(time.Hour)
	second := m.Current()
	clock.Advance(time.Hour)
	third := m.Current()

	assert.False(t, m.Verify(first))
	assert.True(t, m.Verify(second), "previous token within grace")
	assert.True(t, m.Verify(third))
}

func TestVerifyMalformedInput(t *testing.T) {
	m, err := NewTokenManager(0, noopLogger{})
	require.NoError(t, err)

	assert.False(t, m.Verify(""))
	assert.False(t, m.Verify("short"))
	assert.False(t, m.Verify(m.Current()+"0"))
	assert.False(t, m.Verify("日本語のトークンではない"))
}

func TestConcurrentVerify(t *testing.T) {
	m, err := NewTokenManager(time.Hour, noopLogger{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				token := m.Current()
				if !m.Verify(token) {
					t.Error("freshly read token failed verification")
					return
				}
			}
		}()
	}
	wg.Wait()
}
