package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/logging"
)

const (
	// Time allowed to write a message or control frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong before the connection is dead.
	pongWait = 60 * time.Second

	// Ping interval. Must be less than pongWait.
	pingPeriod = 30 * time.Second

	// Clients only send control frames and the occasional probe; anything
	// larger is hostile.
	maxMessageSize = 4 * 1024

	// DefaultMaxConnections bounds concurrent WebSocket clients.
	DefaultMaxConnections = 10

	closeReasonFull     = "Maximum connections reached"
	closeReasonShutdown = "server shutting down"
)

// Hub enforces the WebSocket connection cap and runs one event pump per
// connection. Every client sees the full bus stream; there are no topics.
type Hub struct {
	bus      *eventbus.Bus
	logger   logging.Logger
	upgrader websocket.Upgrader
	max      int

	mu       sync.Mutex
	cond     *sync.Cond
	count    int
	draining bool
}

// NewHub creates a hub over the bus. allowedOrigins mirrors the CORS list;
// requests without an Origin header (non-browser shells, CLI probes) are
// accepted.
func NewHub(bus *eventbus.Bus, max int, allowedOrigins []string, logger logging.Logger) *Hub {
	if max < 1 {
		max = DefaultMaxConnections
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[origin] = struct{}{}
	}
	h := &Hub{
		bus:    bus,
		logger: logger,
		max:    max,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := origins["*"]; ok {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Handle upgrades the request and streams bus events until the client
// leaves or the shutdown sentinel arrives. Over the cap, the connection is
// accepted and immediately closed with a policy-violation frame so the
// client gets a readable reason instead of a failed handshake.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if !h.acquire() {
		h.logger.Warn("websocket connection refused", "max", h.max)
		h.closeWith(conn, websocket.ClosePolicyViolation, closeReasonFull)
		return
	}
	defer h.release()

	sub, err := h.bus.Subscribe()
	if err != nil {
		h.closeWith(conn, websocket.CloseGoingAway, closeReasonShutdown)
		return
	}
	defer sub.Close()

	h.logger.Debug("websocket client connected", "remote", r.RemoteAddr, "clients", h.ConnectionCount())
	client := &wsClient{conn: conn, sub: sub, logger: h.logger}
	client.serve()
	h.logger.Debug("websocket client disconnected", "remote", r.RemoteAddr)
}

// Drain waits until every connection pump has exited or the context ends.
// The caller shuts the bus down first so the pumps see the sentinel.
func (h *Hub) Drain(ctx context.Context) {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.mu.Lock()
		for h.count > 0 {
			h.cond.Wait()
		}
		h.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("websocket connections still open after drain grace",
			"remaining", h.ConnectionCount())
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Hub) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining || h.count >= h.max {
		return false
	}
	h.count++
	return true
}

func (h *Hub) release() {
	h.mu.Lock()
	h.count--
	h.cond.Broadcast()
	h.mu.Unlock()
}

func (h *Hub) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(writeWait)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		h.logger.Debug("websocket close frame failed", "error", err)
	}
	_ = conn.Close()
}

// wsClient pumps one subscription onto one connection.
type wsClient struct {
	conn   *websocket.Conn
	sub    *eventbus.Subscription
	logger logging.Logger
}

// serve writes events and pings until the reader reports the peer gone or
// the shutdown sentinel arrives. The sentinel itself is forwarded so the
// client can distinguish a server shutdown from a network drop.
func (c *wsClient) serve() {
	readDone := make(chan struct{})
	go c.readPump(readDone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case event := <-c.sub.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
			if event.Type == eventbus.EventTypeShutdown {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, closeReasonShutdown)
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}

		case <-readDone:
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes the connection so control frames are processed. The
// protocol is one-way; inbound data frames are discarded.
func (c *wsClient) readPump(done chan struct{}) {
	defer close(done)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
	}
}
