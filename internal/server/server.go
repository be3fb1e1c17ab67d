// Package server exposes the HTTP and WebSocket surface of the
// transcription core. It binds loopback only; the desktop shell discovers
// the ephemeral port through the single startup line the command prints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kotoba-app/kotoba-server/internal/eventbus"
	"github.com/kotoba-app/kotoba-server/internal/logging"
	"github.com/kotoba-app/kotoba-server/internal/worker"
)

var (
	// ErrServerNotStarted is returned when stopping a server that never bound.
	ErrServerNotStarted = errors.New("server not started")

	// ErrNotLoopback is returned when the configured host would bind an
	// external interface. The token is the only protection on this API, so
	// it must never leave the machine.
	ErrNotLoopback = errors.New("refusing to bind a non-loopback address")
)

// Timeouts for the HTTP listener. Read and write deadlines stay unset:
// model loads block longer than any sane write timeout and WebSocket
// connections manage their own deadlines after the hijack.
const (
	defaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second

	// wsDrainGrace bounds how long Stop waits for WebSocket pumps to flush
	// the shutdown sentinel before the listener closes.
	wsDrainGrace = 2 * time.Second
)

// Config holds the listener settings.
type Config struct {
	// Host must resolve to a loopback IP. Start fails otherwise.
	Host string

	// Port is the requested TCP port; 0 asks the OS for a free one.
	Port int

	// ShutdownTimeout bounds the HTTP connection drain during Stop.
	ShutdownTimeout time.Duration
}

// Server owns the listener and the shutdown sequence: drain workers, shut
// the bus down so WebSocket streams see the sentinel, then close HTTP.
type Server struct {
	cfg     Config
	handler http.Handler
	hub     *Hub
	bus     *eventbus.Bus
	workers *worker.Registry
	logger  logging.Logger
	onReady func(port int)

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	port     int
	started  bool
}

// Option adjusts optional server behavior.
type Option func(*Server)

// WithOnReady registers a callback invoked once the listener is bound,
// with the actual port. The command uses it to print the startup line.
func WithOnReady(fn func(port int)) Option {
	return func(s *Server) { s.onReady = fn }
}

// New creates a server over an already-built handler. The hub is the
// WebSocket side of the same handler; Stop drains it explicitly because
// http.Server.Shutdown does not wait for hijacked connections.
func New(cfg Config, handler http.Handler, hub *Hub, bus *eventbus.Bus, workers *worker.Registry, logger logging.Logger, opts ...Option) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{
		cfg:     cfg,
		handler: handler,
		hub:     hub,
		bus:     bus,
		workers: workers,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements the lifecycle service interface.
func (s *Server) Name() string { return "http-server" }

// Start binds the listener and begins serving. It returns once the port is
// bound, so the caller may immediately announce it.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	ip := net.ParseIP(s.cfg.Host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%w: %q", ErrNotLoopback, s.cfg.Host)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port

	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.started = true
	s.logger.Info("HTTP server started", "address", ln.Addr().String())
	if s.onReady != nil {
		s.onReady(s.port)
	}
	return nil
}

// Stop runs the full shutdown sequence: cancel and join the workers in
// their fixed order, deliver the shutdown sentinel through the bus, wait
// briefly for WebSocket pumps to flush it, then drain HTTP connections.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrServerNotStarted
	}
	s.started = false
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("draining workers")
	worker.DrainAll(ctx, s.workers, s.logger)

	s.bus.Shutdown()

	if s.hub != nil {
		graceCtx, cancel := context.WithTimeout(ctx, wsDrainGrace)
		s.hub.Drain(graceCtx)
		cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Port returns the bound port, which differs from the configured one when
// the OS chose it.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Addr returns the bound address as host:port, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
