// Package api exposes LeadPilot's HTTP surface: per-tenant Telegram webhook
// intake, optional provider callback mounts, and a health endpoint.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/leadpilot/leadpilot/internal/dispatcher"
	"github.com/leadpilot/leadpilot/internal/messaging"
	"github.com/leadpilot/leadpilot/internal/registry"
)

const (
	// DefaultAddr is the listen address used when no override is given.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown on Stop.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout guards against slow-header clients.
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		if addr != "" {
			o.Addr = addr
		}
	}
}

// Server routes inbound webhook traffic to the dispatcher. Each tenant that
// runs in webhook mode registers its transport under the bot token, and
// Telegram is pointed at /webhook/<token>.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	registry   *registry.Registry
	httpServer *http.Server
	mux        *http.ServeMux

	mu         sync.RWMutex
	transports map[string]messaging.Service // bot token -> transport
}

// NewServer creates the HTTP server around a dispatcher and tenant registry.
func NewServer(d *dispatcher.Dispatcher, reg *registry.Registry, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		dispatcher: d,
		registry:   reg,
		mux:        http.NewServeMux(),
		transports: make(map[string]messaging.Service),
	}
	s.mux.HandleFunc("/webhook/", s.webhookHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	return s
}

// RegisterTransport binds a bot token to the transport webhook events reply
// through. Call before Start for every tenant served over webhooks.
func (s *Server) RegisterTransport(botToken string, transport messaging.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports[botToken] = transport
}

// Handle mounts an extra handler, such as a provider status callback.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start runs the listener until Stop is called. It blocks.
func (s *Server) Start() error {
	slog.Info("Server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop() error {
	slog.Info("Server Stop invoked")
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) transport(botToken string) messaging.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transports[botToken]
}
