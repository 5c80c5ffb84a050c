// Package webhook implements the HTTP endpoint that receives inbound parse
// webhooks and relays them through a delivery provider.
package webhook

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/inbound-parse-relay/internal/metrics"
	"github.com/shineum/inbound-parse-relay/internal/provider"
	"github.com/shineum/inbound-parse-relay/internal/relay"
)

// shutdownTimeout is the maximum time to wait for in-flight requests
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for a webhook server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	// Path is the route the webhook posts to.
	Path string

	Provider provider.Provider
	Builder  *relay.Builder

	// MaxBodySize bounds the posted form in bytes.
	MaxBodySize int64

	// TLSConfig enables HTTPS when non-nil.
	TLSConfig *tls.Config

	// AuthUsername and AuthPassword configure basic auth. If either is
	// empty, the webhook is open.
	AuthUsername string
	AuthPassword string
}

// Server serves the webhook, /healthz and /metrics.
type Server struct {
	config ServerConfig
	auth   *Authenticator
	srv    *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new webhook Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Path == "" {
		cfg.Path = "/inbound"
	}

	s := &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
	}
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router returns the HTTP routes of the server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"provider": s.config.Provider.Name(),
		})
	})
	r.Handle("/metrics", metrics.Handler())

	handler := NewHandler(s.config.Provider, s.config.Builder, s.config.MaxBodySize)
	r.With(s.auth.Middleware).Post(s.config.Path, handler.ServeHTTP)

	return r
}

// ListenAndServe starts the server and blocks until the context is
// cancelled. On cancellation it stops accepting connections and waits up
// to 30 seconds for in-flight requests to complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("webhook server listening",
		"addr", ln.Addr().String(),
		"path", s.config.Path,
		"provider", s.config.Provider.Name(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down webhook server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		return s.srv.Close()
	}
	slog.Info("all requests completed")
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
