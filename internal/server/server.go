// Package server exposes the monitor HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfeed/compindex/internal/domain"
	"github.com/quantfeed/compindex/internal/server/handler"
	"github.com/quantfeed/compindex/internal/server/middleware"
	"github.com/quantfeed/compindex/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Index   *handler.IndexHandler
	Audit   *handler.AuditHandler
	Archive *handler.ArchiveHandler
	Stream  *handler.StreamHandler
}

// Server is the headless HTTP + WebSocket API for the index service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (logging, CORS, auth) applied. Handlers that are nil
// are skipped so reduced modes can run a partial API.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required in front of it either; the auth
	// middleware sees every route, so deployments that need an open health
	// endpoint should leave APIKey empty and front auth elsewhere).
	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}

	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	if handlers.Index != nil {
		mux.HandleFunc("GET /api/index/{symbol}", handlers.Index.GetLatest)
		mux.HandleFunc("GET /api/index/{symbol}/history", handlers.Index.GetHistory)
	}

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	}

	if handlers.Archive != nil {
		mux.HandleFunc("POST /api/archive/trigger", handlers.Archive.TriggerArchive)
	}

	if handlers.Stream != nil {
		mux.HandleFunc("GET /api/stream/{channel}", handlers.Stream.ReadStream)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// WithRateLimit inserts per-client rate limiting in front of the handler
// chain. Call before Start.
func (s *Server) WithRateLimit(limiter domain.RateLimiter, limit int, window time.Duration) *Server {
	s.httpServer.Handler = middleware.RateLimit(limiter, limit, window)(s.httpServer.Handler)
	return s
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
