// Package server exposes the controller over HTTP: read-only views, manual
// operations, the event WebSocket and the Prometheus endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/server/handler"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/server/middleware"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards every route except health and metrics. Empty disables
	// authentication.
	APIKey     string
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Account   *handler.AccountHandler
	Positions *handler.PositionHandler
	Signals   *handler.SignalHandler
}

// Options are the optional parts of the server. Nil fields disable the
// matching route or middleware.
type Options struct {
	Hub     *ws.Hub
	Metrics http.Handler
	Limiter domain.RateLimiter
}

// Server is the controller's HTTP API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and wraps them in rate limiting, auth,
// logging and CORS, outermost last.
func NewServer(cfg Config, h Handlers, opts Options, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	mux.HandleFunc("POST /api/controller/pause", h.Status.Pause)
	mux.HandleFunc("POST /api/controller/resume", h.Status.Resume)

	mux.HandleFunc("GET /api/capital", h.Account.GetCapital)
	mux.HandleFunc("GET /api/risk", h.Account.GetRisk)
	mux.HandleFunc("POST /api/risk/reset", h.Account.ResetRisk)

	mux.HandleFunc("GET /api/positions", h.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/history", h.Positions.ListHistory)
	mux.HandleFunc("POST /api/positions/{symbol}/close", h.Positions.ClosePosition)

	mux.HandleFunc("GET /api/signals", h.Signals.ListSignals)
	mux.HandleFunc("POST /api/signals", h.Signals.PublishSignal)

	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	var root http.Handler = mux
	if opts.Limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(opts.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(root)
	}
	root = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
