package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hivebot/hive/internal/domain"
	"github.com/hivebot/hive/internal/server/handler"
	"github.com/hivebot/hive/internal/server/middleware"
	"github.com/hivebot/hive/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port                  int
	BasePath              string        // e.g. "/api"; all routes are registered under it
	CORSOrigins           []string
	AdminToken            string        // if empty, the admin bypass path is disabled
	RequireFreshTimestamp bool
	MaxTimestampSkew      time.Duration
	RateLimit             int
	RateLimitWindow       time.Duration
}

// Handlers aggregates every HTTP handler the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Strategy  *handler.StrategyHandler
	Close     *handler.CloseHandler
	Portfolio *handler.PortfolioHandler
	Bots      *handler.BotsHandler
}

// Server is the Control Plane HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with every route registered on
// the ServeMux, wrapped in the logging/CORS/rate-limit/auth middleware chain.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	base := strings.TrimSuffix(cfg.BasePath, "/")

	mux.HandleFunc("GET "+base+"/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST "+base+"/strategies", handlers.Strategy.Create)
	mux.HandleFunc("GET "+base+"/strategies", handlers.Strategy.List)
	mux.HandleFunc("GET "+base+"/strategies/{id}", handlers.Strategy.Get)
	mux.HandleFunc("DELETE "+base+"/strategies/{id}", handlers.Strategy.Delete)
	mux.HandleFunc("POST "+base+"/strategies/close", handlers.Close.Close)
	mux.HandleFunc("POST "+base+"/strategies/{id}/stop", handlers.Close.Stop)

	mux.HandleFunc("GET "+base+"/portfolio", handlers.Portfolio.Get)

	mux.HandleFunc("POST "+base+"/bots", handlers.Bots.Heartbeat)
	mux.HandleFunc("GET "+base+"/bots", handlers.Bots.List)
	mux.HandleFunc("DELETE "+base+"/bots/{id}", handlers.Bots.Delete)

	if wsHub != nil {
		mux.HandleFunc("GET "+base+"/ws", wsHub.HandleWS)
	}

	var h http.Handler = mux

	h = middleware.Auth(middleware.AuthConfig{
		AdminToken: cfg.AdminToken,
		RequireFreshTimestamp: cfg.RequireFreshTimestamp,
		MaxTimestampSkew: cfg.MaxTimestampSkew,
	})(h)

	if limiter != nil {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		limit := cfg.RateLimit
		if limit <= 0 {
			limit = 20
		}
		h = middleware.RateLimit(limiter, limit, window)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: h,
		ReadTimeout: 15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux: mux,
		logger: logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
