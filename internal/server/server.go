// Package server is the HTTP and websocket front end of a cascade node.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/server/handler"
	"github.com/alanyoungcy/cascademarket/internal/server/middleware"
	"github.com/alanyoungcy/cascademarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey, if set, is required on writes in addition to a signature.
	APIKey           string
	RateLimit        int
	RateWindow       time.Duration
	SignatureMaxSkew time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Registry *handler.RegistryHandler
	Spawn    *handler.SpawnHandler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. hub and
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, hub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler returns the routed and wrapped handler used by Server.
func NewHandler(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", h.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/odds", h.Markets.GetOdds)
	mux.HandleFunc("GET /api/markets/{id}/bets", h.Markets.GetBets)
	mux.HandleFunc("POST /api/markets/{id}/bets", h.Markets.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/resolve", h.Markets.ResolveMarket)

	mux.HandleFunc("GET /api/registry/markets", h.Registry.ListMarkets)
	mux.HandleFunc("POST /api/registry/markets", h.Registry.RegisterMarket)
	mux.HandleFunc("GET /api/registry/markets/{id}", h.Registry.GetMarket)
	mux.HandleFunc("GET /api/registry/markets/{id}/children", h.Registry.GetChildren)
	mux.HandleFunc("GET /api/registry/markets/{id}/tree", h.Registry.GetTree)
	mux.HandleFunc("POST /api/registry/markets/{id}/resolve", h.Registry.ResolveMarket)

	mux.HandleFunc("GET /api/spawn/rules", h.Spawn.ListRules)
	mux.HandleFunc("POST /api/spawn/rules", h.Spawn.CreateRule)
	mux.HandleFunc("GET /api/spawn/rules/{id}", h.Spawn.GetRule)
	mux.HandleFunc("PUT /api/spawn/rules/{id}", h.Spawn.UpdateRule)
	mux.HandleFunc("GET /api/spawn/pending", h.Spawn.ListPending)
	mux.HandleFunc("POST /api/spawn/process", h.Spawn.ProcessPending)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Innermost first: the limiter keys on the caller set by Signed.
	var out http.Handler = mux
	out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(out)
	out = middleware.Signed(cfg.SignatureMaxSkew, time.Now)(out)
	out = middleware.Auth(cfg.APIKey)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	out = middleware.Logging(logger)(out)
	return out
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
