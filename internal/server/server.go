// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/chartgate/chartgate/internal/audit"
	"github.com/chartgate/chartgate/internal/clock"
	"github.com/chartgate/chartgate/internal/config"
	"github.com/chartgate/chartgate/internal/handlers"
	"github.com/chartgate/chartgate/internal/metrics"
	"github.com/chartgate/chartgate/internal/middleware"
	"github.com/chartgate/chartgate/internal/privilege"
	"github.com/chartgate/chartgate/internal/proxy"
	"github.com/chartgate/chartgate/internal/ratelimit"
	"github.com/chartgate/chartgate/pkg/logger"
)

// Deps are the collaborators the server routes to. Gate, Guard, Throttle and
// Proxy are required; the rest may be nil.
type Deps struct {
	Clock     clock.Clock
	Gate      *ratelimit.Gate
	Guard     *privilege.Guard
	Throttle  *privilege.Throttle
	Proxy     *proxy.Proxy
	Audit     audit.Recorder
	Decisions middleware.DecisionRecorder
	History   handlers.DecisionHistory
}

// Server represents the HTTP server.
type Server struct {
	cfg           *config.Config
	log           *logger.Logger
	deps          Deps
	httpServer    *http.Server
	healthHandler *handlers.HealthHandler
	adminHandler  *handlers.AdminHandler
	listener      net.Listener
	running       bool
	mu            sync.RWMutex
}

// New creates a new Server instance.
func New(cfg *config.Config, log *logger.Logger, deps Deps) *Server {
	if deps.Audit == nil {
		deps.Audit = audit.NewLogRecorder(log)
	}

	var adminOpts []handlers.AdminOption
	if deps.Clock != nil {
		adminOpts = append(adminOpts, handlers.WithAdminClock(deps.Clock))
	}
	if deps.History != nil {
		adminOpts = append(adminOpts, handlers.WithDecisionHistory(deps.History))
	}

	s := &Server{
		cfg:           cfg,
		log:           log,
		deps:          deps,
		healthHandler: handlers.NewHealthHandler(),
		adminHandler: handlers.NewAdminHandler(
			deps.Guard,
			deps.Throttle,
			deps.Gate,
			deps.Audit,
			handlers.CookieConfig{
				Name:   cfg.Admin.CookieName,
				Secure: cfg.App.IsProduction(),
			},
			log,
			adminOpts...,
		),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      s.buildMiddlewareChain(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// buildMiddlewareChain creates the middleware chain shared by every route.
func (s *Server) buildMiddlewareChain(handler http.Handler) http.Handler {
	chain := middleware.New(
		middleware.Metrics(),
		middleware.RequestID(),
		middleware.ClientIP(s.cfg.Rate.TrustProxy, s.cfg.Rate.TrustedProxies),
	)

	// Without a password no request is privileged, whatever cookie it carries.
	if s.deps.Guard.Enabled() {
		chain = chain.Append(middleware.Privilege(s.deps.Guard, s.cfg.Admin.CookieName))
	} else {
		s.log.Warn("operator access disabled, privileged bypass off")
	}

	return chain.Then(handler)
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.healthHandler.Health)
	mux.HandleFunc("GET /ready", s.healthHandler.Ready)
	mux.Handle("GET /metrics", metrics.Handler())

	// Only the upstream call is metered.
	admitted := middleware.New(middleware.Admission(s.deps.Gate, s.log, s.deps.Decisions))
	mux.HandleFunc("GET /api/openai", s.deps.Proxy.Status)
	mux.Handle("POST /api/openai", admitted.Then(s.deps.Proxy))

	mux.HandleFunc("POST /api/admin/auth", s.adminHandler.Auth)
	mux.HandleFunc("POST /api/admin/logout", s.adminHandler.Logout)
	mux.HandleFunc("POST /api/admin/reset", s.adminHandler.Reset)
	mux.HandleFunc("GET /api/admin/status", s.adminHandler.Status)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.cfg.Server.Address()

	// Listen first so Addr works when the port is 0.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	limits := s.deps.Gate.Config()
	s.log.Info("server starting",
		"address", listener.Addr().String(),
		"client_limit", limits.ClientLimit,
		"client_window", limits.Window.String(),
		"daily_limit", limits.DailyLimit,
		"admin_enabled", s.deps.Guard.Enabled(),
		"upstream_configured", s.deps.Proxy.HasAPIKey(),
	)

	err = s.httpServer.Serve(listener)
	if err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")

	s.healthHandler.SetReady(false)

	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err != nil {
		s.log.Error("shutdown error", "error", err.Error())
		return err
	}

	s.log.Info("server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HealthHandler returns the health handler.
func (s *Server) HealthHandler() *handlers.HealthHandler {
	return s.healthHandler
}
