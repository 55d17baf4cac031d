// Package server wires the middleware chain and the portal surface into an
// HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coopportal/accessgw/internal/config"
	"github.com/coopportal/accessgw/internal/routes"
	"github.com/coopportal/accessgw/internal/server/middleware"
	"github.com/coopportal/accessgw/internal/session"
	"github.com/coopportal/accessgw/internal/userstore"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions.
var ginModeOnce sync.Once

// Server is the portal gateway HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	logger     *zap.Logger
	sessions   *session.Manager
	users      userstore.Store
	table      *routes.AtomicTable
	limiter    *middleware.LoginLimiter
	mu         sync.RWMutex
	running    bool
}

// New creates a server from a validated configuration and its backing stores.
func New(cfg *config.Config, sessions *session.Manager, users userstore.Store, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	table, err := cfg.RouteTable()
	if err != nil {
		return nil, err
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine:   gin.New(),
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		users:    users,
		table:    routes.NewAtomicTable(table),
		limiter:  middleware.NewLoginLimiter(cfg.LoginRate.PerSecond, cfg.LoginRate.Burst, logger),
	}

	s.engine.Use(
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Recovery(logger),
		middleware.Tracing("accessgw"),
		middleware.AccessGate(middleware.GateConfig{
			Sessions:    sessions,
			Users:       users,
			Routes:      s.table,
			Paths:       cfg.Paths,
			BaseURL:     cfg.Server.BaseURL,
			IdleTimeout: cfg.Session.IdleTimeout.Duration(),
			Logger:      logger,
		}),
	)

	s.registerRoutes()
	return s, nil
}

// Engine returns the underlying gin engine, used by tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// ApplyConfig swaps in a reloaded classification table. Listen address and
// store settings require a restart and are ignored here.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	table, err := cfg.RouteTable()
	if err != nil {
		return fmt.Errorf("config reload rejected: %w", err)
	}

	s.table.Swap(table)
	s.logger.Info("classification table reloaded",
		zap.Int("rules", len(cfg.Routes)),
	)
	return nil
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Listen,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: s.cfg.Server.WriteTimeout.Duration(),
	}

	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		zap.String("address", s.cfg.Server.Listen),
		zap.String("base_url", s.cfg.Server.BaseURL),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")
	s.limiter.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
