// Package server wires the config, providers, and handlers into the HTTP
// proxy and owns its lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claudeswitch/claudeswitch/internal/audit"
	"github.com/claudeswitch/claudeswitch/internal/config"
	"github.com/claudeswitch/claudeswitch/internal/handlers"
	"github.com/claudeswitch/claudeswitch/internal/middleware"
	"github.com/claudeswitch/claudeswitch/internal/models"
	"github.com/claudeswitch/claudeswitch/internal/providers"
)

type Server struct {
	config   *config.Manager
	registry *providers.Registry
	models   *models.Registry
	logger   *slog.Logger
	server   *http.Server
	sink     *audit.FileSink
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	registry := providers.NewRegistry()
	registry.Initialize()

	return &Server{
		config:   configManager,
		registry: registry,
		models:   models.NewRegistry(),
		logger:   logger,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	if cfg.Audit.Enabled && cfg.Audit.Path != "" {
		sink, err := audit.NewFileSink(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("open audit sink: %w", err)
		}
		s.sink = sink
		defer s.sink.Close()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.setupRoutes(),
	}

	s.logger.Info("starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("server is shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	var sink audit.Sink
	if s.sink != nil {
		sink = s.sink
	}
	proxyHandler := handlers.NewProxyHandler(s.config, s.registry, s.models, sink, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)

	set := middleware.NewSet(s.config, s.logger)

	mux.Handle("/health", set.HealthChain().Handler(healthHandler))
	mux.Handle("/", set.DefaultChain().Handler(proxyHandler))

	return mux
}
