package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/realty-collector/internal/shell/api"
	"github.com/artpar/realty-collector/internal/shell/collector"
	"github.com/artpar/realty-collector/internal/shell/jobs"
	"github.com/artpar/realty-collector/internal/shell/scraperapi"
	"github.com/artpar/realty-collector/internal/shell/secrets"
	"github.com/artpar/realty-collector/internal/shell/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitSecretsError    = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the collector application server.
type Server struct {
	config      *Config
	httpServer  *http.Server
	store       store.Store
	coordinator *jobs.Coordinator
	reaper      *jobs.StaleJobReaper
	logger      *slog.Logger
}

// NewServer creates a new server with the given config. Secret references
// in cfg are resolved in place.
func NewServer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Server, error) {
	if cfg.NeedsSecrets() {
		accessor, err := secrets.NewManagerAccessor(ctx)
		if err != nil {
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitSecretsError}
		}
		err = cfg.ResolveSecrets(ctx, accessor)
		accessor.Close()
		if err != nil {
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitSecretsError}
		}
		logger.Info("secrets resolved", "project", cfg.Secrets.Project)
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	// Connect to database
	s, err := store.Open(ctx, store.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.ConnString(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	fetcher, err := scraperapi.NewClient(scraperapi.Config{
		BaseURL:           cfg.Scraper.BaseURL,
		APIKey:            cfg.Scraper.APIKey,
		Timeout:           cfg.Scraper.Timeout,
		RetryMax:          cfg.Scraper.RetryMax,
		RetryWait:         cfg.Scraper.RetryWait,
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		Burst:             cfg.Scraper.Burst,
	}, logger)
	if err != nil {
		s.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	service := collector.NewService(s, fetcher, collector.Config{
		BaseURL:           cfg.Scraper.DirectoryURL,
		MaxWorkers:        cfg.Scraper.MaxWorkers,
		BatchSize:         cfg.Jobs.BatchSize,
		DiscoveryAttempts: cfg.Scraper.DiscoveryAttempts,
		DiscoveryDelay:    cfg.Scraper.DiscoveryDelay,
		PageAttempts:      cfg.Scraper.PageAttempts,
		PageDelay:         cfg.Scraper.PageDelay,
	}, collector.NewMetrics(registry), logger)

	coordinator := jobs.NewCoordinator(service, logger)

	reaper := jobs.NewStaleJobReaper(s, coordinator, jobs.ReaperConfig{
		Interval:   cfg.Jobs.ReapInterval,
		StaleAfter: cfg.Jobs.StaleAfter,
	}, logger)

	handler := api.NewHandler(s, coordinator, registry, logger)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:      cfg,
		httpServer:  httpServer,
		store:       s,
		coordinator: coordinator,
		reaper:      reaper,
		logger:      logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.reaper.Start()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server. Running jobs are cancelled and
// end in the ERROR status.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.coordinator.Stop()
	s.reaper.Stop()

	// Close database
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
