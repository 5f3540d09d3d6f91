// Package observability provides metrics collection and the optional
// prometheus scrape endpoint for migration runs.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/logging"
	"github.com/clinsync/clinsync-go/internal/observability/metrics"
)

// Metrics holds all metric collectors over a private registry, so tests can
// create as many instances as they like without default-registry collisions.
type Metrics struct {
	registry  *prometheus.Registry
	Migration *metrics.MigrationMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	migrationMetrics, err := metrics.NewMigrationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Migration: migrationMetrics,
	}, nil
}

// Server exposes the metrics over HTTP for the duration of a run.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the scrape endpoint on the configured listen address.
// Returns nil when observability is disabled.
func NewServer(settings *conf.ObservabilitySettings, m *Metrics, logger *slog.Logger) *Server {
	if !settings.Enabled {
		return nil
	}
	if logger == nil {
		logger = logging.ForService("observability")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:        settings.Listen,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves the endpoint in the background. Listen failures are logged,
// not fatal; a migration does not abort because a port was taken.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics endpoint listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("metrics endpoint stopped", "error", err)
		}
	}()
}

// Stop shuts the endpoint down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics endpoint shutdown failed", "error", err)
	}
}
