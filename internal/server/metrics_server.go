// Package server runs the writer node's ops HTTP surface: Prometheus
// metrics, liveness and readiness probes, and periodic worker-pool stat
// collection.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/devrev/arraydb/writer-node/internal/health"
	"github.com/devrev/arraydb/writer-node/internal/metrics"
	"github.com/devrev/arraydb/writer-node/internal/worker"
)

// Config holds configuration for the ops server.
type Config struct {
	Port int
}

// Server serves /metrics, /health and /ready for a writer node.
type Server struct {
	httpServer *http.Server
	metrics    *metrics.Metrics
	health     *health.Checker
	pool       *worker.WorkerPool
	logger     *zap.Logger
	stopChan   chan struct{}
}

// New constructs a Server. pool may be nil to skip worker stat
// collection.
func New(cfg *Config, m *metrics.Metrics, h *health.Checker, pool *worker.WorkerPool, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		metrics:  m,
		health:   h,
		pool:     pool,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", h.LivenessHandler)
	mux.HandleFunc("/ready", h.ReadinessHandler)

	return s
}

// Start begins serving and, if a worker pool was supplied, begins
// periodically exporting its queue depth and active-worker count.
func (s *Server) Start() error {
	s.logger.Info("starting ops server", zap.String("addr", s.httpServer.Addr))

	if s.pool != nil {
		go s.collectWorkerStats()
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ops server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping ops server")
	close(s.stopChan)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ops server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) collectWorkerStats() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := s.pool.Stats()
			s.metrics.SetWorkerStats(stats.QueuedTasks, stats.ActiveWorkers)
		case <-s.stopChan:
			return
		}
	}
}
