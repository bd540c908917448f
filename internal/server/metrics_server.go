package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/devrev/groove/internal/health"
	"github.com/devrev/groove/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer serves Prometheus metrics and the health probes via HTTP
type MetricsServer struct {
	httpServer *http.Server
	metrics    *metrics.Metrics
	health     *health.HealthChecker
	logger     *zap.Logger
	dataDir    string
	stopChan   chan struct{}
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port    int
	Path    string
	DataDir string
	// Gatherer defaults to the global prometheus registry
	Gatherer prometheus.Gatherer
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(cfg *MetricsServerConfig, m *metrics.Metrics, hc *health.HealthChecker, logger *zap.Logger) *MetricsServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		metrics:  m,
		health:   hc,
		logger:   logger,
		dataDir:  cfg.DataDir,
		stopChan: make(chan struct{}),
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", hc.LivenessHandler)
	mux.HandleFunc("/ready", hc.ReadinessHandler)

	return ms
}

// Handler exposes the mux, mainly for tests
func (s *MetricsServer) Handler() http.Handler { return s.httpServer.Handler }

// Start starts the metrics server
func (s *MetricsServer) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	go s.collectSystemMetrics()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop() error {
	s.logger.Info("Stopping metrics server")

	close(s.stopChan)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	return nil
}

func (s *MetricsServer) collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	s.updateSystemMetrics()
	for {
		select {
		case <-ticker.C:
			s.updateSystemMetrics()
		case <-s.stopChan:
			return
		}
	}
}

func (s *MetricsServer) updateSystemMetrics() {
	diskUsage, diskAvailable, err := health.DiskStats(s.dataDir)
	if err != nil {
		s.logger.Error("Failed to get disk stats", zap.Error(err))
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.metrics.UpdateSystemStats(diskUsage, diskAvailable, int64(memStats.Alloc), runtime.NumGoroutine())
}
