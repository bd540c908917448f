package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/database"
	"github.com/devrev/groove/internal/handler"
	"github.com/devrev/groove/internal/health"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/server"
	"github.com/devrev/groove/internal/service"
	"github.com/devrev/groove/internal/storage/diskmanager"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Storage.DataDir))

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	m := metrics.NewMetrics(cfg.Server.NodeID)

	disk, err := diskmanager.NewDiskManager(cfg.Storage.DataDir, cfg.Disk, logger)
	if err != nil {
		logger.Fatal("Failed to initialize disk manager", zap.Error(err))
	}

	db, err := database.Open(database.Options{
		Storage: cfg.Storage,
		Column:  cfg.Column,
		Cache:   cfg.Cache,
		Logger:  logger,
		Metrics: m,
		Disk:    disk,
	})
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	catalog := service.NewCatalogService(db, service.CatalogConfig{Column: cfg.Column}, logger, m)
	defer catalog.Close()
	for _, mount := range cfg.Datasets {
		f, err := catalog.Mount(mount.Path, mount.URL)
		if err != nil {
			logger.Fatal("Failed to mount dataset", zap.String("path", mount.Path), zap.Error(err))
		}
		logger.Info("Mounted dataset", zap.String("path", mount.Path), zap.String("url", f.URL()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hc := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:  cfg.Server.NodeID,
		DataDir: cfg.Storage.DataDir,
	}, logger)
	hc.Register("catalog", catalog.CheckHealth)
	go hc.Start(ctx)

	if cfg.Metrics.Enabled {
		metricsServer := server.NewMetricsServer(&server.MetricsServerConfig{
			Port:    cfg.Metrics.Port,
			Path:    cfg.Metrics.Path,
			DataDir: cfg.Storage.DataDir,
		}, m, hc, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
		defer metricsServer.Stop()
	}

	grpcServer := grpc.NewServer(
		grpc.MaxConcurrentStreams(uint32(cfg.Server.MaxConnections)),
	)
	handler.RegisterDatasetServiceServer(grpcServer, handler.NewDatasetHandler(catalog, logger))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}

	logger.Info("Groove agent starting",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("address", addr),
		zap.Int("datasets", len(catalog.DatasetURLs())))

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down gracefully...")
		hc.SetReadiness(false)
		cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.Server.ShutdownTimeout):
			logger.Warn("Graceful stop timed out, forcing shutdown",
				zap.Duration("timeout", cfg.Server.ShutdownTimeout))
			grpcServer.Stop()
		}
	}()

	if err := grpcServer.Serve(listener); err != nil {
		logger.Error("Failed to serve", zap.Error(err))
	}
}

// initLogger builds the production zap logger at the configured level
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
