package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/arraydb/writer-node/internal/config"
	"github.com/devrev/arraydb/writer-node/internal/health"
	"github.com/devrev/arraydb/writer-node/internal/metrics"
	"github.com/devrev/arraydb/writer-node/internal/schema"
	"github.com/devrev/arraydb/writer-node/internal/server"
	"github.com/devrev/arraydb/writer-node/internal/storagemanager"
	"github.com/devrev/arraydb/writer-node/internal/storagemanager/local"
	"github.com/devrev/arraydb/writer-node/internal/worker"
	"github.com/devrev/arraydb/writer-node/internal/writer"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", zap.Error(err))
		cfg = config.Default()
	}

	logger.Info("configuration loaded",
		zap.String("node_id", cfg.NodeID),
		zap.String("storage_kind", cfg.Storage.Kind),
		zap.Int("server_port", cfg.Server.Port))

	sch, err := demoSchema()
	if err != nil {
		logger.Fatal("failed to build array schema", zap.Error(err))
	}

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage backend", zap.Error(err))
	}

	pool := worker.NewWorkerPool(&worker.Config{
		Name:       "tile-workers",
		MaxWorkers: cfg.Worker.ThreadNum,
		QueueSize:  cfg.Worker.QueueSize,
		Logger:     logger,
	})
	defer pool.Stop(10 * time.Second)

	m := metrics.NewMetrics(cfg.NodeID)

	w, err := writer.New(cfg, sch, backend, pool, logger, m)
	if err != nil {
		logger.Fatal("failed to initialize writer", zap.Error(err))
	}

	healthChecker := health.New(&health.Config{
		NodeID:          cfg.NodeID,
		FragmentRootDir: cfg.Storage.Local.RootDir,
	}, func() bool { return w.State() == writer.StateFailed }, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go healthChecker.Start(ctx)

	opsServer := server.New(&server.Config{Port: cfg.Server.Port}, m, healthChecker, pool, logger)
	if err := opsServer.Start(); err != nil {
		logger.Fatal("failed to start ops server", zap.Error(err))
	}

	logger.Info("writer node started", zap.String("node_id", cfg.NodeID))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully...")
	cancel()
	if err := opsServer.Stop(); err != nil {
		logger.Error("ops server shutdown failed", zap.Error(err))
	}
}

func buildBackend(cfg *config.Config, logger *zap.Logger) (storagemanager.Backend, error) {
	switch cfg.Storage.Kind {
	case "local":
		if err := os.MkdirAll(cfg.Storage.Local.RootDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create fragment root directory: %w", err)
		}
		// The config holds fractions; DiskManager thresholds are percentages.
		disk, err := local.NewDiskManager(&local.DiskManagerConfig{
			DataDir:                 cfg.Storage.Local.RootDir,
			WarningThreshold:        cfg.Storage.Local.WarnDiskUsage * 100,
			ThrottleThreshold:       cfg.Storage.Local.MaxDiskUsage * 100,
			CircuitBreakerThreshold: cfg.Storage.Local.MaxDiskUsage * 100,
		}, logger)
		if err != nil {
			return nil, err
		}
		return local.NewBackend(cfg.Storage.Local.RootDir, disk, logger), nil
	case "s3":
		return nil, fmt.Errorf("s3 backend requires an aws-sdk-go-v2 client constructed by the deployment environment; wire storagemanager/s3.NewBackend with one")
	default:
		return nil, fmt.Errorf("unknown storage backend kind %q", cfg.Storage.Kind)
	}
}

// demoSchema builds a small sparse 2D array schema, standing in for a
// schema a real deployment would load from its own catalog. Schema
// construction is out of SPEC_FULL.md's scope; internal/schema.Builder
// exists for exactly this purpose.
func demoSchema() (*schema.Schema, error) {
	return schema.NewSchema("demo_sparse_2d").
		CellOrderIs(schema.RowMajor).
		TileCapacityIs(1024).
		Dim("x", schema.Int64, 0, 1_000_000, 0).
		Dim("y", schema.Int64, 0, 1_000_000, 0).
		Attr(schema.Attribute{Name: "value", Type: schema.Float64, FilterList: []string{"checksum-crc32"}}).
		Build()
}

func initLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}
