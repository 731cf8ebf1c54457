package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/adapter/filesystem"
	"github.com/lmplayground/model-store/internal/adapter/httpdl"
	"github.com/lmplayground/model-store/internal/adapter/location"
	"github.com/lmplayground/model-store/internal/adapter/s3"
	"github.com/lmplayground/model-store/internal/adapter/sqlite"
	"github.com/lmplayground/model-store/internal/config"
	"github.com/lmplayground/model-store/internal/domain/event"
	"github.com/lmplayground/model-store/internal/logger"
	"github.com/lmplayground/model-store/internal/service/catalog"
	"github.com/lmplayground/model-store/internal/service/coordinator"
	"github.com/lmplayground/model-store/internal/service/maintenance"
	"github.com/lmplayground/model-store/internal/service/migration"
	"github.com/lmplayground/model-store/internal/service/orchestrator"
	"github.com/lmplayground/model-store/internal/service/registry"
	"github.com/lmplayground/model-store/internal/service/server"
)

const version = "0.1.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (defaults and MODEL_STORE_* env when empty)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting model-store",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// Open database
	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		zapLogger.Fatal("failed to open database", zap.Error(err), zap.String("path", cfg.Database.Path))
	}
	defer store.Close()

	// Staging area for in-flight downloads
	staging, err := filesystem.NewStaging(cfg.Storage.StagingDir, cfg.Storage.GetBufferSize())
	if err != nil {
		zapLogger.Fatal("failed to create staging area", zap.Error(err), zap.String("path", cfg.Storage.StagingDir))
	}

	// Event dispatch
	dispatcher := event.NewInMemoryDispatcher(false, logger.Named("events"))
	metrics := event.NewMetricsHandler()
	dispatcher.Subscribe(event.NewLoggingHandler(logger.Named("events")))
	dispatcher.Subscribe(metrics)

	// Asset catalog
	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		zapLogger.Fatal("failed to load catalog", zap.Error(err), zap.String("path", cfg.Catalog.Path))
	}
	zapLogger.Info("catalog loaded", zap.Int("entries", cat.Len()))

	// Storage location registry
	resolver := location.NewResolver(
		location.NewS3ClientFactory(s3.ClientConfig{Region: cfg.S3.Region, Endpoint: cfg.S3.Endpoint}),
		cfg.Storage.GetTempDir(),
	)
	reg := registry.New(sqlite.NewConfigStore(store), resolver, dispatcher, logger.Named("registry"))
	if err := reg.Load(context.Background()); err != nil {
		zapLogger.Fatal("failed to load storage location", zap.Error(err))
	}

	// Download subsystem
	downloadsCfg := &httpdl.Config{
		Workers:          cfg.Downloads.Workers,
		MaxRetries:       cfg.Downloads.MaxRetries,
		ProgressInterval: cfg.Downloads.GetProgressInterval(),
		UserAgent:        cfg.Downloads.UserAgent,
		HTTPTimeout:      cfg.Downloads.GetHTTPTimeout(),
		MaxRedirects:     cfg.Downloads.MaxRedirects,
	}
	space := filesystem.NewSpaceChecker(cfg.Storage.StagingDir, cfg.Storage.GetReserveBytes(), cfg.Storage.MaxDiskUsagePercent)
	downloads := httpdl.New(downloadsCfg, store, staging, space, logger.Named("downloads"))

	// Orchestrator and migration engine
	orch := orchestrator.New(&orchestrator.Config{
		PollInterval:   cfg.Downloads.GetPollInterval(),
		CopyBufferSize: cfg.Storage.GetBufferSize(),
	}, downloads, staging, reg, cat, dispatcher, logger.Named("orchestrator"))

	engine := migration.New(&migration.Config{
		CopyBufferSize: cfg.Storage.GetBufferSize(),
	}, reg, filesystem.NewLegacyDir(cfg.Storage.GetLegacyDir()), cat, dispatcher, logger.Named("migration"))

	coord := coordinator.New(reg, cat, orch, engine, dispatcher, logger.Named("coordinator"))

	// Create maintenance service
	maintenanceCfg := &maintenance.Config{
		StaleRecordCheckInterval: cfg.Maintenance.GetStaleCheckInterval(),
		StaleRecordTimeout:       cfg.Maintenance.GetStaleTimeout(),
		CleanupInterval:          cfg.Maintenance.GetCleanupInterval(),
		FinishedRecordMaxAge:     cfg.Maintenance.GetFinishedMaxAge(),
		PartialFileMaxAge:        cfg.Maintenance.GetPartialMaxAge(),
	}
	maintenanceService := maintenance.New(maintenanceCfg, store, staging, logger.Named("maintenance"))

	// Create HTTP server
	serverCfg := &server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		AdminUsername: cfg.HTTP.AdminUsername,
		AdminPassword: cfg.HTTP.AdminPassword,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
	}
	stats := []server.StatsSource{
		{Name: "events", Stats: func(ctx context.Context) (interface{}, error) {
			return metrics.GetMetrics(), nil
		}},
		{Name: "downloads", Stats: func(ctx context.Context) (interface{}, error) {
			return downloads.GetStats(ctx)
		}},
		{Name: "staging", Stats: func(ctx context.Context) (interface{}, error) {
			return staging.DiskUsage(ctx)
		}},
	}
	httpServer := server.New(serverCfg, coord, store, stats, logger.Named("http"))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type service struct {
		name  string
		start func(context.Context) error
	}
	services := []service{
		{"download subsystem", downloads.Start},
		{"orchestrator", orch.Start},
		{"coordinator", coord.Start},
		{"maintenance service", maintenanceService.Start},
	}
	for _, svc := range services {
		go func() {
			if err := svc.start(ctx); err != nil && err != context.Canceled {
				zapLogger.Error(svc.name+" stopped with error", zap.Error(err))
			}
		}()
	}

	// Start HTTP server
	go func() {
		if err := httpServer.Start(); err != nil {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("staging_dir", cfg.Storage.StagingDir),
		zap.String("location", reg.Active().String()),
		zap.String("legacy_dir", filepath.Clean(cfg.Storage.GetLegacyDir())),
	)
	<-sigChan

	zapLogger.Info("shutdown signal received, stopping services...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	maintenanceService.Stop()
	coord.Stop()
	orch.Stop()
	downloads.Stop()

	zapLogger.Info("application stopped successfully")
}
