// FareHawk - trip fare and speed anomaly detection.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/farehawk/internal/api"
	"github.com/opensource-finance/farehawk/internal/bus"
	"github.com/opensource-finance/farehawk/internal/cache"
	"github.com/opensource-finance/farehawk/internal/config"
	"github.com/opensource-finance/farehawk/internal/domain"
	"github.com/opensource-finance/farehawk/internal/metrics"
	"github.com/opensource-finance/farehawk/internal/monitor"
	"github.com/opensource-finance/farehawk/internal/repository"
	"github.com/opensource-finance/farehawk/internal/rules"
	"github.com/opensource-finance/farehawk/internal/tracing"
	"github.com/opensource-finance/farehawk/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// the configured logger does not exist yet
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	config.SetupLogger(cfg.Logging, os.Stdout)

	slog.Info("starting farehawk",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"auto_detect", cfg.Detection.AutoDetect,
		"async_worker", cfg.Detection.AsyncWorker,
	)

	if err := run(cfg); err != nil {
		slog.Error("farehawk exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("farehawk shutdown complete")
}

func run(cfg *domain.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(cfg.Tracing, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()

	m := metrics.New()

	svc := monitor.NewService(repo, cfg.Detection,
		monitor.WithCache(cacheImpl),
		monitor.WithEventBus(busImpl),
		monitor.WithRuleEngine(engine),
		monitor.WithMetrics(m),
	)
	// other tenants load their rules on first use
	svc.PreloadRules(cfg.Detection.Tenants)

	var asyncWorker *worker.Worker
	if cfg.Detection.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Detection.Tenants}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
		slog.Info("async worker started", "tenant_count", len(cfg.Detection.Tenants))
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, svc, m, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("farehawk is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	// Stop the worker first so no run starts during shutdown
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  FAREHAWK  trip fare and speed anomaly detection")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /trips               - Ingest a JSON batch of trips")
	fmt.Println("    POST /trips/import        - Ingest a CSV file")
	fmt.Println("    POST /trips/sample        - Load generated sample trips")
	fmt.Println("    GET  /trips               - List trips with filters")
	fmt.Println("    POST /detect              - Run detection now")
	fmt.Println("    GET  /anomalies           - Latest anomaly report")
	fmt.Println("    GET  /anomalies/{tripId}  - Anomaly for one trip")
	fmt.Println("    GET  /insights/{kind}     - stats, hourly, charts, efficiency")
	fmt.Println("    GET  /rules               - List heuristic rules")
	fmt.Println("    POST /rules               - Create a heuristic rule")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println("    GET  /metrics             - Prometheus metrics")
	fmt.Println()
}
