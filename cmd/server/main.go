// Package main provides the entry point for the forecasting studio server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/forecasting-studio/internal/api"
	"github.com/atlas-desktop/forecasting-studio/internal/backtester"
	"github.com/atlas-desktop/forecasting-studio/internal/config"
	"github.com/atlas-desktop/forecasting-studio/internal/data"
	"github.com/atlas-desktop/forecasting-studio/internal/strategy"
	"github.com/atlas-desktop/forecasting-studio/internal/telemetry"
	"github.com/atlas-desktop/forecasting-studio/internal/workers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	fs := pflag.NewFlagSet("server", pflag.ExitOnError)
	config.RegisterFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting Forecasting Studio",
		zap.String("addr", cfg.Addr()),
		zap.String("dataDir", cfg.Data.DataDir),
		zap.String("configFile", cfg.File),
		zap.Int("workers", cfg.Workers.Count),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataStore, err := data.NewStore(logger, cfg.Data.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(registry)

	strategyRegistry := strategy.NewStrategyRegistry(logger)
	logger.Info("Registered strategies",
		zap.Strings("strategies", strategyRegistry.List()),
	)

	engine := backtester.NewEngine(logger, strategyRegistry, metrics)

	pool := workers.NewPool(logger, &workers.PoolConfig{
		Name:            "grid-search",
		NumWorkers:      cfg.Workers.Count,
		QueueSize:       cfg.Workers.QueueSize,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	})
	pool.Start()

	analyzer := backtester.NewWalkForwardAnalyzer(logger, engine, pool, metrics)

	// Setup WebSocket hub for walk-forward progress
	wsHub := api.NewHub(logger)
	go wsHub.Run(ctx)

	server := api.NewServer(logger, &cfg.Server, api.ServerDeps{
		Store:       dataStore,
		Engine:      engine,
		Analyzer:    analyzer,
		Hub:         wsHub,
		Gatherer:    registry,
		WalkForward: cfg.WalkForward,
	})

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("Server started successfully",
		zap.String("http", fmt.Sprintf("http://%s", cfg.Addr())),
		zap.String("ws", fmt.Sprintf("ws://%s%s", cfg.Addr(), cfg.Server.WebSocketPath)),
	)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		logger.Error("Server error", zap.Error(err))
	}

	// Graceful server shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	cancel()

	if err := pool.Stop(); err != nil {
		logger.Error("Error stopping worker pool", zap.Error(err))
	}

	logger.Info("Server stopped")
}
