package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"logs-distributor/api"
	"logs-distributor/config"
	"logs-distributor/dispatch"
	"logs-distributor/emitter"
	"logs-distributor/queue"
	"logs-distributor/registry"
)

const (
	ServiceName = "logs-distributor"
	Version     = "1.0.0"
)

func main() {
	logger := initLogger()
	defer func() {
		if err := logger.Sync(); err != nil {
			// Ignore sync errors for stdout/stderr
		}
	}()

	logger.Info("Starting Logs Distributor Service",
		zap.String("service", ServiceName),
		zap.String("version", Version),
	)

	analyzerSeeds, err := config.LoadAnalyzers()
	if err != nil {
		logger.Fatal("Failed to load analyzer configuration", zap.Error(err))
	}
	emitterSeeds, err := config.LoadEmitters()
	if err != nil {
		logger.Fatal("Failed to load emitter configuration", zap.Error(err))
	}
	runtime := config.LoadRuntime()

	regSeeds := make([]registry.Analyzer, 0, len(analyzerSeeds))
	for _, s := range analyzerSeeds {
		regSeeds = append(regSeeds, registry.Analyzer{ID: s.ID, URL: s.URL, Weight: s.Weight})
	}
	reg := registry.New(logger, runtime.MaxFailures, regSeeds...)

	emSeeds := make([]emitter.Seed, 0, len(emitterSeeds))
	for _, s := range emitterSeeds {
		emSeeds = append(emSeeds, emitter.Seed{EmitterID: s.EmitterID, URL: s.URL})
	}
	emitters := emitter.New(logger, emSeeds)

	q := queue.New(runtime.QueueCapacity)
	pool := dispatch.NewPool(logger, reg, q, emitters, runtime.DispatcherWorkers)
	prober := dispatch.NewProber(logger, reg)
	promux := api.NewPrometheus(q)

	ctx, cancelBackground := context.WithCancel(context.Background())
	var bgWG sync.WaitGroup

	pool.Start(ctx, &bgWG)
	prober.Start(ctx, &bgWG, runtime.ProbeInterval)
	emitters.StartPolling(ctx, &bgWG, runtime.PollInterval)

	handler := api.NewHandler(reg, q, pool, emitters, logger, promux)
	router := handler.SetupRoutes()

	broadcastDone := make(chan struct{})
	handler.StartMetricsBroadcast(broadcastDone, reg, q, emitters, pool)

	port := runtime.Port
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", port))
		printStartupMessage(port, analyzerSeeds, emitterSeeds, runtime, logger)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Service ready - Press Ctrl+C to shutdown")
	sig := <-quit
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	logger.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
	}

	logger.Info("Stopping background workers...")
	close(broadcastDone)
	cancelBackground()
	bgWG.Wait()

	logger.Info("Service shutdown complete")
}

// initLogger initializes the zap logger with appropriate configuration
func initLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true

	cfg.Encoding = "console"
	cfg.EncoderConfig = zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	return logger
}

// printStartupMessage logs the resolved configuration once at boot, teacher-style.
func printStartupMessage(port string, analyzers []config.AnalyzerSeed, emitters []config.EmitterSeed, runtime config.Runtime, logger *zap.Logger) {
	logger.Info("=== Logs Distributor Configuration ===")
	logger.Info("Service Details",
		zap.String("service", ServiceName),
		zap.String("version", Version),
		zap.String("port", port),
	)
	logger.Info("System Configuration",
		zap.Int("dispatcher_workers", runtime.DispatcherWorkers),
		zap.Int("queue_capacity", runtime.QueueCapacity),
		zap.String("probe_interval", runtime.ProbeInterval.String()),
		zap.String("emitter_poll_interval", runtime.PollInterval.String()),
	)
	logger.Info("Analyzer Configuration",
		zap.Int("analyzer_count", len(analyzers)),
	)
	logger.Info("Emitter Configuration",
		zap.Int("emitter_count", len(emitters)),
	)
	logger.Info("API Endpoints Available",
		zap.String("ingest", "POST /log-packet"),
		zap.String("registry", "GET /registry"),
		zap.String("metrics", "GET /metrics"),
		zap.String("ws_metrics", "GET /ws/metrics"),
	)
	logger.Info("=========================================")
}
