// main package for the voice conversion service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/config"
	"github.com/jgbrblmd/seed-vc/internal/core"
	"github.com/jgbrblmd/seed-vc/internal/engine"
	"github.com/jgbrblmd/seed-vc/internal/metrics"
	"github.com/jgbrblmd/seed-vc/internal/objectstore"
	"github.com/jgbrblmd/seed-vc/internal/scheduler"
	"github.com/jgbrblmd/seed-vc/internal/server"
	"github.com/jgbrblmd/seed-vc/internal/vc"
	"github.com/jgbrblmd/seed-vc/internal/worker"
)

const defaultEngineTimeout = 10 * time.Minute

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "vc-service-bootstrap.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, finalLog)
}

// serve wires the pipeline together and blocks until shutdown.
func serve(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New(prometheus.DefaultRegisterer)

	modelEngine := engine.NewHTTP(cfg.Engine.URL, engineTimeout(cfg))

	sched, schedErr := scheduler.New(modelEngine, maxJobs(cfg), met, log)
	if schedErr != nil {
		return fmt.Errorf("failed to create scheduler: %w", schedErr)
	}

	service := vc.New(sched, segmenterConfig(cfg), cfg.Service.WorkDir, log)

	errChan := make(chan error, 2)

	natsCleanup, natsErr := startWorker(ctx, cfg, service, log, errChan)
	if natsErr != nil {
		return natsErr
	}

	if natsCleanup != nil {
		defer natsCleanup()
	}

	httpServer := server.New(service, met, log)
	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.Port)

	log.System("Voice conversion service listening on %s", addr)

	go func() {
		errChan <- httpServer.Run(ctx, addr)
	}()

	select {
	case <-ctx.Done():
		log.System("Shutdown signal received.")

		// Give the HTTP server its own drain window.
		return <-errChan
	case runErr := <-errChan:
		return runErr
	}
}

// startWorker connects the NATS intake path when a broker URL is configured.
// The HTTP surface works without one.
func startWorker(
	ctx context.Context,
	cfg *config.Config,
	service *vc.Service,
	log *logger.Logger,
	errChan chan<- error,
) (func(), error) {
	if cfg.NATS.URL == "" {
		log.Info("No NATS URL configured; bus intake disabled.")

		return nil, nil
	}

	natsConnection, connectErr := nats.Connect(cfg.NATS.URL)
	if connectErr != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, connectErr)
	}

	jetstreamContext, jetstreamErr := natsConnection.JetStream()
	if jetstreamErr != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", jetstreamErr)
	}

	store, storeErr := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if storeErr != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create object store: %w", storeErr)
	}

	natsWorker, workerErr := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.ConversionSubject,
		store,
		service,
		log,
	)
	if workerErr != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create NATS worker: %w", workerErr)
	}

	log.System("Listening for conversion jobs on subject: %s", cfg.NATS.ConversionSubject)

	go func() {
		errChan <- natsWorker.Run(ctx)
	}()

	return natsConnection.Close, nil
}

func engineTimeout(cfg *config.Config) time.Duration {
	if cfg.Engine.TimeoutSeconds <= 0 {
		return defaultEngineTimeout
	}

	return time.Duration(cfg.Engine.TimeoutSeconds) * time.Second
}

func maxJobs(cfg *config.Config) int {
	if cfg.Service.MaxConcurrentJobs <= 0 {
		return scheduler.DefaultMaxConcurrentJobs
	}

	return cfg.Service.MaxConcurrentJobs
}

// segmenterConfig translates the second-denominated tuning knobs into sample
// counts at the canonical rate, falling back to defaults for unset fields.
func segmenterConfig(cfg *config.Config) audio.SegmenterConfig {
	segCfg := audio.DefaultSegmenterConfig()

	if cfg.Service.MaxChunkSeconds > 0 {
		segCfg.MaxChunkSamples = int(cfg.Service.MaxChunkSeconds * core.CanonicalSampleRate)
	}

	if cfg.Service.SilenceThreshold > 0 {
		segCfg.SilenceThreshold = cfg.Service.SilenceThreshold
	}

	if cfg.Service.MinSilenceSeconds > 0 {
		segCfg.MinSilenceSamples = int(cfg.Service.MinSilenceSeconds * core.CanonicalSampleRate)
	}

	if cfg.Service.SearchWindowSeconds > 0 {
		segCfg.SearchWindowSamples = int(cfg.Service.SearchWindowSeconds * core.CanonicalSampleRate)
	}

	return segCfg
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
