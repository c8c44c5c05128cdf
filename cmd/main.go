package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/kafwindowsink/internal/blob"
	"github.com/jittakal/kafwindowsink/internal/config"
	"github.com/jittakal/kafwindowsink/internal/config/dto"
	"github.com/jittakal/kafwindowsink/internal/encoder"
	"github.com/jittakal/kafwindowsink/internal/kafka"
	"github.com/jittakal/kafwindowsink/internal/naming"
	"github.com/jittakal/kafwindowsink/internal/observability"
	"github.com/jittakal/kafwindowsink/internal/server"
	"github.com/jittakal/kafwindowsink/internal/shard"
	"github.com/jittakal/kafwindowsink/internal/sink"
	"github.com/jittakal/kafwindowsink/internal/validator"
	"github.com/jittakal/kafwindowsink/internal/window"
	pkgblob "github.com/jittakal/kafwindowsink/pkg/blob"
	"github.com/jittakal/kafwindowsink/pkg/record"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Load configuration
	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize observability
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	logger.Info("starting windowed kafka sink",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
		"window_duration", cfg.Window.Duration,
		"format", cfg.Output.Format,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Track cleanup functions
	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, fn)
		logger.Debug("registered cleanup", "component", name)
	}
	runCleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			if err := cleanupFuncs[i](); err != nil {
				logger.Error("cleanup failed", "error", err)
			}
		}
	}
	defer runCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Blob store for the selected backend
	store, err := newBlobStore(ctx, cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create blob store: %w", err)
	}
	addCleanup("blob-store", store.Close)

	// Encoder for the configured output format
	compression := cfg.Output.Compression
	if compression == "" {
		compression = encoder.DefaultCompression(record.FileFormat(cfg.Output.Format))
	}
	avroSchema, err := resolveAvroSchema(cfg)
	if err != nil {
		return err
	}
	factory := encoder.NewFactory(record.FileFormat(cfg.Output.Format), compression, avroSchema)
	enc, err := factory.CreateEncoder()
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	// Windowing
	assigner := window.NewAssigner(cfg.Window.Duration)
	tracker := window.NewTracker(assigner, cfg.Window.AllowedLateness, cfg.Window.EmitEmpty, logger, metrics)

	// Shard planning and output naming
	planner := shard.NewPlanner(shard.Config{
		MaxShards:             cfg.Sharding.MaxShards,
		TargetRecordsPerShard: cfg.Sharding.TargetRecordsPerShard,
		EmitEmptyWindows:      cfg.Window.EmitEmpty,
	})
	namer := naming.New(cfg.Output.Prefix, cfg.Output.FilenamePrefix)

	// Kafka source with watermark generation
	sourceConfig := kafka.SourceConfig{
		BootstrapServers:    cfg.Kafka.BootstrapServers,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		SecurityProtocol:    cfg.Kafka.SecurityProtocol,
		SASLMechanism:       cfg.Kafka.SASLMechanism,
		SASLUsername:        cfg.Kafka.SASLUsername,
		SASLPassword:        cfg.Kafka.SASLPassword,
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
		MaxOutOfOrderness:   cfg.Window.MaxOutOfOrderness,
		WatermarkInterval:   time.Duration(cfg.Window.WatermarkIntervalMS) * time.Millisecond,
	}
	src, err := kafka.NewSaramaSource(sourceConfig, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create kafka source: %w", err)
	}
	addCleanup("kafka-source", src.Close)

	quarantine, err := kafka.NewQuarantinePublisher(
		cfg.Kafka.BootstrapServers,
		sourceConfig,
		kafka.QuarantineConfig{
			Enabled: cfg.Kafka.Quarantine.Enabled,
			Topic:   cfg.Kafka.Quarantine.Topic,
		},
		logger,
		cfg.Application.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to create quarantine publisher: %w", err)
	}
	addCleanup("quarantine-publisher", quarantine.Close)

	// Sink assembly
	retry := sink.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffMS) * time.Millisecond,
		Multiplier:     cfg.Retry.BackoffMultiplier,
		Jitter:         cfg.Retry.Jitter,
	}
	committer := sink.NewCommitter(store, cfg.Storage.Backend, retry, logger, metrics)
	emitter := sink.NewEmitter(planner, enc, namer, committer, quarantine,
		cfg.Processing.ShardConcurrency, logger, metrics)

	pipeline := sink.NewPipeline(src, validator.NewRecordValidator(), tracker, emitter,
		cfg.Processing.EmitWorkers, logger)

	// HTTP server for health and metrics
	healthChecker := server.NewSinkHealth(tracker, 5*cfg.Window.Duration)
	httpServer := server.NewServer(
		cfg.Observability.Health.Port,
		cfg.Observability.Metrics.Port,
		healthChecker,
		registry,
		logger,
	)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	healthChecker.SetStarted()

	// Run pipeline in background
	pipelineErrChan := make(chan error, 1)
	go func() {
		healthChecker.SetReady(true)
		pipelineErrChan <- pipeline.Run(ctx, cfg.Kafka.Consumer.Topics)
	}()

	logger.Info("application started successfully")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("received termination signal")
	case err := <-pipelineErrChan:
		if err != nil {
			logger.Error("pipeline error", "error", err)
			return err
		}
		logger.Info("pipeline stopped")
		return nil
	}

	// Graceful shutdown: cancel ingestion, then wait for in-flight window
	// emissions to drain within the grace period.
	logger.Info("initiating graceful shutdown")
	healthChecker.SetReady(false)
	cancel()

	gracePeriod := time.Duration(cfg.Shutdown.GracePeriodSeconds) * time.Second
	select {
	case err := <-pipelineErrChan:
		if err != nil {
			logger.Error("pipeline error during shutdown", "error", err)
			return err
		}
	case <-time.After(gracePeriod):
		logger.Warn("grace period expired before pipeline drained",
			"grace_period", gracePeriod)
	}

	logger.Info("application stopped successfully")
	return nil
}

// newBlobStore creates the blob store for the configured backend.
func newBlobStore(ctx context.Context, cfg *dto.ApplicationConfig, logger *slog.Logger, metrics *observability.Metrics) (pkgblob.Store, error) {
	switch cfg.Storage.Backend {
	case "file":
		return blob.NewFileStore(blob.FileConfig{
			BasePath: cfg.Storage.File.BasePath,
		}, logger, metrics)

	case "s3":
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:       cfg.Storage.S3.Bucket,
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
			SSEEnabled:   cfg.Storage.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.Storage.S3.SSEKMSKeyID,
		}, logger, metrics)

	case "azure":
		accountKey := cfg.Storage.Azure.AccountKey
		if accountKey == "" {
			accountKey = os.Getenv("AZURE_STORAGE_ACCOUNT_KEY")
		}
		return blob.NewAzureStore(blob.AzureConfig{
			AccountName:   cfg.Storage.Azure.AccountName,
			AccountKey:    accountKey,
			ContainerName: cfg.Storage.Azure.Container,
			Endpoint:      cfg.Storage.Azure.Endpoint,
		}, logger, metrics)

	case "gcs":
		credentialsJSON := cfg.Storage.GCS.CredentialsJSON
		if credentialsJSON == "" {
			credentialsJSON = os.Getenv("GCP_CREDENTIALS_JSON")
		}
		return blob.NewGCSStore(ctx, blob.GCSConfig{
			Bucket:               cfg.Storage.GCS.Bucket,
			ProjectID:            cfg.Storage.GCS.ProjectID,
			Endpoint:             cfg.Storage.GCS.Endpoint,
			CredentialsFile:      cfg.Storage.GCS.CredentialsFile,
			CredentialsJSON:      credentialsJSON,
			UseDefaultCredential: cfg.Storage.GCS.UseDefaultCredential,
		}, logger, metrics)

	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, azure, gcs)", cfg.Storage.Backend)
	}
}

// resolveAvroSchema loads the Avro schema from config, preferring the inline
// schema over a schema file. The avro format falls back to the built-in
// record schema when neither is configured.
func resolveAvroSchema(cfg *dto.ApplicationConfig) (string, error) {
	if cfg.Avro.Schema != "" {
		return cfg.Avro.Schema, nil
	}
	if cfg.Avro.SchemaFile != "" {
		data, err := os.ReadFile(cfg.Avro.SchemaFile)
		if err != nil {
			return "", fmt.Errorf("failed to read avro schema file: %w", err)
		}
		return string(data), nil
	}
	if cfg.Output.Format == "avro" {
		return encoder.DefaultAvroSchema, nil
	}
	return "", nil
}
