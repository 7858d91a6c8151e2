package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/lecture-queue/internal/config"
	"github.com/cuongbtq/lecture-queue/internal/engine/ollama"
	"github.com/cuongbtq/lecture-queue/internal/engine/whisper"
	"github.com/cuongbtq/lecture-queue/internal/metrics"
	"github.com/cuongbtq/lecture-queue/internal/queue"
	"github.com/cuongbtq/lecture-queue/internal/queue/storage"
	"github.com/cuongbtq/lecture-queue/internal/session"
	"github.com/cuongbtq/lecture-queue/internal/worker"
	"github.com/cuongbtq/lecture-queue/shared/database"
	"github.com/cuongbtq/lecture-queue/shared/logger"
	"github.com/cuongbtq/lecture-queue/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initDatabase(&cfg.Database, appLogger.Component("database"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Component("storage"))
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.Migrate(migrateCtx, cfg.Worker.DefaultCategory)
	migrateCancel()
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	metrics.MustRegister()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := queue.NewCoordinator()

	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		consumer := worker.NewWakeConsumer(rabbitClient, coord, cfg.RabbitMQ.Consumer.Tag, appLogger.Component("consumer"))
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	} else {
		appLogger.Info("RabbitMQ disabled, worker relies on polling",
			slog.Duration("poll_interval", cfg.Worker.PollInterval),
		)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg.Metrics.Port, appLogger.Logger)
	}

	transcriber := whisper.NewEngine(whisper.Config{
		Command:  cfg.Transcriber.Command,
		Model:    cfg.Transcriber.Model,
		Device:   cfg.Transcriber.Device,
		Language: cfg.Transcriber.Language,
		WorkDir:  cfg.Transcriber.WorkDir,
		Args:     cfg.Transcriber.Args,
	}, appLogger.Component("whisper"))

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:      appLogger.Component("worker"),
		Store:       store,
		Coordinator: coord,
		Transcriber: transcriber,
		Notes: ollama.NewClient(ollama.Config{
			Endpoint:    cfg.Notes.Endpoint,
			Model:       cfg.Notes.Model,
			Temperature: cfg.Notes.Temperature,
			TopP:        cfg.Notes.TopP,
			Timeout:     cfg.Notes.Timeout,
		}, appLogger.Component("ollama")),
		Artifacts:          session.NewArtifacts(cfg.Worker.DataDir, appLogger.Component("artifacts")),
		Catalog:            session.NewCatalog(dbClient.GetDB(), appLogger.Component("catalog")),
		DefaultCategory:    cfg.Worker.DefaultCategory,
		StalePolicy:        cfg.Worker.StalePolicy,
		CompletedRetention: cfg.Worker.CompletedRetention,
		ErrorRetryInterval: cfg.Worker.ErrorRetryInterval,
		PollInterval:       cfg.Worker.PollInterval,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("transcriber_model", transcriber.Model()),
		slog.String("db_stats", dbClient.Stats()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
			slog.String("state", string(workerInstance.State())),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error", slog.Any("error", err))
		}
		return err
	}

	// Cancel context to stop worker; a running job is finished first
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker stopped with error", slog.Any("error", err))
		} else {
			appLogger.Info("Worker stopped gracefully")
		}
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Metrics server shutdown failed", slog.Any("error", err))
		}
	}

	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initDatabase opens the queue database
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	return database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client that delivers wake messages
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// startMetricsServer exposes Prometheus metrics on their own port
func startMetricsServer(port int, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	logger.Info("Metrics server listening", slog.String("address", srv.Addr))
	return srv
}
