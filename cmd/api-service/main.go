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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/lecture-queue/internal/api/handler"
	"github.com/cuongbtq/lecture-queue/internal/api/router"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Bool("embedded_worker", cfg.Worker.Embedded),
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

	// The broker is only needed to wake an out-of-process worker
	var (
		rabbitClient *rabbitmq.Client
		notifier     queue.Notifier
	)
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		notifier = rabbitClient
		appLogger.Info("RabbitMQ connection established")
	}

	coord := queue.NewCoordinator()
	queueService := queue.NewService(store, coord, queue.Options{
		UploadDir:    cfg.Worker.UploadDir,
		ExposeErrors: cfg.Worker.ExposeErrors(),
		Notifier:     notifier,
	}, appLogger.Component("queue"))

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	workerDone := make(chan error, 1)
	if cfg.Worker.Embedded {
		w := newWorker(cfg, dbClient, store, coord, appLogger)
		appLogger.Info("Embedded worker starting",
			slog.String("transcriber_model", cfg.Transcriber.Model),
			slog.String("db_stats", dbClient.Stats()),
		)
		go func() {
			workerDone <- w.Run(workerCtx)
		}()
	}

	r := initRouter(cfg, appLogger.Logger, queueService, dbClient, rabbitClient)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	case err := <-workerDone:
		if err != nil {
			appLogger.Error("Embedded worker stopped", slog.Any("error", err))
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	if cfg.Worker.Embedded {
		stopWorker()
		waitForWorker(workerDone, cfg.Worker.ShutdownTimeout, appLogger.Logger)
	}

	appLogger.Info("Server shutdown complete")
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

// initRabbitMQ initializes the RabbitMQ client used for wake notifications
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

// newWorker assembles the in-process worker loop
func newWorker(cfg *config.Config, dbClient *database.Client, store *storage.Storage, coord *queue.Coordinator, appLogger *logger.Logger) *worker.Worker {
	return worker.NewWorker(&worker.Config{
		Logger:      appLogger.Component("worker"),
		Store:       store,
		Coordinator: coord,
		Transcriber: whisper.NewEngine(whisper.Config{
			Command:  cfg.Transcriber.Command,
			Model:    cfg.Transcriber.Model,
			Device:   cfg.Transcriber.Device,
			Language: cfg.Transcriber.Language,
			WorkDir:  cfg.Transcriber.WorkDir,
			Args:     cfg.Transcriber.Args,
		}, appLogger.Component("whisper")),
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
}

// waitForWorker gives a running job time to finish before the process exits
func waitForWorker(done <-chan error, timeout time.Duration, logger *slog.Logger) {
	select {
	case err := <-done:
		if err != nil {
			logger.Error("Worker stopped with error", slog.Any("error", err))
			return
		}
		logger.Info("Worker stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("Worker shutdown timeout exceeded, job will be recovered on next start")
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, queueService *queue.Service, dbClient *database.Client, rabbitClient *rabbitmq.Client) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps := &handler.Dependencies{
		Logger:         logger,
		Queue:          queueService,
		Database:       dbClient,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		ServiceName:    cfg.App.Name,
	}
	if rabbitClient != nil {
		deps.Broker = rabbitClient
	}

	return router.SetupRouter(deps)
}
