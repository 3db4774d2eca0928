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

	"github.com/cuongbtq/mortgage-recon/internal/config"
	"github.com/cuongbtq/mortgage-recon/internal/events"
	"github.com/cuongbtq/mortgage-recon/internal/ocr"
	"github.com/cuongbtq/mortgage-recon/internal/orchestrator"
	"github.com/cuongbtq/mortgage-recon/internal/scheduler"
	"github.com/cuongbtq/mortgage-recon/internal/storage/postgres"
	"github.com/cuongbtq/mortgage-recon/shared/blob"
	"github.com/cuongbtq/mortgage-recon/shared/logger"
	"github.com/cuongbtq/mortgage-recon/shared/obs"
	"github.com/cuongbtq/mortgage-recon/shared/postgresql"
	"github.com/cuongbtq/mortgage-recon/shared/rabbitmq"
	"github.com/cuongbtq/mortgage-recon/shared/redislock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const serviceName = "recon-worker-service"

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

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      serviceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)
	obs.SetAppInfo(serviceName, cfg.App.Version)

	shutdownTracing, err := obs.InitTracing(context.Background(), obs.TracingConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: serviceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	blobs, err := initBlobStore(&cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	ocrClient, err := ocr.NewClient(ocr.Config{
		BaseURL:   cfg.OCR.BaseURL,
		Timeout:   cfg.OCR.Timeout,
		RateLimit: cfg.OCR.RateLimit,
		Burst:     cfg.OCR.Burst,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OCR client: %w", err)
	}

	var (
		locker    scheduler.Locker
		lockStore *redislock.Client
	)
	if cfg.Redis.Enabled {
		lockStore = redislock.New(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), cfg.Redis.KeyPrefix)
		if err := lockStore.Ping(context.Background()); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = lockStore
		appLogger.Info("Redis job leases enabled", slog.String("addr", cfg.Redis.Addr))
	}

	var (
		rabbitClient *rabbitmq.Client
		publisher    events.Publisher = events.Noop{}
	)
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = rabbitmq.NewClient(rabbitConfig(&cfg.RabbitMQ), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		publisher = events.NewBrokerPublisher(rabbitClient, appLogger.Logger)
	}

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Logger:    appLogger.Logger,
		Config:    cfg,
		Store:     postgres.NewStore(dbClient, appLogger.Logger),
		OCR:       ocrClient,
		Blobs:     blobs,
		Publisher: publisher,
		Locker:    locker,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if rabbitClient != nil {
		deliveries, err := rabbitClient.Consume(serviceName)
		if err != nil {
			return fmt.Errorf("failed to consume wake-ups: %w", err)
		}
		go orch.Scheduler().ListenWakeups(ctx, deliveries)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := orch.Run(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error", slog.String("error", err.Error()))
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		orch.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if rabbitClient != nil {
		rabbitClient.Close()
	}
	if lockStore != nil {
		lockStore.Close()
	}
	dbClient.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		appLogger.Warn("Failed to flush traces", slog.String("error", err.Error()))
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

func initBlobStore(cfg *config.BlobConfig) (blob.Store, error) {
	if cfg.Backend == "oss" {
		return blob.NewOSSStore(blob.OSSConfig{
			Endpoint:        cfg.OSS.Endpoint,
			AccessKeyID:     cfg.OSS.AccessKeyID,
			AccessKeySecret: cfg.OSS.AccessKeySecret,
			Bucket:          cfg.OSS.Bucket,
		})
	}
	return blob.NewLocalStore(cfg.LocalDir)
}

func rabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
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
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		BindingKeys:        []string{cfg.RoutingKey},
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}
}
