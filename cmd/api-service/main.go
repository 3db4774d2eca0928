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

	"github.com/cuongbtq/mortgage-recon/internal/api/handler"
	"github.com/cuongbtq/mortgage-recon/internal/api/router"
	"github.com/cuongbtq/mortgage-recon/internal/config"
	"github.com/cuongbtq/mortgage-recon/internal/events"
	"github.com/cuongbtq/mortgage-recon/internal/ocr"
	"github.com/cuongbtq/mortgage-recon/internal/orchestrator"
	"github.com/cuongbtq/mortgage-recon/internal/storage/postgres"
	"github.com/cuongbtq/mortgage-recon/shared/blob"
	"github.com/cuongbtq/mortgage-recon/shared/logger"
	"github.com/cuongbtq/mortgage-recon/shared/obs"
	"github.com/cuongbtq/mortgage-recon/shared/postgresql"
	"github.com/cuongbtq/mortgage-recon/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const serviceName = "recon-api-service"

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

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := dbClient.Migrate(context.Background()); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	blobs, err := initBlobStore(&cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	// Classification runs on upload, so a missing OCR endpoint only disables it.
	var ocrClient orchestrator.OCR
	if cfg.OCR.BaseURL != "" {
		c, err := ocr.NewClient(ocr.Config{
			BaseURL:   cfg.OCR.BaseURL,
			Timeout:   cfg.OCR.Timeout,
			RateLimit: cfg.OCR.RateLimit,
			Burst:     cfg.OCR.Burst,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OCR client: %w", err)
		}
		ocrClient = c
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
	})
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:      appLogger.Logger,
		Service:     orch,
		Jobs:        orch,
		ServiceName: serviceName,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      obs.WrapHTTP(serviceName, r),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	appLogger.Info("API service is running", slog.String("address", addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down", slog.String("signal", sig.String()))
	case err := <-errChan:
		appLogger.Error("Server failed", slog.String("error", err.Error()))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	defer func() {
		if rabbitClient != nil {
			rabbitClient.Close()
		}
		dbClient.Close()
		if err := shutdownTracing(ctx); err != nil {
			appLogger.Warn("Failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      serviceName,
	})
}

func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
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
	}, logger)
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

// rabbitConfig maps the broker settings for publishing. The worker owns the wake-up queue.
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
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	return router.SetupRouter(deps)
}
