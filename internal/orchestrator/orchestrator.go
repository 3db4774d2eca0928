// Package orchestrator wires the reconciliation stages to the scheduler and answers
// application-level questions about their progress.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/mortgage-recon/internal/clock"
	"github.com/cuongbtq/mortgage-recon/internal/config"
	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/events"
	"github.com/cuongbtq/mortgage-recon/internal/extraction"
	"github.com/cuongbtq/mortgage-recon/internal/golden"
	"github.com/cuongbtq/mortgage-recon/internal/ingestion"
	"github.com/cuongbtq/mortgage-recon/internal/scheduler"
	"github.com/cuongbtq/mortgage-recon/internal/validation"
	"github.com/cuongbtq/mortgage-recon/shared/blob"
)

// Store is everything the stages and status queries persist to.
type Store interface {
	scheduler.JobStore
	extraction.Store
	ingestion.Store
	validation.Store
	golden.Store

	CreateApplication(ctx context.Context, app *domain.Application) error
	CountApplicationsByStatus(ctx context.Context) (map[string]int, error)
	ListDocuments(ctx context.Context, applicationID string) ([]domain.Document, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	LatestValidationSummary(ctx context.Context, applicationID string) (*domain.ValidationSummary, error)
	LatestGoldenRecords(ctx context.Context, applicationID string) ([]domain.GoldenRecord, error)
	Ping(ctx context.Context) error
}

// OCR analyzes and classifies documents.
type OCR interface {
	extraction.Analyzer
	ingestion.Classifier
}

// Dependencies is built once at process start.
type Dependencies struct {
	Logger    *slog.Logger
	Config    *config.Config
	Store     Store
	OCR       OCR
	Blobs     blob.Store
	Publisher events.Publisher
	Locker    scheduler.Locker
	Clock     clock.Clock
}

// Orchestrator owns the queue, the scheduler and every stage handler.
type Orchestrator struct {
	cfg       *config.Config
	store     Store
	queue     *scheduler.Queue
	scheduler *scheduler.Scheduler
	ingestion *ingestion.Service
	extractor *extraction.Handler
	validator *validation.Engine
	resolver  *golden.Resolver
	clock     clock.Clock
	logger    *slog.Logger
}

// New builds the stage handlers and registers them with a scheduler.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config == nil {
		deps.Config = config.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Noop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	cfg := deps.Config

	queue := scheduler.NewQueue(deps.Store, deps.Publisher, deps.Clock, cfg.Scheduler.MaxRetries, deps.Logger)

	sched := scheduler.New(&scheduler.Config{
		Logger:       deps.Logger,
		Store:        deps.Store,
		Clock:        deps.Clock,
		Locker:       deps.Locker,
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
		Concurrency:  cfg.Scheduler.Concurrency,
		AutoRetry:    cfg.Scheduler.AutoRetry,
		JobTimeout:   cfg.Scheduler.JobTimeout,
		StaleSweep:   cfg.Scheduler.StaleSweep,
		LeaseTTL:     cfg.Redis.LeaseTTL,
		FetchRetry: scheduler.RetryConfig{
			MaxAttempts:       cfg.Scheduler.FetchRetry.MaxAttempts,
			InitialBackoff:    cfg.Scheduler.FetchRetry.InitialDelay,
			MaxBackoff:        cfg.Scheduler.FetchRetry.MaxDelay,
			BackoffMultiplier: cfg.Scheduler.FetchRetry.Multiplier,
			JitterFraction:    cfg.Scheduler.FetchRetry.Jitter,
		},
	})

	// A nil OCR must stay a nil interface inside each stage.
	var analyzer extraction.Analyzer
	var classifier ingestion.Classifier
	if deps.OCR != nil {
		analyzer = deps.OCR
		classifier = deps.OCR
	}

	o := &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		queue:     queue,
		scheduler: sched,
		ingestion: ingestion.NewService(deps.Store, deps.Blobs, classifier, queue, ingestion.Options{
			MaxFileSizeMB:     cfg.Ingestion.MaxFileSizeMB,
			AllowedExtensions: cfg.Ingestion.AllowedExtensions,
			Concurrency:       cfg.Ingestion.UploadConcurrency,
			Documents:         cfg.Documents,
		}, deps.Clock, deps.Logger),
		extractor: extraction.NewHandler(deps.Store, deps.Blobs, analyzer, cfg, queue, deps.Publisher, deps.Clock, deps.Logger),
		validator: validation.NewEngine(deps.Store, queue, deps.Publisher, cfg.Catalog(), validation.Options{
			FormattingThreshold: cfg.Validation.FormattingThreshold,
			BlockOnCritical:     cfg.Validation.BlockOnCritical,
			MaxRetries:          cfg.Scheduler.MaxRetries,
		}, deps.Clock, deps.Logger),
		resolver: golden.NewResolver(deps.Store, deps.Publisher, cfg.Catalog(), deps.Clock, deps.Logger),
		clock:    deps.Clock,
		logger:   deps.Logger.With("component", "orchestrator"),
	}

	sched.Register(domain.StageExtraction, o.extractor)
	sched.Register(domain.StageValidation, o.validator)
	sched.Register(domain.StageFormatting, o.resolver)

	return o, nil
}

// Scheduler exposes the job scheduler, e.g. to attach a wake-up consumer.
func (o *Orchestrator) Scheduler() *scheduler.Scheduler {
	return o.scheduler
}

// Run starts the job processor and blocks until ctx is canceled or Stop is called.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("Starting job processor")
	return o.scheduler.Start(ctx)
}

// Stop stops polling and waits for running stages.
func (o *Orchestrator) Stop() {
	o.scheduler.Stop()
}

// Ping checks the backing store.
func (o *Orchestrator) Ping(ctx context.Context) error {
	return o.store.Ping(ctx)
}

// GetJob returns one job by id.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// ListJobs returns one page of jobs, newest first. The page may hold one extra row to signal more.
func (o *Orchestrator) ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	return o.store.ListJobs(ctx, filter)
}
