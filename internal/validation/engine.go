// Package validation cross-checks applicant form values against extracted document values.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/mortgage-recon/internal/clock"
	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/events"
	"github.com/cuongbtq/mortgage-recon/shared/obs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const agentName = "data_validation"

// Store is the persistence the engine needs.
type Store interface {
	GetApplication(ctx context.Context, applicationID string) (*domain.Application, error)
	ListExtractedFields(ctx context.Context, applicationID string) ([]domain.ExtractedField, error)
	SaveValidationRun(ctx context.Context, summary *domain.ValidationSummary, results []domain.ValidationResult) error
	MarkFormattingEnqueued(ctx context.Context, runID string) error
	UpdateApplicationStatus(ctx context.Context, applicationID, status string, completion *float64) error
	LogProcessing(ctx context.Context, entry domain.ProcessingLog) error
}

// Enqueuer schedules follow-up stage jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job domain.NewJob) (*domain.Job, error)
}

// Options tune when formatting is scheduled after a run.
type Options struct {
	FormattingThreshold float64
	BlockOnCritical     bool
	MaxRetries          int
}

// Engine runs validation for one application at a time.
type Engine struct {
	store     Store
	queue     Enqueuer
	publisher events.Publisher
	catalog   domain.Catalog
	opts      Options
	clock     clock.Clock
	logger    *slog.Logger
}

// NewEngine creates a validation engine
func NewEngine(store Store, queue Enqueuer, publisher events.Publisher, catalog domain.Catalog, opts Options, clk clock.Clock, logger *slog.Logger) *Engine {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.FormattingThreshold <= 0 {
		opts.FormattingThreshold = CompletionThreshold
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = domain.DefaultMaxRetries
	}
	return &Engine{
		store:     store,
		queue:     queue,
		publisher: publisher,
		catalog:   catalog,
		opts:      opts,
		clock:     clk,
		logger:    logger.With("component", "validation"),
	}
}

// Handle runs validation for the job's application.
func (e *Engine) Handle(ctx context.Context, job *domain.Job) error {
	_, err := e.Run(ctx, job.ApplicationID)
	return err
}

// Run validates every form field of the application and persists the run.
func (e *Engine) Run(ctx context.Context, applicationID string) (*domain.ValidationSummary, error) {
	ctx, span := obs.StartSpan(ctx, "validation.Run")
	defer span.End()
	span.SetAttributes(attribute.String("application_id", applicationID))

	start := e.clock.Now()
	e.logStep(ctx, applicationID, "started", "Starting data validation process", nil)

	summary, err := e.run(ctx, applicationID)
	elapsed := e.clock.Now().Sub(start).Milliseconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("Data validation failed",
			slog.String("application_id", applicationID),
			slog.String("error", err.Error()),
		)
		e.logStep(ctx, applicationID, "failed", fmt.Sprintf("Data validation failed: %s", err.Error()), &elapsed)
		return nil, err
	}

	e.logStep(ctx, applicationID, "completed",
		fmt.Sprintf("Validation completed: %d validated, %d mismatches, %d missing",
			summary.ValidatedFields, summary.MismatchFields, summary.MissingFields),
		&elapsed)
	return summary, nil
}

func (e *Engine) run(ctx context.Context, applicationID string) (*domain.ValidationSummary, error) {
	// Step 1: Load form data
	app, err := e.store.GetApplication(ctx, applicationID)
	if err != nil {
		if errors.Is(err, domain.ErrApplicationNotFound) {
			return nil, fmt.Errorf("%w for %s", domain.ErrFormDataMissing, applicationID)
		}
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	if len(app.FormData) == 0 {
		return nil, fmt.Errorf("%w for %s", domain.ErrFormDataMissing, applicationID)
	}

	// Step 2: Load extracted candidates
	extracted, err := e.store.ListExtractedFields(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load extracted fields: %w", err)
	}
	if len(extracted) == 0 {
		return nil, fmt.Errorf("%w for %s", domain.ErrExtractedDataMissing, applicationID)
	}

	// Step 3: Evaluate in form order
	results, summary := Evaluate(applicationID, app.OrderedForm(), extracted, e.catalog)

	runID := uuid.NewString()
	now := e.clock.Now()
	for i := range results {
		results[i].ID = uuid.NewString()
		results[i].RunID = runID
		results[i].ValidatedAt = now
		obs.RecordValidationField(string(results[i].ValidationStatus), string(results[i].MismatchSeverity))
	}
	summary.RunID = runID
	summary.CreatedAt = now

	// Step 4: Persist results and summary before formatting can read them
	if err := e.store.SaveValidationRun(ctx, &summary, results); err != nil {
		return nil, fmt.Errorf("failed to save validation run: %w", err)
	}

	// Step 5: Hand off to formatting or park for review
	status := domain.AppStatusNeedsReview
	if e.shouldFormat(summary) {
		if _, err := e.queue.Enqueue(ctx, domain.NewJob{
			ApplicationID: applicationID,
			Stage:         domain.StageFormatting,
			Priority:      domain.PriorityFormatting,
			MaxRetries:    e.opts.MaxRetries,
		}); err != nil {
			return nil, fmt.Errorf("failed to enqueue formatting: %w", err)
		}
		if err := e.store.MarkFormattingEnqueued(ctx, runID); err != nil {
			return nil, fmt.Errorf("failed to mark formatting enqueued: %w", err)
		}
		summary.FormattingEnqueued = true
		status = domain.AppStatusFormatting
	}

	completion := summary.CompletionPercentage
	if err := e.store.UpdateApplicationStatus(ctx, applicationID, status, &completion); err != nil {
		return nil, fmt.Errorf("failed to update application status: %w", err)
	}

	e.logger.Info("Validation run completed",
		slog.String("application_id", applicationID),
		slog.String("run_id", runID),
		slog.Int("validated", summary.ValidatedFields),
		slog.Int("mismatch", summary.MismatchFields),
		slog.Int("missing", summary.MissingFields),
		slog.Float64("completion", summary.CompletionPercentage),
		slog.Bool("formatting_enqueued", summary.FormattingEnqueued),
	)

	if err := e.publisher.Publish(ctx, events.Event{
		Type:          events.ValidationCompleted,
		ApplicationID: applicationID,
		Data: map[string]any{
			"run_id":              runID,
			"completion":          summary.CompletionPercentage,
			"overall_status":      summary.OverallStatus,
			"critical_mismatches": summary.CriticalMismatches,
		},
		OccurredAt: now,
	}); err != nil {
		e.logger.Warn("Failed to publish validation event",
			slog.String("application_id", applicationID),
			slog.String("error", err.Error()),
		)
	}

	return &summary, nil
}

func (e *Engine) shouldFormat(s domain.ValidationSummary) bool {
	if s.CompletionPercentage < e.opts.FormattingThreshold {
		return false
	}
	if e.opts.BlockOnCritical && s.CriticalMismatches > 0 {
		return false
	}
	return true
}

func (e *Engine) logStep(ctx context.Context, applicationID, status, message string, durationMs *int64) {
	if err := e.store.LogProcessing(ctx, domain.ProcessingLog{
		ApplicationID: applicationID,
		Agent:         agentName,
		Step:          agentName,
		Status:        status,
		Message:       message,
		DurationMs:    durationMs,
	}); err != nil {
		e.logger.Warn("Failed to write processing log",
			slog.String("application_id", applicationID),
			slog.String("error", err.Error()),
		)
	}
}
