// Package golden resolves validated fields into the final authoritative record.
package golden

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/mortgage-recon/internal/clock"
	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/events"
	"github.com/cuongbtq/mortgage-recon/internal/normalize"
	"github.com/cuongbtq/mortgage-recon/shared/obs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	agentName = "formatting"
	stepName  = "data_formatting"
)

// Store is the persistence the resolver needs.
type Store interface {
	GetApplication(ctx context.Context, applicationID string) (*domain.Application, error)
	LatestValidationResults(ctx context.Context, applicationID string) ([]domain.ValidationResult, error)
	SaveGoldenRecords(ctx context.Context, records []domain.GoldenRecord) error
	UpdateApplicationStatus(ctx context.Context, applicationID, status string, completion *float64) error
	LogProcessing(ctx context.Context, entry domain.ProcessingLog) error
}

// Report is the outcome of one resolver run.
type Report struct {
	ApplicationID   string                `json:"application_id"`
	ProcessedFields int                   `json:"processed_fields"`
	SkippedFields   int                   `json:"skipped_fields"`
	Records         []domain.GoldenRecord `json:"golden_records"`
	Quality         Quality               `json:"quality_metrics"`
	ProcessingMs    int64                 `json:"processing_time_ms"`
}

// Resolver builds golden records from the latest validation run.
type Resolver struct {
	store     Store
	publisher events.Publisher
	catalog   domain.Catalog
	clock     clock.Clock
	logger    *slog.Logger
}

// NewResolver creates a golden record resolver. Fields with a catalog rule are formatted
// by its validation type; other fields by their detected type.
func NewResolver(store Store, publisher events.Publisher, catalog domain.Catalog, clk clock.Clock, logger *slog.Logger) *Resolver {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Resolver{
		store:     store,
		publisher: publisher,
		catalog:   catalog,
		clock:     clk,
		logger:    logger.With("component", "golden"),
	}
}

// Handle runs the resolver for the job's application.
func (r *Resolver) Handle(ctx context.Context, job *domain.Job) error {
	_, err := r.Run(ctx, job.ApplicationID)
	return err
}

// Run resolves every form field that has a validation result.
func (r *Resolver) Run(ctx context.Context, applicationID string) (*Report, error) {
	ctx, span := obs.StartSpan(ctx, "golden.Run")
	defer span.End()
	span.SetAttributes(attribute.String("application_id", applicationID))

	start := r.clock.Now()
	r.logStep(ctx, applicationID, "started", "Starting data formatting process", nil)

	report, err := r.run(ctx, applicationID)
	elapsed := r.clock.Now().Sub(start).Milliseconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("Data formatting failed",
			slog.String("application_id", applicationID),
			slog.String("error", err.Error()),
		)
		r.logStep(ctx, applicationID, "failed", fmt.Sprintf("Data formatting failed: %s", err.Error()), &elapsed)
		return nil, err
	}

	report.ProcessingMs = elapsed
	r.logStep(ctx, applicationID, "completed",
		fmt.Sprintf("Data formatting completed: %d fields processed, %d skipped", report.ProcessedFields, report.SkippedFields),
		&elapsed)
	return report, nil
}

func (r *Resolver) run(ctx context.Context, applicationID string) (*Report, error) {
	// Step 1: Get validation results
	results, err := r.store.LatestValidationResults(ctx, applicationID)
	if err != nil && !errors.Is(err, domain.ErrValidationMissing) {
		return nil, fmt.Errorf("failed to load validation results: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w for %s", domain.ErrValidationMissing, applicationID)
	}

	// Step 2: Get application form data
	app, err := r.store.GetApplication(ctx, applicationID)
	if err != nil {
		if errors.Is(err, domain.ErrApplicationNotFound) {
			return nil, fmt.Errorf("%w for %s", domain.ErrFormDataMissing, applicationID)
		}
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	if len(app.FormData) == 0 {
		return nil, fmt.Errorf("%w for %s", domain.ErrFormDataMissing, applicationID)
	}

	byField := make(map[string]domain.ValidationResult, len(results))
	for _, res := range results {
		byField[res.FieldName] = res
	}

	// Step 3: Build a golden record per validated form field
	now := r.clock.Now()
	report := &Report{ApplicationID: applicationID}
	for _, f := range app.OrderedForm() {
		res, ok := byField[f.Name]
		if !ok {
			report.SkippedFields++
			continue
		}
		var ft domain.FieldType
		if rule, ok := r.catalog.Lookup(f.Name); ok {
			ft = rule.Type()
		}
		rec, ok := Resolve(applicationID, f.Name, f.Value, ft, res)
		if !ok {
			report.SkippedFields++
			continue
		}
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
		report.Records = append(report.Records, rec)
		obs.RecordGoldenRecord(string(rec.DataSource))
	}
	report.ProcessedFields = len(report.Records)

	// Step 4: Store golden records
	if err := r.store.SaveGoldenRecords(ctx, report.Records); err != nil {
		return nil, fmt.Errorf("failed to save golden records: %w", err)
	}

	// Step 5: Quality metrics
	report.Quality = Measure(report.Records)

	// Step 6: Mark the application complete
	completion := 100.0
	if err := r.store.UpdateApplicationStatus(ctx, applicationID, domain.AppStatusCompleted, &completion); err != nil {
		return nil, fmt.Errorf("failed to update application status: %w", err)
	}

	r.logger.Info("Golden record resolved",
		slog.String("application_id", applicationID),
		slog.Int("processed", report.ProcessedFields),
		slog.Int("skipped", report.SkippedFields),
		slog.Float64("quality", report.Quality.OverallQualityScore),
		slog.Bool("ready", report.Quality.ReadyForDecisionEngine),
	)

	if err := r.publisher.Publish(ctx, events.Event{
		Type:          events.GoldenCompleted,
		ApplicationID: applicationID,
		Data: map[string]any{
			"processed_fields":          report.ProcessedFields,
			"overall_quality_score":     report.Quality.OverallQualityScore,
			"ready_for_decision_engine": report.Quality.ReadyForDecisionEngine,
		},
		OccurredAt: now,
	}); err != nil {
		r.logger.Warn("Failed to publish golden event",
			slog.String("application_id", applicationID),
			slog.String("error", err.Error()),
		)
	}

	return report, nil
}

// Resolve builds the golden record for one field. An empty ft is detected from the field
// name. It reports false when no value can be chosen.
func Resolve(applicationID, fieldName, appValue string, ft domain.FieldType, res domain.ValidationResult) (domain.GoldenRecord, bool) {
	choice := ChooseValue(res.ValidationStatus, res.MismatchSeverity, appValue, res.DocumentValueOrEmpty(), res.ConfidenceScore)
	if choice.Value == "" {
		return domain.GoldenRecord{}, false
	}

	formatted := FormatValue(fieldName, choice.Value, ft)
	if ft == "" {
		ft = normalize.DetectFieldType(fieldName, formatted)
	}
	return domain.GoldenRecord{
		ApplicationID:     applicationID,
		FieldName:         fieldName,
		FieldValue:        formatted,
		FieldType:         ft,
		DataSource:        choice.Source,
		SourceDocumentID:  res.DocumentID,
		ValidationStatus:  res.ValidationStatus,
		ConfidenceScore:   choice.Confidence,
		IsVerified:        res.ValidationStatus == domain.StatusValidated,
		VerificationNotes: VerificationNotes(res),
	}, true
}

// VerificationNotes explains a golden value in terms of its validation outcome.
func VerificationNotes(res domain.ValidationResult) string {
	switch res.ValidationStatus {
	case domain.StatusValidated:
		return "Data validated successfully - application and document values match"
	case domain.StatusMismatch:
		severity := ""
		if res.MismatchSeverity != "" {
			severity = fmt.Sprintf(" (%s severity)", res.MismatchSeverity)
		}
		return fmt.Sprintf("Data mismatch detected%s. %s", severity, res.ValidationNotes)
	case domain.StatusMissing:
		return fmt.Sprintf("No document data available for validation. %s", res.ValidationNotes)
	default:
		return fmt.Sprintf("Validation status: %s. %s", res.ValidationStatus, res.ValidationNotes)
	}
}

func (r *Resolver) logStep(ctx context.Context, applicationID, status, message string, durationMs *int64) {
	if err := r.store.LogProcessing(ctx, domain.ProcessingLog{
		ApplicationID: applicationID,
		Agent:         agentName,
		Step:          stepName,
		Status:        status,
		Message:       message,
		DurationMs:    durationMs,
	}); err != nil {
		r.logger.Warn("Failed to write processing log",
			slog.String("application_id", applicationID),
			slog.String("error", err.Error()),
		)
	}
}
