package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/golden"
)

// Stage names reported as the current stage.
const (
	StageIngestion  = "ingestion"
	StageExtraction = "extraction"
	StageValidation = "validation"
	StageCompleted  = "completed"
)

// Overall progress weights and the decision readiness bar.
const (
	ingestionWeight  = 0.25
	extractionWeight = 0.35
	validationWeight = 0.40
	readyThreshold   = 80.0
)

// StageProgress holds per-stage completion percentages.
type StageProgress struct {
	Ingestion  float64 `json:"ingestion"`
	Extraction float64 `json:"extraction"`
	Validation float64 `json:"validation"`
}

// Progress is the weighted view over all stages.
type Progress struct {
	CompletionPercentage float64       `json:"completion_percentage"`
	CurrentStage         string        `json:"current_stage"`
	Stages               StageProgress `json:"stage_progress"`
}

// DocumentCounts counts documents by processing status.
type DocumentCounts struct {
	Total      int `json:"total_documents"`
	Pending    int `json:"pending_documents"`
	Processing int `json:"processing_documents"`
	Completed  int `json:"completed_documents"`
	Failed     int `json:"failed_documents"`
}

// ProcessingStatus is the full progress report of an application.
type ProcessingStatus struct {
	ApplicationID          string                    `json:"application_id"`
	ApplicationStatus      string                    `json:"application_status"`
	Progress               Progress                  `json:"overall_progress"`
	Documents              DocumentCounts            `json:"documents"`
	ExtractedFields        int                       `json:"total_extracted_fields"`
	Validation             *domain.ValidationSummary `json:"validation,omitempty"`
	Jobs                   map[string]int            `json:"job_status"`
	ReadyForDecisionEngine bool                      `json:"ready_for_decision_engine"`
}

// FieldStatus lists the extracted candidates and the latest verdict of every field.
type FieldStatus struct {
	ApplicationID string                             `json:"application_id"`
	Summary       *domain.ValidationSummary          `json:"summary,omitempty"`
	Fields        []domain.ValidationResult          `json:"validated_fields"`
	Extracted     map[string][]domain.ExtractedField `json:"extracted_fields"`
}

// Metrics is the system-wide processing snapshot.
type Metrics struct {
	TotalApplications int            `json:"total_applications"`
	Applications      map[string]int `json:"applications_by_status"`
	CompletionRate    float64        `json:"completion_rate"`
	Jobs              map[string]int `json:"jobs_by_status"`
}

// ProcessingStatus reports stage progress, job counts and decision readiness.
func (o *Orchestrator) ProcessingStatus(ctx context.Context, applicationID string) (*ProcessingStatus, error) {
	app, err := o.store.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	// Step 1: Documents
	docs, err := o.store.ListDocuments(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	counts := countDocuments(docs)

	// Step 2: Extraction and validation outcomes
	extracted, err := o.store.ListExtractedFields(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extracted fields: %w", err)
	}
	results, err := o.store.LatestValidationResults(ctx, applicationID)
	if err != nil && !errors.Is(err, domain.ErrValidationMissing) {
		return nil, fmt.Errorf("failed to load validation results: %w", err)
	}
	summary, err := o.store.LatestValidationSummary(ctx, applicationID)
	if err != nil && !errors.Is(err, domain.ErrValidationMissing) {
		return nil, fmt.Errorf("failed to load validation summary: %w", err)
	}

	// Step 3: Jobs
	jobs, err := o.queue.StatusCounts(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	stages := StageProgress{
		Ingestion:  percent(counts.Total, counts.Total),
		Extraction: percent(counts.Completed, counts.Total),
		Validation: percent(countValidated(results), len(results)),
	}
	progress := OverallProgress(stages)

	return &ProcessingStatus{
		ApplicationID:          applicationID,
		ApplicationStatus:      app.Status,
		Progress:               progress,
		Documents:              counts,
		ExtractedFields:        len(extracted),
		Validation:             summary,
		Jobs:                   jobs,
		ReadyForDecisionEngine: progress.CompletionPercentage >= readyThreshold,
	}, nil
}

// OverallProgress weighs stage progress 25/35/40 and names the first unfinished stage.
func OverallProgress(s StageProgress) Progress {
	current := StageIngestion
	if s.Ingestion >= 100 {
		current = StageExtraction
	}
	if s.Extraction >= 100 {
		current = StageValidation
	}
	if s.Validation >= 100 {
		current = StageCompleted
	}

	return Progress{
		CompletionPercentage: s.Ingestion*ingestionWeight + s.Extraction*extractionWeight + s.Validation*validationWeight,
		CurrentStage:         current,
		Stages:               s,
	}
}

func countDocuments(docs []domain.Document) DocumentCounts {
	c := DocumentCounts{Total: len(docs)}
	for _, d := range docs {
		switch d.ProcessingStatus {
		case domain.DocStatusPending:
			c.Pending++
		case domain.DocStatusProcessing:
			c.Processing++
		case domain.DocStatusCompleted:
			c.Completed++
		case domain.DocStatusFailed:
			c.Failed++
		}
	}
	return c
}

func countValidated(results []domain.ValidationResult) int {
	n := 0
	for _, r := range results {
		if r.ValidationStatus == domain.StatusValidated {
			n++
		}
	}
	return n
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// FieldStatus returns the latest validation result per field with the candidates behind them.
func (o *Orchestrator) FieldStatus(ctx context.Context, applicationID string) (*FieldStatus, error) {
	if _, err := o.store.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}

	extracted, err := o.store.ListExtractedFields(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extracted fields: %w", err)
	}
	results, err := o.store.LatestValidationResults(ctx, applicationID)
	if err != nil && !errors.Is(err, domain.ErrValidationMissing) {
		return nil, fmt.Errorf("failed to load validation results: %w", err)
	}
	summary, err := o.store.LatestValidationSummary(ctx, applicationID)
	if err != nil && !errors.Is(err, domain.ErrValidationMissing) {
		return nil, fmt.Errorf("failed to load validation summary: %w", err)
	}

	fs := &FieldStatus{
		ApplicationID: applicationID,
		Summary:       summary,
		Fields:        results,
		Extracted:     map[string][]domain.ExtractedField{},
	}
	if fs.Fields == nil {
		fs.Fields = []domain.ValidationResult{}
	}
	for _, f := range extracted {
		fs.Extracted[f.FieldName] = append(fs.Extracted[f.FieldName], f)
	}
	return fs, nil
}

// GoldenSummary groups the latest golden records by category.
func (o *Orchestrator) GoldenSummary(ctx context.Context, applicationID string) (*golden.Summary, error) {
	if _, err := o.store.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	records, err := o.store.LatestGoldenRecords(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load golden records: %w", err)
	}
	s := golden.Summarize(applicationID, records)
	return &s, nil
}

// ExportGolden renders the latest golden records as an XLSX workbook.
func (o *Orchestrator) ExportGolden(ctx context.Context, applicationID string) ([]byte, error) {
	if _, err := o.store.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	records, err := o.store.LatestGoldenRecords(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load golden records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w for %s", domain.ErrGoldenMissing, applicationID)
	}
	return golden.ExportXLSX(records)
}

// Metrics counts applications and jobs by status.
func (o *Orchestrator) Metrics(ctx context.Context) (*Metrics, error) {
	apps, err := o.store.CountApplicationsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count applications: %w", err)
	}
	jobs, err := o.queue.StatusCounts(ctx, "")
	if err != nil {
		return nil, err
	}

	m := &Metrics{Applications: apps, Jobs: jobs}
	for _, n := range apps {
		m.TotalApplications += n
	}
	m.CompletionRate = percent(apps[domain.AppStatusCompleted], m.TotalApplications)
	return m, nil
}
