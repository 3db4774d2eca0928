package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/ingestion"
)

// StartResult reports the extraction jobs scheduled by StartProcessing.
type StartResult struct {
	ApplicationID string   `json:"application_id"`
	Enqueued      int      `json:"enqueued"`
	JobIDs        []string `json:"job_ids"`
}

// RetryResult reports how many failed jobs went back to pending.
type RetryResult struct {
	ApplicationID string `json:"application_id"`
	RetriedJobs   int    `json:"retried_jobs"`
	Message       string `json:"message"`
}

// CreateApplication stores applicant form data. order fixes the validation order of the form
// fields; names missing from it are validated afterwards in name order.
func (o *Orchestrator) CreateApplication(ctx context.Context, applicationID string, formData map[string]string, order []string) (*domain.Application, error) {
	applicationID = strings.TrimSpace(applicationID)
	if applicationID == "" {
		return nil, fmt.Errorf("%w: application_id is required", domain.ErrInvalidApplication)
	}
	if len(formData) == 0 {
		return nil, fmt.Errorf("%w: form_data is required", domain.ErrInvalidApplication)
	}

	now := o.clock.Now()
	app := &domain.Application{
		ApplicationID:  applicationID,
		Status:         domain.AppStatusDocumentUpload,
		FormData:       formData,
		FormFieldOrder: order,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(app.FormFieldOrder) == 0 {
		for _, f := range domain.OrderForm(formData, nil) {
			app.FormFieldOrder = append(app.FormFieldOrder, f.Name)
		}
	}

	if err := o.store.CreateApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	o.logger.Info("Application created",
		slog.String("application_id", applicationID),
		slog.Int("form_fields", len(formData)),
	)
	return app, nil
}

// GetApplication returns the stored application or domain.ErrApplicationNotFound.
func (o *Orchestrator) GetApplication(ctx context.Context, applicationID string) (*domain.Application, error) {
	return o.store.GetApplication(ctx, applicationID)
}

// UploadDocuments ingests a batch of files and nudges the local scheduler.
func (o *Orchestrator) UploadDocuments(ctx context.Context, applicationID, applicantType string, uploads []ingestion.Upload) (*ingestion.BatchResult, error) {
	result, err := o.ingestion.IngestBatch(ctx, applicationID, applicantType, uploads)
	if err != nil {
		return nil, err
	}
	if result.Successful > 0 {
		o.scheduler.Wake()
	}
	return result, nil
}

// StartProcessing schedules extraction for every pending document that has no live
// extraction job, ordered by the document type priority.
func (o *Orchestrator) StartProcessing(ctx context.Context, applicationID string) (*StartResult, error) {
	if _, err := o.store.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}

	docs, err := o.store.ListDocuments(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	live, err := o.liveExtractions(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	result := &StartResult{ApplicationID: applicationID, JobIDs: []string{}}
	for _, doc := range docs {
		if doc.ProcessingStatus != domain.DocStatusPending || live[doc.ID] {
			continue
		}
		job, err := o.queue.EnqueueExtraction(ctx, applicationID, doc.ID, o.cfg.ExtractionPriority(doc.DocumentType))
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue extraction for %s: %w", doc.ID, err)
		}
		result.JobIDs = append(result.JobIDs, job.ID)
	}
	result.Enqueued = len(result.JobIDs)

	if err := o.store.UpdateApplicationStatus(ctx, applicationID, domain.AppStatusProcessing, nil); err != nil {
		return nil, fmt.Errorf("failed to update application status: %w", err)
	}

	o.logger.Info("Background processing started",
		slog.String("application_id", applicationID),
		slog.Int("documents", len(docs)),
		slog.Int("enqueued", result.Enqueued),
	)
	o.scheduler.Wake()
	return result, nil
}

// liveExtractions returns the documents with a pending or running extraction job.
func (o *Orchestrator) liveExtractions(ctx context.Context, applicationID string) (map[string]bool, error) {
	live := map[string]bool{}
	for _, status := range []string{domain.JobStatusPending, domain.JobStatusProcessing} {
		var cursor *domain.JobCursor
		for {
			jobs, err := o.store.ListJobs(ctx, domain.JobFilter{
				ApplicationID: applicationID,
				Stage:         string(domain.StageExtraction),
				Status:        status,
				PageSize:      jobScanPageSize,
				Cursor:        cursor,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to list extraction jobs: %w", err)
			}
			more := len(jobs) > jobScanPageSize
			if more {
				jobs = jobs[:jobScanPageSize]
			}
			for _, j := range jobs {
				if j.DocumentID != nil {
					live[*j.DocumentID] = true
				}
			}
			if !more {
				break
			}
			last := jobs[len(jobs)-1]
			cursor = &domain.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
		}
	}
	return live, nil
}

const jobScanPageSize = 100

// RetryProcessing requeues the application's retry-eligible failed jobs.
func (o *Orchestrator) RetryProcessing(ctx context.Context, applicationID string) (*RetryResult, error) {
	if _, err := o.store.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}

	n, err := o.queue.RetryFailed(ctx, &applicationID)
	if err != nil {
		return nil, err
	}
	if err := o.store.UpdateApplicationStatus(ctx, applicationID, domain.AppStatusProcessing, nil); err != nil {
		return nil, fmt.Errorf("failed to update application status: %w", err)
	}
	o.scheduler.Wake()

	return &RetryResult{
		ApplicationID: applicationID,
		RetriedJobs:   n,
		Message:       "Processing retry initiated",
	}, nil
}
