package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/clock"
	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/events"
	"github.com/google/uuid"
)

// JobStore is the persistence the queue and scheduler need.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	FetchPendingJobs(ctx context.Context, limit int) ([]*domain.Job, error)
	ClaimJob(ctx context.Context, jobID, leaseToken string, startedAt time.Time) (*domain.Job, error)
	CompleteJob(ctx context.Context, jobID, leaseToken string, completedAt time.Time) error
	FailJob(ctx context.Context, jobID, leaseToken, message string, failedAt time.Time) error
	RequeueFailedJob(ctx context.Context, jobID string) (*domain.Job, error)
	RetryFailedJobs(ctx context.Context, applicationID *string) (int, error)
	FailStaleJobs(ctx context.Context, startedBefore time.Time, message string, now time.Time) ([]*domain.Job, error)
	JobStatusCounts(ctx context.Context, applicationID string) (map[string]int, error)
}

// Queue is the producer side of the scheduler.
type Queue struct {
	store      JobStore
	publisher  events.Publisher
	clock      clock.Clock
	maxRetries int
	logger     *slog.Logger
}

// NewQueue creates a job queue over store. A non-positive maxRetries uses the default of 3.
func NewQueue(store JobStore, publisher events.Publisher, clk clock.Clock, maxRetries int, logger *slog.Logger) *Queue {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	return &Queue{
		store:      store,
		publisher:  publisher,
		clock:      clk,
		maxRetries: maxRetries,
		logger:     logger.With("component", "queue"),
	}
}

// Enqueue persists a pending job and announces it.
func (q *Queue) Enqueue(ctx context.Context, in domain.NewJob) (*domain.Job, error) {
	if in.ApplicationID == "" {
		return nil, fmt.Errorf("application id is required")
	}
	switch in.Stage {
	case domain.StageExtraction, domain.StageValidation, domain.StageFormatting:
	default:
		return nil, fmt.Errorf("unknown stage %q", in.Stage)
	}

	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.maxRetries
	}

	job := &domain.Job{
		ID:            uuid.NewString(),
		ApplicationID: in.ApplicationID,
		DocumentID:    in.DocumentID,
		Stage:         in.Stage,
		Status:        domain.JobStatusPending,
		Priority:      in.Priority,
		MaxRetries:    maxRetries,
		CreatedAt:     q.clock.Now(),
	}

	if err := q.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	q.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("application_id", job.ApplicationID),
		slog.String("stage", string(job.Stage)),
		slog.Int("priority", job.Priority),
	)

	if err := q.publisher.Publish(ctx, events.Event{
		Type:          events.JobEnqueued,
		ApplicationID: job.ApplicationID,
		JobID:         job.ID,
		DocumentID:    job.DocumentIDValue(),
		Data:          map[string]any{"stage": string(job.Stage), "priority": job.Priority},
		OccurredAt:    job.CreatedAt,
	}); err != nil {
		// Polling still picks the job up.
		q.logger.Warn("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	return job, nil
}

// EnqueueExtraction schedules OCR extraction for one document.
func (q *Queue) EnqueueExtraction(ctx context.Context, applicationID, documentID string, priority int) (*domain.Job, error) {
	if priority <= 0 {
		priority = domain.PriorityDefaultExtraction
	}
	return q.Enqueue(ctx, domain.NewJob{
		ApplicationID: applicationID,
		DocumentID:    &documentID,
		Stage:         domain.StageExtraction,
		Priority:      priority,
	})
}

// EnqueueValidation schedules a validation run for an application.
func (q *Queue) EnqueueValidation(ctx context.Context, applicationID string) (*domain.Job, error) {
	return q.Enqueue(ctx, domain.NewJob{
		ApplicationID: applicationID,
		Stage:         domain.StageValidation,
		Priority:      domain.PriorityValidation,
	})
}

// RetryFailed resets retry-eligible failed jobs to pending, optionally for one application.
func (q *Queue) RetryFailed(ctx context.Context, applicationID *string) (int, error) {
	n, err := q.store.RetryFailedJobs(ctx, applicationID)
	if err != nil {
		return 0, fmt.Errorf("failed to retry jobs: %w", err)
	}

	attrs := []any{slog.Int("count", n)}
	if applicationID != nil {
		attrs = append(attrs, slog.String("application_id", *applicationID))
	}
	q.logger.Info("Failed jobs requeued", attrs...)
	return n, nil
}

// StatusCounts returns job counts by status. An empty applicationID counts every job.
func (q *Queue) StatusCounts(ctx context.Context, applicationID string) (map[string]int, error) {
	counts, err := q.store.JobStatusCounts(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return counts, nil
}
