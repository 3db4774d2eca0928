package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/google/uuid"
)

const jobColumns = `id, application_id, document_id, job_type, status, priority, retry_count,
		max_retries, error_message, lease_token, created_at, started_at, completed_at`

func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	query := `
		INSERT INTO processing_jobs (
			id, application_id, document_id, job_type, status,
			priority, retry_count, max_retries, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.ApplicationID,
		job.DocumentID,
		job.Stage,
		job.Status,
		job.Priority,
		job.RetryCount,
		job.MaxRetries,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`

	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// FetchPendingJobs returns up to limit pending jobs, most urgent first.
func (s *Store) FetchPendingJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE status = $1
		ORDER BY priority ASC, created_at ASC
		LIMIT $2
	`

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusPending, limit); err != nil {
		return nil, fmt.Errorf("failed to fetch pending jobs: %w", err)
	}
	return jobs, nil
}

// ClaimJob moves a job from pending to processing under leaseToken. Only one caller can win.
func (s *Store) ClaimJob(ctx context.Context, jobID, leaseToken string, startedAt time.Time) (*domain.Job, error) {
	query := `
		UPDATE processing_jobs
		SET status = $1,
		    lease_token = $2,
		    started_at = $3,
		    completed_at = NULL,
		    error_message = NULL
		WHERE id = $4
		  AND status = $5
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusProcessing, leaseToken, startedAt, jobID, domain.JobStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// finishJob ends the attempt holding leaseToken. A swept or reclaimed job no longer
// carries that token, so a late attempt gets ErrJobNotProcessing.
func (s *Store) finishJob(ctx context.Context, jobID, leaseToken, status string, message *string, at time.Time) error {
	query := `
		UPDATE processing_jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = $3,
		    lease_token = NULL
		WHERE id = $4 AND status = $5 AND lease_token = $6
	`

	result, err := s.db.ExecContext(ctx, query, status, message, at, jobID, domain.JobStatusProcessing, leaseToken)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrJobNotProcessing
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID, leaseToken string, completedAt time.Time) error {
	return s.finishJob(ctx, jobID, leaseToken, domain.JobStatusCompleted, nil, completedAt)
}

func (s *Store) FailJob(ctx context.Context, jobID, leaseToken, message string, failedAt time.Time) error {
	return s.finishJob(ctx, jobID, leaseToken, domain.JobStatusFailed, &message, failedAt)
}

// RequeueFailedJob puts a failed job back to pending and counts the retry.
func (s *Store) RequeueFailedJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE processing_jobs
		SET status = $1,
		    retry_count = retry_count + 1,
		    started_at = NULL,
		    completed_at = NULL
		WHERE id = $2
		  AND status = $3
		  AND retry_count < max_retries
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusPending, jobID, domain.JobStatusFailed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMaxRetriesExceeded
		}
		return nil, fmt.Errorf("failed to requeue job: %w", err)
	}
	return &job, nil
}

// RetryFailedJobs requeues every retry-eligible failed job, optionally for one application.
func (s *Store) RetryFailedJobs(ctx context.Context, applicationID *string) (int, error) {
	query := `
		UPDATE processing_jobs
		SET status = $1,
		    retry_count = retry_count + 1,
		    started_at = NULL,
		    completed_at = NULL
		WHERE status = $2
		  AND retry_count < max_retries
		  AND ($3::text IS NULL OR application_id = $3)
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, domain.JobStatusFailed, applicationID)
	if err != nil {
		return 0, fmt.Errorf("failed to retry jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// FailStaleJobs fails processing jobs that started before the cutoff and returns them.
func (s *Store) FailStaleJobs(ctx context.Context, startedBefore time.Time, message string, now time.Time) ([]*domain.Job, error) {
	query := `
		UPDATE processing_jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = $3,
		    lease_token = NULL
		WHERE status = $4
		  AND started_at < $5
		RETURNING ` + jobColumns

	var jobs []*domain.Job
	err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusFailed, message, now, domain.JobStatusProcessing, startedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) HasPendingJob(ctx context.Context, applicationID string, stage domain.Stage) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM processing_jobs
			WHERE application_id = $1 AND job_type = $2 AND status = $3
		)
	`

	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, applicationID, stage, domain.JobStatusPending); err != nil {
		return false, fmt.Errorf("failed to check pending jobs: %w", err)
	}
	return exists, nil
}

// JobStatusCounts counts jobs by status. An empty applicationID counts every job.
func (s *Store) JobStatusCounts(ctx context.Context, applicationID string) (map[string]int, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM processing_jobs
		WHERE ($1::text = '' OR application_id = $1)
		GROUP BY status
	`

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, applicationID); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := map[string]int{
		domain.JobStatusPending:    0,
		domain.JobStatusProcessing: 0,
		domain.JobStatusCompleted:  0,
		domain.JobStatusFailed:     0,
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// ListJobs returns up to PageSize+1 jobs, newest first, so callers can detect another page.
func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	query := `
        SELECT ` + jobColumns + `
        FROM processing_jobs
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	// Filters
	if filter.ApplicationID != "" {
		query += fmt.Sprintf(" AND application_id = $%d", argIdx)
		args = append(args, filter.ApplicationID)
		argIdx++
	}

	if filter.Stage != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.Stage)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
