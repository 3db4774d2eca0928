package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/shared/obs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// lease identifies one claim of a job. The token is stored on the job row so only the
// attempt that claimed it can finish it; key is set when a Locker also holds the job.
type lease struct {
	key   string
	token string
}

// acquire leases (when a locker is set) and claims a pending job.
func (s *Scheduler) acquire(ctx context.Context, job *domain.Job) (*domain.Job, *lease, bool) {
	l := &lease{token: uuid.NewString()}

	if s.locker != nil {
		l.key = s.locker.Key(job.ID)
		ok, err := s.locker.Acquire(ctx, l.key, l.token, s.leaseTTL)
		if err != nil {
			s.logger.Warn("Failed to acquire job lease",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return nil, nil, false
		}
		if !ok {
			s.logger.Debug("Job leased by another instance, skipping",
				slog.String("job_id", job.ID),
			)
			return nil, nil, false
		}
	}

	claimed, err := s.store.ClaimJob(ctx, job.ID, l.token, s.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			s.logger.Debug("Job already claimed, skipping",
				slog.String("job_id", job.ID),
			)
		} else {
			s.logger.Error("Failed to claim job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.release(job.ID, l)
		return nil, nil, false
	}
	return claimed, l, true
}

func (s *Scheduler) release(jobID string, l *lease) {
	if s.locker == nil || l.key == "" {
		return
	}
	if _, err := s.locker.Release(context.Background(), l.key, l.token); err != nil {
		s.logger.Warn("Failed to release job lease",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// processJob runs a claimed job with a timeout and records the outcome
func (s *Scheduler) processJob(ctx context.Context, job *domain.Job, l *lease) {
	defer s.release(job.ID, l)

	obs.IncInflight()
	defer obs.DecInflight()

	// Shutdown does not interrupt a running stage; the job timeout still applies.
	base := context.WithoutCancel(ctx)
	jobCtx, cancel := context.WithTimeout(base, s.jobTimeout)
	defer cancel()

	jobCtx, span := obs.StartSpan(jobCtx, "scheduler."+string(job.Stage))
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", job.ID),
		attribute.String("application_id", job.ApplicationID),
		attribute.Int("retry_count", job.RetryCount),
	)

	s.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("application_id", job.ApplicationID),
		slog.String("stage", string(job.Stage)),
		slog.Int("retry_count", job.RetryCount),
	)

	// Step 1: Keep the lease alive while the stage runs
	if s.locker != nil {
		heartbeatDone := make(chan struct{})
		defer close(heartbeatDone)
		go s.refreshLease(jobCtx, job.ID, l, heartbeatDone)
	}

	// Step 2: Execute the stage handler
	start := time.Now()
	err := s.executeJob(jobCtx, job)
	obs.RecordJob(string(job.Stage), start, err)

	// Step 3: Record the outcome against this attempt's lease
	if err == nil {
		if updateErr := s.store.CompleteJob(base, job.ID, l.token, s.clock.Now()); updateErr != nil {
			s.logFinishError(job, "completed", updateErr)
			return
		}
		s.logger.Info("Job completed successfully",
			slog.String("job_id", job.ID),
			slog.String("stage", string(job.Stage)),
		)
		return
	}

	reason := failureReason(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error("Job execution failed",
		slog.String("job_id", job.ID),
		slog.String("stage", string(job.Stage)),
		slog.Int("retry_count", job.RetryCount),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)

	if updateErr := s.store.FailJob(base, job.ID, l.token, err.Error(), s.clock.Now()); updateErr != nil {
		s.logFinishError(job, "failed", updateErr)
		return
	}

	job.Status = domain.JobStatusFailed
	s.maybeRetry(base, job, reason)
}

// failureReason labels a handler error as transient when it is marked retryable.
func failureReason(err error) string {
	if domain.IsRetryable(err) {
		return "transient"
	}
	return "error"
}

func (s *Scheduler) logFinishError(job *domain.Job, status string, err error) {
	if errors.Is(err, domain.ErrJobNotProcessing) {
		s.logger.Warn("Job attempt no longer owns the job, result dropped",
			slog.String("job_id", job.ID),
			slog.String("status", status),
		)
		return
	}
	s.logger.Error("Failed to update job status to "+status,
		slog.String("job_id", job.ID),
		slog.String("error", err.Error()),
	)
}

// maybeRetry requeues a failed job when auto retry is on and attempts remain.
func (s *Scheduler) maybeRetry(ctx context.Context, job *domain.Job, reason string) {
	if !s.autoRetry {
		return
	}
	if !job.CanRetry() {
		s.logger.Warn("Job exceeded max retries",
			slog.String("job_id", job.ID),
			slog.Int("retry_count", job.RetryCount),
			slog.Int("max_retries", job.MaxRetries),
		)
		return
	}

	requeued, err := s.store.RequeueFailedJob(ctx, job.ID)
	if err != nil {
		s.logger.Error("Failed to requeue job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	obs.RecordRetry(string(job.Stage), reason)
	s.logger.Info("Job will be retried",
		slog.String("job_id", job.ID),
		slog.Int("retry_count", requeued.RetryCount),
		slog.Int("max_retries", requeued.MaxRetries),
	)
}

// executeJob dispatches to the stage handler, turning panics into errors
func (s *Scheduler) executeJob(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	h, ok := s.handler(job.Stage)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoHandler, job.Stage)
	}
	return h.Handle(ctx, job)
}

// refreshLease extends the job lease every third of its TTL
func (s *Scheduler) refreshLease(ctx context.Context, jobID string, l *lease, done <-chan struct{}) {
	ticker := s.clock.NewTicker(s.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C():
			ok, err := s.locker.Refresh(ctx, l.key, l.token, s.leaseTTL)
			if err != nil {
				s.logger.Warn("Failed to refresh job lease",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !ok {
				s.logger.Warn("Job lease lost",
					slog.String("job_id", jobID),
				)
				return
			}
		}
	}
}
