package scheduler

import (
	"context"
	"fmt"
	"log/slog"
)

// SweepStale fails jobs stuck in processing longer than the job timeout, then applies the
// usual retry rules to them. It returns how many jobs were swept.
func (s *Scheduler) SweepStale(ctx context.Context) int {
	now := s.clock.Now()
	cutoff := now.Add(-s.jobTimeout)

	stale, err := s.store.FailStaleJobs(ctx, cutoff, fmt.Sprintf("Job timed out after %s", s.jobTimeout), now)
	if err != nil {
		s.logger.Error("Failed to sweep stale jobs",
			slog.String("error", err.Error()),
		)
		return 0
	}

	for _, job := range stale {
		s.logger.Warn("Stale job failed",
			slog.String("job_id", job.ID),
			slog.String("stage", string(job.Stage)),
			slog.Int("retry_count", job.RetryCount),
		)
		s.maybeRetry(ctx, job, "timeout")
	}
	return len(stale)
}
