// Package memory is an in-process implementation of every store interface, used by tests and
// single-node development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/google/uuid"
)

type jobRow struct {
	seq int64
	job domain.Job
}

// Store keeps all records in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	seq          int64
	jobs         map[string]*jobRow
	applications map[string]*domain.Application
	documents    map[string]*domain.Document
	docOrder     []string
	extracted    []domain.ExtractedField
	results      []domain.ValidationResult
	summaries    []domain.ValidationSummary
	golden       []domain.GoldenRecord
	logs         []domain.ProcessingLog

	// FailFetch, when set, is returned by FetchPendingJobs.
	FailFetch error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:         make(map[string]*jobRow),
		applications: make(map[string]*domain.Application),
		documents:    make(map[string]*domain.Document),
	}
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

func copyJob(j domain.Job) *domain.Job {
	c := j
	return &c
}

// Jobs

func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	s.jobs[job.ID] = &jobRow{seq: s.nextSeq(), job: *job}
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return copyJob(row.job), nil
}

func (s *Store) sortedRows(keep func(*domain.Job) bool) []*jobRow {
	var rows []*jobRow
	for _, r := range s.jobs {
		if keep(&r.job) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.job.Priority != b.job.Priority {
			return a.job.Priority < b.job.Priority
		}
		if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.job.CreatedAt.Before(b.job.CreatedAt)
		}
		return a.seq < b.seq
	})
	return rows
}

func (s *Store) FetchPendingJobs(_ context.Context, limit int) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFetch != nil {
		return nil, s.FailFetch
	}

	rows := s.sortedRows(func(j *domain.Job) bool { return j.Status == domain.JobStatusPending })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]*domain.Job, len(rows))
	for i, r := range rows {
		out[i] = copyJob(r.job)
	}
	return out, nil
}

func (s *Store) ClaimJob(_ context.Context, jobID, leaseToken string, startedAt time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok || row.job.Status != domain.JobStatusPending {
		return nil, domain.ErrJobAlreadyClaimed
	}
	row.job.Status = domain.JobStatusProcessing
	row.job.StartedAt = &startedAt
	row.job.CompletedAt = nil
	row.job.ErrorMessage = nil
	row.job.LeaseToken = &leaseToken
	return copyJob(row.job), nil
}

func (s *Store) finish(jobID, leaseToken, status string, msg *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if row.job.Status != domain.JobStatusProcessing || row.job.LeaseToken == nil || *row.job.LeaseToken != leaseToken {
		return domain.ErrJobNotProcessing
	}
	row.job.Status = status
	row.job.ErrorMessage = msg
	row.job.CompletedAt = &at
	row.job.LeaseToken = nil
	return nil
}

func (s *Store) CompleteJob(_ context.Context, jobID, leaseToken string, completedAt time.Time) error {
	return s.finish(jobID, leaseToken, domain.JobStatusCompleted, nil, completedAt)
}

func (s *Store) FailJob(_ context.Context, jobID, leaseToken, message string, failedAt time.Time) error {
	return s.finish(jobID, leaseToken, domain.JobStatusFailed, &message, failedAt)
}

func (s *Store) RequeueFailedJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if !row.job.CanRetry() {
		return nil, domain.ErrMaxRetriesExceeded
	}
	requeue(&row.job)
	return copyJob(row.job), nil
}

func requeue(j *domain.Job) {
	j.Status = domain.JobStatusPending
	j.RetryCount++
	j.StartedAt = nil
	j.CompletedAt = nil
}

func (s *Store) RetryFailedJobs(_ context.Context, applicationID *string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.jobs {
		if applicationID != nil && r.job.ApplicationID != *applicationID {
			continue
		}
		if r.job.CanRetry() {
			requeue(&r.job)
			n++
		}
	}
	return n, nil
}

func (s *Store) FailStaleJobs(_ context.Context, startedBefore time.Time, message string, now time.Time) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, r := range s.jobs {
		j := &r.job
		if j.Status != domain.JobStatusProcessing || j.StartedAt == nil || !j.StartedAt.Before(startedBefore) {
			continue
		}
		msg := message
		j.Status = domain.JobStatusFailed
		j.ErrorMessage = &msg
		j.CompletedAt = &now
		j.LeaseToken = nil
		out = append(out, copyJob(*j))
	}
	return out, nil
}

func (s *Store) HasPendingJob(_ context.Context, applicationID string, stage domain.Stage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.jobs {
		if r.job.ApplicationID == applicationID && r.job.Stage == stage && r.job.Status == domain.JobStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) JobStatusCounts(_ context.Context, applicationID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{
		domain.JobStatusPending:    0,
		domain.JobStatusProcessing: 0,
		domain.JobStatusCompleted:  0,
		domain.JobStatusFailed:     0,
	}
	for _, r := range s.jobs {
		if applicationID == "" || r.job.ApplicationID == applicationID {
			counts[r.job.Status]++
		}
	}
	return counts, nil
}

// ListJobs returns up to PageSize+1 jobs, newest first, so callers can detect another page.
func (s *Store) ListJobs(_ context.Context, f domain.JobFilter) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*jobRow
	for _, r := range s.jobs {
		j := &r.job
		if f.ApplicationID != "" && j.ApplicationID != f.ApplicationID {
			continue
		}
		if f.Stage != "" && string(j.Stage) != f.Stage {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Cursor != nil {
			if j.CreatedAt.After(f.Cursor.CreatedAt) {
				continue
			}
			if j.CreatedAt.Equal(f.Cursor.CreatedAt) && j.ID >= f.Cursor.JobID {
				continue
			}
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, k int) bool {
		a, b := rows[i].job, rows[k].job
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if f.PageSize > 0 && len(rows) > f.PageSize+1 {
		rows = rows[:f.PageSize+1]
	}
	out := make([]*domain.Job, len(rows))
	for i, r := range rows {
		out[i] = copyJob(r.job)
	}
	return out, nil
}

// AllJobs returns every job for an application in creation order.
func (s *Store) AllJobs(applicationID string) []*domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*jobRow
	for _, r := range s.jobs {
		if applicationID == "" || r.job.ApplicationID == applicationID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]*domain.Job, len(rows))
	for i, r := range rows {
		out[i] = copyJob(r.job)
	}
	return out
}
