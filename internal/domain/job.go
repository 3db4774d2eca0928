package domain

import "time"

// Job represents a queued unit of stage work for one application
type Job struct {
	ID            string     `db:"id" json:"id"`
	ApplicationID string     `db:"application_id" json:"application_id"`
	DocumentID    *string    `db:"document_id" json:"document_id,omitempty"`
	Stage         Stage      `db:"job_type" json:"stage"`
	Status        string     `db:"status" json:"status"`
	Priority      int        `db:"priority" json:"priority"`
	RetryCount    int        `db:"retry_count" json:"retry_count"`
	MaxRetries    int        `db:"max_retries" json:"max_retries"`
	ErrorMessage  *string    `db:"error_message" json:"error_message,omitempty"`
	LeaseToken    *string    `db:"lease_token" json:"-"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	StartedAt     *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// CanRetry reports whether a failed job may go back to pending.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// DocumentIDValue returns the document id or an empty string.
func (j *Job) DocumentIDValue() string {
	if j.DocumentID == nil {
		return ""
	}
	return *j.DocumentID
}

// NewJob is the input for enqueueing work.
type NewJob struct {
	ApplicationID string
	DocumentID    *string
	Stage         Stage
	Priority      int
	MaxRetries    int
}

// JobFilter narrows job listings. Cursor pagination runs on (created_at, id) descending.
type JobFilter struct {
	ApplicationID string
	Stage         string
	Status        string
	PageSize      int
	Cursor        *JobCursor
}

// JobCursor marks the last row of a page.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}
