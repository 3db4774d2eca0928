package dto

import (
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
)

type ListJobsRequest struct {
	ApplicationID string `form:"application_id"`
	Stage         string `form:"stage"`
	Status        string `form:"status"`
	PageSize      int    `form:"page_size"`
	Cursor        string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string `json:"job_id"`
	ApplicationID string `json:"application_id"`
	DocumentID    string `json:"document_id,omitempty"`
	Stage         string `json:"stage"`
	Status        string `json:"status"`
	Priority      int    `json:"priority"`
	RetryCount    int    `json:"retry_count"`
	MaxRetries    int    `json:"max_retries"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CreatedAt     string `json:"created_at"`
	StartedAt     string `json:"started_at,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// NewJobDTO converts a stored job for the wire.
func NewJobDTO(job *domain.Job) JobDTO {
	d := JobDTO{
		JobID:         job.ID,
		ApplicationID: job.ApplicationID,
		DocumentID:    job.DocumentIDValue(),
		Stage:         string(job.Stage),
		Status:        job.Status,
		Priority:      job.Priority,
		RetryCount:    job.RetryCount,
		MaxRetries:    job.MaxRetries,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
	}
	if job.ErrorMessage != nil {
		d.ErrorMessage = *job.ErrorMessage
	}
	if job.StartedAt != nil {
		d.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		d.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return d
}
