package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/golden"
	"github.com/cuongbtq/mortgage-recon/internal/ingestion"
	"github.com/cuongbtq/mortgage-recon/internal/orchestrator"
	"github.com/gin-gonic/gin"
)

// Service is the application workflow behind the HTTP API.
type Service interface {
	CreateApplication(ctx context.Context, applicationID string, formData map[string]string, order []string) (*domain.Application, error)
	GetApplication(ctx context.Context, applicationID string) (*domain.Application, error)
	UploadDocuments(ctx context.Context, applicationID, applicantType string, uploads []ingestion.Upload) (*ingestion.BatchResult, error)
	StartProcessing(ctx context.Context, applicationID string) (*orchestrator.StartResult, error)
	ProcessingStatus(ctx context.Context, applicationID string) (*orchestrator.ProcessingStatus, error)
	FieldStatus(ctx context.Context, applicationID string) (*orchestrator.FieldStatus, error)
	GoldenSummary(ctx context.Context, applicationID string) (*golden.Summary, error)
	ExportGolden(ctx context.Context, applicationID string) ([]byte, error)
	RetryProcessing(ctx context.Context, applicationID string) (*orchestrator.RetryResult, error)
	RequiredDocuments(ctx context.Context, applicationID string) (*orchestrator.RequiredDocuments, error)
	MissingFields(ctx context.Context, applicationID string) (*orchestrator.MissingFields, error)
	Metrics(ctx context.Context) (*orchestrator.Metrics, error)
	Ping(ctx context.Context) error
}

// JobReader reads the job queue.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Service     Service
	Jobs        JobReader
	ServiceName string
}

// ApplicationHandler handles application HTTP requests
type ApplicationHandler struct {
	logger  *slog.Logger
	service Service
}

// NewApplicationHandler creates a new ApplicationHandler instance
func NewApplicationHandler(deps *Dependencies) *ApplicationHandler {
	return &ApplicationHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobReader
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrApplicationNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrDocumentNotFound),
		errors.Is(err, domain.ErrGoldenMissing):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidApplication),
		errors.Is(err, domain.ErrUnsupportedFile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped status. Server errors hide the cause behind msg.
func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	logger.Warn(msg, slog.String("error", err.Error()))
	c.JSON(status, gin.H{"error": err.Error()})
}
