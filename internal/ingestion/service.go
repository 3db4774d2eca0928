// Package ingestion stores uploaded documents and schedules their extraction.
package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/cuongbtq/mortgage-recon/internal/clock"
	"github.com/cuongbtq/mortgage-recon/internal/config"
	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/shared/blob"
	"github.com/cuongbtq/mortgage-recon/shared/obs"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	agentName = "document_ingestion"

	// DefaultApplicantType is used when the caller does not name one
	DefaultApplicantType = "applicant"
)

// Store is the persistence ingestion needs.
type Store interface {
	GetApplication(ctx context.Context, applicationID string) (*domain.Application, error)
	CreateDocument(ctx context.Context, doc *domain.Document) error
	UpdateApplicationStatus(ctx context.Context, applicationID, status string, completion *float64) error
	LogProcessing(ctx context.Context, entry domain.ProcessingLog) error
}

// Blobs writes document bytes.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Classifier asks what kind of document a file is.
type Classifier interface {
	Classify(ctx context.Context, content []byte, filename string) (string, error)
}

// Enqueuer schedules extraction for a stored document.
type Enqueuer interface {
	EnqueueExtraction(ctx context.Context, applicationID, documentID string, priority int) (*domain.Job, error)
}

// Upload is one file to ingest. DocumentType may be empty.
type Upload struct {
	Filename     string
	Content      []byte
	DocumentType string
}

// FileResult is the outcome for one upload.
type FileResult struct {
	Filename     string `json:"filename"`
	Success      bool   `json:"success"`
	DocumentID   string `json:"document_id,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
	StoragePath  string `json:"storage_path,omitempty"`
	JobID        string `json:"job_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BatchResult is the outcome of a multi-file upload.
type BatchResult struct {
	ApplicationID string       `json:"application_id"`
	TotalFiles    int          `json:"total_files"`
	Successful    int          `json:"successful_uploads"`
	Failed        int          `json:"failed_uploads"`
	Results       []FileResult `json:"results"`
	ProcessingMs  int64        `json:"processing_time_ms"`
}

// Options configures file checks and the upload gate.
type Options struct {
	MaxFileSizeMB     int
	AllowedExtensions []string
	Concurrency       int
	Documents         map[string]config.DocumentTypeConfig
}

// Service ingests uploads for an application.
type Service struct {
	store      Store
	blobs      Blobs
	classifier Classifier
	queue      Enqueuer
	opts       Options
	allowed    map[string]bool
	clock      clock.Clock
	logger     *slog.Logger
}

// NewService creates an ingestion service. classifier may be nil, in which case filenames decide the type.
func NewService(store Store, blobs Blobs, classifier Classifier, queue Enqueuer, opts Options, clk clock.Clock, logger *slog.Logger) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.MaxFileSizeMB <= 0 {
		opts.MaxFileSizeMB = 50
	}
	if clk == nil {
		clk = clock.Real{}
	}

	allowed := make(map[string]bool, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	return &Service{
		store:      store,
		blobs:      blobs,
		classifier: classifier,
		queue:      queue,
		opts:       opts,
		allowed:    allowed,
		clock:      clk,
		logger:     logger.With("component", "ingestion"),
	}
}

// IngestBatch ingests every upload with at most Options.Concurrency in flight. One failed file
// does not stop the others.
func (s *Service) IngestBatch(ctx context.Context, applicationID, applicantType string, uploads []Upload) (*BatchResult, error) {
	if _, err := s.store.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	if applicantType == "" {
		applicantType = DefaultApplicantType
	}

	start := s.clock.Now()
	s.logStep(ctx, applicationID, "batch_upload", "started", fmt.Sprintf("Processing %d documents", len(uploads)), nil)

	results := make([]FileResult, len(uploads))
	var successful atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, up := range uploads {
		g.Go(func() error {
			res := s.ingest(gctx, applicationID, applicantType, up)
			results[i] = res
			if res.Success {
				successful.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	batch := &BatchResult{
		ApplicationID: applicationID,
		TotalFiles:    len(uploads),
		Successful:    int(successful.Load()),
		Results:       results,
	}
	batch.Failed = batch.TotalFiles - batch.Successful

	if batch.Successful > 0 {
		if err := s.store.UpdateApplicationStatus(ctx, applicationID, domain.AppStatusProcessing, nil); err != nil {
			s.logger.Warn("Failed to update application status",
				slog.String("application_id", applicationID),
				slog.String("error", err.Error()),
			)
		}
	}

	batch.ProcessingMs = s.clock.Now().Sub(start).Milliseconds()
	s.logStep(ctx, applicationID, "batch_upload", "completed",
		fmt.Sprintf("Batch upload completed: %d successful, %d failed", batch.Successful, batch.Failed),
		&batch.ProcessingMs)

	s.logger.Info("Batch upload completed",
		slog.String("application_id", applicationID),
		slog.Int("total", batch.TotalFiles),
		slog.Int("successful", batch.Successful),
		slog.Int("failed", batch.Failed),
	)
	return batch, nil
}

func (s *Service) ingest(ctx context.Context, applicationID, applicantType string, up Upload) FileResult {
	res := FileResult{Filename: up.Filename}

	doc, jobID, err := s.register(ctx, applicationID, applicantType, up)
	obs.RecordUpload(err)
	if err != nil {
		res.Error = err.Error()
		s.logStep(ctx, applicationID, "document_upload", "failed", res.Error, nil)
		return res
	}

	s.logStep(ctx, applicationID, "document_upload", "completed", fmt.Sprintf("Document uploaded successfully: %s", up.Filename), nil)

	res.Success = true
	res.DocumentID = doc.ID
	res.DocumentType = doc.DocumentType
	res.StoragePath = doc.StoragePath
	res.JobID = jobID
	return res
}

func (s *Service) register(ctx context.Context, applicationID, applicantType string, up Upload) (*domain.Document, string, error) {
	// Step 1: Validate file
	if err := s.ValidateFile(up.Filename, up.Content); err != nil {
		return nil, "", fmt.Errorf("file validation failed: %w", err)
	}

	// Step 2: Store bytes
	documentID := uuid.NewString()
	key := blob.DocumentKey(applicationID, documentID, up.Filename)
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(up.Filename)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if err := s.blobs.Put(ctx, key, up.Content, mimeType); err != nil {
		return nil, "", fmt.Errorf("storage upload failed: %w", err)
	}

	// Step 3: Decide the document type
	docType := s.detectType(ctx, up)

	// Step 4: Register the document
	doc := &domain.Document{
		ID:               documentID,
		ApplicationID:    applicationID,
		Filename:         up.Filename,
		DocumentType:     docType,
		ApplicantType:    applicantType,
		FileSize:         int64(len(up.Content)),
		MimeType:         mimeType,
		StoragePath:      key,
		ProcessingStatus: domain.DocStatusPending,
		UploadedAt:       s.clock.Now(),
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, "", fmt.Errorf("failed to create document: %w", err)
	}

	// Step 5: Schedule extraction
	job, err := s.queue.EnqueueExtraction(ctx, applicationID, documentID, s.priority(docType))
	if err != nil {
		return nil, "", fmt.Errorf("failed to enqueue extraction: %w", err)
	}
	return doc, job.ID, nil
}

// ValidateFile applies the size, extension, emptiness and PDF header checks.
func (s *Service) ValidateFile(filename string, content []byte) error {
	maxBytes := int64(s.opts.MaxFileSizeMB) << 20
	if int64(len(content)) > maxBytes {
		return fmt.Errorf("%w: file size %d exceeds maximum %d bytes", domain.ErrUnsupportedFile, len(content), maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !s.allowed[ext] {
		return fmt.Errorf("%w: unsupported file format %q", domain.ErrUnsupportedFile, ext)
	}

	if len(content) == 0 {
		return fmt.Errorf("%w: file is empty", domain.ErrUnsupportedFile)
	}

	if ext == ".pdf" && !bytes.HasPrefix(content, []byte("%PDF")) {
		return fmt.Errorf("%w: invalid PDF file format", domain.ErrUnsupportedFile)
	}

	return nil
}

func (s *Service) detectType(ctx context.Context, up Upload) string {
	if t := strings.TrimSpace(up.DocumentType); t != "" {
		if _, ok := s.opts.Documents[t]; ok {
			return t
		}
		s.logger.Warn("Ignoring unknown document type",
			slog.String("filename", up.Filename),
			slog.String("document_type", t),
		)
	}

	if s.classifier != nil {
		answer, err := s.classifier.Classify(ctx, up.Content, up.Filename)
		if err == nil {
			return ClassifyText(answer)
		}
		s.logger.Warn("Document classification failed, using filename",
			slog.String("filename", up.Filename),
			slog.String("error", err.Error()),
		)
	}

	base := strings.TrimSuffix(up.Filename, filepath.Ext(up.Filename))
	return ClassifyText(base)
}

func (s *Service) priority(documentType string) int {
	if d, ok := s.opts.Documents[documentType]; ok && d.Priority > 0 {
		return d.Priority
	}
	return domain.PriorityDefaultExtraction
}

func (s *Service) logStep(ctx context.Context, applicationID, step, status, message string, durationMs *int64) {
	if err := s.store.LogProcessing(ctx, domain.ProcessingLog{
		ApplicationID: applicationID,
		Agent:         agentName,
		Step:          step,
		Status:        status,
		Message:       message,
		DurationMs:    durationMs,
	}); err != nil {
		s.logger.Warn("Failed to write processing log",
			slog.String("application_id", applicationID),
			slog.String("error", err.Error()),
		)
	}
}
