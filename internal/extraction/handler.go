// Package extraction turns uploaded documents into extracted field candidates.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/clock"
	"github.com/cuongbtq/mortgage-recon/internal/config"
	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/events"
	"github.com/cuongbtq/mortgage-recon/internal/normalize"
	"github.com/cuongbtq/mortgage-recon/internal/ocr"
	"github.com/cuongbtq/mortgage-recon/shared/obs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	agentName = "data_extraction"
	stepName  = "document_analysis"

	// MethodOCRQuery marks fields answered by a document query
	MethodOCRQuery = "ocr_query"

	// pagedDocumentType is analyzed one page at a time
	pagedDocumentType = "mortgage_application"
)

// ErrNoDocument is returned for extraction jobs without a document id
var ErrNoDocument = errors.New("extraction job has no document")

// Store is the persistence the handler needs.
type Store interface {
	GetDocument(ctx context.Context, documentID string) (*domain.Document, error)
	UpdateDocumentStatus(ctx context.Context, documentID, status string, message *string) error
	SaveExtractedFields(ctx context.Context, fields []domain.ExtractedField) error
	HasPendingJob(ctx context.Context, applicationID string, stage domain.Stage) (bool, error)
	LogProcessing(ctx context.Context, entry domain.ProcessingLog) error
}

// Blobs reads stored document bytes.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Analyzer answers document queries.
type Analyzer interface {
	Analyze(ctx context.Context, content []byte, filename string, queries []ocr.Query) ([]ocr.Answer, error)
}

// QueryCatalog lists the queries asked of each document type.
type QueryCatalog interface {
	QueriesFor(documentType string, page int) []config.QueryConfig
	PagesFor(documentType string) []int
}

// Enqueuer schedules the follow-up validation run.
type Enqueuer interface {
	EnqueueValidation(ctx context.Context, applicationID string) (*domain.Job, error)
}

// Result summarises one document extraction.
type Result struct {
	DocumentID    string                  `json:"document_id"`
	ApplicationID string                  `json:"application_id"`
	Fields        []domain.ExtractedField `json:"fields"`
	Dropped       int                     `json:"dropped"`
	ValidationJob string                  `json:"validation_job,omitempty"`
}

// Handler runs the extraction stage.
type Handler struct {
	store     Store
	blobs     Blobs
	analyzer  Analyzer
	catalog   QueryCatalog
	queue     Enqueuer
	publisher events.Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

// NewHandler creates an extraction handler
func NewHandler(store Store, blobs Blobs, analyzer Analyzer, catalog QueryCatalog, queue Enqueuer, publisher events.Publisher, clk clock.Clock, logger *slog.Logger) *Handler {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Handler{
		store:     store,
		blobs:     blobs,
		analyzer:  analyzer,
		catalog:   catalog,
		queue:     queue,
		publisher: publisher,
		clock:     clk,
		logger:    logger.With("component", "extraction"),
	}
}

// Handle extracts the job's document.
func (h *Handler) Handle(ctx context.Context, job *domain.Job) error {
	if job.DocumentID == nil || *job.DocumentID == "" {
		return fmt.Errorf("%w: job %s", ErrNoDocument, job.ID)
	}
	_, err := h.Run(ctx, job.ApplicationID, *job.DocumentID)
	return err
}

// Run extracts one document and schedules validation for its application.
func (h *Handler) Run(ctx context.Context, applicationID, documentID string) (*Result, error) {
	ctx, span := obs.StartSpan(ctx, "extraction.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("application_id", applicationID),
		attribute.String("document_id", documentID),
	)

	start := h.clock.Now()
	h.logStep(ctx, applicationID, documentID, "started", "Starting document analysis", nil)

	result, err := h.run(ctx, applicationID, documentID)
	elapsed := h.clock.Now().Sub(start).Milliseconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		msg := fmt.Sprintf("Data extraction failed: %s", err.Error())
		h.logger.Error("Data extraction failed",
			slog.String("application_id", applicationID),
			slog.String("document_id", documentID),
			slog.String("error", err.Error()),
		)
		if !errors.Is(err, domain.ErrDocumentNotFound) {
			if uerr := h.store.UpdateDocumentStatus(ctx, documentID, domain.DocStatusFailed, &msg); uerr != nil {
				h.logger.Warn("Failed to mark document failed",
					slog.String("document_id", documentID),
					slog.String("error", uerr.Error()),
				)
			}
		}
		h.logStep(ctx, applicationID, documentID, "failed", msg, &elapsed)
		return nil, err
	}

	h.logStep(ctx, applicationID, documentID, "completed",
		fmt.Sprintf("Successfully extracted %d fields", len(result.Fields)), &elapsed)
	return result, nil
}

func (h *Handler) run(ctx context.Context, applicationID, documentID string) (*Result, error) {
	// Step 1: Load the document record and bytes
	doc, err := h.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	content, err := h.blobs.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", documentID, err)
	}

	startMsg := "Starting data extraction"
	if err := h.store.UpdateDocumentStatus(ctx, documentID, domain.DocStatusProcessing, &startMsg); err != nil {
		return nil, fmt.Errorf("failed to update document status: %w", err)
	}

	// Step 2: Ask the catalog queries
	answers, queries, err := h.analyze(ctx, doc, content)
	if err != nil {
		return nil, err
	}

	// Step 3: Convert answers and drop anything that does not fit the schema
	result := &Result{DocumentID: documentID, ApplicationID: applicationID}
	now := h.clock.Now()
	for _, a := range answers {
		q, ok := queries[a.Alias]
		if !ok {
			continue
		}
		field := toField(a, q, doc, now)
		if err := ValidateField(field); err != nil {
			result.Dropped++
			h.logger.Warn("Dropping extracted field",
				slog.String("document_id", documentID),
				slog.String("field", field.FieldName),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Fields = append(result.Fields, field)
	}

	// Step 4: Persist
	if err := h.store.SaveExtractedFields(ctx, result.Fields); err != nil {
		return nil, fmt.Errorf("failed to save extracted fields: %w", err)
	}
	doneMsg := fmt.Sprintf("Extracted %d fields", len(result.Fields))
	if err := h.store.UpdateDocumentStatus(ctx, documentID, domain.DocStatusCompleted, &doneMsg); err != nil {
		return nil, fmt.Errorf("failed to update document status: %w", err)
	}

	// Step 5: Schedule validation unless one is already waiting
	if len(result.Fields) > 0 {
		jobID, err := h.scheduleValidation(ctx, applicationID)
		if err != nil {
			return nil, err
		}
		result.ValidationJob = jobID
	}

	h.logger.Info("Document extracted",
		slog.String("application_id", applicationID),
		slog.String("document_id", documentID),
		slog.String("document_type", doc.DocumentType),
		slog.Int("fields", len(result.Fields)),
		slog.Int("dropped", result.Dropped),
	)

	if err := h.publisher.Publish(ctx, events.Event{
		Type:          events.ExtractionCompleted,
		ApplicationID: applicationID,
		DocumentID:    documentID,
		Data: map[string]any{
			"document_type": doc.DocumentType,
			"fields":        len(result.Fields),
		},
		OccurredAt: now,
	}); err != nil {
		h.logger.Warn("Failed to publish extraction event",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()),
		)
	}

	return result, nil
}

// analyze runs the document's queries, page by page for paged document types.
func (h *Handler) analyze(ctx context.Context, doc *domain.Document, content []byte) ([]ocr.Answer, map[string]config.QueryConfig, error) {
	byAlias := map[string]config.QueryConfig{}
	all := h.catalog.QueriesFor(doc.DocumentType, 0)
	for _, q := range all {
		byAlias[q.Alias] = q
	}
	if len(all) == 0 {
		h.logger.Warn("No queries configured for document type",
			slog.String("document_id", doc.ID),
			slog.String("document_type", doc.DocumentType),
		)
		return nil, byAlias, nil
	}

	if doc.DocumentType != pagedDocumentType {
		answers, err := h.analyzer.Analyze(ctx, content, doc.Filename, toQueries(all, 0))
		if err != nil {
			return nil, nil, fmt.Errorf("document analysis failed: %w", err)
		}
		return answers, byAlias, nil
	}

	var answers []ocr.Answer
	for _, page := range h.catalog.PagesFor(doc.DocumentType) {
		pageAnswers, err := h.analyzer.Analyze(ctx, content, doc.Filename, toQueries(h.catalog.QueriesFor(doc.DocumentType, page), page))
		if err != nil {
			return nil, nil, fmt.Errorf("document analysis failed on page %d: %w", page, err)
		}
		for _, a := range pageAnswers {
			if a.Page == 0 {
				a.Page = page
			}
			answers = append(answers, a)
		}
	}
	return answers, byAlias, nil
}

func (h *Handler) scheduleValidation(ctx context.Context, applicationID string) (string, error) {
	pending, err := h.store.HasPendingJob(ctx, applicationID, domain.StageValidation)
	if err != nil {
		return "", fmt.Errorf("failed to check pending validation: %w", err)
	}
	if pending {
		h.logger.Debug("Validation already pending",
			slog.String("application_id", applicationID),
		)
		return "", nil
	}

	job, err := h.queue.EnqueueValidation(ctx, applicationID)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue validation: %w", err)
	}
	return job.ID, nil
}

func toQueries(qs []config.QueryConfig, page int) []ocr.Query {
	out := make([]ocr.Query, 0, len(qs))
	for _, q := range qs {
		oq := ocr.Query{Text: q.Text, Alias: q.Alias}
		if page > 0 {
			oq.Pages = []int{page}
		}
		out = append(out, oq)
	}
	return out
}

func toField(a ocr.Answer, q config.QueryConfig, doc *domain.Document, now time.Time) domain.ExtractedField {
	value := strings.TrimSpace(a.Text)
	confidence := a.Confidence
	if confidence > 1 {
		confidence /= 100
	}

	fieldType := normalize.DetectFieldType(q.Alias, value)
	if fieldType == domain.FieldTypeText && q.FieldType != "" {
		fieldType = q.FieldType
	}

	page := a.Page
	if page == 0 {
		page = q.Page
	}

	return domain.ExtractedField{
		DocumentID:       doc.ID,
		ApplicationID:    doc.ApplicationID,
		FieldName:        q.Alias,
		FieldValue:       value,
		FieldType:        fieldType,
		Confidence:       confidence,
		ExtractionMethod: MethodOCRQuery,
		PageNumber:       page,
		ExtractedAt:      now,
	}
}

func (h *Handler) logStep(ctx context.Context, applicationID, documentID, status, message string, durationMs *int64) {
	docID := documentID
	if err := h.store.LogProcessing(ctx, domain.ProcessingLog{
		ApplicationID: applicationID,
		DocumentID:    &docID,
		Agent:         agentName,
		Step:          stepName,
		Status:        status,
		Message:       message,
		DurationMs:    durationMs,
	}); err != nil {
		h.logger.Warn("Failed to write processing log",
			slog.String("application_id", applicationID),
			slog.String("error", err.Error()),
		)
	}
}
