package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/clock"
	"github.com/cuongbtq/mortgage-recon/internal/config"
	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/events"
	"github.com/cuongbtq/mortgage-recon/internal/golden"
	"github.com/cuongbtq/mortgage-recon/internal/ingestion"
	"github.com/cuongbtq/mortgage-recon/internal/ocr"
	"github.com/cuongbtq/mortgage-recon/internal/storage/memory"
	"github.com/cuongbtq/mortgage-recon/shared/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedOCR answers by filename and can fail the first N calls for a file.
type scriptedOCR struct {
	mu       sync.Mutex
	answers  map[string][]ocr.Answer
	failures map[string]int
	calls    map[string]int
}

func newScriptedOCR() *scriptedOCR {
	return &scriptedOCR{
		answers:  map[string][]ocr.Answer{},
		failures: map[string]int{},
		calls:    map[string]int{},
	}
}

func (s *scriptedOCR) Analyze(_ context.Context, _ []byte, filename string, _ []ocr.Query) ([]ocr.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[filename]++
	if s.failures[filename] > 0 {
		s.failures[filename]--
		return nil, domain.NewRetryableError(errors.New("ocr service unavailable"))
	}
	return s.answers[filename], nil
}

func (s *scriptedOCR) Classify(context.Context, []byte, string) (string, error) {
	return "", errors.New("classification unavailable")
}

type harness struct {
	orch   *Orchestrator
	store  *memory.Store
	ocr    *scriptedOCR
	events *events.Recorder
}

func newHarness(t *testing.T, tweak func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Validation.FormattingThreshold = 50
	if tweak != nil {
		tweak(cfg)
	}

	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	h := &harness{store: memory.New(), ocr: newScriptedOCR(), events: &events.Recorder{}}
	h.orch, err = New(Dependencies{
		Logger:    discardLogger(),
		Config:    cfg,
		Store:     h.store,
		OCR:       h.ocr,
		Blobs:     blobs,
		Publisher: h.events,
		Clock:     clock.NewFake(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return h
}

// drain polls until a poll starts nothing, waiting for each batch to finish.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		n, err := h.orch.scheduler.Poll(ctx)
		require.NoError(t, err)
		h.orch.scheduler.Wait()
		if n == 0 {
			return
		}
	}
	t.Fatal("job queue did not drain")
}

func pdf(name, docType string) ingestion.Upload {
	return ingestion.Upload{Filename: name, Content: []byte("%PDF-1.4 " + name), DocumentType: docType}
}

func answer(alias, text string, confidence float64) ocr.Answer {
	return ocr.Answer{Page: 1, Alias: alias, Text: text, Confidence: confidence}
}

func resultFor(t *testing.T, results []domain.ValidationResult, field string) domain.ValidationResult {
	t.Helper()
	for _, r := range results {
		if r.FieldName == field {
			return r
		}
	}
	t.Fatalf("no validation result for %s", field)
	return domain.ValidationResult{}
}

func goldenFor(t *testing.T, records []domain.GoldenRecord, field string) domain.GoldenRecord {
	t.Helper()
	for _, r := range records {
		if r.FieldName == field {
			return r
		}
	}
	t.Fatalf("no golden record for %s", field)
	return domain.GoldenRecord{}
}

func documentID(t *testing.T, batch *ingestion.BatchResult, filename string) string {
	t.Helper()
	for _, r := range batch.Results {
		if r.Filename == filename {
			require.True(t, r.Success, r.Error)
			return r.DocumentID
		}
	}
	t.Fatalf("no upload result for %s", filename)
	return ""
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.orch.CreateApplication(ctx, "APP-100", map[string]string{
		"APPLICANT_FIRST_NAME": "John",
		"APPLICANT_LAST_NAME":  "Smith",
		"APPLICANT_DOB":        "1990-01-01",
		"APPLICANT_SIN":        "123-456-789",
		"APPLICANT_ADDRESS":    "123 Main St",
		"EMPLOYER_NAME":        "Acme Corp",
		"ANNUAL_INCOME":        "50000",
		"CREDIT_SCORE":         "720",
		"ACCOUNT_HOLDER":       "John Smith",
		"ASSESSED_VALUE":       "400000",
	}, []string{
		"APPLICANT_FIRST_NAME", "APPLICANT_LAST_NAME", "APPLICANT_DOB", "APPLICANT_SIN", "APPLICANT_ADDRESS",
		"EMPLOYER_NAME", "ANNUAL_INCOME", "CREDIT_SCORE", "ACCOUNT_HOLDER", "ASSESSED_VALUE",
	})
	require.NoError(t, err)

	h.ocr.answers["t4.pdf"] = []ocr.Answer{
		answer("APPLICANT_FIRST_NAME", "John", 95),
		answer("APPLICANT_LAST_NAME", "Smith", 95),
		answer("EMPLOYER_NAME", "Acme Corp", 90),
		answer("ANNUAL_INCOME", "$52,000.00", 90),
	}
	h.ocr.answers["credit.pdf"] = []ocr.Answer{
		answer("CREDIT_SCORE", "720", 90),
		answer("APPLICANT_DOB", "01/02/1990", 95),
	}
	h.ocr.answers["bank.pdf"] = []ocr.Answer{
		answer("ACCOUNT_HOLDER", "John Smith", 90),
		answer("APPLICANT_ADDRESS", "123 Main Street", 60),
	}
	h.ocr.answers["assessment.pdf"] = []ocr.Answer{
		answer("ASSESSED_VALUE", "$400,000", 90),
		answer("APPLICANT_ADDRESS", "PO Box 77, Elm", 95),
	}

	batch, err := h.orch.UploadDocuments(ctx, "APP-100", "", []ingestion.Upload{
		pdf("t4.pdf", "t4_form"),
		pdf("credit.pdf", "credit_report"),
		pdf("bank.pdf", "bank_statement"),
		pdf("assessment.pdf", "property_assessment"),
	})
	require.NoError(t, err)
	require.Equal(t, 4, batch.Successful)
	t4Doc := documentID(t, batch, "t4.pdf")
	bankDoc := documentID(t, batch, "bank.pdf")

	// Uploads already scheduled extraction, so starting again adds nothing.
	started, err := h.orch.StartProcessing(ctx, "APP-100")
	require.NoError(t, err)
	assert.Equal(t, 0, started.Enqueued)

	h.drain(t)

	results, err := h.store.LatestValidationResults(ctx, "APP-100")
	require.NoError(t, err)
	records, err := h.store.LatestGoldenRecords(ctx, "APP-100")
	require.NoError(t, err)

	t.Run("income within tolerance takes the document value", func(t *testing.T) {
		res := resultFor(t, results, "ANNUAL_INCOME")
		assert.Equal(t, domain.StatusValidated, res.ValidationStatus)

		rec := goldenFor(t, records, "ANNUAL_INCOME")
		assert.Equal(t, domain.SourceDocumentExtraction, rec.DataSource)
		assert.Equal(t, "$52,000.00", rec.FieldValue)
		assert.InDelta(t, 0.9, rec.ConfidenceScore, 1e-9)
		require.NotNil(t, rec.SourceDocumentID)
		assert.Equal(t, t4Doc, *rec.SourceDocumentID)
	})

	t.Run("date of birth mismatch keeps the form value", func(t *testing.T) {
		res := resultFor(t, results, "APPLICANT_DOB")
		assert.Equal(t, domain.StatusMismatch, res.ValidationStatus)
		assert.Equal(t, domain.MismatchValueDifference, res.MismatchType)
		assert.Equal(t, domain.SeverityHigh, res.MismatchSeverity)

		rec := goldenFor(t, records, "APPLICANT_DOB")
		assert.Equal(t, domain.SourceApplicationForm, rec.DataSource)
		assert.Equal(t, "1990-01-01", rec.FieldValue)
	})

	t.Run("critical field without documents falls back to the form", func(t *testing.T) {
		res := resultFor(t, results, "APPLICANT_SIN")
		assert.Equal(t, domain.StatusMissing, res.ValidationStatus)
		assert.Equal(t, domain.SeverityCritical, res.MismatchSeverity)

		rec := goldenFor(t, records, "APPLICANT_SIN")
		assert.Equal(t, domain.SourceApplicationForm, rec.DataSource)
		assert.InDelta(t, 0.8, rec.ConfidenceScore, 1e-9)
	})

	t.Run("address uses the best scored candidate", func(t *testing.T) {
		res := resultFor(t, results, "APPLICANT_ADDRESS")
		require.NotNil(t, res.DocumentValue)
		assert.Equal(t, "123 Main Street", *res.DocumentValue)
		require.NotNil(t, res.DocumentID)
		assert.Equal(t, bankDoc, *res.DocumentID)
	})

	t.Run("status reflects every finished stage", func(t *testing.T) {
		status, err := h.orch.ProcessingStatus(ctx, "APP-100")
		require.NoError(t, err)

		assert.Equal(t, domain.AppStatusCompleted, status.ApplicationStatus)
		assert.Equal(t, 4, status.Documents.Completed)
		assert.Equal(t, 100.0, status.Progress.Stages.Ingestion)
		assert.Equal(t, 100.0, status.Progress.Stages.Extraction)
		assert.InDelta(t, 80.0, status.Progress.Stages.Validation, 1e-9)
		assert.InDelta(t, 92.0, status.Progress.CompletionPercentage, 1e-9)
		assert.Equal(t, StageValidation, status.Progress.CurrentStage)
		assert.True(t, status.ReadyForDecisionEngine)
		assert.Equal(t, 6, status.Jobs[domain.JobStatusCompleted])
		assert.Equal(t, 0, status.Jobs[domain.JobStatusFailed])
		require.NotNil(t, status.Validation)
		assert.True(t, status.Validation.FormattingEnqueued)
	})

	t.Run("one validation run for all documents", func(t *testing.T) {
		var validations int
		for _, j := range h.store.AllJobs("APP-100") {
			if j.Stage == domain.StageValidation {
				validations++
			}
		}
		assert.Equal(t, 1, validations)
		assert.Contains(t, h.events.Types(), events.GoldenCompleted)
	})

	t.Run("golden summary and export", func(t *testing.T) {
		summary, err := h.orch.GoldenSummary(ctx, "APP-100")
		require.NoError(t, err)
		assert.Equal(t, 10, summary.TotalFields)
		assert.Contains(t, summary.Categories[golden.Categorize("ANNUAL_INCOME")], "ANNUAL_INCOME")

		xlsx, err := h.orch.ExportGolden(ctx, "APP-100")
		require.NoError(t, err)
		assert.Equal(t, []byte("PK"), xlsx[:2])
	})
}

func TestOrchestrator_RetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.orch.CreateApplication(ctx, "APP-200", map[string]string{"ANNUAL_INCOME": "50000"}, nil)
	require.NoError(t, err)
	h.ocr.answers["flaky.pdf"] = []ocr.Answer{answer("ANNUAL_INCOME", "50000", 99)}
	h.ocr.failures["flaky.pdf"] = 2

	_, err = h.orch.UploadDocuments(ctx, "APP-200", "", []ingestion.Upload{pdf("flaky.pdf", "t4_form")})
	require.NoError(t, err)

	h.drain(t)

	var extractionJob *domain.Job
	for _, j := range h.store.AllJobs("APP-200") {
		if j.Stage == domain.StageExtraction {
			extractionJob = j
		}
	}
	require.NotNil(t, extractionJob)
	assert.Equal(t, domain.JobStatusCompleted, extractionJob.Status)
	assert.Equal(t, 2, extractionJob.RetryCount)
	assert.Equal(t, 3, h.ocr.calls["flaky.pdf"])

	app, err := h.orch.GetApplication(ctx, "APP-200")
	require.NoError(t, err)
	assert.Equal(t, domain.AppStatusCompleted, app.Status)
}

func TestOrchestrator_RetryProcessing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *config.Config) { c.Scheduler.AutoRetry = false })

	_, err := h.orch.CreateApplication(ctx, "APP-300", map[string]string{"ANNUAL_INCOME": "50000"}, nil)
	require.NoError(t, err)
	h.ocr.answers["t4.pdf"] = []ocr.Answer{answer("ANNUAL_INCOME", "50000", 99)}
	h.ocr.failures["t4.pdf"] = 1

	_, err = h.orch.UploadDocuments(ctx, "APP-300", "", []ingestion.Upload{pdf("t4.pdf", "t4_form")})
	require.NoError(t, err)
	h.drain(t)

	status, err := h.orch.ProcessingStatus(ctx, "APP-300")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Jobs[domain.JobStatusFailed])
	assert.Equal(t, 1, status.Documents.Failed)

	retry, err := h.orch.RetryProcessing(ctx, "APP-300")
	require.NoError(t, err)
	assert.Equal(t, 1, retry.RetriedJobs)

	app, err := h.orch.GetApplication(ctx, "APP-300")
	require.NoError(t, err)
	assert.Equal(t, domain.AppStatusProcessing, app.Status)

	h.drain(t)

	app, err = h.orch.GetApplication(ctx, "APP-300")
	require.NoError(t, err)
	assert.Equal(t, domain.AppStatusCompleted, app.Status)

	_, err = h.orch.RetryProcessing(ctx, "APP-404")
	assert.ErrorIs(t, err, domain.ErrApplicationNotFound)
}

func TestOrchestrator_StartProcessingRequeuesOrphans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.orch.CreateApplication(ctx, "APP-400", map[string]string{"ANNUAL_INCOME": "50000"}, nil)
	require.NoError(t, err)
	require.NoError(t, h.store.CreateDocument(ctx, &domain.Document{
		ID:               "doc-orphan",
		ApplicationID:    "APP-400",
		Filename:         "letter.pdf",
		DocumentType:     "employment_letter",
		ProcessingStatus: domain.DocStatusPending,
	}))

	started, err := h.orch.StartProcessing(ctx, "APP-400")
	require.NoError(t, err)
	assert.Equal(t, 1, started.Enqueued)

	jobs := h.store.AllJobs("APP-400")
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].Priority)
	require.NotNil(t, jobs[0].DocumentID)
	assert.Equal(t, "doc-orphan", *jobs[0].DocumentID)

	again, err := h.orch.StartProcessing(ctx, "APP-400")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Enqueued)

	_, err = h.orch.StartProcessing(ctx, "APP-404")
	assert.ErrorIs(t, err, domain.ErrApplicationNotFound)
}

func TestOrchestrator_CreateApplication(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	tests := []struct {
		name      string
		appID     string
		form      map[string]string
		order     []string
		wantErr   error
		wantOrder []string
	}{
		{
			name:      "explicit order kept",
			appID:     "APP-1",
			form:      map[string]string{"B": "2", "A": "1"},
			order:     []string{"B", "A"},
			wantOrder: []string{"B", "A"},
		},
		{
			name:      "missing order sorted by name",
			appID:     "APP-2",
			form:      map[string]string{"B": "2", "A": "1"},
			wantOrder: []string{"A", "B"},
		},
		{
			name:    "blank id",
			appID:   "  ",
			form:    map[string]string{"A": "1"},
			wantErr: domain.ErrInvalidApplication,
		},
		{
			name:    "empty form",
			appID:   "APP-3",
			wantErr: domain.ErrInvalidApplication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, err := h.orch.CreateApplication(ctx, tt.appID, tt.form, tt.order)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.AppStatusDocumentUpload, app.Status)

			stored, err := h.orch.GetApplication(ctx, tt.appID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrder, stored.FormFieldOrder)
		})
	}
}

func TestOrchestrator_DocumentChecklists(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.orch.CreateApplication(ctx, "APP-500", map[string]string{"ANNUAL_INCOME": "50000"}, nil)
	require.NoError(t, err)
	h.ocr.answers["t4.pdf"] = []ocr.Answer{
		answer("ANNUAL_INCOME", "50000", 99),
		answer("APPLICANT_SIN", "123-456-789", 99),
	}
	_, err = h.orch.UploadDocuments(ctx, "APP-500", "", []ingestion.Upload{pdf("t4.pdf", "t4_form")})
	require.NoError(t, err)
	h.drain(t)

	t.Run("required documents", func(t *testing.T) {
		req, err := h.orch.RequiredDocuments(ctx, "APP-500")
		require.NoError(t, err)

		assert.Equal(t, 2, req.TotalRequired)
		assert.Equal(t, 1, req.Uploaded)
		assert.Equal(t, 1, req.Missing)
		byType := map[string]RequiredDocument{}
		for _, d := range req.Documents {
			byType[d.DocumentType] = d
		}
		assert.Equal(t, DocumentMissing, byType["mortgage_application"].Status)
		assert.Equal(t, "Mortgage Application", byType["mortgage_application"].DisplayName)
		assert.Equal(t, DocumentUploaded, byType["t4_form"].Status)
		assert.NotNil(t, byType["t4_form"].UploadedAt)
		assert.Contains(t, byType["t4_form"].AvailableFields, "ANNUAL_INCOME")
	})

	t.Run("missing fields", func(t *testing.T) {
		missing, err := h.orch.MissingFields(ctx, "APP-500")
		require.NoError(t, err)

		names := map[string]MissingField{}
		for _, f := range missing.Fields {
			names[f.FieldName] = f
		}
		assert.NotContains(t, names, "ANNUAL_INCOME")
		assert.NotContains(t, names, "APPLICANT_SIN")
		require.Contains(t, names, "APPLICANT_DOB")
		assert.True(t, names["APPLICANT_DOB"].IsCritical)
		assert.False(t, names["CREDIT_SCORE"].IsCritical)
		assert.Equal(t, PriorityMedium, names["CREDIT_SCORE"].Priority)

		require.NotEmpty(t, missing.Fields)
		assert.True(t, missing.Fields[0].IsCritical)
		assert.Equal(t, missing.TotalMissing, len(missing.Fields))
		assert.Greater(t, missing.CompletionPercentage, 0.0)

		require.NotEmpty(t, missing.Recommended)
		assert.LessOrEqual(t, len(missing.Recommended), maxRecommendations)
		assert.Equal(t, "mortgage_application", missing.Recommended[0].DocumentType)
	})

	t.Run("unknown application", func(t *testing.T) {
		_, err := h.orch.RequiredDocuments(ctx, "APP-404")
		assert.ErrorIs(t, err, domain.ErrApplicationNotFound)
		_, err = h.orch.MissingFields(ctx, "APP-404")
		assert.ErrorIs(t, err, domain.ErrApplicationNotFound)
	})
}

func TestOrchestrator_Metrics(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.orch.CreateApplication(ctx, "APP-1", map[string]string{"ANNUAL_INCOME": "1"}, nil)
	require.NoError(t, err)
	_, err = h.orch.CreateApplication(ctx, "APP-2", map[string]string{"ANNUAL_INCOME": "1"}, nil)
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateApplicationStatus(ctx, "APP-2", domain.AppStatusCompleted, nil))
	_, err = h.orch.queue.EnqueueValidation(ctx, "APP-1")
	require.NoError(t, err)

	m, err := h.orch.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalApplications)
	assert.Equal(t, 1, m.Applications[domain.AppStatusCompleted])
	assert.InDelta(t, 50.0, m.CompletionRate, 1e-9)
	assert.Equal(t, 1, m.Jobs[domain.JobStatusPending])
}

func TestOrchestrator_ExportWithoutGolden(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	_, err := h.orch.CreateApplication(ctx, "APP-1", map[string]string{"ANNUAL_INCOME": "1"}, nil)
	require.NoError(t, err)

	_, err = h.orch.ExportGolden(ctx, "APP-1")
	assert.ErrorIs(t, err, domain.ErrGoldenMissing)

	summary, err := h.orch.GoldenSummary(ctx, "APP-1")
	require.NoError(t, err)
	assert.Equal(t, golden.SummaryNoData, summary.Status)
}

func TestOverallProgress(t *testing.T) {
	tests := []struct {
		name      string
		stages    StageProgress
		wantPct   float64
		wantStage string
	}{
		{name: "nothing uploaded", wantStage: StageIngestion},
		{name: "uploaded", stages: StageProgress{Ingestion: 100}, wantPct: 25, wantStage: StageExtraction},
		{name: "half extracted", stages: StageProgress{Ingestion: 100, Extraction: 50}, wantPct: 42.5, wantStage: StageExtraction},
		{name: "extracted", stages: StageProgress{Ingestion: 100, Extraction: 100, Validation: 50}, wantPct: 80, wantStage: StageValidation},
		{name: "all validated", stages: StageProgress{Ingestion: 100, Extraction: 100, Validation: 100}, wantPct: 100, wantStage: StageCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OverallProgress(tt.stages)
			assert.InDelta(t, tt.wantPct, got.CompletionPercentage, 1e-9)
			assert.Equal(t, tt.wantStage, got.CurrentStage)
		})
	}
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Dependencies{})
	assert.Error(t, err)
}
