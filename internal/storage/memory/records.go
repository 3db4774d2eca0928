package memory

import (
	"context"
	"sort"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/google/uuid"
)

// Applications

func copyApp(a *domain.Application) *domain.Application {
	c := *a
	c.FormData = make(map[string]string, len(a.FormData))
	for k, v := range a.FormData {
		c.FormData[k] = v
	}
	c.FormFieldOrder = append([]string(nil), a.FormFieldOrder...)
	if a.CompletionPercentage != nil {
		p := *a.CompletionPercentage
		c.CompletionPercentage = &p
	}
	return &c
}

func (s *Store) CreateApplication(_ context.Context, app *domain.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[app.ApplicationID] = copyApp(app)
	return nil
}

func (s *Store) GetApplication(_ context.Context, applicationID string) (*domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[applicationID]
	if !ok {
		return nil, domain.ErrApplicationNotFound
	}
	return copyApp(app), nil
}

func (s *Store) UpdateApplicationStatus(_ context.Context, applicationID, status string, completion *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[applicationID]
	if !ok {
		return domain.ErrApplicationNotFound
	}
	app.Status = status
	if completion != nil {
		p := *completion
		app.CompletionPercentage = &p
	}
	return nil
}

func (s *Store) CountApplicationsByStatus(_ context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range s.applications {
		counts[a.Status]++
	}
	return counts, nil
}

// Documents

func (s *Store) CreateDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	c := *doc
	s.documents[doc.ID] = &c
	s.docOrder = append(s.docOrder, doc.ID)
	return nil
}

func (s *Store) GetDocument(_ context.Context, documentID string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	c := *d
	return &c, nil
}

func (s *Store) ListDocuments(_ context.Context, applicationID string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, id := range s.docOrder {
		if d := s.documents[id]; d.ApplicationID == applicationID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *Store) UpdateDocumentStatus(_ context.Context, documentID, status string, message *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	d.ProcessingStatus = status
	d.StatusMessage = message
	return nil
}

// Extracted fields

func (s *Store) SaveExtractedFields(_ context.Context, fields []domain.ExtractedField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		s.extracted = append(s.extracted, f)
	}
	return nil
}

func (s *Store) ListExtractedFields(_ context.Context, applicationID string) ([]domain.ExtractedField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ExtractedField
	for _, f := range s.extracted {
		if f.ApplicationID == applicationID {
			out = append(out, f)
		}
	}
	return out, nil
}

// Validation

func (s *Store) SaveValidationRun(_ context.Context, summary *domain.ValidationSummary, results []domain.ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, results...)
	if summary != nil {
		c := *summary
		s.summaries = append(s.summaries, c)
	}
	return nil
}

func (s *Store) MarkFormattingEnqueued(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.summaries {
		if s.summaries[i].RunID == runID {
			s.summaries[i].FormattingEnqueued = true
			return nil
		}
	}
	return domain.ErrValidationMissing
}

// LatestValidationResults returns the most recent result per field, ordered by field name.
func (s *Store) LatestValidationResults(_ context.Context, applicationID string) ([]domain.ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[string]domain.ValidationResult)
	for _, r := range s.results {
		if r.ApplicationID != applicationID {
			continue
		}
		if prev, ok := latest[r.FieldName]; !ok || !r.ValidatedAt.Before(prev.ValidatedAt) {
			latest[r.FieldName] = r
		}
	}
	out := make([]domain.ValidationResult, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out, nil
}

func (s *Store) LatestValidationSummary(_ context.Context, applicationID string) (*domain.ValidationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.summaries) - 1; i >= 0; i-- {
		if s.summaries[i].ApplicationID == applicationID {
			c := s.summaries[i]
			return &c, nil
		}
	}
	return nil, domain.ErrValidationMissing
}

// Golden records

func (s *Store) SaveGoldenRecords(_ context.Context, records []domain.GoldenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.golden = append(s.golden, r)
	}
	return nil
}

// LatestGoldenRecords returns the newest record per field, ordered by field name.
func (s *Store) LatestGoldenRecords(_ context.Context, applicationID string) ([]domain.GoldenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[string]domain.GoldenRecord)
	for _, r := range s.golden {
		if r.ApplicationID != applicationID {
			continue
		}
		if prev, ok := latest[r.FieldName]; !ok || !r.CreatedAt.Before(prev.CreatedAt) {
			latest[r.FieldName] = r
		}
	}
	out := make([]domain.GoldenRecord, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out, nil
}

// Processing logs

func (s *Store) LogProcessing(_ context.Context, entry domain.ProcessingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// ProcessingLogs returns the audit trail for an application.
func (s *Store) ProcessingLogs(applicationID string) []domain.ProcessingLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ProcessingLog
	for _, l := range s.logs {
		if l.ApplicationID == applicationID {
			out = append(out, l)
		}
	}
	return out
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
