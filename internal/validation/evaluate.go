package validation

import (
	"fmt"

	"github.com/cuongbtq/mortgage-recon/internal/compare"
	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/selector"
)

// CompletionThreshold is the validated share at or above which a run counts as completed.
const CompletionThreshold = 80.0

// Overall run statuses
const (
	OverallCompleted   = "completed"
	OverallNeedsReview = "needs_review"
)

// GroupCandidates buckets extracted fields by name, keeping extraction order within each bucket.
func GroupCandidates(fields []domain.ExtractedField) map[string][]domain.ExtractedField {
	grouped := make(map[string][]domain.ExtractedField)
	for _, f := range fields {
		grouped[f.FieldName] = append(grouped[f.FieldName], f)
	}
	return grouped
}

// EvaluateField produces the verdict for a single form field. RunID and timestamps are left
// for the caller to stamp.
func EvaluateField(applicationID, field, appValue string, candidates []domain.ExtractedField, rule domain.FieldRule) domain.ValidationResult {
	res := domain.ValidationResult{
		ApplicationID:    applicationID,
		FieldName:        field,
		ApplicationValue: appValue,
	}

	sel := selector.Select(rule, appValue, candidates)
	switch sel.Kind {
	case selector.Missing:
		res.ValidationStatus = domain.StatusMissing
		res.MismatchType = domain.MismatchMissingDocument
		res.MismatchSeverity = selector.MissingSeverity(rule)
		res.FlagForReview = true
		res.ValidationNotes = fmt.Sprintf("No document data found for field: %s", field)
		return res

	case selector.NoMatch:
		hundred := 100.0
		res.ValidationStatus = domain.StatusMismatch
		res.MismatchType = domain.MismatchValueDifference
		res.MismatchSeverity = domain.SeverityHigh
		res.DiscrepancyPercentage = &hundred
		res.FlagForReview = true
		res.ValidationNotes = fmt.Sprintf("No matching document value found for field: %s", field)
		return res
	}

	chosen := sel.Candidate
	out := compare.Compare(appValue, chosen.FieldValue, rule.Type(), rule.Tolerance)

	docValue := chosen.FieldValue
	res.DocumentValue = &docValue
	if chosen.DocumentID != "" {
		docID := chosen.DocumentID
		res.DocumentID = &docID
	}
	res.ConfidenceScore = chosen.Confidence
	res.ValidationStatus = out.Status
	res.MismatchType = out.MismatchType
	res.MismatchSeverity = out.Severity
	res.DiscrepancyPercentage = out.DiscrepancyPct
	res.FlagForReview = out.FlagForReview
	res.ValidationNotes = out.Notes
	return res
}

// Evaluate validates every form field, in form order, against the extracted candidates.
// It performs no I/O.
func Evaluate(applicationID string, form []domain.FormField, extracted []domain.ExtractedField, catalog domain.Catalog) ([]domain.ValidationResult, domain.ValidationSummary) {
	grouped := GroupCandidates(extracted)

	results := make([]domain.ValidationResult, 0, len(form))
	for _, f := range form {
		results = append(results, EvaluateField(applicationID, f.Name, f.Value, grouped[f.Name], catalog.Rule(f.Name)))
	}

	summary := Summarize(results)
	summary.ApplicationID = applicationID
	return results, summary
}

// Summarize aggregates field verdicts.
func Summarize(results []domain.ValidationResult) domain.ValidationSummary {
	s := domain.ValidationSummary{
		TotalFields: len(results),
		SeverityCounts: map[domain.Severity]int{
			domain.SeverityCritical: 0,
			domain.SeverityHigh:     0,
			domain.SeverityMedium:   0,
			domain.SeverityLow:      0,
		},
	}

	for _, r := range results {
		switch r.ValidationStatus {
		case domain.StatusValidated:
			s.ValidatedFields++
		case domain.StatusMismatch:
			s.MismatchFields++
		case domain.StatusMissing:
			s.MissingFields++
		}
		if r.MismatchSeverity != domain.SeverityNone {
			s.SeverityCounts[r.MismatchSeverity]++
		}
		if r.FlagForReview {
			s.FlaggedForReview++
		}
	}

	s.CriticalMismatches = s.SeverityCounts[domain.SeverityCritical]
	if s.TotalFields > 0 {
		s.CompletionPercentage = float64(s.ValidatedFields) / float64(s.TotalFields) * 100
	}
	if s.CompletionPercentage >= CompletionThreshold {
		s.OverallStatus = OverallCompleted
	} else {
		s.OverallStatus = OverallNeedsReview
	}
	return s
}
