package golden

import (
	"strings"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
)

// Summary status values.
const (
	SummaryCompleted = "completed"
	SummaryNoData    = "no_data"
)

// Category names, in matching order.
const (
	CategoryPersonal   = "personal_info"
	CategoryFinancial  = "financial_info"
	CategoryEmployment = "employment_info"
	CategoryProperty   = "property_info"
	CategoryOther      = "other_info"
)

type category struct {
	name     string
	keywords []string
}

// First match wins, so "address" always lands in personal.
var categories = []category{
	{CategoryPersonal, []string{"name", "dob", "address", "phone", "email", "sin"}},
	{CategoryFinancial, []string{"income", "salary", "balance", "amount", "debt", "asset"}},
	{CategoryEmployment, []string{"employer", "job", "work", "position", "company"}},
	{CategoryProperty, []string{"property", "address", "value", "assessment"}},
}

// FieldView is a golden value as presented to downstream decisioning.
type FieldView struct {
	Value      string  `json:"value"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Verified   bool    `json:"verified"`
	Source     string  `json:"source"`
}

// Summary is the categorised golden record of one application.
type Summary struct {
	ApplicationID          string                          `json:"application_id"`
	Status                 string                          `json:"status"`
	Message                string                          `json:"message,omitempty"`
	TotalFields            int                             `json:"total_fields"`
	VerifiedFields         int                             `json:"verified_fields"`
	HighConfidenceFields   int                             `json:"high_confidence_fields"`
	DataQualityScore       float64                         `json:"data_quality_score"`
	Categories             map[string]map[string]FieldView `json:"categories,omitempty"`
	ReadyForDecisionEngine bool                            `json:"ready_for_decision_engine"`
}

// Categorize returns the summary category for a field name.
func Categorize(fieldName string) string {
	name := strings.ToLower(fieldName)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(name, kw) {
				return c.name
			}
		}
	}
	return CategoryOther
}

// Summarize groups golden records by category and reports readiness.
func Summarize(applicationID string, records []domain.GoldenRecord) Summary {
	if len(records) == 0 {
		return Summary{
			ApplicationID: applicationID,
			Status:        SummaryNoData,
			Message:       "No golden data available",
		}
	}

	s := Summary{
		ApplicationID: applicationID,
		Status:        SummaryCompleted,
		Categories: map[string]map[string]FieldView{
			CategoryPersonal:   {},
			CategoryFinancial:  {},
			CategoryEmployment: {},
			CategoryProperty:   {},
			CategoryOther:      {},
		},
	}
	for _, r := range records {
		s.Categories[Categorize(r.FieldName)][r.FieldName] = FieldView{
			Value:      r.FieldValue,
			Type:       string(r.FieldType),
			Confidence: r.ConfidenceScore,
			Verified:   r.IsVerified,
			Source:     string(r.DataSource),
		}
	}

	q := Measure(records)
	s.TotalFields = q.TotalFields
	s.VerifiedFields = q.VerifiedFields
	s.HighConfidenceFields = q.HighConfidenceFields
	s.DataQualityScore = q.VerificationPercentage
	s.ReadyForDecisionEngine = q.ReadyForDecisionEngine
	return s
}
