package golden

import "github.com/cuongbtq/mortgage-recon/internal/domain"

// HighConfidence is the confidence at or above which a golden value counts as high confidence.
const HighConfidence = 0.8

// Quality holds data-quality metrics over a set of golden records.
type Quality struct {
	TotalFields            int            `json:"total_fields"`
	VerifiedFields         int            `json:"verified_fields"`
	HighConfidenceFields   int            `json:"high_confidence_fields"`
	SourceDistribution     map[string]int `json:"data_source_distribution"`
	TypeDistribution       map[string]int `json:"field_type_distribution"`
	OverallQualityScore    float64        `json:"overall_quality_score"`
	VerificationPercentage float64        `json:"verification_percentage"`
	ConfidencePercentage   float64        `json:"confidence_percentage"`
	ReadyForDecisionEngine bool           `json:"ready_for_decision_engine"`
}

// Measure computes quality metrics. An empty set scores zero and is not ready.
func Measure(records []domain.GoldenRecord) Quality {
	q := Quality{
		SourceDistribution: make(map[string]int),
		TypeDistribution:   make(map[string]int),
	}
	if len(records) == 0 {
		return q
	}

	for _, r := range records {
		q.TotalFields++
		if r.IsVerified {
			q.VerifiedFields++
		}
		if r.ConfidenceScore >= HighConfidence {
			q.HighConfidenceFields++
		}
		q.SourceDistribution[string(r.DataSource)]++
		q.TypeDistribution[string(r.FieldType)]++
	}

	total := float64(q.TotalFields)
	verification := float64(q.VerifiedFields) / total
	confidence := float64(q.HighConfidenceFields) / total

	q.OverallQualityScore = 0.6*verification + 0.4*confidence
	q.VerificationPercentage = verification * 100
	q.ConfidencePercentage = confidence * 100
	q.ReadyForDecisionEngine = float64(q.VerifiedFields) >= 0.8*total
	return q
}
