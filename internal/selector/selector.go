// Package selector picks which extracted candidate, if any, a form value should be compared with.
package selector

import (
	"fmt"

	"github.com/cuongbtq/mortgage-recon/internal/compare"
	"github.com/cuongbtq/mortgage-recon/internal/domain"
)

// Kind tells the three possible selection outcomes apart.
type Kind int

const (
	// Missing means no document produced the field.
	Missing Kind = iota
	// NoMatch means candidates exist but none is similar enough to the form value.
	NoMatch
	// Chosen means Candidate holds the value to compare.
	Chosen
)

func (k Kind) String() string {
	switch k {
	case Missing:
		return "missing"
	case NoMatch:
		return "no_match"
	case Chosen:
		return "chosen"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Selection is the selector result. Candidate is set only when Kind is Chosen.
type Selection struct {
	Kind      Kind
	Candidate domain.ExtractedField
	Score     float64
}

const (
	similarityWeight = 0.7
	confidenceWeight = 0.3
)

// Select scores candidates by 0.7*similarity + 0.3*confidence and returns the first best one,
// provided its similarity reaches the rule threshold. A single candidate is always chosen.
func Select(rule domain.FieldRule, appValue string, candidates []domain.ExtractedField) Selection {
	switch len(candidates) {
	case 0:
		return Selection{Kind: Missing}
	case 1:
		return Selection{Kind: Chosen, Candidate: candidates[0], Score: 1}
	}

	bestIdx := -1
	var bestScore, bestSim float64
	for i, c := range candidates {
		sim := compare.LooseRatio(appValue, c.FieldValue)
		score := similarityWeight*sim + confidenceWeight*c.Confidence
		if bestIdx < 0 || score > bestScore {
			bestIdx, bestScore, bestSim = i, score, sim
		}
	}

	if bestSim >= rule.Threshold() {
		return Selection{Kind: Chosen, Candidate: candidates[bestIdx], Score: bestScore}
	}
	return Selection{Kind: NoMatch, Score: bestScore}
}

// MissingSeverity grades a field that no document produced.
func MissingSeverity(rule domain.FieldRule) domain.Severity {
	switch {
	case rule.Critical:
		return domain.SeverityCritical
	case rule.IsImportant():
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}
