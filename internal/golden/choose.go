package golden

import "github.com/cuongbtq/mortgage-recon/internal/domain"

// Choice is the value picked for a golden record and where it came from.
type Choice struct {
	Value      string
	Source     domain.DataSource
	Confidence float64
}

// ChooseValue picks the authoritative value for a field from its validation outcome.
// Form data wins on serious disagreement; a confident document value wins otherwise.
func ChooseValue(status domain.ValidationStatus, severity domain.Severity, appValue, docValue string, docConfidence float64) Choice {
	app := func(conf float64) Choice {
		return Choice{Value: appValue, Source: domain.SourceApplicationForm, Confidence: conf}
	}

	switch status {
	case domain.StatusValidated:
		if docValue != "" {
			return Choice{Value: docValue, Source: domain.SourceDocumentExtraction, Confidence: docConfidence}
		}
		return app(0.9)
	case domain.StatusMismatch:
		switch {
		case severity == domain.SeverityCritical:
			return app(0.7)
		case severity == domain.SeverityHigh:
			return app(0.6)
		case docConfidence > 0.8 && docValue != "":
			return Choice{Value: docValue, Source: domain.SourceDocumentExtraction, Confidence: docConfidence}
		default:
			return app(0.5)
		}
	case domain.StatusMissing:
		return app(0.8)
	default:
		return app(0.5)
	}
}
