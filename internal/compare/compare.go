// Package compare decides whether an applicant-entered value agrees with a document value.
package compare

import (
	"fmt"
	"math"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/normalize"
)

var normalizeValue = normalize.Normalize

// Outcome is the verdict for one pair of values.
type Outcome struct {
	Status         domain.ValidationStatus
	MismatchType   domain.MismatchType
	Severity       domain.Severity
	DiscrepancyPct *float64
	FlagForReview  bool
	Notes          string
}

// Compare normalizes both values for vt and compares them under tol.
// Failures inside comparison are reported as a critical validation_error outcome.
func Compare(appValue, docValue string, vt domain.FieldType, tol domain.Tolerance) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{
				Status:        domain.StatusMismatch,
				MismatchType:  domain.MismatchValidationError,
				Severity:      domain.SeverityCritical,
				FlagForReview: true,
				Notes:         fmt.Sprintf("Comparison error: %v", r),
			}
		}
	}()

	a := normalizeValue(appValue, vt)
	d := normalizeValue(docValue, vt)
	t := tol.For(vt)

	switch vt {
	case domain.FieldTypeCurrency:
		return compareCurrency(a, d, t)
	case domain.FieldTypeNumber:
		return compareNumber(a, d, t)
	case domain.FieldTypeDate:
		return compareDate(a, d)
	default:
		return compareText(a, d, t)
	}
}

func pct(v float64) *float64 { return &v }

func validated(discrepancy float64, notes string) Outcome {
	return Outcome{
		Status:         domain.StatusValidated,
		DiscrepancyPct: pct(discrepancy),
		Notes:          notes,
	}
}

func mismatch(mt domain.MismatchType, sev domain.Severity, discrepancy *float64, notes string) Outcome {
	return Outcome{
		Status:         domain.StatusMismatch,
		MismatchType:   mt,
		Severity:       sev,
		DiscrepancyPct: discrepancy,
		FlagForReview:  sev.NeedsReview(),
		Notes:          notes,
	}
}

func compareText(a, d string, tol float64) Outcome {
	sim := Ratio(a, d)
	discrepancy := (1 - sim) * 100

	if sim >= tol {
		return validated(discrepancy, fmt.Sprintf("Text similarity: %.2f", sim))
	}
	return mismatch(domain.MismatchValueDifference, TextSeverity(sim), pct(discrepancy),
		fmt.Sprintf("Text similarity below threshold: %.2f < %v", sim, tol))
}

func compareCurrency(a, d string, tol float64) Outcome {
	av, okA := normalize.ParseDecimal(a)
	dv, okD := normalize.ParseDecimal(d)
	if !okA || !okD {
		o := mismatch(domain.MismatchFormatDifference, domain.SeverityMedium, nil, "Unable to parse currency values")
		o.FlagForReview = true
		return o
	}

	if av == 0 && dv == 0 {
		return validated(0, "Both values are zero")
	}

	diff := relativeDiff(av, dv)
	if diff <= tol {
		return validated(diff*100, fmt.Sprintf("Currency difference within tolerance: %.2f%%", diff*100))
	}
	return mismatch(domain.MismatchValueDifference, CurrencySeverity(diff), pct(diff*100),
		fmt.Sprintf("Currency difference exceeds tolerance: %.2f%% > %.2f%%", diff*100, tol*100))
}

func compareNumber(a, d string, tol float64) Outcome {
	av, okA := normalize.ParseDecimal(a)
	dv, okD := normalize.ParseDecimal(d)
	if !okA || !okD {
		o := mismatch(domain.MismatchFormatDifference, domain.SeverityMedium, nil, "Unable to parse number values")
		o.FlagForReview = true
		return o
	}

	if av == dv {
		return validated(0, "Numbers match exactly")
	}

	diff := relativeDiff(av, dv)
	if diff <= tol {
		return validated(diff*100, fmt.Sprintf("Number difference within tolerance: %.2f%%", diff*100))
	}
	return mismatch(domain.MismatchValueDifference, NumberSeverity(diff), pct(diff*100),
		fmt.Sprintf("Number difference exceeds tolerance: %.2f%% > %.2f%%", diff*100, tol*100))
}

func compareDate(a, d string) Outcome {
	if a == d {
		return validated(0, "Dates match exactly")
	}
	return mismatch(domain.MismatchValueDifference, domain.SeverityHigh, pct(100),
		fmt.Sprintf("Date mismatch: %s vs %s", a, d))
}

func relativeDiff(a, b float64) float64 {
	return math.Abs(a-b) / math.Max(math.Abs(a), math.Abs(b))
}

// TextSeverity bands a similarity below tolerance.
func TextSeverity(sim float64) domain.Severity {
	switch {
	case sim < 0.3:
		return domain.SeverityCritical
	case sim < 0.6:
		return domain.SeverityHigh
	case sim < 0.8:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// CurrencySeverity bands a relative currency difference above tolerance.
func CurrencySeverity(diff float64) domain.Severity {
	switch {
	case diff > 0.2:
		return domain.SeverityCritical
	case diff > 0.1:
		return domain.SeverityHigh
	case diff > 0.05:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// NumberSeverity bands a relative number difference above tolerance.
func NumberSeverity(diff float64) domain.Severity {
	switch {
	case diff > 0.15:
		return domain.SeverityCritical
	case diff > 0.08:
		return domain.SeverityHigh
	case diff > 0.03:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
