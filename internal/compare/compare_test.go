package compare

import (
	"testing"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name         string
		app, doc     string
		vt           domain.FieldType
		tol          domain.Tolerance
		wantStatus   domain.ValidationStatus
		wantType     domain.MismatchType
		wantSeverity domain.Severity
		wantFlag     bool
		wantPct      *float64
		wantNotes    string
	}{
		{
			name: "currency within tolerance", app: "50000", doc: "$52,000.00",
			vt: domain.FieldTypeCurrency, tol: domain.ToleranceOf(0.05),
			wantStatus: domain.StatusValidated,
			wantPct:    pct(2000.0 / 52000.0 * 100),
			wantNotes:  "Currency difference within tolerance: 3.85%",
		},
		{
			name: "currency both zero", app: "$0.00", doc: "0",
			vt: domain.FieldTypeCurrency, tol: domain.ToleranceOf(0.05),
			wantStatus: domain.StatusValidated, wantPct: pct(0), wantNotes: "Both values are zero",
		},
		{
			name: "currency unparseable", app: "fifty thousand", doc: "50000",
			vt: domain.FieldTypeCurrency, tol: domain.ToleranceOf(0.05),
			wantStatus: domain.StatusMismatch, wantType: domain.MismatchFormatDifference,
			wantSeverity: domain.SeverityMedium, wantFlag: true, wantNotes: "Unable to parse currency values",
		},
		{
			name: "currency far apart is critical", app: "100000", doc: "50000",
			vt: domain.FieldTypeCurrency, tol: domain.ToleranceOf(0.05),
			wantStatus: domain.StatusMismatch, wantType: domain.MismatchValueDifference,
			wantSeverity: domain.SeverityCritical, wantFlag: true, wantPct: pct(50),
			wantNotes: "Currency difference exceeds tolerance: 50.00% > 5.00%",
		},
		{
			name: "currency modest gap is medium", app: "100", doc: "93",
			vt: domain.FieldTypeCurrency, tol: domain.ToleranceOf(0.05),
			wantStatus: domain.StatusMismatch, wantType: domain.MismatchValueDifference,
			wantSeverity: domain.SeverityMedium, wantFlag: false, wantPct: pct(7),
		},
		{
			name: "currency exact tolerance rejects any gap", app: "100", doc: "100.01",
			vt: domain.FieldTypeCurrency, tol: domain.ExactTolerance(),
			wantStatus: domain.StatusMismatch, wantType: domain.MismatchValueDifference,
			wantSeverity: domain.SeverityLow,
		},
		{
			name: "number exact match", app: "720", doc: "720.0",
			vt: domain.FieldTypeNumber, tol: domain.ToleranceOf(0.05),
			wantStatus: domain.StatusValidated, wantPct: pct(0), wantNotes: "Numbers match exactly",
		},
		{
			name: "number bands are tighter", app: "100", doc: "90",
			vt: domain.FieldTypeNumber, tol: domain.ToleranceOf(0.05),
			wantStatus: domain.StatusMismatch, wantType: domain.MismatchValueDifference,
			wantSeverity: domain.SeverityHigh, wantFlag: true, wantPct: pct(10),
		},
		{
			name: "date equal after normalization", app: "1990-01-05", doc: "1/5/1990",
			vt: domain.FieldTypeDate, tol: domain.ExactTolerance(),
			wantStatus: domain.StatusValidated, wantPct: pct(0), wantNotes: "Dates match exactly",
		},
		{
			name: "date mismatch", app: "1990-01-01", doc: "01/02/1990",
			vt: domain.FieldTypeDate, tol: domain.ExactTolerance(),
			wantStatus: domain.StatusMismatch, wantType: domain.MismatchValueDifference,
			wantSeverity: domain.SeverityHigh, wantFlag: true, wantPct: pct(100),
			wantNotes: "Date mismatch: 1990-01-01 vs 1990-01-02",
		},
		{
			name: "text case and spacing ignored", app: "John  Smith", doc: "JOHN SMITH",
			vt: domain.FieldTypeText, tol: domain.ToleranceOf(0.8),
			wantStatus: domain.StatusValidated, wantPct: pct(0), wantNotes: "Text similarity: 1.00",
		},
		{
			name: "text below tolerance", app: "abc", doc: "abd",
			vt: domain.FieldTypeText, tol: domain.ToleranceOf(0.8),
			wantStatus: domain.StatusMismatch, wantType: domain.MismatchValueDifference,
			wantSeverity: domain.SeverityMedium, wantFlag: false,
			wantNotes: "Text similarity below threshold: 0.67 < 0.8",
		},
		{
			name: "text unrelated is critical", app: "abc", doc: "xyz",
			vt: domain.FieldTypeText, tol: domain.ToleranceOf(0.8),
			wantStatus: domain.StatusMismatch, wantType: domain.MismatchValueDifference,
			wantSeverity: domain.SeverityCritical, wantFlag: true, wantPct: pct(100),
		},
		{
			name: "text exact tolerance", app: "123-456-789", doc: "123-456-788",
			vt: domain.FieldTypeText, tol: domain.ExactTolerance(),
			wantStatus: domain.StatusMismatch, wantType: domain.MismatchValueDifference,
			wantSeverity: domain.SeverityLow,
		},
		{
			name: "unknown type compared as text", app: "Yes", doc: "yes",
			vt: domain.FieldType("boolean-ish"), tol: domain.Tolerance{},
			wantStatus: domain.StatusValidated, wantPct: pct(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.app, tt.doc, tt.vt, tt.tol)

			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantType, got.MismatchType)
			assert.Equal(t, tt.wantSeverity, got.Severity)
			assert.Equal(t, tt.wantFlag, got.FlagForReview)
			if tt.wantPct != nil {
				require.NotNil(t, got.DiscrepancyPct)
				assert.InDelta(t, *tt.wantPct, *got.DiscrepancyPct, 1e-6)
			}
			if tt.wantType == domain.MismatchFormatDifference {
				assert.Nil(t, got.DiscrepancyPct)
			}
			if tt.wantNotes != "" {
				assert.Equal(t, tt.wantNotes, got.Notes)
			}
		})
	}
}

func TestCompare_RecoversFromPanic(t *testing.T) {
	orig := normalizeValue
	t.Cleanup(func() { normalizeValue = orig })
	normalizeValue = func(string, domain.FieldType) string { panic("boom") }

	got := Compare("a", "b", domain.FieldTypeText, domain.ToleranceOf(0.8))

	assert.Equal(t, domain.StatusMismatch, got.Status)
	assert.Equal(t, domain.MismatchValidationError, got.MismatchType)
	assert.Equal(t, domain.SeverityCritical, got.Severity)
	assert.True(t, got.FlagForReview)
	assert.Nil(t, got.DiscrepancyPct)
	assert.Contains(t, got.Notes, "boom")
}

func TestSeverityBands(t *testing.T) {
	tests := []struct {
		name string
		fn   func(float64) domain.Severity
		in   float64
		want domain.Severity
	}{
		{name: "text just below 0.3", fn: TextSeverity, in: 0.2999, want: domain.SeverityCritical},
		{name: "text at 0.3", fn: TextSeverity, in: 0.3, want: domain.SeverityHigh},
		{name: "text at 0.6", fn: TextSeverity, in: 0.6, want: domain.SeverityMedium},
		{name: "text at 0.8", fn: TextSeverity, in: 0.8, want: domain.SeverityLow},
		{name: "currency at 0.2", fn: CurrencySeverity, in: 0.2, want: domain.SeverityHigh},
		{name: "currency above 0.2", fn: CurrencySeverity, in: 0.2001, want: domain.SeverityCritical},
		{name: "currency at 0.1", fn: CurrencySeverity, in: 0.1, want: domain.SeverityMedium},
		{name: "currency at 0.05", fn: CurrencySeverity, in: 0.05, want: domain.SeverityLow},
		{name: "number above 0.15", fn: NumberSeverity, in: 0.16, want: domain.SeverityCritical},
		{name: "number at 0.08", fn: NumberSeverity, in: 0.08, want: domain.SeverityMedium},
		{name: "number above 0.03", fn: NumberSeverity, in: 0.031, want: domain.SeverityMedium},
		{name: "number at 0.03", fn: NumberSeverity, in: 0.03, want: domain.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn(tt.in))
		})
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("", ""))
	assert.InDelta(t, 2.0*2/6, Ratio("abc", "abd"), 1e-9)
	assert.Equal(t, 0.0, LooseRatio("", "abc"))
	assert.Equal(t, 1.0, LooseRatio("Main St", "MAIN ST"))
}
