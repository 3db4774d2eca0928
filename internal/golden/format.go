package golden

import (
	"fmt"
	"math"
	"strings"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/internal/normalize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var nameKeywords = []string{"name", "first", "last", "middle"}

// FormatValue renders value in the canonical output form for ft. An empty ft is detected
// from the field name and value. Values that cannot be parsed for their type are returned trimmed.
func FormatValue(fieldName, value string, ft domain.FieldType) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if ft == "" {
		ft = normalize.DetectFieldType(fieldName, v)
	}

	switch ft {
	case domain.FieldTypeCurrency:
		return formatCurrency(v)
	case domain.FieldTypeDate:
		return normalize.Date(v)
	case domain.FieldTypeNumber:
		return formatNumber(v)
	case domain.FieldTypePercentage:
		return formatPercentage(v)
	case domain.FieldTypeText:
		return formatText(fieldName, v)
	default:
		return v
	}
}

func formatCurrency(v string) string {
	amount, ok := normalize.ParseDecimal(v)
	if !ok {
		return v
	}
	return "$" + message.NewPrinter(language.English).Sprintf("%.2f", amount)
}

func formatNumber(v string) string {
	n, ok := normalize.ParseDecimal(v)
	if !ok {
		return v
	}
	if n == math.Trunc(n) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%.2f", n)
}

// Values above 1 are read as already scaled to 100.
func formatPercentage(v string) string {
	p, ok := normalize.ParseDecimal(v)
	if !ok {
		return v
	}
	if p > 1 {
		p /= 100
	}
	return fmt.Sprintf("%.2f%%", p*100)
}

func formatText(fieldName, v string) string {
	cleaned := normalize.CollapseSpaces(v)
	name := strings.ToLower(fieldName)
	for _, kw := range nameKeywords {
		if strings.Contains(name, kw) {
			// Casers keep state between calls.
			return cases.Title(language.English).String(cleaned)
		}
	}
	return cleaned
}
