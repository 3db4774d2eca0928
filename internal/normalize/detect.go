package normalize

import (
	"strings"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
)

var (
	currencyKeywords   = []string{"amount", "salary", "income", "balance", "price", "cost"}
	dateKeywords       = []string{"date", "dob", "birth", "start", "end"}
	numberKeywords     = []string{"number", "count", "quantity", "rate"}
	percentageKeywords = []string{"percent"}
	booleanPrefixes    = []string{"is_", "has_", "can_", "will_"}
	booleanLiterals    = map[string]bool{"true": true, "false": true, "yes": true, "no": true, "1": true, "0": true}
)

// DetectFieldType infers a value kind from the field name keywords and the value shape.
func DetectFieldType(fieldName, value string) domain.FieldType {
	name := strings.ToLower(fieldName)
	v := strings.TrimSpace(value)

	switch {
	case containsAny(name, currencyKeywords) && (strings.ContainsAny(v, "$") || hasDigit(v)):
		return domain.FieldTypeCurrency
	case containsAny(name, dateKeywords):
		return domain.FieldTypeDate
	case containsAny(name, numberKeywords) && isDigits(strings.NewReplacer(".", "", ",", "").Replace(v)):
		return domain.FieldTypeNumber
	case containsAny(name, percentageKeywords) || strings.Contains(v, "%"):
		return domain.FieldTypePercentage
	case containsAny(name, booleanPrefixes) && booleanLiterals[strings.ToLower(v)]:
		return domain.FieldTypeBoolean
	default:
		return domain.FieldTypeText
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
