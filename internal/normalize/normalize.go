// Package normalize canonicalises raw field values before comparison.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonDecimalRe = regexp.MustCompile(`[^\d.-]`)

	// Tried in order; the first match wins.
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`),
		regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`),
		regexp.MustCompile(`(\d{1,2})-(\d{1,2})-(\d{4})`),
	}
)

// Normalize returns the canonical comparison form of value for the given type.
// Unknown types are treated as text. It never fails.
func Normalize(value string, ft domain.FieldType) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}

	switch ft {
	case domain.FieldTypeCurrency, domain.FieldTypeNumber:
		return nonDecimalRe.ReplaceAllString(v, "")
	case domain.FieldTypeDate:
		return Date(v)
	default:
		return Text(v)
	}
}

// Text lowercases and collapses runs of whitespace to a single space.
func Text(value string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(value), " ")
}

// CollapseSpaces trims and collapses whitespace without changing case.
func CollapseSpaces(value string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(value), " ")
}

// Date rewrites the first recognised date in value as YYYY-MM-DD. A first component of four
// digits is read as year-month-day, one above 12 as day-month-year, anything else as
// month-day-year. Values with no recognised date are returned unchanged.
func Date(value string) string {
	for _, re := range datePatterns {
		m := re.FindStringSubmatch(value)
		if m == nil {
			continue
		}
		first, second, third := m[1], m[2], m[3]

		if len(first) == 4 {
			return fmt.Sprintf("%s-%s-%s", first, pad2(second), pad2(third))
		}

		n, err := strconv.Atoi(first)
		if err != nil {
			return value
		}
		if n > 12 {
			return fmt.Sprintf("%s-%s-%s", third, pad2(second), pad2(first))
		}
		return fmt.Sprintf("%s-%s-%s", third, pad2(first), pad2(second))
	}
	return value
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// ParseDecimal strips everything but digits, '.' and '-' and parses the rest.
// It reports false for empty or unparseable input.
func ParseDecimal(value string) (float64, bool) {
	cleaned := nonDecimalRe.ReplaceAllString(strings.TrimSpace(value), "")
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
