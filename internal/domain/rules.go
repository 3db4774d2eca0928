package domain

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tolerance is a comparison tolerance. Exact means similarity 1.0 for text and a zero
// relative difference for currency and number fields.
type Tolerance struct {
	Value float64
	Exact bool
	Set   bool
}

// ExactTolerance returns a tolerance that only accepts identical values.
func ExactTolerance() Tolerance {
	return Tolerance{Exact: true, Set: true}
}

// ToleranceOf returns a numeric tolerance.
func ToleranceOf(v float64) Tolerance {
	return Tolerance{Value: v, Set: true}
}

// For resolves the numeric tolerance to use for a validation type.
func (t Tolerance) For(vt FieldType) float64 {
	if t.Exact {
		if vt == FieldTypeCurrency || vt == FieldTypeNumber {
			return 0
		}
		return 1.0
	}
	if !t.Set {
		return DefaultTolerance(vt)
	}
	return t.Value
}

func (t Tolerance) String() string {
	if t.Exact {
		return "exact"
	}
	return strconv.FormatFloat(t.Value, 'g', -1, 64)
}

// UnmarshalYAML accepts either a float or the literal "exact".
func (t *Tolerance) UnmarshalYAML(node *yaml.Node) error {
	if strings.EqualFold(strings.TrimSpace(node.Value), "exact") {
		*t = ExactTolerance()
		return nil
	}
	var v float64
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("invalid tolerance %q: %w", node.Value, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid tolerance %v: must not be negative", v)
	}
	*t = ToleranceOf(v)
	return nil
}

// DefaultTolerance is applied when a rule leaves tolerance unset.
func DefaultTolerance(vt FieldType) float64 {
	switch vt {
	case FieldTypeCurrency, FieldTypeNumber:
		return 0.05
	default:
		return 0.8
	}
}

// Default selector threshold for rules that do not set one.
const DefaultSimilarityThreshold = 0.5

// FieldRule drives how one form field is compared against document candidates.
type FieldRule struct {
	ValidationType      FieldType `yaml:"validation_type"`
	Tolerance           Tolerance `yaml:"tolerance"`
	Critical            bool      `yaml:"critical"`
	Important           *bool     `yaml:"important"`
	SimilarityThreshold float64   `yaml:"similarity_threshold"`
}

// IsImportant reports the important flag. When unset, non-critical currency and date
// fields count as important.
func (r FieldRule) IsImportant() bool {
	if r.Important != nil {
		return *r.Important
	}
	return !r.Critical && (r.ValidationType == FieldTypeCurrency || r.ValidationType == FieldTypeDate)
}

// Threshold returns the selector threshold, falling back to DefaultSimilarityThreshold.
func (r FieldRule) Threshold() float64 {
	if r.SimilarityThreshold <= 0 {
		return DefaultSimilarityThreshold
	}
	return r.SimilarityThreshold
}

// Type returns the validation type, text when unset.
func (r FieldRule) Type() FieldType {
	if r.ValidationType == "" {
		return FieldTypeText
	}
	return r.ValidationType
}

// Catalog maps field names to rules.
type Catalog struct {
	Rules   map[string]FieldRule
	Default FieldRule
}

// DefaultFieldRule is used for fields absent from the catalog.
func DefaultFieldRule() FieldRule {
	return FieldRule{
		ValidationType:      FieldTypeText,
		Tolerance:           ToleranceOf(0.8),
		SimilarityThreshold: 0.7,
	}
}

// Lookup returns the rule configured for field, without falling back to the default.
func (c Catalog) Lookup(field string) (FieldRule, bool) {
	r, ok := c.Rules[field]
	return r, ok
}

// Rule returns the rule for a field name.
func (c Catalog) Rule(field string) FieldRule {
	if r, ok := c.Rules[field]; ok {
		return r
	}
	if c.Default.ValidationType == "" {
		return DefaultFieldRule()
	}
	return c.Default
}
