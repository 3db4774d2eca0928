package extraction

import (
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const extractedFieldSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["field_name", "field_value", "field_type", "confidence", "extraction_method"],
  "properties": {
    "field_name":        {"type": "string", "minLength": 1},
    "field_value":       {"type": "string", "minLength": 1},
    "field_type":        {"enum": ["text", "currency", "date", "number", "percentage", "boolean"]},
    "confidence":        {"type": "number", "minimum": 0, "maximum": 1},
    "extraction_method": {"type": "string", "minLength": 1},
    "page_number":       {"type": "integer", "minimum": 0}
  }
}`

var fieldSchema = jsonschema.MustCompileString("extracted_field.json", extractedFieldSchema)

// ValidateField checks one extracted field against the wire schema.
func ValidateField(f domain.ExtractedField) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal field: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal field: %w", err)
	}
	if err := fieldSchema.Validate(v); err != nil {
		return fmt.Errorf("field %s does not match schema: %w", f.FieldName, err)
	}
	return nil
}
