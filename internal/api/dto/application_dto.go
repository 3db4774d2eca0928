package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

type CreateApplicationRequest struct {
	ApplicationID string          `json:"application_id" binding:"required"`
	FormData      json.RawMessage `json:"form_data" binding:"required"`
}

type UploadRequest struct {
	ApplicantType string `form:"applicant_type"`
	DocumentType  string `form:"document_type"`
}

var errFormDataNotObject = errors.New("form_data must be a JSON object")

// ParseFormData reads a flat JSON object into string values, keeping key order. Numbers keep
// their literal text and null values are dropped.
func ParseFormData(raw json.RawMessage) (map[string]string, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, errFormDataNotObject
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errFormDataNotObject
	}

	data := map[string]string{}
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("invalid form_data: %w", err)
		}
		key := tok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}

		var s string
		switch v := value.(type) {
		case nil:
			continue
		case string:
			s = v
		case json.Number:
			s = v.String()
		case bool:
			s = strconv.FormatBool(v)
		default:
			return nil, nil, fmt.Errorf("form_data field %s must be a scalar", key)
		}

		if _, dup := data[key]; !dup {
			order = append(order, key)
		}
		data[key] = s
	}
	return data, order, nil
}
