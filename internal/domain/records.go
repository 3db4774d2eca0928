package domain

import "time"

// Application holds applicant-entered form data and overall processing state.
type Application struct {
	ApplicationID        string            `json:"application_id"`
	Status               string            `json:"status"`
	FormData             map[string]string `json:"form_data"`
	FormFieldOrder       []string          `json:"form_field_order"`
	CompletionPercentage *float64          `json:"completion_percentage,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// FormField is one applicant-entered value.
type FormField struct {
	Name  string
	Value string
}

// OrderedForm returns the form fields in their stable iteration order. Keys missing from
// FormFieldOrder are appended in lexical order.
func (a *Application) OrderedForm() []FormField {
	return OrderForm(a.FormData, a.FormFieldOrder)
}

// Document is an uploaded file belonging to an application.
type Document struct {
	ID               string    `db:"id" json:"id"`
	ApplicationID    string    `db:"application_id" json:"application_id"`
	Filename         string    `db:"filename" json:"filename"`
	DocumentType     string    `db:"document_type" json:"document_type"`
	ApplicantType    string    `db:"applicant_type" json:"applicant_type"`
	FileSize         int64     `db:"file_size" json:"file_size"`
	MimeType         string    `db:"mime_type" json:"mime_type"`
	StoragePath      string    `db:"storage_path" json:"storage_path"`
	ProcessingStatus string    `db:"processing_status" json:"processing_status"`
	StatusMessage    *string   `db:"status_message" json:"status_message,omitempty"`
	UploadedAt       time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// ExtractedField is one OCR answer for a field. Immutable once written.
type ExtractedField struct {
	ID               string    `db:"id" json:"id,omitempty"`
	DocumentID       string    `db:"document_id" json:"document_id,omitempty"`
	ApplicationID    string    `db:"application_id" json:"application_id,omitempty"`
	FieldName        string    `db:"field_name" json:"field_name"`
	FieldValue       string    `db:"field_value" json:"field_value"`
	FieldType        FieldType `db:"field_type" json:"field_type"`
	Confidence       float64   `db:"confidence" json:"confidence"`
	ExtractionMethod string    `db:"extraction_method" json:"extraction_method"`
	PageNumber       int       `db:"page_number" json:"page_number,omitempty"`
	ExtractedAt      time.Time `db:"extracted_at" json:"extracted_at,omitempty"`
}

// ValidationResult is the outcome of comparing one form field to its document candidates.
type ValidationResult struct {
	ID                    string           `db:"id" json:"id"`
	RunID                 string           `db:"run_id" json:"run_id"`
	ApplicationID         string           `db:"application_id" json:"application_id"`
	FieldName             string           `db:"field_name" json:"field_name"`
	ApplicationValue      string           `db:"application_value" json:"application_value"`
	DocumentValue         *string          `db:"document_value" json:"document_value,omitempty"`
	DocumentID            *string          `db:"document_id" json:"document_id,omitempty"`
	ValidationStatus      ValidationStatus `db:"validation_status" json:"validation_status"`
	MismatchType          MismatchType     `db:"mismatch_type" json:"mismatch_type,omitempty"`
	MismatchSeverity      Severity         `db:"mismatch_severity" json:"mismatch_severity,omitempty"`
	DiscrepancyPercentage *float64         `db:"discrepancy_percentage" json:"discrepancy_percentage,omitempty"`
	ConfidenceScore       float64          `db:"confidence_score" json:"confidence_score"`
	FlagForReview         bool             `db:"flag_for_review" json:"flag_for_review"`
	ValidationNotes       string           `db:"validation_notes" json:"validation_notes"`
	ValidatedAt           time.Time        `db:"validated_at" json:"validated_at"`
}

// DocumentValueOrEmpty returns the chosen document value or "".
func (r *ValidationResult) DocumentValueOrEmpty() string {
	if r.DocumentValue == nil {
		return ""
	}
	return *r.DocumentValue
}

// ValidationSummary aggregates one validation run.
type ValidationSummary struct {
	RunID                string           `json:"run_id"`
	ApplicationID        string           `json:"application_id"`
	TotalFields          int              `json:"total_fields"`
	ValidatedFields      int              `json:"validated_fields"`
	MismatchFields       int              `json:"mismatch_fields"`
	MissingFields        int              `json:"missing_fields"`
	FlaggedForReview     int              `json:"flagged_for_review"`
	CriticalMismatches   int              `json:"critical_mismatches"`
	SeverityCounts       map[Severity]int `json:"severity_counts"`
	CompletionPercentage float64          `json:"validation_completion_percentage"`
	OverallStatus        string           `json:"overall_status"`
	FormattingEnqueued   bool             `json:"formatting_enqueued"`
	CreatedAt            time.Time        `json:"created_at"`
}

// GoldenRecord is the authoritative value chosen for one field.
type GoldenRecord struct {
	ID                string           `db:"id" json:"id"`
	ApplicationID     string           `db:"application_id" json:"application_id"`
	FieldName         string           `db:"field_name" json:"field_name"`
	FieldValue        string           `db:"field_value" json:"field_value"`
	FieldType         FieldType        `db:"field_type" json:"field_type"`
	DataSource        DataSource       `db:"data_source" json:"data_source"`
	SourceDocumentID  *string          `db:"source_document_id" json:"source_document_id,omitempty"`
	ValidationStatus  ValidationStatus `db:"validation_status" json:"validation_status"`
	ConfidenceScore   float64          `db:"confidence_score" json:"confidence_score"`
	IsVerified        bool             `db:"is_verified" json:"is_verified"`
	VerificationNotes string           `db:"verification_notes" json:"verification_notes"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
}

// ProcessingLog is an audit entry written by stage handlers.
type ProcessingLog struct {
	ApplicationID string
	DocumentID    *string
	Agent         string
	Step          string
	Status        string
	Message       string
	DurationMs    *int64
}
