package domain

// Job status constants
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Stage names a job type the scheduler dispatches.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageValidation Stage = "validation"
	StageFormatting Stage = "formatting"
)

// Default priorities per stage. Lower is more urgent.
const (
	PriorityValidation        = 3
	PriorityFormatting        = 2
	PriorityDefaultExtraction = 5
	DefaultMaxRetries         = 3
)

// FieldType is the value kind of a field.
type FieldType string

const (
	FieldTypeText       FieldType = "text"
	FieldTypeCurrency   FieldType = "currency"
	FieldTypeDate       FieldType = "date"
	FieldTypeNumber     FieldType = "number"
	FieldTypePercentage FieldType = "percentage"
	FieldTypeBoolean    FieldType = "boolean"
)

// ValidationStatus is the verdict for a single field.
type ValidationStatus string

const (
	StatusValidated ValidationStatus = "validated"
	StatusMismatch  ValidationStatus = "mismatch"
	StatusMissing   ValidationStatus = "missing"
)

// MismatchType classifies why a field did not validate.
type MismatchType string

const (
	MismatchNone             MismatchType = ""
	MismatchValueDifference  MismatchType = "value_difference"
	MismatchFormatDifference MismatchType = "format_difference"
	MismatchMissingDocument  MismatchType = "missing_document"
	MismatchValidationError  MismatchType = "validation_error"
)

// Severity is ordered: none < low < medium < high < critical.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal position of the severity.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// NeedsReview reports whether a mismatch of this severity must be looked at by a human.
func (s Severity) NeedsReview() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// DataSource identifies where a golden value came from.
type DataSource string

const (
	SourceApplicationForm    DataSource = "application_form"
	SourceDocumentExtraction DataSource = "document_extraction"
	SourceManualInput        DataSource = "manual_input"
)

// Application status constants
const (
	AppStatusDocumentUpload = "document_upload"
	AppStatusProcessing     = "processing"
	AppStatusValidation     = "validation"
	AppStatusFormatting     = "formatting"
	AppStatusNeedsReview    = "needs_review"
	AppStatusCompleted      = "completed"
	AppStatusFailed         = "failed"
)

// Document processing status constants
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
)
