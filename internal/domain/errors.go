package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's no longer pending
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrMaxRetriesExceeded is returned when a job has exceeded its retry limit
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrJobNotProcessing is returned when finishing a job that is no longer processing
	ErrJobNotProcessing = errors.New("job is not processing")

	// ErrNoHandler is returned when no stage handler is registered for a job
	ErrNoHandler = errors.New("no handler registered for stage")

	ErrApplicationNotFound  = errors.New("application not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrFormDataMissing      = errors.New("no application form data")
	ErrExtractedDataMissing = errors.New("no extracted data")
	ErrValidationMissing    = errors.New("no validation results")
	ErrGoldenMissing        = errors.New("no golden records")

	// ErrInvalidApplication is returned when an application is created without an id or form data
	ErrInvalidApplication = errors.New("invalid application")

	// ErrUnsupportedFile is returned by ingestion when an upload fails file checks
	ErrUnsupportedFile = errors.New("unsupported file")
)

// RetryableError wraps transient errors that are worth another attempt
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError anywhere in its chain.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
