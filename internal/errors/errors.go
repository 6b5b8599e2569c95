package errors

import (
	"errors"
	"fmt"
	"time"
)

/**
 * Job failures for the configuration extraction worker
 *
 * Only job-level failures are modelled here. The extraction core itself never
 * fails: unreadable frames become empty text and malformed lines are dropped.
 * Each code also says whether re-running the job could change the outcome.
 */

// ErrorCode identifies why a job failed
type ErrorCode string

const (
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorStorageFailed     ErrorCode = "STORAGE_FAILED"

	// Input errors; the same upload fails the same way every time
	ErrorDecodeFailed      ErrorCode = "DECODE_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorFileTooLarge      ErrorCode = "FILE_TOO_LARGE"
)

// Retryable is false for codes caused by the input itself
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrorDecodeFailed, ErrorUnsupportedFormat, ErrorFileTooLarge:
		return false
	}
	return true
}

// ProcessingError is a failed extraction job
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func newError(code ErrorCode, jobID string, cause error, message string, details map[string]interface{}) *ProcessingError {
	return &ProcessingError{
		Code:      code,
		Message:   message,
		JobID:     jobID,
		Timestamp: time.Now(),
		Details:   details,
		Cause:     cause,
	}
}

func (e *ProcessingError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
}

func (e *ProcessingError) Unwrap() error { return e.Cause }

// NewProcessingTimeoutError is returned when a job outlives its deadline
func NewProcessingTimeoutError(jobID string, limit time.Duration, cause error) *ProcessingError {
	return newError(ErrorProcessingTimeout, jobID, cause,
		fmt.Sprintf("Processing timed out after %v", limit),
		map[string]interface{}{"timeout_duration": limit.String()})
}

// NewOCRFailedError reports an OCR engine that cannot run at all. A single
// unreadable frame is not an error.
func NewOCRFailedError(jobID, engine string, cause error) *ProcessingError {
	return newError(ErrorOCRFailed, jobID, cause,
		fmt.Sprintf("OCR engine unavailable: %s", engine),
		map[string]interface{}{"ocr_engine": engine})
}

func NewDecodeFailedError(jobID, filename string, cause error) *ProcessingError {
	return newError(ErrorDecodeFailed, jobID, cause,
		fmt.Sprintf("Failed to read input: %s", filename),
		map[string]interface{}{"filename": filename})
}

func NewUnsupportedFormatError(jobID, mimeType string) *ProcessingError {
	return newError(ErrorUnsupportedFormat, jobID, nil,
		fmt.Sprintf("Neither an image nor a video: %s", mimeType),
		map[string]interface{}{"mime_type": mimeType})
}

func NewFileTooLargeError(jobID string, size, limit int64) *ProcessingError {
	return newError(ErrorFileTooLarge, jobID, nil,
		fmt.Sprintf("Upload exceeds maximum: %d > %d bytes", size, limit),
		map[string]interface{}{"file_size": size, "max_size": limit})
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return newError(ErrorStorageFailed, jobID, cause, "Failed to store extraction results", nil)
}

// CodeOf returns the code of the first ProcessingError in err's chain
func CodeOf(err error) (ErrorCode, bool) {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

// IsRetryable reports whether re-running the job might succeed. Errors
// without a code are infrastructure failures and count as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	code, ok := CodeOf(err)
	return !ok || code.Retryable()
}

// ToMap flattens the error for the job's metadata column and the Redis
// errors hash
func (e *ProcessingError) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(e.Details)+5)
	for k, v := range e.Details {
		m[k] = v
	}
	m["error_code"] = string(e.Code)
	m["message"] = e.Message
	m["timestamp"] = e.Timestamp
	m["retryable"] = e.Code.Retryable()
	if e.Cause != nil {
		m["cause"] = e.Cause.Error()
	}
	return m
}
