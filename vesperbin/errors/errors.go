package errors

import "fmt"

// Error types for vesper-bin operations
var (
	// ErrFormat is returned when a container header is missing, short or unrecognized
	ErrFormat = &VesperError{Code: "FORMAT_ERROR", Message: "unrecognized container format"}

	// ErrUnknownProfile is returned when no format profile matches a firmware version
	ErrUnknownProfile = &VesperError{Code: "UNKNOWN_PROFILE", Message: "no format profile for firmware version"}

	// ErrReadFailed is returned when the underlying source fails mid-stream
	ErrReadFailed = &VesperError{Code: "READ_FAILED", Message: "failed to read container"}

	// ErrWriteFailed is returned when a finishing writer cannot persist output
	ErrWriteFailed = &VesperError{Code: "WRITE_FAILED", Message: "failed to write output"}

	// ErrConfig is returned for invalid configuration values
	ErrConfig = &VesperError{Code: "INVALID_CONFIG", Message: "invalid configuration"}
)

// VesperError represents a structured error in vesper-bin operations
type VesperError struct {
	Code    string                 // Error code for programmatic handling
	Message string                 // Human-readable error message
	Cause   error                  // Underlying error, if any
	Details map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *VesperError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	if len(e.Details) > 0 {
		return fmt.Sprintf("[%s] %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *VesperError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a VesperError with the same code, so that
// errors.Is(err, ErrFormat) matches errors derived with WithDetail/WithCause.
func (e *VesperError) Is(target error) bool {
	t, ok := target.(*VesperError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause adds a cause to the error
func (e *VesperError) WithCause(cause error) *VesperError {
	return &VesperError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   cause,
		Details: e.Details,
	}
}

// WithDetail adds a detail key-value pair to the error
func (e *VesperError) WithDetail(key string, value interface{}) *VesperError {
	details := make(map[string]interface{})
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &VesperError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// WithMessage overrides the error message
func (e *VesperError) WithMessage(message string) *VesperError {
	return &VesperError{
		Code:    e.Code,
		Message: message,
		Cause:   e.Cause,
		Details: e.Details,
	}
}

// NewFormatError creates a format error pointing at the offending bytes.
func NewFormatError(message string, offset int64, got []byte) error {
	return ErrFormat.
		WithMessage(message).
		WithDetail("offset", offset).
		WithDetail("bytes", fmt.Sprintf("% X", got))
}

// NewReadError creates a read error for a container
func NewReadError(name string, offset int64, cause error) error {
	return ErrReadFailed.
		WithDetail("source", name).
		WithDetail("offset", offset).
		WithCause(cause)
}

// NewWriteError creates a write error for an output path
func NewWriteError(path string, cause error) error {
	return ErrWriteFailed.
		WithDetail("path", path).
		WithCause(cause)
}

// IsVesperError checks if an error is a VesperError
func IsVesperError(err error) bool {
	_, ok := err.(*VesperError)
	return ok
}

// GetErrorCode extracts the error code from a VesperError
func GetErrorCode(err error) string {
	if vesperErr, ok := err.(*VesperError); ok {
		return vesperErr.Code
	}
	return ""
}
