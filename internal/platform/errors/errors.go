package errors

import (
	"errors"
	"fmt"
)

// Error is the domain error type carried across the engine boundary.
type Error struct {
	Code      Code   // Machine-readable error code
	Message   string // Internal message (for logs and response envelopes)
	Retryable bool   // Whether a caller may safely retry the request
	Cause     error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Validation creates a non-retryable validation error.
func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

// Validationf creates a non-retryable validation error with formatting.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Permission creates a non-retryable permission error.
func Permission(message string) *Error {
	return &Error{Code: CodePermission, Message: message}
}

// Provider creates a retryable upstream collaborator error.
func Provider(message string, cause error) *Error {
	return &Error{Code: CodeProvider, Message: message, Retryable: true, Cause: cause}
}

// Unexpected wraps an unclassified error; treated as retryable.
func Unexpected(cause error) *Error {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	return &Error{Code: CodeUnexpected, Message: message, Retryable: true, Cause: cause}
}

// Normalize coerces any error into the domain taxonomy.
func Normalize(err error) *Error {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return Unexpected(err)
}
