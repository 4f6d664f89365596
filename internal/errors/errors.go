// Package errors provides structured error types for flightplan.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	ErrCodeTemplate      ErrorCode = "TEMPLATE_ERROR"
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeConnection    ErrorCode = "CONNECTION_ERROR"
	ErrCodeExecution     ErrorCode = "EXECUTION_ERROR"
	ErrCodeConcurrency   ErrorCode = "CONCURRENCY_REFUSAL"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeStorage       ErrorCode = "STORAGE_ERROR"
	ErrCodeConflict      ErrorCode = "CONFLICT"
)

// Error is the base error type for flightplan
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap creates a new error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds a single detail to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// TemplateError reports a variable that has no binding at render time
func TemplateError(name string) *Error {
	return New(ErrCodeTemplate, fmt.Sprintf("'%s' is undefined", name)).
		WithDetail("variable", name)
}

// ConfigurationError reports a malformed plan or a missing reference
func ConfigurationError(message string) *Error {
	return New(ErrCodeConfiguration, message)
}

// ConnectionError reports a failure to reach or authenticate to a host
func ConnectionError(host string, cause error) *Error {
	return Wrap(ErrCodeConnection, fmt.Sprintf("SSH connection to %s failed", host), cause).
		WithDetail("host", host)
}

// ExecutionError reports a remote I/O failure after the session was opened
func ExecutionError(cause error) *Error {
	return Wrap(ErrCodeExecution, "SSH execute command error", cause)
}

// NotFound reports a missing record
func NotFound(kind, ref string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("%s %q not found", kind, ref)).
		WithDetail("kind", kind).
		WithDetail("reference", ref)
}
