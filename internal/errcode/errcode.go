// Package errcode provides structured error codes for the pipeline service.
// Codes are string-based for debuggability and natural JSON serialization,
// and each maps to an HTTP status for the API surface.
//
// Only two error classes ever escape as HTTP errors: input validation and
// infrastructure failures. Stage-execution failures and unmet preconditions
// are modeled as stage status data, never as transport errors.
package errcode

import (
	"errors"
	"net/http"
)

// Code identifies a specific error condition.
type Code string

const (
	// CodeInvalidInput indicates the provided input is invalid or malformed.
	CodeInvalidInput Code = "INVALID_INPUT"

	// CodeExecutionFailed indicates a pipeline stage execution failure.
	// It is carried on stage detail, not on HTTP error responses.
	CodeExecutionFailed Code = "EXECUTION_FAILED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout Code = "TIMEOUT"

	// CodeUnavailable indicates a required backend is unreachable.
	CodeUnavailable Code = "SERVICE_UNAVAILABLE"

	// CodeInternal indicates an unexpected internal error.
	CodeInternal Code = "INTERNAL_ERROR"
)

// HTTPStatus maps the code onto an HTTP response status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error couples a code with a message and an optional cause. It supports
// errors.Is/As against the cause chain.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New returns an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap returns an Error wrapping cause. A nil cause yields nil.
func Wrap(cause error, code Code, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the Code from err's chain, defaulting to CodeInternal for
// unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
