// Package domainerrors provides coded domain errors. Services return these
// so callers, handlers, and tests can assert on the exact failure cause
// instead of matching message strings. Import aliased as dErrors.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain failure. Every precondition violation in the
// service layer maps to exactly one code, and no code is ever reused for a
// semantically different failure.
type Code string

const (
	// Generic codes shared across components.
	CodeInvalidInput Code = "invalid_input"
	CodeBadRequest   Code = "bad_request"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal"

	// Proximity-graph failure taxonomy. Each is observably distinct so a
	// caller or test harness can assert on the precise cause.
	CodeAlreadyRegistered  Code = "already_registered"
	CodeNotOwner           Code = "not_owner"
	CodeUpdateTooSoon      Code = "update_too_soon"
	CodeCapabilityMismatch Code = "capability_mismatch"
	CodeClockRegression    Code = "clock_regression"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is / errors.As.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	for errors.As(err, &domainErr) {
		if domainErr.Code == code {
			return true
		}
		err = domainErr.Err
		domainErr = nil
	}
	return false
}

// CodeOf extracts the outermost domain code, or CodeInternal when err is not
// a domain error.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain error to an HTTP status for transport layers.
func ToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyRegistered:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeNotOwner, CodeCapabilityMismatch:
		return http.StatusForbidden
	case CodeUpdateTooSoon:
		return http.StatusTooManyRequests
	case CodeClockRegression:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
