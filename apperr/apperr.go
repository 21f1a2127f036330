// Package apperr carries an HTTP-mappable error kind across use-case
// boundaries. Domain packages keep their sentinel errors; use cases wrap
// what should reach a client in an *Error, and the gateway renders it as
// {message, code, data?} with the carried status. Anything else surfaces as
// a generic 500.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a client-visible failure.
type Error struct {
	Status  int
	Code    string
	Message string
	Data    any

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches the underlying error for logs without changing what the
// client sees.
func (e *Error) WithCause(err error) *Error {
	clone := *e
	clone.cause = err
	return &clone
}

// WithData attaches structured detail rendered in the response body.
func (e *Error) WithData(data any) *Error {
	clone := *e
	clone.Data = data
	return &clone
}

// New constructs an error with an explicit status and code.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// BadRequest flags malformed or tampered input.
func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, "invalid_input", message)
}

// Forbidden flags an authenticated caller acting on another user's resource.
func Forbidden(message string) *Error {
	return New(http.StatusForbidden, "forbidden", message)
}

// NotFound flags an unknown reference or id.
func NotFound(message string) *Error {
	return New(http.StatusNotFound, "not_found", message)
}

// Conflict flags a state-machine guard rejection.
func Conflict(message string) *Error {
	return New(http.StatusConflict, "conflict", message)
}

// Unavailable flags an upstream with an open circuit.
func Unavailable(message string) *Error {
	return New(http.StatusServiceUnavailable, "upstream_unavailable", message)
}

// Timeout flags an upstream deadline expiry.
func Timeout(message string) *Error {
	return New(http.StatusGatewayTimeout, "upstream_timeout", message)
}

// Malformed flags a provider payload the engine cannot trust.
func Malformed(message string) *Error {
	return New(http.StatusInternalServerError, "malformed", message)
}

// NotImplemented flags a flow the engine deliberately rejects.
func NotImplemented(message string) *Error {
	return New(http.StatusInternalServerError, "not_implemented", message)
}

// Internal is the generic non-leaking failure.
func Internal(message string) *Error {
	return New(http.StatusInternalServerError, "internal", message)
}

// From extracts the *Error from err, or wraps err as a generic internal
// failure so raw detail never leaks to a client.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("Something went wrong, try again later").WithCause(err)
}
