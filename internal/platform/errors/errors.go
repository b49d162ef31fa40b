// Package errors provides the structured errors returned by the relay's HTTP
// surface, mostly rejected WebSocket handshakes, and their status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorises an error for logging and response formatting.
type ErrorType string

const (
	TypeValidation  ErrorType = "validation"   // malformed handshake, e.g. unknown role
	TypeRateLimited ErrorType = "rate_limited" // too many upgrades from one origin
	TypeUnavailable ErrorType = "unavailable"  // connection caps reached or relay stopped
	TypeInternal    ErrorType = "internal"
)

var statusByType = map[ErrorType]int{
	TypeValidation:  http.StatusBadRequest,
	TypeRateLimited: http.StatusTooManyRequests,
	TypeUnavailable: http.StatusServiceUnavailable,
	TypeInternal:    http.StatusInternalServerError,
}

// Error is a typed error with a client-safe message, an optional cause that is
// only logged, and context fields echoed to the client.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	msg := string(e.Type) + ": " + e.Message
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code for the error's type; unknown types map to 500.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByType[e.Type]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithField attaches a context field and returns e for chaining.
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func New(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: map[string]any{}}
}

func ValidationError(message string) *Error  { return New(TypeValidation, message, nil) }
func RateLimitedError(message string) *Error { return New(TypeRateLimited, message, nil) }
func UnavailableError(message string) *Error { return New(TypeUnavailable, message, nil) }

func InternalError(message string, cause error) *Error {
	return New(TypeInternal, message, cause)
}

// ErrorResponse is the JSON body sent to HTTP clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Type: e.Type, Context: e.Context}
}

// AsStructuredError returns the first *Error in err's chain, or wraps err as an
// internal error whose cause is never shown to the client.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	return InternalError("internal server error", err)
}
