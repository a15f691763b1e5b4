package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error for the HTTP surface.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeUnsupported   Code = "UNSUPPORTED_COMMAND"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeRateLimit     Code = "RATE_LIMITED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Metadata maps a Code onto its HTTP response. ExposeMessage lets the caller's
// message replace PublicMessage in the response body.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	ExposeMessage  bool
}

type metaOption func(*Metadata)

var (
	retryable   metaOption = func(m *Metadata) { m.Retryable = true }
	withDetails metaOption = func(m *Metadata) { m.DetailsAllowed = true }
	exposed     metaOption = func(m *Metadata) { m.ExposeMessage = true }
)

func meta(status int, public string, opts ...metaOption) Metadata {
	m := Metadata{HTTPStatus: status, PublicMessage: public}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", withDetails, exposed),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", exposed),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", exposed),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", withDetails, exposed),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", withDetails, exposed),
	CodeUnsupported:   meta(http.StatusUnprocessableEntity, "unsupported session command", withDetails, exposed),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "unauthorized", exposed),
	CodeForbidden:     meta(http.StatusForbidden, "forbidden", exposed),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded", retryable, exposed),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", retryable, withDetails),
}

// MetadataFor returns the HTTP mapping for code, defaulting to internal.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// Error is the typed error surfaced through the HTTP layer. Error() reports
// only code and message; the cause stays reachable through Unwrap.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// Is reports whether err carries a typed error with the given code.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
