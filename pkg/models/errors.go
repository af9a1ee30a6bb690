package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error for propagation policy and HTTP mapping.
type ErrorKind string

// Error kinds surfaced by the core.
const (
	KindValidation    ErrorKind = "validation"
	KindAuth          ErrorKind = "auth"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindRateLimited   ErrorKind = "rate_limited"
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	KindBackpressure  ErrorKind = "backpressure"
	KindStorage       ErrorKind = "storage"
	KindDependency    ErrorKind = "dependency"
	KindCorruption    ErrorKind = "corruption"
)

// Error is the typed error carried across component boundaries. Details is
// surfaced verbatim for validation errors; RetryAfterSeconds populates
// advisory headers for rate_limited and backpressure.
type Error struct {
	Kind              ErrorKind
	Message           string
	Details           []string
	RetryAfterSeconds int
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a typed error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError wraps a cause with a kind and message.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ValidationError creates a validation error with per-field details.
func ValidationError(message string, details ...string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// KindOf returns the ErrorKind of err, or KindStorage for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
