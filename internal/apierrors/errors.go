// Package apierrors defines the error envelope surfaced to API clients and
// operators: a stable machine-readable code, a human-readable message, and
// optional structured metadata. Internal errors are mapped onto the envelope
// at the boundary; the codes are part of the external contract and never
// change meaning.
package apierrors

import (
	"errors"
	"fmt"

	"go.wharfapis.com/wharf/internal/store"
)

// Code is a stable machine-readable error category.
type Code string

const (
	// CodeInvalidRequest reports a malformed or semantically invalid request.
	CodeInvalidRequest Code = "invalid_request"
	// CodeNotFound reports a missing resource the caller required.
	CodeNotFound Code = "not_found"
	// CodeInitializationFailed reports that the process could not start.
	CodeInitializationFailed Code = "initialization_failed"
	// CodeUnsupportedMediaType reports a request body in an unsupported format.
	CodeUnsupportedMediaType Code = "unsupported_media_type"
	// CodeInvalidHeader reports a malformed or missing request header.
	CodeInvalidHeader Code = "invalid_header"
	// CodeUnknown reports an unexpected internal failure.
	CodeUnknown Code = "unknown"
)

// Error is the envelope. Metadata carries request-specific context such as
// the resource name or the offending field; keys are stable per code.
type Error struct {
	Code     Code           `json:"code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	err      error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.err }

// New creates an envelope error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an envelope error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata attaches one metadata entry, returning the same error for
// chaining.
func (e *Error) WithMetadata(key string, value any) *Error {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	e.Metadata[key] = value
	return e
}

// Wrap maps an internal error onto the envelope. Envelope errors pass
// through unchanged; store errors map by kind; anything else is unknown.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var envelope *Error
	if errors.As(err, &envelope) {
		return envelope
	}

	var code Code
	switch {
	case store.IsNotFound(err):
		code = CodeNotFound
	case store.IsInvalid(err):
		code = CodeInvalidRequest
	case store.IsFatal(err):
		code = CodeInitializationFailed
	default:
		code = CodeUnknown
	}
	return &Error{Code: code, Message: err.Error(), err: err}
}

// CodeOf returns the envelope code for an error, or CodeUnknown.
func CodeOf(err error) Code {
	var envelope *Error
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return Wrap(err).Code
}
