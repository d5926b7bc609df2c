package store

import (
	"errors"
	"fmt"
)

// ErrorKind classifies store failures so callers can decide between retrying,
// re-reading, and giving up.
type ErrorKind int

const (
	// KindTransient covers network timeouts, 5xx responses, and feed
	// disconnects. Retriable with backoff.
	KindTransient ErrorKind = iota
	// KindConflict is an optimistic-concurrency failure: the expected
	// revision no longer matches. Retriable after a fresh read.
	KindConflict
	// KindNotFound is surfaced only when the caller required presence;
	// plain reads report missing documents without an error.
	KindNotFound
	// KindInvalid covers malformed documents and requests the store refused
	// as bad input. Not retriable.
	KindInvalid
	// KindFatal is unrecoverable: the store is unreachable or refused schema
	// creation.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindInvalid:
		return "invalid"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Error wraps an underlying store failure with its classification and the
// operation that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified store error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func kindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is a retriable store failure.
func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransient
}

// IsConflict reports whether err is an optimistic-concurrency failure.
func IsConflict(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConflict
}

// IsNotFound reports whether err signals a required document was absent.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

// IsInvalid reports whether err signals bad input.
func IsInvalid(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindInvalid
}

// IsFatal reports whether err is unrecoverable.
func IsFatal(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindFatal
}
