package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		kind  ErrorKind
		check func(error) bool
	}{
		{name: "transient", kind: KindTransient, check: IsTransient},
		{name: "conflict", kind: KindConflict, check: IsConflict},
		{name: "not found", kind: KindNotFound, check: IsNotFound},
		{name: "invalid", kind: KindInvalid, check: IsInvalid},
		{name: "fatal", kind: KindFatal, check: IsFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError(tt.kind, "test.op", errors.New("boom"))
			if !tt.check(err) {
				t.Errorf("classification check failed for kind %v", tt.kind)
			}
			for _, other := range tests {
				if other.kind == tt.kind {
					continue
				}
				if other.check(err) {
					t.Errorf("kind %v incorrectly matched check for %v", tt.kind, other.kind)
				}
			}
		})
	}
}

func TestErrorClassificationThroughWrapping(t *testing.T) {
	err := NewError(KindConflict, "test.put", errors.New("document update conflict"))
	wrapped := fmt.Errorf("reconciling user: %w", err)

	if !IsConflict(wrapped) {
		t.Error("IsConflict should see through fmt.Errorf wrapping")
	}
	if IsTransient(wrapped) {
		t.Error("IsTransient should not match a conflict")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(KindTransient, "test.op", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

func TestErrorClassificationOnPlainError(t *testing.T) {
	err := errors.New("plain")
	if IsTransient(err) || IsConflict(err) || IsNotFound(err) || IsInvalid(err) || IsFatal(err) {
		t.Error("plain errors must not match any store classification")
	}
}
