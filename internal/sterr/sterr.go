// Package sterr classifies pipeline failures by how far they propagate.
//
// Segment-local failures (KindTranscription, KindProtocol) are recovered where
// they happen; session-level failures (KindPermission, KindModelLoad) are
// surfaced to the caller and stop the operation that hit them.
package sterr

import (
	"errors"
	"fmt"
)

// Kind names a failure class.
type Kind string

const (
	KindPermission    Kind = "permission"
	KindModelLoad     Kind = "model_load"
	KindTranscription Kind = "transcription"
	KindProtocol      Kind = "protocol"
)

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Fatal reports whether errors of this kind end the session-level operation.
func (k Kind) Fatal() bool {
	return k == KindPermission || k == KindModelLoad
}

// Wrap classifies err. A nil err yields nil. An error that is already
// classified keeps its original kind.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

// New returns a classified error without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind checks whether the first classified error in the chain has kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) (Kind, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind, true
	}
	return "", false
}
