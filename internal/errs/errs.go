// Package errs defines the closed error-kind enum surfaced to callers
// (spec §7) and a CoreError that wraps an underlying cause so callers can
// both switch on Kind and unwrap to the original error with errors.Is/As.
package errs

import (
	"errors"
	"fmt"

	"github.com/inputlayer/inputlayer/pkg/result"
)

// Kind is the closed set of error kinds spec §7 requires the engine to
// surface.
type Kind string

const (
	ParseError            Kind = "ParseError"
	SchemaConflict        Kind = "SchemaConflict"
	TypeError             Kind = "TypeError"
	ArityMismatch         Kind = "ArityMismatch"
	UnsafeRule            Kind = "UnsafeRule"
	UnstratifiableProgram Kind = "UnstratifiableProgram"
	ViewWriteAttempt      Kind = "ViewWriteAttempt"
	ArithmeticError       Kind = "ArithmeticError"
	IndexUnavailable      Kind = "IndexUnavailable"
	RelationNotFound      Kind = "RelationNotFound"
	Cancelled             Kind = "Cancelled"
	Timeout               Kind = "Timeout"
	Backpressure          Kind = "Backpressure"
	PersistError          Kind = "PersistError"
	InternalError         Kind = "InternalError"
)

// CoreError is the engine's internal error type. It implements Unwrap so
// errors.Is/As can reach the original cause through a CoreError wrapper.
type CoreError struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *CoreError; otherwise returns InternalError, since an un-kinded error
// reaching the boundary is itself an invariant violation worth logging.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return InternalError
}

// ToResultError converts a CoreError (or any error) into the wire-facing
// result.Error shape.
func ToResultError(err error) result.Error {
	var ce *CoreError
	if errors.As(err, &ce) {
		return result.Error{Code: result.ErrorCode(ce.Kind), Message: ce.Error()}
	}
	return result.Error{Code: result.ErrorCode(InternalError), Message: err.Error()}
}
