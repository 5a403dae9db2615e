// errors.go defines the engine's error taxonomy.
//
// Design: Sentinel errors (not error types) for the common store outcomes, so
// callers use errors.Is without type assertions. The richer Error carries a
// taxonomy kind plus diagnostics for OperationOutcome rendering; its Is method
// matches the sentinel of its kind, so both styles interoperate:
//
//	err := fhir.Errorf(fhir.KindNotFound, "Patient/%s", id)
//	errors.Is(err, fhir.ErrNotFound) // true
package fhir

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the outcomes every layer needs to branch on.
var (
	ErrNotFound        = errors.New("not found")
	ErrGone            = errors.New("deleted")
	ErrConflict        = errors.New("conflict")
	ErrPrecondition    = errors.New("precondition failed")
	ErrMultipleMatches = errors.New("multiple matches")
	ErrUnsupported     = errors.New("not supported")
	ErrMalformed       = errors.New("malformed request")
	ErrValidation      = errors.New("validation failed")
	ErrTransient       = errors.New("temporarily unavailable")
)

// Kind classifies an error for OperationOutcome rendering and status mapping.
type Kind string

const (
	KindMalformed    Kind = "malformed-request"
	KindUnsupported  Kind = "unsupported"
	KindNotFound     Kind = "not-found"
	KindGone         Kind = "gone"
	KindConflict     Kind = "conflict"
	KindPrecondition Kind = "precondition-failed"
	KindValidation   Kind = "validation"
	KindTransient    Kind = "transient"
	KindInternal     Kind = "internal"
)

// sentinelFor maps each kind to the sentinel errors.Is should match.
func sentinelFor(k Kind) error {
	switch k {
	case KindMalformed:
		return ErrMalformed
	case KindUnsupported:
		return ErrUnsupported
	case KindNotFound:
		return ErrNotFound
	case KindGone:
		return ErrGone
	case KindConflict:
		return ErrConflict
	case KindPrecondition:
		return ErrPrecondition
	case KindValidation:
		return ErrValidation
	case KindTransient:
		return ErrTransient
	default:
		return nil
	}
}

// Error is a taxonomy-classified error. Expression optionally locates the
// offending element as a dotted path into the submitted resource.
type Error struct {
	Kind        Kind
	Diagnostics string
	Expression  string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Diagnostics, e.Cause)
	}
	return e.Diagnostics
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches the sentinel for the error's kind, so wrapped taxonomy errors
// still satisfy errors.Is(err, fhir.ErrNotFound) etc.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

// Errorf builds a taxonomy error with formatted diagnostics.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Diagnostics: fmt.Sprintf(format, args...)}
}

// WrapKind classifies an existing error without losing its chain.
func WrapKind(kind Kind, err error, diagnostics string) *Error {
	return &Error{Kind: kind, Diagnostics: diagnostics, Cause: err}
}

// At attaches an element expression to the error and returns it.
func (e *Error) At(expression string) *Error {
	e.Expression = expression
	return e
}

// KindOf classifies any error into the taxonomy. Unknown errors are internal;
// context cancellation and deadline expiry count as transient since the
// operation may be retried.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrGone):
		return KindGone
	case errors.Is(err, ErrMultipleMatches), errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrPrecondition):
		return KindPrecondition
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindInternal
	}
}

// StatusFor maps a kind to its HTTP status. Operation-specific overrides
// (e.g. 412 for failed If-None-Exist) happen at the REST layer.
func StatusFor(k Kind) int {
	switch k {
	case KindMalformed:
		return 400
	case KindUnsupported:
		return 400
	case KindNotFound:
		return 404
	case KindGone:
		return 410
	case KindConflict:
		return 409
	case KindPrecondition:
		return 412
	case KindValidation:
		return 422
	case KindTransient:
		return 429
	default:
		return 500
	}
}

// IssueCodeFor maps a kind to the OperationOutcome issue code.
func IssueCodeFor(k Kind) string {
	switch k {
	case KindMalformed:
		return "invalid"
	case KindUnsupported:
		return "not-supported"
	case KindNotFound:
		return "not-found"
	case KindGone:
		return "deleted"
	case KindConflict:
		return "conflict"
	case KindPrecondition:
		return "conflict"
	case KindValidation:
		return "invariant"
	case KindTransient:
		return "transient"
	default:
		return "exception"
	}
}
