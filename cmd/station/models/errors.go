package models

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes station errors
type ErrorKind string

const (
	// KindValidationRejection: the barcode does not carry the expected code
	KindValidationRejection ErrorKind = "validation_rejection"

	// KindDuplicateRejection: the barcode was already consumed this session
	KindDuplicateRejection ErrorKind = "duplicate_rejection"

	// KindConfigurationFault: unknown variant or unsupported code length
	KindConfigurationFault ErrorKind = "configuration_fault"

	// KindLookupFailure: the inventory lookup failed for a component
	KindLookupFailure ErrorKind = "lookup_failure"

	// KindPersistenceFailure: the assembly backend or fallback store failed
	KindPersistenceFailure ErrorKind = "persistence_failure"

	// KindPreconditionError: an operation was invoked in the wrong state
	KindPreconditionError ErrorKind = "precondition_error"
)

// StationError carries an ErrorKind alongside the underlying cause
type StationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *StationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *StationError) Unwrap() error {
	return e.Err
}

// NewError builds a StationError
func NewError(kind ErrorKind, message string, err error) *StationError {
	return &StationError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind of err, if it wraps a StationError
func KindOf(err error) (ErrorKind, bool) {
	var se *StationError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// IsKind reports whether err wraps a StationError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsBlocking reports whether err must stop the operator until resolved.
// Everything else is recovered locally with a non-blocking notice.
func IsBlocking(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindConfigurationFault || k == KindPreconditionError)
}
