package spectral

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error.
type Kind int

const (
	// KindInput is a malformed spectrum or an invalid detection,
	// smoothing or fit parameter.
	KindInput Kind = iota + 1
	// KindOverrideValidation is a malformed per-peak override row.
	KindOverrideValidation
	// KindConvergence means the optimizer exhausted its budget
	// without meeting the tolerance.
	KindConvergence
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "InputError"
	case KindOverrideValidation:
		return "OverrideValidationError"
	case KindConvergence:
		return "ConvergenceFailure"
	default:
		return "UnknownError"
	}
}

// NoPeak marks an error that is not tied to a particular peak.
const NoPeak = -1

// Error represents a spectral pipeline error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind is the error class.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the pipeline stage where the error occurred.
	Component string
	// Peak is the offending peak index, or NoPeak.
	Peak int
	// Field is the offending input field, if any.
	Field string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	switch {
	case e.Peak != NoPeak && e.Field != "":
		msg = fmt.Sprintf("peak %d: field %q: %s", e.Peak, e.Field, msg)
	case e.Peak != NoPeak:
		msg = fmt.Sprintf("peak %d: %s", e.Peak, msg)
	case e.Field != "":
		msg = fmt.Sprintf("field %q: %s", e.Field, msg)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if prefix != "" {
		return prefix + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithField records the offending field.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithPeak records the offending peak index.
func (e *Error) WithPeak(peak int) *Error {
	e.Peak = peak
	return e
}

// NewError creates a new error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Peak:    NoPeak,
	}
}

// NewErrorf creates a new error of the given kind with a formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// InputErrorf is shorthand for NewErrorf(KindInput, ...).
func InputErrorf(format string, args ...interface{}) *Error {
	return NewErrorf(KindInput, format, args...)
}

// OverrideErrorf creates an override validation error for one row field.
func OverrideErrorf(peak int, field, format string, args ...interface{}) *Error {
	return NewErrorf(KindOverrideValidation, format, args...).WithPeak(peak).WithField(field)
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Peak:    NoPeak,
		Err:     err,
	}
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries a spectral error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}
