package apperrors

import (
	"errors"
	"fmt"
)

// Error kinds. Services return *Error values whose Kind is one of these so
// callers can branch with errors.Is while reviewers still see a specific message.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation failed")
	ErrInvalidState    = errors.New("invalid state transition")
	ErrExecution       = errors.New("execution failed")
	ErrAlreadyResolved = errors.New("already resolved")
	ErrCascadeRequired = errors.New("cascade required")
)

// Error is a business error with a message intended to be shown to a reviewer verbatim.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

// Error returns the reviewer-facing message.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// IsRetryable reports false: business errors are permanent for the current attempt.
func (e *Error) IsRetryable() bool {
	return false
}

// New creates an error of the given kind.
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind that keeps cause in the chain.
func Wrap(kind error, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NotFound is shorthand for New(ErrNotFound, ...).
func NotFound(format string, args ...any) *Error {
	return New(ErrNotFound, format, args...)
}

// Validation is shorthand for New(ErrValidation, ...).
func Validation(format string, args ...any) *Error {
	return New(ErrValidation, format, args...)
}

// Conflict is shorthand for New(ErrConflict, ...).
func Conflict(format string, args ...any) *Error {
	return New(ErrConflict, format, args...)
}

// InvalidState is shorthand for New(ErrInvalidState, ...).
func InvalidState(format string, args ...any) *Error {
	return New(ErrInvalidState, format, args...)
}

// Error codes returned to API and MCP clients.
const (
	CodeNotFound        = "not_found"
	CodeValidation      = "validation_error"
	CodeConflict        = "conflict"
	CodeInvalidState    = "invalid_state"
	CodeExecution       = "execution_failed"
	CodeAlreadyResolved = "already_resolved"
	CodeCascadeRequired = "cascade_required"
	CodeInternal        = "internal"
)

// Code maps an error to a stable machine-readable code.
// Anything that is not a known kind is reported as internal.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCascadeRequired):
		return CodeCascadeRequired
	case errors.Is(err, ErrAlreadyResolved):
		return CodeAlreadyResolved
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrExecution):
		return CodeExecution
	default:
		return CodeInternal
	}
}

// IsBusiness reports whether err is one of the expected business conditions
// rather than an infrastructure failure.
func IsBusiness(err error) bool {
	return Code(err) != CodeInternal && err != nil
}
