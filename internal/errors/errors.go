// Package errors provides the typed application errors shared by the
// repositories, services and handlers of the closing service.
//
// Every error that leaves a service carries a Code so handlers can map it to
// an HTTP status or gRPC code without string matching. Sentinels such as
// ErrAlreadyResolved can be tested with errors.Is from the standard library.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an application error.
type Code string

const (
	ErrCodeNotFound     Code = "not_found"
	ErrCodeInvalidInput Code = "invalid_input"
	ErrCodeConflict     Code = "conflict"
	ErrCodeForbidden    Code = "forbidden"
	ErrCodeUnauthorized Code = "unauthorized"
	ErrCodeUnbalanced   Code = "unbalanced"
	ErrCodeInternal     Code = "internal"
)

// Sentinels for the workflow failure taxonomy.
var (
	ErrPermissionDenied  = stderrors.New("permission denied")
	ErrAlreadyResolved   = stderrors.New("already resolved")
	ErrInvalidTransition = stderrors.New("invalid transition")
	ErrUnbalancedJournal = stderrors.New("journal is not balanced")
	ErrValidation        = stderrors.New("validation failed")
	ErrNotFound          = stderrors.New("not found")
)

// AppError is the error type returned across package boundaries.
type AppError struct {
	Code    Code
	Message string
	Field   string
	Err     error

	// kind is the taxonomy sentinel matched by Is. It is kept out of Error.
	kind error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches the taxonomy sentinel without exposing it in the message.
func (e *AppError) Is(target error) bool {
	return e.kind != nil && e.kind == target
}

// New creates an AppError with the given code.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
		kind:    ErrNotFound,
	}
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Field: field, Message: message, kind: ErrValidation}
}

// Forbidden reports a missing permission.
func Forbidden(message string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: message, kind: ErrPermissionDenied}
}

// AlreadyResolved reports a transition attempted on a terminal record.
func AlreadyResolved(resource, id, status string) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("%s %s is already %s", resource, id, status),
		kind:    ErrAlreadyResolved,
	}
}

// InvalidTransition reports a state-machine move that is not allowed from the
// current state.
func InvalidTransition(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message, kind: ErrInvalidTransition}
}

// Unbalanced reports a journal whose debit and credit totals differ.
func Unbalanced(message string) *AppError {
	return &AppError{Code: ErrCodeUnbalanced, Message: message, kind: ErrUnbalancedJournal}
}

// CodeOf returns the code of the first AppError in the chain, or
// ErrCodeInternal for anything else.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Is forwards to the standard library so callers importing this package
// under the name "errors" keep errors.Is available.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As forwards to the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
