// Package apperror defines the request-level error kinds of the API.
//
// Services return these (possibly wrapped with fmt.Errorf("...: %w", err));
// the handler layer maps each kind to an HTTP status with errors.Is.
package apperror

import (
	"errors"
	"fmt"
)

// Status mapping used by handler.writeError:
//
//	ErrValidation      400
//	ErrUnauthenticated 401  no session, or the session's user is banned or gone
//	ErrForbidden       403  signed in but not allowed (non-admin, self-ban, self-demote)
//	ErrNotFound        404
//	ErrConflict        409  a unique column (username, WakaTime id) is taken
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("not authenticated")
)

// AppError carries a kind plus the message shown to the client as
// {"error": Message}.
type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource string, id any) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %v", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports that a unique value of resource is already taken.
func Conflict(resource string, id any) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %v", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated means no valid session accompanied the request (401).
func Unauthenticated() *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: "Not authenticated",
	}
}
