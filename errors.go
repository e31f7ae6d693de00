package world

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeInvalidArgument = "INVALID_ARGUMENT"
	ErrCodeUnavailable     = "UNAVAILABLE"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// Sentinel errors for errors.Is matching. Any *Error with the same code
// matches its sentinel.
var (
	ErrNotFound        = &Error{Code: ErrCodeNotFound, Message: "not found"}
	ErrConflict        = &Error{Code: ErrCodeConflict, Message: "conflict"}
	ErrInvalidArgument = &Error{Code: ErrCodeInvalidArgument, Message: "invalid argument"}
	ErrUnavailable     = &Error{Code: ErrCodeUnavailable, Message: "unavailable"}
)

// Error is the error type returned by every store, dispatcher and stream
// operation
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Entity  string `json:"entity,omitempty"`
	ID      string `json:"id,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Entity != "" && e.ID != "" {
		msg = fmt.Sprintf("[%s] %s (%s: %s)", e.Code, e.Message, e.Entity, e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code so callers can use the sentinels
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NotFound reports that an entity is absent or a transition precondition
// was not met
func NotFound(entity, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", entity),
		Entity:  entity,
		ID:      id,
	}
}

// Conflict reports a uniqueness violation on insert
func Conflict(entity, id string) *Error {
	return &Error{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("%s already exists", entity),
		Entity:  entity,
		ID:      id,
	}
}

// InvalidArgument reports a malformed request or payload
func InvalidArgument(format string, args ...any) *Error {
	return &Error{
		Code:    ErrCodeInvalidArgument,
		Message: fmt.Sprintf(format, args...),
	}
}

// Unavailable wraps an infrastructure failure of the underlying store,
// transport or object store
func Unavailable(op string, err error) *Error {
	return &Error{
		Code:    ErrCodeUnavailable,
		Message: op + " failed",
		Err:     err,
	}
}

// Internal wraps an unexpected failure such as a corrupt row
func Internal(op string, err error) *Error {
	return &Error{
		Code:    ErrCodeInternal,
		Message: op + " failed",
		Err:     err,
	}
}

// IsNotFound checks if an error is a not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidArgument checks if an error is an invalid-argument error
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsTransient checks if retrying the operation is sensible
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, ErrUnavailable)
}

// HTTPStatus maps an error to the status code an HTTP layer should return
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidArgument(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// From converts any error into an *Error, keeping existing ones as-is
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	return Internal("operation", err)
}
