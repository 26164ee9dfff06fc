package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound              = errors.New("resource not found")
	ErrBadRequest            = errors.New("bad request")
	ErrConflict              = errors.New("resource conflict")
	ErrInternal              = errors.New("internal server error")
	ErrValidation            = errors.New("validation error")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInsufficientAvailable = errors.New("insufficient available stock")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrConcurrencyConflict   = errors.New("concurrent modification")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Retryable  bool              `json:"retryable,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// InsufficientStock signals that a debit would drive a quantity negative.
// The operation is aborted with no partial writes.
func InsufficientStock(location, productID string) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    fmt.Sprintf("insufficient stock for product %s at %s", productID, location),
		StatusCode: http.StatusConflict,
		Details: map[string]string{
			"location":   location,
			"product_id": productID,
		},
	}
}

// InsufficientAvailable signals that a reservation exceeds unreserved stock.
func InsufficientAvailable(location, productID string) *AppError {
	return &AppError{
		Err:        ErrInsufficientAvailable,
		Code:       "INSUFFICIENT_AVAILABLE",
		Message:    fmt.Sprintf("insufficient available stock for product %s at %s", productID, location),
		StatusCode: http.StatusConflict,
		Details: map[string]string{
			"location":   location,
			"product_id": productID,
		},
	}
}

// InvalidTransition signals an attempted transition the current state does
// not define. Re-invoking a terminal transition is not an error; callers
// treat it as an idempotent no-op before reaching this constructor.
func InvalidTransition(from, attempted string) *AppError {
	return &AppError{
		Err:        ErrInvalidTransition,
		Code:       "INVALID_TRANSITION",
		Message:    fmt.Sprintf("cannot %s from state %s", attempted, from),
		StatusCode: http.StatusConflict,
		Details: map[string]string{
			"current_state": from,
			"attempted":     attempted,
		},
	}
}

// ConcurrencyConflict signals a lost optimistic-lock race. Callers may retry.
func ConcurrencyConflict(resource string) *AppError {
	return &AppError{
		Err:        ErrConcurrencyConflict,
		Code:       "CONCURRENCY_CONFLICT",
		Message:    fmt.Sprintf("%s was modified concurrently, retry the operation", resource),
		StatusCode: http.StatusConflict,
		Retryable:  true,
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
