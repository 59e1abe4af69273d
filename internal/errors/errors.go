package errors

import (
	"errors"
	"fmt"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Billing
	ErrCodeInsufficientCredits    ErrorCode = "INSUFFICIENT_CREDITS"
	ErrCodeSpendingLimitExceeded  ErrorCode = "SPENDING_LIMIT_EXCEEDED"
	ErrCodeReservationNotFound    ErrorCode = "RESERVATION_NOT_FOUND"
	ErrCodeReservationNotReserved ErrorCode = "RESERVATION_NOT_RESERVED"
	ErrCodeUnknownModel           ErrorCode = "UNKNOWN_MODEL"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout  ErrorCode = "TIMEOUT"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func RateLimitExceeded(message string) *AppError {
	return New(ErrCodeRateLimitExceeded, message)
}

func ReservationNotFound(id string) *AppError {
	return New(ErrCodeReservationNotFound, fmt.Sprintf("Reservation %s not found", id))
}

func ReservationNotReserved(id string, status model.ReservationStatus) *AppError {
	return New(ErrCodeReservationNotReserved, fmt.Sprintf("Reservation %s is %s", id, status))
}

func UnknownModel(provider, modelName string) *AppError {
	return New(ErrCodeUnknownModel, fmt.Sprintf("No pricing for %s/%s", provider, modelName))
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// Timeout marks a collaborator call that exceeded its deadline.
func Timeout(service string, cause error) *AppError {
	return Wrap(ErrCodeTimeout, fmt.Sprintf("Timed out waiting for %s", service), cause)
}

type appErrorer interface {
	AppError() *AppError
}

// AsAppError converts an error to an AppError if possible. Typed billing
// errors anywhere in the chain are converted through their AppError method.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	var conv appErrorer
	if errors.As(err, &conv) {
		return conv.AppError(), true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
