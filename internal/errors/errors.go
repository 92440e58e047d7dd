package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents different types of errors
type ErrorCode string

const (
	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"

	// Validation errors
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// Store errors
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeStoreCorrupt     ErrorCode = "STORE_CORRUPT_RECORD"

	// Security domain errors
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Internal   error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Internal
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// Error constructors

func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

func NewValidationError(message string, details string) *AppError {
	return &AppError{
		Code:       ErrCodeValidation,
		Message:    message,
		Details:    details,
		StatusCode: http.StatusBadRequest,
	}
}

func NewNotFoundError(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Details:    fmt.Sprintf("ID: %s", id),
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewStoreUnavailableError(operation string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeStoreUnavailable,
		Message:    fmt.Sprintf("Store operation failed: %s", operation),
		StatusCode: http.StatusServiceUnavailable,
		Internal:   err,
	}
}

func NewStoreCorruptError(key string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeStoreCorrupt,
		Message:    "Stored record could not be decoded",
		Details:    fmt.Sprintf("Key: %s", key),
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

func NewRateLimitedError(reason string, resetTime time.Time) *AppError {
	err := &AppError{
		Code:       ErrCodeRateLimited,
		Message:    "Rate limit exceeded",
		Details:    reason,
		StatusCode: http.StatusTooManyRequests,
	}
	if !resetTime.IsZero() {
		err = err.WithContext("reset_time", resetTime.UTC().Format(time.RFC3339))
	}
	return err
}

func NewUnknownActionError(action string) *AppError {
	return &AppError{
		Code:       ErrCodeUnknownAction,
		Message:    "Unknown response action",
		Details:    fmt.Sprintf("Action: %s", action),
		StatusCode: http.StatusBadRequest,
	}
}

func NewInvalidTransitionError(from, to string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidTransition,
		Message:    "Incident status transition not allowed",
		Details:    fmt.Sprintf("%s -> %s", from, to),
		StatusCode: http.StatusConflict,
	}
}

// IsErrorCode checks if an error matches a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Code == code
}

// GetStatusCode returns the HTTP status code for an error
func GetStatusCode(err error) int {
	appErr, ok := err.(*AppError)
	if !ok {
		return http.StatusInternalServerError
	}
	return appErr.StatusCode
}

// ErrorResponse represents the JSON error response format
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ToResponse converts an AppError to an ErrorResponse
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    e.Code,
			Message: e.Message,
			Details: e.Details,
			Context: e.Context,
		},
	}
}

// FromError converts any error to an AppError
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	return NewInternalError("An unexpected error occurred", err)
}
