package apperror

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error represents an application error with HTTP status and error code
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error
func (e *Error) Unwrap() error {
	return e.Internal
}

// ToEchoError converts the app error to an echo.HTTPError for proper handling
func (e *Error) ToEchoError() *echo.HTTPError {
	errBody := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		errBody["details"] = e.Details
	}
	return echo.NewHTTPError(e.HTTPStatus, map[string]any{
		"error": errBody,
	})
}

// WithInternal returns a copy of the error with an internal error attached
func (e *Error) WithInternal(err error) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   err,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    message,
		Internal:   e.Internal,
		Details:    e.Details,
	}
}

// WithDetails returns a copy of the error with details attached
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   e.Internal,
		Details:    details,
	}
}

// New creates a new application error
func New(status int, code, message string) *Error {
	return &Error{
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}

// Common error definitions
var (
	// Authentication errors
	ErrUnauthorized  = New(http.StatusUnauthorized, "unauthorized", "Authentication required")
	ErrUnknownAPIKey = New(http.StatusUnauthorized, "unknown_api_key", "Unknown API key")

	// Authorization errors
	ErrForbidden     = New(http.StatusForbidden, "forbidden", "Access denied")
	ErrInternalScope = New(http.StatusForbidden, "internal_scope_required", "Internal service token required")

	// Resource errors
	ErrNotFound       = New(http.StatusNotFound, "not_found", "Resource not found")
	ErrTenantNotFound = New(http.StatusNotFound, "tenant_not_found", "Tenant not found")
	ErrConflict       = New(http.StatusConflict, "conflict", "Resource already exists")

	// Validation errors
	ErrBadRequest      = New(http.StatusBadRequest, "bad_request", "Invalid request")
	ErrValidation      = New(http.StatusUnprocessableEntity, "validation_error", "Validation failed")
	ErrPayloadTooLarge = New(http.StatusRequestEntityTooLarge, "payload_too_large", "File exceeds the maximum allowed size")

	// Admission errors
	ErrRateLimited = New(http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")

	// Server errors
	ErrInternal             = New(http.StatusInternalServerError, "internal_error", "An internal error occurred")
	ErrDatabase             = New(http.StatusInternalServerError, "database_error", "Database operation failed")
	ErrConsistencyViolation = New(http.StatusInternalServerError, "consistency_violation", "Cross-tenant consistency violation detected")
	ErrUnavailable          = New(http.StatusServiceUnavailable, "downstream_unavailable", "A downstream dependency is unavailable")
)

// NewBadRequest creates a bad request error with a custom message
func NewBadRequest(message string) *Error {
	return ErrBadRequest.WithMessage(message)
}

// NewNotFound creates a not found error for a resource type and ID
func NewNotFound(resourceType, id string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s '%s' not found", resourceType, id))
}

// NewInternal creates an internal error with a message and optional wrapped error
func NewInternal(message string, err error) *Error {
	return &Error{
		HTTPStatus: http.StatusInternalServerError,
		Code:       "internal_error",
		Message:    message,
		Internal:   err,
	}
}

// NewRateLimited creates a 429 error carrying the retry delay in milliseconds.
// The HTTP error handler turns RetryAfterMs into a Retry-After header.
func NewRateLimited(retryAfterMs int64) *Error {
	return ErrRateLimited.WithDetails(map[string]any{
		"retry_after_ms": retryAfterMs,
	})
}
