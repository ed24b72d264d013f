package apperror

import (
	"errors"
	"net/http"
	"testing"
)

func TestErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name: "without internal error",
			err: &Error{
				HTTPStatus: http.StatusNotFound,
				Code:       "not_found",
				Message:    "Resource not found",
			},
			expected: "not_found: Resource not found",
		},
		{
			name: "with internal error",
			err: &Error{
				HTTPStatus: http.StatusInternalServerError,
				Code:       "internal_error",
				Message:    "Something went wrong",
				Internal:   errors.New("database connection failed"),
			},
			expected: "internal_error: Something went wrong (database connection failed)",
		},
		{
			name: "empty message",
			err: &Error{
				HTTPStatus: http.StatusBadRequest,
				Code:       "bad_request",
				Message:    "",
			},
			expected: "bad_request: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := ErrDatabase.WithInternal(inner)
	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped internal error")
	}
	if ErrDatabase.Unwrap() != nil {
		t.Error("Unwrap() on an error without internal should be nil")
	}
}

func TestWithMessagePreservesCode(t *testing.T) {
	err := ErrBadRequest.WithMessage("filename is required")
	if err.Code != "bad_request" {
		t.Errorf("Code = %q, want %q", err.Code, "bad_request")
	}
	if err.Message != "filename is required" {
		t.Errorf("Message = %q", err.Message)
	}
	// The shared sentinel must not be mutated
	if ErrBadRequest.Message != "Invalid request" {
		t.Error("WithMessage mutated the shared sentinel")
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
	}{
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrUnknownAPIKey, http.StatusUnauthorized},
		{ErrInternalScope, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrInternal, http.StatusInternalServerError},
		{ErrConsistencyViolation, http.StatusInternalServerError},
		{ErrUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			if tt.err.HTTPStatus != tt.status {
				t.Errorf("HTTPStatus = %d, want %d", tt.err.HTTPStatus, tt.status)
			}
		})
	}
}

func TestNewRateLimited(t *testing.T) {
	err := NewRateLimited(2500)
	if err.HTTPStatus != http.StatusTooManyRequests {
		t.Errorf("HTTPStatus = %d, want 429", err.HTTPStatus)
	}
	ms, ok := err.Details["retry_after_ms"].(int64)
	if !ok || ms != 2500 {
		t.Errorf("Details[retry_after_ms] = %v, want 2500", err.Details["retry_after_ms"])
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("document", "abc-123")
	if err.Message != "document 'abc-123' not found" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want 404", err.HTTPStatus)
	}
}

func TestToEchoError(t *testing.T) {
	err := ErrValidation.WithDetails(map[string]any{"field": "limit"})
	he := err.ToEchoError()
	if he.Code != http.StatusUnprocessableEntity {
		t.Errorf("Code = %d, want 422", he.Code)
	}
	body, ok := he.Message.(map[string]any)
	if !ok {
		t.Fatalf("Message is %T, want map", he.Message)
	}
	inner, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatal("missing error envelope")
	}
	if inner["code"] != "validation_error" {
		t.Errorf("code = %v", inner["code"])
	}
	if _, ok := inner["details"]; !ok {
		t.Error("details not propagated")
	}
}
