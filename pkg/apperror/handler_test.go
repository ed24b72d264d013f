package apperror

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestContext(method string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	inner, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error envelope: %v", body)
	}
	return inner
}

func TestHTTPErrorHandlerAppError(t *testing.T) {
	handler := HTTPErrorHandler(slog.Default())
	c, rec := newTestContext(http.MethodGet)

	handler(ErrTenantNotFound, c)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	inner := decodeError(t, rec)
	if inner["code"] != "tenant_not_found" {
		t.Errorf("code = %v", inner["code"])
	}
}

func TestHTTPErrorHandlerRetryAfter(t *testing.T) {
	handler := HTTPErrorHandler(slog.Default())
	c, rec := newTestContext(http.MethodPost)

	handler(NewRateLimited(1500), c)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	// 1500ms rounds up to 2s
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want %q", got, "2")
	}
}

func TestHTTPErrorHandlerEchoError(t *testing.T) {
	handler := HTTPErrorHandler(slog.Default())
	c, rec := newTestContext(http.MethodGet)

	handler(echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too big"), c)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
	inner := decodeError(t, rec)
	if inner["code"] != "payload_too_large" {
		t.Errorf("code = %v", inner["code"])
	}
	if inner["message"] != "too big" {
		t.Errorf("message = %v", inner["message"])
	}
}

func TestHTTPErrorHandlerUnknownError(t *testing.T) {
	handler := HTTPErrorHandler(slog.Default())
	c, rec := newTestContext(http.MethodGet)

	handler(echo.ErrInternalServerError.SetInternal(nil), c)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHTTPErrorHandlerHeadRequest(t *testing.T) {
	handler := HTTPErrorHandler(slog.Default())
	c, rec := newTestContext(http.MethodHead)

	handler(ErrNotFound, c)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Error("HEAD response must have no body")
	}
}
