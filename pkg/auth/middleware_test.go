package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/pkg/apperror"
)

type fakeResolver struct {
	tenants map[string]*Tenant
	err     error
}

func (f *fakeResolver) ResolveByFingerprint(_ context.Context, fingerprint string) (*Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	tenant, ok := f.tenants[fingerprint]
	if !ok {
		return nil, apperror.ErrTenantNotFound
	}
	return tenant, nil
}

func newTestMiddleware(resolver TenantResolver, internalToken string) *Middleware {
	cfg := &config.Config{}
	cfg.Auth.InternalToken = internalToken
	return NewMiddleware(resolver, cfg, slog.Default())
}

func invoke(t *testing.T, mw echo.MiddlewareFunc, headers map[string]string) (error, *Tenant) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var captured *Tenant
	handler := mw(func(c echo.Context) error {
		captured = GetTenant(c)
		return c.NoContent(http.StatusOK)
	})
	return handler(c), captured
}

func TestRequireTenantValidKey(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)

	resolver := &fakeResolver{tenants: map[string]*Tenant{
		Fingerprint(key): {ID: "t1", Name: "acme", RateLimitPerMinute: 50},
	}}
	mw := newTestMiddleware(resolver, "")

	handlerErr, tenant := invoke(t, mw.RequireTenant(), map[string]string{HeaderAPIKey: key})
	require.NoError(t, handlerErr)
	require.NotNil(t, tenant)
	assert.Equal(t, "t1", tenant.ID)
	assert.Equal(t, 50, tenant.RateLimitPerMinute)
}

func TestRequireTenantMissingAndUnknownKey(t *testing.T) {
	mw := newTestMiddleware(&fakeResolver{tenants: map[string]*Tenant{}}, "")

	handlerErr, _ := invoke(t, mw.RequireTenant(), nil)
	var appErr *apperror.Error
	require.ErrorAs(t, handlerErr, &appErr)
	assert.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)

	handlerErr, _ = invoke(t, mw.RequireTenant(), map[string]string{HeaderAPIKey: "pm_bogus"})
	require.ErrorAs(t, handlerErr, &appErr)
	assert.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)
}

func TestRequireTenantResolverFailure(t *testing.T) {
	mw := newTestMiddleware(&fakeResolver{err: errors.New("connection refused")}, "")

	handlerErr, _ := invoke(t, mw.RequireTenant(), map[string]string{HeaderAPIKey: "pm_any"})
	var appErr *apperror.Error
	require.ErrorAs(t, handlerErr, &appErr)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus)
}

func TestRequireInternal(t *testing.T) {
	mw := newTestMiddleware(&fakeResolver{}, "secret-token")

	handlerErr, _ := invoke(t, mw.RequireInternal(), map[string]string{HeaderInternalToken: "secret-token"})
	assert.NoError(t, handlerErr)

	handlerErr, _ = invoke(t, mw.RequireInternal(), map[string]string{HeaderInternalToken: "wrong"})
	var appErr *apperror.Error
	require.ErrorAs(t, handlerErr, &appErr)
	assert.Equal(t, http.StatusForbidden, appErr.HTTPStatus)

	handlerErr, _ = invoke(t, mw.RequireInternal(), nil)
	require.ErrorAs(t, handlerErr, &appErr)
	assert.Equal(t, http.StatusForbidden, appErr.HTTPStatus)
}

func TestRequireInternalDisabledWithoutToken(t *testing.T) {
	mw := newTestMiddleware(&fakeResolver{}, "")

	handlerErr, _ := invoke(t, mw.RequireInternal(), map[string]string{HeaderInternalToken: ""})
	var appErr *apperror.Error
	require.ErrorAs(t, handlerErr, &appErr)
	assert.Equal(t, http.StatusForbidden, appErr.HTTPStatus)
}

func TestGenerateAPIKeyAndFingerprint(t *testing.T) {
	k1, err := GenerateAPIKey()
	require.NoError(t, err)
	k2, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.Len(t, k1, len(apiKeyPrefix)+apiKeyBytes*2)
	assert.Equal(t, Fingerprint(k1), Fingerprint(k1))
	assert.NotEqual(t, Fingerprint(k1), Fingerprint(k2))
	assert.Len(t, Fingerprint(k1), 64)
}
