// Package auth handles tenant API key authentication and the internal
// service-token check. API keys are never stored; only their SHA-256
// fingerprint is persisted and looked up.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/labstack/echo/v4"
)

const (
	// HeaderAPIKey carries the tenant credential.
	HeaderAPIKey = "X-API-Key"
	// HeaderInternalToken carries the shared secret for /internal routes.
	HeaderInternalToken = "X-Internal-Token"

	apiKeyPrefix = "pm_"
	apiKeyBytes  = 32
)

// Tenant is the authenticated principal attached to the request context.
type Tenant struct {
	ID                 string
	Name               string
	RateLimitPerMinute int
}

// TenantResolver looks up a tenant by credential fingerprint. Implemented by
// the tenants repository; defined here so auth does not depend on the domain
// package.
type TenantResolver interface {
	ResolveByFingerprint(ctx context.Context, fingerprint string) (*Tenant, error)
}

type contextKey string

const tenantContextKey contextKey = "auth_tenant"

// GetTenant retrieves the authenticated tenant from the Echo context, nil
// when the request was not tenant-authenticated.
func GetTenant(c echo.Context) *Tenant {
	if tenant, ok := c.Get(string(tenantContextKey)).(*Tenant); ok {
		return tenant
	}
	return nil
}

func setTenant(c echo.Context, tenant *Tenant) {
	c.Set(string(tenantContextKey), tenant)
}

// GenerateAPIKey returns a new plaintext API key. The plaintext exists only
// in the creation/rotation response; callers must persist Fingerprint(key).
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// Fingerprint returns the hex SHA-256 digest of an API key.
func Fingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// tokenEqual compares two secrets in constant time.
func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
