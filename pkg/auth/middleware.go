package auth

import (
	"errors"
	"log/slog"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/pkg/apperror"
	"github.com/pagemill/pagemill/pkg/logger"
)

// Module provides the auth middleware; the TenantResolver binding comes from
// the tenants domain module.
var Module = fx.Module("auth",
	fx.Provide(NewMiddleware),
)

// Middleware provides the two route guards: tenant API key auth for the
// public surface and the shared-token check for /internal.
type Middleware struct {
	resolver      TenantResolver
	internalToken string
	log           *slog.Logger
}

func NewMiddleware(resolver TenantResolver, cfg *config.Config, log *slog.Logger) *Middleware {
	return &Middleware{
		resolver:      resolver,
		internalToken: cfg.Auth.InternalToken,
		log:           log.With(logger.Scope("auth")),
	}
}

// RequireTenant authenticates the request by X-API-Key fingerprint lookup and
// stores the tenant in the request context. Missing and unknown keys both
// yield 401 without distinguishing which, so keys cannot be probed.
func (m *Middleware) RequireTenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey := c.Request().Header.Get(HeaderAPIKey)
			if apiKey == "" {
				return apperror.ErrUnauthorized
			}

			tenant, err := m.resolver.ResolveByFingerprint(c.Request().Context(), Fingerprint(apiKey))
			if err != nil {
				if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrTenantNotFound) {
					return apperror.ErrUnknownAPIKey
				}
				m.log.Error("tenant lookup failed", logger.Error(err))
				return apperror.ErrInternal
			}

			setTenant(c, tenant)
			return next(c)
		}
	}
}

// RequireInternal guards the /internal surface with the shared service token,
// compared in constant time. An unset token disables the surface entirely.
func (m *Middleware) RequireInternal() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m.internalToken == "" {
				return apperror.ErrForbidden.WithMessage("internal surface disabled")
			}
			token := c.Request().Header.Get(HeaderInternalToken)
			if token == "" || !tokenEqual(token, m.internalToken) {
				return apperror.ErrInternalScope
			}
			return next(c)
		}
	}
}
