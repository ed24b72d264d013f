package health

import (
	"github.com/labstack/echo/v4"

	"github.com/pagemill/pagemill/pkg/auth"
)

// RegisterRoutes registers the probe endpoints. Liveness and readiness are
// public; the full dependency picture sits behind the internal token.
func RegisterRoutes(e *echo.Echo, handler *Handler, authMiddleware *auth.Middleware) {
	e.GET("/healthz", handler.Healthz)
	e.GET("/ready", handler.Ready)

	internal := e.Group("/internal", authMiddleware.RequireInternal())
	internal.GET("/health", handler.Health)
	internal.GET("/auth", handler.Auth)
	internal.GET("/debug", handler.Debug)
}
