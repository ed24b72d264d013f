package tenants

import (
	"github.com/labstack/echo/v4"

	"github.com/pagemill/pagemill/pkg/auth"
)

// RegisterRoutes registers the internal tenant administration routes.
func RegisterRoutes(e *echo.Echo, handler *Handler, authMiddleware *auth.Middleware) {
	internal := e.Group("/internal/tenants")
	internal.Use(authMiddleware.RequireInternal())

	internal.POST("", handler.Create)
	internal.GET("", handler.List)
	internal.GET("/:id", handler.Get)
	internal.POST("/:id/rotate", handler.RotateCredential)
	internal.DELETE("/:id", handler.Delete)
}
