package documents

import (
	"github.com/labstack/echo/v4"

	"github.com/pagemill/pagemill/pkg/auth"
)

// RegisterRoutes registers the tenant-facing ingestion routes and the
// internal inspection routes.
func RegisterRoutes(e *echo.Echo, handler *Handler, authMiddleware *auth.Middleware) {
	tenant := e.Group("", authMiddleware.RequireTenant())
	tenant.POST("/upload/single", handler.UploadSingle)
	tenant.POST("/upload/bulk", handler.UploadBulk)
	tenant.GET("/status/:id", handler.Status)
	tenant.DELETE("/documents/:id", handler.Delete)
	tenant.GET("/metrics/me", handler.Metrics)

	internal := e.Group("/internal", authMiddleware.RequireInternal())
	internal.GET("/documents", handler.ListInternal)
	internal.GET("/documents/:id", handler.GetInternal)
	internal.GET("/stats", handler.StatsInternal)
}
