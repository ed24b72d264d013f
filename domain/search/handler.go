package search

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pagemill/pagemill/internal/ratelimit"
	"github.com/pagemill/pagemill/pkg/apperror"
	"github.com/pagemill/pagemill/pkg/auth"
)

// Handler handles the search endpoints.
type Handler struct {
	svc     *Service
	limiter ratelimit.Limiter
}

func NewHandler(svc *Service, limiter ratelimit.Limiter) *Handler {
	return &Handler{svc: svc, limiter: limiter}
}

// Search handles POST /search
// @Summary Semantic search
// @Description Embed the query and return the tenant's best-matching chunks
// @Tags search
// @Accept json
// @Produce json
// @Param request body SearchRequest true "Search parameters"
// @Success 200 {object} SearchResponse
// @Failure 400 {object} apperror.Error
// @Failure 429 {object} apperror.Error
// @Router /search [post]
func (h *Handler) Search(c echo.Context) error {
	tenant := auth.GetTenant(c)

	decision, err := h.limiter.Allow(c.Request().Context(), tenant.ID, tenant.RateLimitPerMinute)
	if err != nil {
		return apperror.NewInternal("rate limiter unavailable", err)
	}
	if !decision.Allowed {
		return apperror.NewRateLimited(decision.RetryAfter.Milliseconds())
	}

	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}

	resp, err := h.svc.Search(c.Request().Context(), tenant, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// SearchInternal handles POST /internal/search
// @Summary Cross-tenant semantic search
// @Tags internal
// @Accept json
// @Produce json
// @Success 200 {object} InternalSearchResponse
// @Router /internal/search [post]
func (h *Handler) SearchInternal(c echo.Context) error {
	var req InternalSearchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}

	resp, err := h.svc.SearchAll(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
