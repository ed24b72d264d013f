package tenants

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pagemill/pagemill/pkg/apperror"
)

// Handler handles the internal tenant administration endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func parseTenantID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.ErrBadRequest.WithMessage("invalid tenant ID")
	}
	return id, nil
}

// Create handles POST /internal/tenants
// @Summary Create a tenant
// @Description Create a tenant and return its API key (shown only once)
// @Tags internal
// @Accept json
// @Produce json
// @Success 201 {object} TenantCreatedResponse
// @Failure 400 {object} apperror.Error
// @Failure 409 {object} apperror.Error
// @Router /internal/tenants [post]
func (h *Handler) Create(c echo.Context) error {
	var req CreateTenantRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}

	resp, err := h.svc.Create(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// List handles GET /internal/tenants
func (h *Handler) List(c echo.Context) error {
	resp, err := h.svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Get handles GET /internal/tenants/:id
func (h *Handler) Get(c echo.Context) error {
	id, err := parseTenantID(c)
	if err != nil {
		return err
	}
	resp, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// RotateCredential handles POST /internal/tenants/:id/rotate
// @Summary Rotate a tenant credential
// @Description Replace the tenant's API key; the old key stops working immediately
// @Tags internal
// @Produce json
// @Success 200 {object} RotateCredentialResponse
// @Router /internal/tenants/{id}/rotate [post]
func (h *Handler) RotateCredential(c echo.Context) error {
	id, err := parseTenantID(c)
	if err != nil {
		return err
	}
	resp, err := h.svc.RotateCredential(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Delete handles DELETE /internal/tenants/:id
// @Summary Delete a tenant
// @Description Cascading delete of the tenant and all its documents, chunks, jobs, blobs, and vectors
// @Tags internal
// @Produce json
// @Success 200 {object} DeleteTenantResponse
// @Router /internal/tenants/{id} [delete]
func (h *Handler) Delete(c echo.Context) error {
	id, err := parseTenantID(c)
	if err != nil {
		return err
	}
	resp, err := h.svc.Delete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
