package documents

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pagemill/pagemill/internal/ratelimit"
	"github.com/pagemill/pagemill/pkg/apperror"
	"github.com/pagemill/pagemill/pkg/auth"
)

// Handler handles the document ingestion endpoints.
type Handler struct {
	svc     *Service
	limiter ratelimit.Limiter
}

func NewHandler(svc *Service, limiter ratelimit.Limiter) *Handler {
	return &Handler{svc: svc, limiter: limiter}
}

// admit runs the tenant's sliding-window check. Bulk uploads consume one
// admission per request, not per file.
func (h *Handler) admit(c echo.Context, tenant *auth.Tenant) error {
	decision, err := h.limiter.Allow(c.Request().Context(), tenant.ID, tenant.RateLimitPerMinute)
	if err != nil {
		return apperror.NewInternal("rate limiter unavailable", err)
	}
	if !decision.Allowed {
		return apperror.NewRateLimited(decision.RetryAfter.Milliseconds())
	}
	return nil
}

func parseDocumentID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.ErrBadRequest.WithMessage("invalid document ID")
	}
	return id, nil
}

// parseMetadata decodes the optional "metadata" form field, a flat JSON
// object of string values.
func parseMetadata(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, apperror.ErrBadRequest.WithMessage("metadata must be a JSON object of string values")
	}
	return metadata, nil
}

// UploadSingle handles POST /upload/single
// @Summary Upload a document
// @Description Accept one file and queue it for extraction, chunking, and embedding
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Document file"
// @Param metadata formData string false "JSON object of string metadata"
// @Success 202 {object} UploadResponse
// @Failure 400 {object} apperror.Error
// @Failure 413 {object} apperror.Error
// @Failure 429 {object} apperror.Error
// @Router /upload/single [post]
func (h *Handler) UploadSingle(c echo.Context) error {
	tenant := auth.GetTenant(c)
	if err := h.admit(c, tenant); err != nil {
		return err
	}

	file, err := c.FormFile("file")
	if err != nil {
		return apperror.ErrBadRequest.WithMessage("missing 'file' form field")
	}
	metadata, err := parseMetadata(c.FormValue("metadata"))
	if err != nil {
		return err
	}

	resp, err := h.svc.Upload(c.Request().Context(), tenant, file, metadata)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, resp)
}

// UploadBulk handles POST /upload/bulk
// @Summary Upload multiple documents
// @Description Accept up to 100 files; each is validated and queued independently
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Param files formData file true "Document files"
// @Param metadata formData string false "JSON object of string metadata applied to every file"
// @Success 202 {object} BulkUploadResponse
// @Failure 400 {object} apperror.Error
// @Failure 429 {object} apperror.Error
// @Router /upload/bulk [post]
func (h *Handler) UploadBulk(c echo.Context) error {
	tenant := auth.GetTenant(c)
	if err := h.admit(c, tenant); err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid multipart form")
	}
	files := form.File["files"]
	metadata, err := parseMetadata(c.FormValue("metadata"))
	if err != nil {
		return err
	}

	resp, err := h.svc.BulkUpload(c.Request().Context(), tenant, files, metadata)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, resp)
}

// Status handles GET /status/:id
// @Summary Get document status
// @Description Overall status plus per-stage progress from the document's jobs
// @Tags documents
// @Produce json
// @Success 200 {object} StatusResponse
// @Failure 404 {object} apperror.Error
// @Router /status/{id} [get]
func (h *Handler) Status(c echo.Context) error {
	id, err := parseDocumentID(c)
	if err != nil {
		return err
	}
	resp, err := h.svc.Status(c.Request().Context(), auth.GetTenant(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Delete handles DELETE /documents/:id
// @Summary Delete a document
// @Description Cascading delete across vectors, chunks, jobs, blobs, and the document row
// @Tags documents
// @Produce json
// @Success 200 {object} DeleteResponse
// @Failure 404 {object} apperror.Error
// @Router /documents/{id} [delete]
func (h *Handler) Delete(c echo.Context) error {
	id, err := parseDocumentID(c)
	if err != nil {
		return err
	}
	resp, err := h.svc.Delete(c.Request().Context(), auth.GetTenant(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Metrics handles GET /metrics/me
// @Summary Tenant usage metrics
// @Tags documents
// @Produce json
// @Success 200 {object} TenantMetrics
// @Router /metrics/me [get]
func (h *Handler) Metrics(c echo.Context) error {
	resp, err := h.svc.Metrics(c.Request().Context(), auth.GetTenant(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// ListInternal handles GET /internal/documents
func (h *Handler) ListInternal(c echo.Context) error {
	var tenantID *uuid.UUID
	if raw := c.QueryParam("tenant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperror.ErrBadRequest.WithMessage("invalid tenant_id filter")
		}
		tenantID = &id
	}

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			return apperror.ErrBadRequest.WithMessage("limit must be in [1, 1000]")
		}
		limit = n
	}
	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return apperror.ErrBadRequest.WithMessage("offset must not be negative")
		}
		offset = n
	}

	list, err := h.svc.ListAll(c.Request().Context(), tenantID, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"data":       list,
		"totalCount": len(list),
	})
}

// GetInternal handles GET /internal/documents/:id
func (h *Handler) GetInternal(c echo.Context) error {
	id, err := parseDocumentID(c)
	if err != nil {
		return err
	}
	resp, err := h.svc.GetInternal(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// StatsInternal handles GET /internal/stats
func (h *Handler) StatsInternal(c echo.Context) error {
	resp, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
