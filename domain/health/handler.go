package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/internal/storage"
	"github.com/pagemill/pagemill/internal/vectorindex"
	"github.com/pagemill/pagemill/internal/version"
)

// Handler handles health check requests.
type Handler struct {
	pool    *pgxpool.Pool
	rdb     *redis.Client
	index   vectorindex.Index
	blobs   storage.BlobStore
	cfg     *config.Config
	startAt time.Time
}

func NewHandler(
	pool *pgxpool.Pool,
	rdb *redis.Client,
	index vectorindex.Index,
	blobs storage.BlobStore,
	cfg *config.Config,
) *Handler {
	return &Handler{
		pool:    pool,
		rdb:     rdb,
		index:   index,
		blobs:   blobs,
		cfg:     cfg,
		startAt: time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func check(err error) Check {
	if err != nil {
		return Check{Status: "unhealthy", Message: err.Error()}
	}
	return Check{Status: "healthy"}
}

// Healthz returns a simple health check (for k8s liveness probe)
// @Summary      Liveness probe
// @Tags         health
// @Produce      plain
// @Success      200 {string} string "OK"
// @Router       /healthz [get]
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready returns readiness status (for k8s readiness probe)
// @Summary      Readiness probe
// @Description  Ready once the database and queue substrate answer
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]any "Service is ready"
// @Success      503 {object} map[string]any "Service is not ready"
// @Router       /ready [get]
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.pool.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"message": "database connection failed",
		})
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"message": "queue substrate connection failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Health returns the full dependency health picture: database, queue
// substrate, vector index, and blob store.
// @Summary      Get service health
// @Description  Probes every downstream dependency and reports per-check status
// @Tags         internal
// @Produce      json
// @Success      200 {object} HealthResponse "Service is healthy"
// @Success      503 {object} HealthResponse "Service is unhealthy"
// @Router       /internal/health [get]
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	checks := map[string]Check{
		"database":     check(h.pool.Ping(ctx)),
		"redis":        check(h.rdb.Ping(ctx).Err()),
		"vector_index": check(h.probeIndex(ctx)),
		"blob_store":   check(h.probeBlobs(ctx)),
	}

	overall := "healthy"
	statusCode := http.StatusOK
	for _, chk := range checks {
		if chk.Status != "healthy" {
			overall = "unhealthy"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	return c.JSON(statusCode, HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Version:   version.Version,
		Checks:    checks,
	})
}

// probeIndex runs a cheap count against the collection to confirm the index
// answers queries.
func (h *Handler) probeIndex(ctx context.Context) error {
	_, err := h.index.CountByTenant(ctx, "healthcheck")
	return err
}

// probeBlobs confirms the bucket answers; the probe key never exists.
func (h *Handler) probeBlobs(ctx context.Context) error {
	_, err := h.blobs.Exists(ctx, "healthcheck/probe")
	return err
}

// Auth confirms the internal token was accepted. Exists so operators can
// verify a token without touching real resources.
// @Summary      Check internal token
// @Tags         internal
// @Produce      json
// @Success      200 {object} map[string]any
// @Router       /internal/auth [get]
func (h *Handler) Auth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"authenticated": true})
}

// Debug returns runtime and pool statistics (disabled in production)
// @Summary      Get debug information
// @Tags         internal
// @Produce      json
// @Success      200 {object} map[string]any "Debug information"
// @Router       /internal/debug [get]
func (h *Handler) Debug(c echo.Context) error {
	if h.cfg.Environment == "production" {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return c.JSON(http.StatusOK, map[string]any{
		"environment": h.cfg.Environment,
		"debug":       h.cfg.Debug,
		"go_version":  runtime.Version(),
		"goroutines":  runtime.NumGoroutine(),
		"memory": map[string]any{
			"alloc_mb":       mem.Alloc / 1024 / 1024,
			"total_alloc_mb": mem.TotalAlloc / 1024 / 1024,
			"sys_mb":         mem.Sys / 1024 / 1024,
			"num_gc":         mem.NumGC,
		},
		"database": map[string]any{
			"host":        h.cfg.Database.Host,
			"port":        h.cfg.Database.Port,
			"database":    h.cfg.Database.Database,
			"pool_total":  h.pool.Stat().TotalConns(),
			"pool_idle":   h.pool.Stat().IdleConns(),
			"pool_in_use": h.pool.Stat().AcquiredConns(),
		},
	})
}
