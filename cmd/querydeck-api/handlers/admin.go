package handlers

import (
	"context"
	"net/http"

	"github.com/querydeck/querydeck/cmd/querydeck-api/middleware"
	"github.com/querydeck/querydeck/internal/app"
	"github.com/querydeck/querydeck/internal/observability"
	"github.com/querydeck/querydeck/internal/semcache"
)

// CacheAdmin exposes semantic cache maintenance.
type CacheAdmin interface {
	Stats(ctx context.Context, tenantID string) semcache.Stats
	Clear(ctx context.Context, tenantID string) int
}

// HealthChecker reports component health.
type HealthChecker interface {
	Health(ctx context.Context) app.HealthReport
}

// AdminHandler handles cache administration and health.
type AdminHandler struct {
	logger *observability.Logger
	cache  CacheAdmin
	health HealthChecker
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(logger *observability.Logger, cache CacheAdmin, health HealthChecker) *AdminHandler {
	return &AdminHandler{logger: logger, cache: cache, health: health}
}

// CacheStats handles GET /cache/stats.
func (h *AdminHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, h.cache.Stats(ctx, middleware.TenantFromContext(ctx)))
}

// ClearResponseDTO reports how many records were removed.
type ClearResponseDTO struct {
	Message      string `json:"message"`
	ClearedCount int    `json:"cleared_count"`
}

// ClearCache handles DELETE /cache.
func (h *AdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.TenantFromContext(ctx)

	n := h.cache.Clear(ctx, tenantID)
	h.logger.WithContext(ctx).Info().Str("tenant_id", tenantID).Int("cleared_count", n).Msg("Semantic cache cleared")

	writeJSON(w, http.StatusOK, ClearResponseDTO{Message: "cache cleared", ClearedCount: n})
}

// Health handles GET /health.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health.Health(r.Context()))
}
