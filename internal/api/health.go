package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/HenshawMike/fx-agent/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a health handler. repo may be nil when the
// transcript archive is disabled.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			slog.Error("Health check failed", "error", err)
			status = "degraded"
			checks["archive"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["archive"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.Health)
}
