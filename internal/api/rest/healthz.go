package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/geowatch/timeline-cache/internal/store"
)

// HealthzHandler handles health check endpoints
type HealthzHandler struct {
	kv store.KeyRangeStore
}

// NewHealthzHandler creates a new healthz handler
func NewHealthzHandler(kv store.KeyRangeStore) *HealthzHandler {
	return &HealthzHandler{kv: kv}
}

// Live handles GET /healthz/live - liveness probe (process is alive)
func (h *HealthzHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /healthz/ready - readiness probe (persistent tier reachable)
func (h *HealthzHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.kv != nil {
		if _, err := h.kv.Estimate(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"reason": "persistent_tier_unavailable",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
