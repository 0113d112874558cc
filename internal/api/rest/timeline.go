package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/geowatch/timeline-cache/internal/models"
	"github.com/geowatch/timeline-cache/internal/pkg/logger"
)

// timelineResponse wraps a range-query answer with its serving tier so the
// dashboard can surface data provenance.
type timelineResponse struct {
	EntityType models.EntityType          `json:"entity_type"`
	EntityID   string                     `json:"entity_id,omitempty"`
	StartTime  int64                      `json:"start_time"`
	EndTime    int64                      `json:"end_time"`
	Source     models.Source              `json:"source"`
	Count      int                        `json:"count"`
	Points     []models.TimelineDataPoint `json:"points"`
}

// QueryRange handles GET /timeline/{entityType}?entity_id=&start=&end=
func (h *Handler) QueryRange(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	start, err := parseMillis(r, "start")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseMillis(r, "end")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := models.TimelineQuery{
		EntityType: models.EntityType(vars["entityType"]),
		EntityID:   r.URL.Query().Get("entity_id"),
		StartTime:  start,
		EndTime:    end,
	}
	if err := q.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.cache.Get(r.Context(), q)
	if err != nil {
		h.log.Error("timeline query failed", "entity_type", q.EntityType, "entity_id", q.EntityID, "error", err)
		respondErrorWithCode(w, http.StatusBadGateway, ErrCodeUpstreamFailed,
			"no data available for requested range", logger.FromContext(r.Context()))
		return
	}

	points := res.Data
	if points == nil {
		points = []models.TimelineDataPoint{}
	}
	respondJSON(w, http.StatusOK, timelineResponse{
		EntityType: q.EntityType,
		EntityID:   q.EntityID,
		StartTime:  q.StartTime,
		EndTime:    q.EndTime,
		Source:     res.Source,
		Count:      len(points),
		Points:     points,
	})
}

// EntityAt handles GET /timeline/{entityType}/{entityId}/at?ts=
func (h *Handler) EntityAt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	ts, err := parseMillis(r, "ts")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.cache.GetEntityAt(r.Context(), models.EntityType(vars["entityType"]), vars["entityId"], ts)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if res.Data == nil {
		respondErrorWithCode(w, http.StatusNotFound, ErrCodeNotFound,
			"no point at or before timestamp", logger.FromContext(r.Context()))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"source": res.Source,
		"point":  res.Data,
	})
}

// Prefetch handles POST /timeline/{entityType}/prefetch
func (h *Handler) Prefetch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		StartTime int64 `json:"start_time"`
		EndTime   int64 `json:"end_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.EndTime <= req.StartTime {
		respondError(w, http.StatusBadRequest, "end_time must be greater than start_time")
		return
	}

	h.cache.PrefetchRange(models.EntityType(vars["entityType"]), req.StartTime, req.EndTime)

	// Prefetch is fire-and-forget; the caller only learns it was scheduled.
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// Invalidate handles DELETE /timeline. An empty body clears both tiers;
// a scope body narrows the invalidation to a type/entity/range.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var q *models.TimelineQuery

	var req struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		StartTime  int64  `json:"start_time"`
		EndTime    int64  `json:"end_time"`
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	switch {
	case errors.Is(err, io.EOF):
		// no body: full clear
	case err != nil:
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	default:
		scope := models.TimelineQuery{
			EntityType: models.EntityType(req.EntityType),
			EntityID:   req.EntityID,
			StartTime:  req.StartTime,
			EndTime:    req.EndTime,
		}
		if err := scope.Validate(); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		q = &scope
	}

	h.cache.Invalidate(r.Context(), q)
	respondJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// Cleanup handles POST /cache/cleanup - runs the TTL sweep on demand.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.Cleanup(r.Context())
	if err != nil {
		h.log.Warn("cleanup completed with store error", "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"removed_points": removed,
	})
}

// GetStats handles GET /cache/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

func parseMillis(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, fmt.Errorf("missing required query parameter %q", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q is not an epoch-millis integer", key, raw)
	}
	return v, nil
}
