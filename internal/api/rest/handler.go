package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/geowatch/timeline-cache/internal/models"
)

// Cache is the slice of the cache manager the HTTP surface needs.
type Cache interface {
	Get(ctx context.Context, q models.TimelineQuery) (models.CacheResult[[]models.TimelineDataPoint], error)
	GetEntityAt(ctx context.Context, entityType models.EntityType, entityID string, ts int64) (models.CacheResult[*models.TimelineDataPoint], error)
	PrefetchRange(entityType models.EntityType, start, end int64)
	StoreLiveUpdate(ctx context.Context, points []models.TimelineDataPoint) error
	Invalidate(ctx context.Context, q *models.TimelineQuery)
	Cleanup(ctx context.Context) (int, error)
	Stats(ctx context.Context) models.CacheStats
}

// Handler manages HTTP request handlers
type Handler struct {
	cache Cache
	log   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(c Cache, log *slog.Logger) *Handler {
	return &Handler{cache: c, log: log}
}

// SetupRoutes configures API routes
func SetupRoutes(router *mux.Router, h *Handler) {
	// Timeline routes
	router.HandleFunc("/timeline/{entityType}", h.QueryRange).Methods("GET")
	router.HandleFunc("/timeline/{entityType}/{entityId}/at", h.EntityAt).Methods("GET")
	router.HandleFunc("/timeline/{entityType}/prefetch", h.Prefetch).Methods("POST")
	router.HandleFunc("/timeline", h.Invalidate).Methods("DELETE")

	// Cache maintenance routes
	router.HandleFunc("/cache/cleanup", h.Cleanup).Methods("POST")
	router.HandleFunc("/cache/stats", h.GetStats).Methods("GET")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
