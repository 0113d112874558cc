// Package rest: HTTP handler tests with a mock cache; assert status and JSON shape.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/geowatch/timeline-cache/internal/models"
)

type mockCache struct {
	getResult    models.CacheResult[[]models.TimelineDataPoint]
	getErr       error
	lastQuery    models.TimelineQuery
	atResult     models.CacheResult[*models.TimelineDataPoint]
	atErr        error
	prefetched   []int64 // start, end pairs
	invalidated  *models.TimelineQuery
	invalidCalls int
	cleanupN     int
	stats        models.CacheStats
}

func (m *mockCache) Get(_ context.Context, q models.TimelineQuery) (models.CacheResult[[]models.TimelineDataPoint], error) {
	m.lastQuery = q
	return m.getResult, m.getErr
}

func (m *mockCache) GetEntityAt(_ context.Context, _ models.EntityType, _ string, _ int64) (models.CacheResult[*models.TimelineDataPoint], error) {
	return m.atResult, m.atErr
}

func (m *mockCache) PrefetchRange(_ models.EntityType, start, end int64) {
	m.prefetched = append(m.prefetched, start, end)
}

func (m *mockCache) StoreLiveUpdate(_ context.Context, _ []models.TimelineDataPoint) error {
	return nil
}

func (m *mockCache) Invalidate(_ context.Context, q *models.TimelineQuery) {
	m.invalidCalls++
	m.invalidated = q
}

func (m *mockCache) Cleanup(_ context.Context) (int, error) { return m.cleanupN, nil }

func (m *mockCache) Stats(_ context.Context) models.CacheStats { return m.stats }

func newTestRouter(c Cache) *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	SetupRoutes(api, NewHandler(c, slog.New(slog.NewTextHandler(testWriter{}, nil))))
	return router
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestQueryRange_ReturnsPointsWithSource(t *testing.T) {
	mc := &mockCache{
		getResult: models.CacheResult[[]models.TimelineDataPoint]{
			Data: []models.TimelineDataPoint{
				{EntityType: models.EntityTypeDevice, EntityID: "d1", Timestamp: 150},
			},
			Source: models.SourceMemory,
		},
	}
	router := newTestRouter(mc)

	req := httptest.NewRequest("GET", "/api/v1/timeline/device?entity_id=d1&start=100&end=200", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp timelineResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Source != models.SourceMemory {
		t.Errorf("expected source memory, got %s", resp.Source)
	}
	if resp.Count != 1 || len(resp.Points) != 1 {
		t.Errorf("expected one point, got count=%d len=%d", resp.Count, len(resp.Points))
	}
	if mc.lastQuery.StartTime != 100 || mc.lastQuery.EndTime != 200 {
		t.Errorf("query range not forwarded: %+v", mc.lastQuery)
	}
}

func TestQueryRange_MissingParamsRejected(t *testing.T) {
	router := newTestRouter(&mockCache{})

	req := httptest.NewRequest("GET", "/api/v1/timeline/device?start=100", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestQueryRange_InvalidRangeRejected(t *testing.T) {
	router := newTestRouter(&mockCache{})

	// end <= start fails query validation
	req := httptest.NewRequest("GET", "/api/v1/timeline/device?start=200&end=100", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestQueryRange_UpstreamFailureMapsToBadGateway(t *testing.T) {
	mc := &mockCache{getErr: errors.New("upstream unreachable")}
	router := newTestRouter(mc)

	req := httptest.NewRequest("GET", "/api/v1/timeline/device?start=100&end=200", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	var apiErr APIError
	if err := json.Unmarshal(rr.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if apiErr.Code != ErrCodeUpstreamFailed {
		t.Errorf("expected code %s, got %s", ErrCodeUpstreamFailed, apiErr.Code)
	}
}

func TestEntityAt_ReturnsPoint(t *testing.T) {
	pt := &models.TimelineDataPoint{EntityType: models.EntityTypeVessel, EntityID: "v1", Timestamp: 90}
	mc := &mockCache{
		atResult: models.CacheResult[*models.TimelineDataPoint]{Data: pt, Source: models.SourcePersistent},
	}
	router := newTestRouter(mc)

	req := httptest.NewRequest("GET", "/api/v1/timeline/vessel/v1/at?ts=100", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Source models.Source             `json:"source"`
		Point  *models.TimelineDataPoint `json:"point"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Source != models.SourcePersistent || resp.Point == nil || resp.Point.Timestamp != 90 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestEntityAt_NotFound(t *testing.T) {
	// nil point with no error means no observation at or before ts
	mc := &mockCache{atResult: models.CacheResult[*models.TimelineDataPoint]{Source: models.SourcePersistent}}
	router := newTestRouter(mc)

	req := httptest.NewRequest("GET", "/api/v1/timeline/vessel/v1/at?ts=100", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestEntityAt_InvalidArgsRejected(t *testing.T) {
	mc := &mockCache{atErr: errors.New("entity lookup: missing entityType or entityId")}
	router := newTestRouter(mc)

	req := httptest.NewRequest("GET", "/api/v1/timeline/vessel/v1/at?ts=100", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestPrefetch_SchedulesAndReturnsAccepted(t *testing.T) {
	mc := &mockCache{}
	router := newTestRouter(mc)

	body := bytes.NewBufferString(`{"start_time":1000,"end_time":2000}`)
	req := httptest.NewRequest("POST", "/api/v1/timeline/aircraft/prefetch", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if len(mc.prefetched) != 2 || mc.prefetched[0] != 1000 || mc.prefetched[1] != 2000 {
		t.Errorf("prefetch range not forwarded: %v", mc.prefetched)
	}
}

func TestPrefetch_RejectsEmptyRange(t *testing.T) {
	router := newTestRouter(&mockCache{})

	body := bytes.NewBufferString(`{"start_time":2000,"end_time":2000}`)
	req := httptest.NewRequest("POST", "/api/v1/timeline/aircraft/prefetch", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestInvalidate_NoBodyClearsEverything(t *testing.T) {
	mc := &mockCache{}
	router := newTestRouter(mc)

	req := httptest.NewRequest("DELETE", "/api/v1/timeline", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if mc.invalidCalls != 1 || mc.invalidated != nil {
		t.Errorf("expected full clear, got calls=%d scope=%+v", mc.invalidCalls, mc.invalidated)
	}
}

func TestInvalidate_ScopedBody(t *testing.T) {
	mc := &mockCache{}
	router := newTestRouter(mc)

	body := bytes.NewBufferString(`{"entity_type":"device","entity_id":"d1","start_time":0,"end_time":500}`)
	req := httptest.NewRequest("DELETE", "/api/v1/timeline", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if mc.invalidated == nil {
		t.Fatal("expected scoped invalidation")
	}
	if mc.invalidated.EntityType != models.EntityTypeDevice || mc.invalidated.EntityID != "d1" {
		t.Errorf("scope not forwarded: %+v", mc.invalidated)
	}
}

func TestCleanup_ReportsRemoved(t *testing.T) {
	mc := &mockCache{cleanupN: 7}
	router := newTestRouter(mc)

	req := httptest.NewRequest("POST", "/api/v1/cache/cleanup", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["removed_points"] != 7 {
		t.Errorf("expected removed_points=7, got %v", resp)
	}
}

func TestGetStats_ReturnsSnapshot(t *testing.T) {
	mc := &mockCache{stats: models.CacheStats{Hits: 3, Misses: 1, MemoryEntries: 2}}
	router := newTestRouter(mc)

	req := httptest.NewRequest("GET", "/api/v1/cache/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var stats models.CacheStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Hits != 3 || stats.Misses != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
