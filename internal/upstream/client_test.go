package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geowatch/timeline-cache/internal/models"
)

func TestFetchRangeBuildsRequestAndDecodes(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]models.TimelineDataPoint{
			{EntityType: models.EntityTypeVessel, EntityID: "v1", Timestamp: 42, Payload: models.VesselPayload{Lat: 1.5, Lon: 2.5}},
		})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	points, err := c.FetchRange(context.Background(), models.EntityTypeVessel, "v1", 0, 100)
	require.NoError(t, err)

	assert.Equal(t, "/timeline/vessel", gotPath)
	assert.Contains(t, gotQuery, "entity_id=v1")
	assert.Contains(t, gotQuery, "start=0")
	assert.Contains(t, gotQuery, "end=100")
	require.Len(t, points, 1)
	vessel, ok := points[0].Payload.(models.VesselPayload)
	require.True(t, ok)
	assert.Equal(t, 1.5, vessel.Lat)
}

func TestFetchRangeOmitsEntityIDForTypeWideQueries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("entity_id"))
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	points, err := c.FetchRange(context.Background(), models.EntityTypeDevice, "", 0, 100)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestFetchRangeNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	_, err := c.FetchRange(context.Background(), models.EntityTypeDevice, "d1", 0, 100)
	assert.Error(t, err)
}

func TestFetchRangeHonorsContextUnderRateLimit(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://127.0.0.1:0", RatePerSec: 0.001, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())

	// First call consumes the burst token (and fails to connect, which is fine).
	_, _ = c.FetchRange(ctx, models.EntityTypeDevice, "d1", 0, 100)

	cancel()
	_, err := c.FetchRange(ctx, models.EntityTypeDevice, "d1", 0, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
