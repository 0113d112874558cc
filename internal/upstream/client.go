// Package upstream is the network connector: it turns cache misses into
// range fetches against the data-federation provider. Providers are slow and
// rate-limited, so calls go through a local token bucket before hitting the
// wire.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/geowatch/timeline-cache/internal/models"
)

// Client fetches timeline ranges over HTTP.
// GET {base}/timeline/{entityType}?entity_id=&start=&end= returning a JSON
// array of timeline points.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// Options configures the connector.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64 // 0 = unlimited
	Burst      int
}

// NewClient builds a connector. Timeout defaults to 15s.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return &Client{
		baseURL: opts.BaseURL,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
	}
}

// FetchRange implements the cache manager's Fetcher contract.
func (c *Client) FetchRange(ctx context.Context, entityType models.EntityType, entityID string, start, end int64) ([]models.TimelineDataPoint, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("upstream rate limit: %w", err)
	}

	u, err := url.Parse(fmt.Sprintf("%s/timeline/%s", c.baseURL, url.PathEscape(string(entityType))))
	if err != nil {
		return nil, fmt.Errorf("upstream url: %w", err)
	}
	qs := u.Query()
	if entityID != "" {
		qs.Set("entity_id", entityID)
	}
	qs.Set("start", strconv.FormatInt(start, 10))
	qs.Set("end", strconv.FormatInt(end, 10))
	u.RawQuery = qs.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream fetch: unexpected status %d", resp.StatusCode)
	}

	var points []models.TimelineDataPoint
	if err := json.NewDecoder(resp.Body).Decode(&points); err != nil {
		return nil, fmt.Errorf("upstream decode: %w", err)
	}
	return points, nil
}
