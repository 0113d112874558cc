package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Per-IP rate limiting for the dashboard-facing API.

const (
	// Reads (range queries, point lookups, stats): 120 requests/minute per IP
	rateLimitReadPerMin = 120
	rateLimitReadBurst  = 120
	// Mutations (prefetch, invalidate, cleanup): 30 requests/minute per IP
	rateLimitMutatePerMin = 30
	rateLimitMutateBurst  = 30
)

type rateLimitTier int

const (
	tierRead rateLimitTier = iota
	tierMutate
)

func (t rateLimitTier) limiterConfig() (rate.Limit, int) {
	if t == tierMutate {
		return rate.Limit(float64(rateLimitMutatePerMin) / 60.0), rateLimitMutateBurst
	}
	return rate.Limit(float64(rateLimitReadPerMin) / 60.0), rateLimitReadBurst
}

func (t rateLimitTier) limitHeader() int {
	if t == tierMutate {
		return rateLimitMutatePerMin
	}
	return rateLimitReadPerMin
}

// apiRateLimiter holds per-IP limiters per tier.
type apiRateLimiter struct {
	mu     sync.Mutex
	read   map[string]*rate.Limiter
	mutate map[string]*rate.Limiter
}

func newAPIRateLimiter() *apiRateLimiter {
	return &apiRateLimiter{
		read:   make(map[string]*rate.Limiter),
		mutate: make(map[string]*rate.Limiter),
	}
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}

func tierForRequest(r *http.Request) rateLimitTier {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return tierRead
	}
	return tierMutate
}

func (l *apiRateLimiter) getLimiter(ip string, t rateLimitTier) *rate.Limiter {
	limit, burst := t.limiterConfig()
	m := l.read
	if t == tierMutate {
		m = l.mutate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := m[ip]; ok {
		return lim
	}
	lim := rate.NewLimiter(limit, burst)
	m[ip] = lim
	return lim
}

// RateLimit returns middleware enforcing the per-IP request budget. Rejected
// requests get 429 with Retry-After.
func RateLimit() func(http.Handler) http.Handler {
	limiter := newAPIRateLimiter()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := tierForRequest(r)
			ip := getClientIP(r)
			if !limiter.getLimiter(ip, tier).Allow() {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(tier.limitHeader()))
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
