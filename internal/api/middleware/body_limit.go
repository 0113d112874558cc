package middleware

import (
	"net/http"
)

// DefaultMaxBodyBytes is the default max request body (512KB). Prefetch and
// invalidation bodies are tiny; live-point batches go over the websocket,
// which enforces its own read limit.
const DefaultMaxBodyBytes = 512 * 1024

// MaxBodySize returns middleware that limits request body size for methods
// that may carry a body. GET/HEAD are not limited.
func MaxBodySize(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
