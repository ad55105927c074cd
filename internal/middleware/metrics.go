package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/coding-leaderboard/internal/metrics"
)

// unmatchedRoute labels requests that no route matched, so scanners probing
// random paths do not blow up the label cardinality.
const unmatchedRoute = "unmatched"

// Metrics records a count and a latency observation per request, labelled
// with the chi route pattern ("/api/admin/users/{id}") rather than the raw
// path.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrap(w)

		next.ServeHTTP(wrapped, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}
