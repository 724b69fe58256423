package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/trainsync/internal/metrics"
)

// Metrics records request count and latency labelled by chi route pattern.
// Mount it on the router (not a sub-router) so the full pattern is known.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := newStatusRecorder(w)

		next.ServeHTTP(wrapped, r)

		route := routePattern(r)
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
