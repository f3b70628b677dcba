package middleware

import (
	"net/http"
	"time"
)

type requestObserver interface {
	ObserveRequest(method string, route string, status int, d time.Duration)
}

// MetricsMiddleware has to wrap the mux itself to see the matched route
func MetricsMiddleware(o requestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := newStatusWriter(w)

			next.ServeHTTP(sw, r)

			o.ObserveRequest(r.Method, route(r), sw.status, time.Since(start))
		})
	}
}
