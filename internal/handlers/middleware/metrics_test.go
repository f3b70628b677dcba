package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type observed struct {
	method string
	route  string
	status int
}

type observerFunc func(method string, route string, status int, d time.Duration)

func (f observerFunc) ObserveRequest(method string, route string, status int, d time.Duration) {
	f(method, route, status, d)
}

func TestMetricsMiddleware(t *testing.T) {
	var got []observed
	o := observerFunc(func(method string, route string, status int, _ time.Duration) {
		got = append(got, observed{method, route, status})
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	h := MetricsMiddleware(o)(mux)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/auth/login", nil),
		httptest.NewRequest(http.MethodGet, "/healthz", nil),
		httptest.NewRequest(http.MethodGet, "/nowhere", nil),
	} {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Equal(t, []observed{
		{http.MethodPost, "/auth/login", http.StatusUnauthorized},
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "unmatched", http.StatusNotFound},
	}, got)
}
