// Package metrics holds prometheus collectors of the service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
)

const namespace = "gopherauth"

type Metrics struct {
	registry *prometheus.Registry

	// Auth operation outcomes by operation and apperrors.Kind
	operations *prometheus.CounterVec

	requestDuration *prometheus.HistogramVec
	purged          *prometheus.CounterVec
}

// New registers collectors in a fresh registry, so tests may create many
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_operations_total",
			Help:      "Total number of auth operations by outcome",
		}, []string{"operation", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_records_total",
			Help:      "Total number of expired records removed by sweeper",
		}, []string{"purger"}),
	}

	reg.MustRegister(
		m.operations,
		m.requestDuration,
		m.purged,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveOperation counts operation result. Nil error is "ok"
func (m *Metrics) ObserveOperation(op string, err error) {
	m.operations.WithLabelValues(op, apperrors.Kind(err)).Inc()
}

func (m *Metrics) ObserveRequest(method string, route string, status int, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) ObservePurged(purger string, n int64) {
	m.purged.WithLabelValues(purger).Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
