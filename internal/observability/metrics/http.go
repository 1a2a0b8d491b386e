package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains all Prometheus metrics related to HTTP request handling.
type HTTPMetrics struct {
	RequestTotal    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec
	RateLimited     prometheus.Counter

	registry *prometheus.Registry
}

// NewHTTPMetrics creates a new instance of HTTPMetrics.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests partitioned by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"method", "route"},
	)

	m.ResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size distribution of HTTP responses",
			Buckets: prometheus.ExponentialBuckets(64, BucketFactor4, BucketCount8),
		},
		[]string{"method", "route"},
	)

	m.RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	})
}

// RecordRequest records metrics for a served HTTP request.
func (m *HTTPMetrics) RecordRequest(method, route string, statusCode int, durationSeconds float64, responseBytes int64) {
	code := strconv.Itoa(statusCode)
	m.RequestTotal.WithLabelValues(method, route, code).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
	if responseBytes > 0 {
		m.ResponseSize.WithLabelValues(method, route).Observe(float64(responseBytes))
	}
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *HTTPMetrics) RecordRateLimited() {
	m.RateLimited.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.RequestTotal.Describe(ch)
	m.RequestDuration.Describe(ch)
	m.ResponseSize.Describe(ch)
	ch <- m.RateLimited.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.RequestTotal.Collect(ch)
	m.RequestDuration.Collect(ch)
	m.ResponseSize.Collect(ch)
	ch <- m.RateLimited
}
