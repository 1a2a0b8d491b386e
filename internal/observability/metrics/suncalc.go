package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SunCalcMetrics contains all Prometheus metrics related to solar period calculations.
type SunCalcMetrics struct {
	OperationTotal    *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter

	registry *prometheus.Registry
}

// NewSunCalcMetrics creates a new instance of SunCalcMetrics.
func NewSunCalcMetrics(registry *prometheus.Registry) (*SunCalcMetrics, error) {
	m := &SunCalcMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register suncalc metrics: %w", err)
	}
	return m, nil
}

func (m *SunCalcMetrics) initMetrics() {
	m.OperationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suncalc_operations_total",
			Help: "Total number of solar calculation operations partitioned by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "suncalc_operation_duration_seconds",
			Help:    "Time taken for solar calculation operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount8),
		},
		[]string{"operation"},
	)

	m.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "suncalc_cache_hits_total",
		Help: "Total number of sun time cache hits",
	})

	m.CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "suncalc_cache_misses_total",
		Help: "Total number of sun time cache misses",
	})
}

// RecordOperation records the outcome of a solar calculation operation.
func (m *SunCalcMetrics) RecordOperation(operation, status string) {
	m.OperationTotal.WithLabelValues(operation, status).Inc()
}

// RecordOperationDuration records how long a solar calculation took.
func (m *SunCalcMetrics) RecordOperationDuration(operation string, durationSeconds float64) {
	m.OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordCacheHit records a sun time cache hit.
func (m *SunCalcMetrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss records a sun time cache miss.
func (m *SunCalcMetrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *SunCalcMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationTotal.Describe(ch)
	m.OperationDuration.Describe(ch)
	ch <- m.CacheHits.Desc()
	ch <- m.CacheMisses.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *SunCalcMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationTotal.Collect(ch)
	m.OperationDuration.Collect(ch)
	ch <- m.CacheHits
	ch <- m.CacheMisses
}
