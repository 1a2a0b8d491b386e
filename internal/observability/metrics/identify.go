package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// IdentifyMetrics contains all Prometheus metrics related to identification
// request assembly.
type IdentifyMetrics struct {
	IdentifyTotal     *prometheus.CounterVec
	IdentifyDuration  prometheus.Histogram
	ReferenceCacheHit prometheus.Counter
	ReferenceCacheMiss prometheus.Counter
	ReferenceMissing  *prometheus.CounterVec
	ArtifactsPending  prometheus.Counter

	registry *prometheus.Registry
}

// NewIdentifyMetrics creates a new instance of IdentifyMetrics.
func NewIdentifyMetrics(registry *prometheus.Registry) (*IdentifyMetrics, error) {
	m := &IdentifyMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register identify metrics: %w", err)
	}
	return m, nil
}

func (m *IdentifyMetrics) initMetrics() {
	m.IdentifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identify_requests_total",
			Help: "Total number of identification requests partitioned by status",
		},
		[]string{"status"},
	)

	m.IdentifyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "identify_duration_seconds",
		Help:    "End to end time for identification requests",
		Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
	})

	m.ReferenceCacheHit = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identify_reference_cache_hits_total",
		Help: "Total number of reference metadata cache hits",
	})

	m.ReferenceCacheMiss = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identify_reference_cache_misses_total",
		Help: "Total number of reference metadata cache misses",
	})

	m.ReferenceMissing = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identify_reference_missing_total",
			Help: "Total number of predictions whose label had no species record",
		},
		[]string{"scientific_name"},
	)

	m.ArtifactsPending = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identify_artifacts_pending_total",
		Help: "Total number of results returned before artifact persistence finished",
	})
}

// RecordIdentify records the outcome and duration of one identification.
func (m *IdentifyMetrics) RecordIdentify(status string, durationSeconds float64) {
	m.IdentifyTotal.WithLabelValues(status).Inc()
	m.IdentifyDuration.Observe(durationSeconds)
}

// RecordReferenceCacheHit records a reference metadata cache hit.
func (m *IdentifyMetrics) RecordReferenceCacheHit() {
	m.ReferenceCacheHit.Inc()
}

// RecordReferenceCacheMiss records a reference metadata cache miss.
func (m *IdentifyMetrics) RecordReferenceCacheMiss() {
	m.ReferenceCacheMiss.Inc()
}

// RecordReferenceMissing records a predicted label with no species record.
func (m *IdentifyMetrics) RecordReferenceMissing(scientificName string) {
	m.ReferenceMissing.WithLabelValues(scientificName).Inc()
}

// RecordArtifactsPending records a result that left artifacts pending.
func (m *IdentifyMetrics) RecordArtifactsPending() {
	m.ArtifactsPending.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *IdentifyMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.IdentifyTotal.Describe(ch)
	ch <- m.IdentifyDuration.Desc()
	ch <- m.ReferenceCacheHit.Desc()
	ch <- m.ReferenceCacheMiss.Desc()
	m.ReferenceMissing.Describe(ch)
	ch <- m.ArtifactsPending.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *IdentifyMetrics) Collect(ch chan<- prometheus.Metric) {
	m.IdentifyTotal.Collect(ch)
	ch <- m.IdentifyDuration
	ch <- m.ReferenceCacheHit
	ch <- m.ReferenceCacheMiss
	m.ReferenceMissing.Collect(ch)
	ch <- m.ArtifactsPending
}
