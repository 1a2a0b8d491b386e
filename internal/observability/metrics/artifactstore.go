package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ArtifactStoreMetrics contains all Prometheus metrics related to the
// artifact store.
type ArtifactStoreMetrics struct {
	OperationTotal    *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
	BytesWritten      prometheus.Counter
	WriteRetries      prometheus.Counter

	registry *prometheus.Registry
}

// NewArtifactStoreMetrics creates a new instance of ArtifactStoreMetrics.
func NewArtifactStoreMetrics(registry *prometheus.Registry) (*ArtifactStoreMetrics, error) {
	m := &ArtifactStoreMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register artifact store metrics: %w", err)
	}
	return m, nil
}

func (m *ArtifactStoreMetrics) initMetrics() {
	m.OperationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifactstore_operations_total",
			Help: "Total number of artifact store operations partitioned by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artifactstore_operation_duration_seconds",
			Help:    "Time taken for artifact store operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
		},
		[]string{"operation"},
	)

	m.OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifactstore_operation_errors_total",
			Help: "Total number of artifact store operation errors partitioned by operation and type",
		},
		[]string{"operation", "error_type"},
	)

	m.BytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifactstore_bytes_written_total",
			Help: "Total number of artifact bytes written",
		},
	)

	m.WriteRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifactstore_write_retries_total",
			Help: "Total number of artifact write retry attempts",
		},
	)
}

// RecordOperation records the outcome of an artifact store operation.
func (m *ArtifactStoreMetrics) RecordOperation(operation, status string) {
	m.OperationTotal.WithLabelValues(operation, status).Inc()
}

// RecordOperationDuration records how long an artifact store operation took.
func (m *ArtifactStoreMetrics) RecordOperationDuration(operation string, durationSeconds float64) {
	m.OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordOperationError records a failed artifact store operation.
func (m *ArtifactStoreMetrics) RecordOperationError(operation, errorType string) {
	m.OperationErrors.WithLabelValues(operation, errorType).Inc()
}

// AddBytesWritten adds to the total number of artifact bytes written.
func (m *ArtifactStoreMetrics) AddBytesWritten(bytes float64) {
	m.BytesWritten.Add(bytes)
}

// RecordWriteRetry records a retried artifact write.
func (m *ArtifactStoreMetrics) RecordWriteRetry() {
	m.WriteRetries.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ArtifactStoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationTotal.Describe(ch)
	m.OperationDuration.Describe(ch)
	m.OperationErrors.Describe(ch)
	ch <- m.BytesWritten.Desc()
	ch <- m.WriteRetries.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *ArtifactStoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationTotal.Collect(ch)
	m.OperationDuration.Collect(ch)
	m.OperationErrors.Collect(ch)
	ch <- m.BytesWritten
	ch <- m.WriteRetries
}
