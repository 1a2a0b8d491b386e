package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains all Prometheus metrics related to datastore operations.
type DatastoreMetrics struct {
	// Core database operation metrics
	DbOperationCounter  *prometheus.CounterVec
	DbOperationDuration *prometheus.HistogramVec
	DbOperationErrors   *prometheus.CounterVec

	// Retry metrics for transient write failures
	WriteRetryCounter *prometheus.CounterVec

	// Observation-specific metrics
	ObservationOperationCounter *prometheus.CounterVec

	// Query metrics
	QueryResultSize    *prometheus.HistogramVec
	SimilarityDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewDatastoreMetrics creates a new instance of DatastoreMetrics.
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.DbOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_db_operations_total",
			Help: "Total number of database operations partitioned by operation, table and status",
		},
		[]string{"operation", "table", "status"},
	)

	m.DbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastore_db_operation_duration_seconds",
			Help:    "Time taken for database operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"operation", "table"},
	)

	m.DbOperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_db_operation_errors_total",
			Help: "Total number of database operation errors partitioned by operation, table and type",
		},
		[]string{"operation", "table", "error_type"},
	)

	m.WriteRetryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_write_retries_total",
			Help: "Total number of retried database writes partitioned by operation and reason",
		},
		[]string{"operation", "reason"},
	)

	m.ObservationOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_observation_operations_total",
			Help: "Total number of observation repository operations partitioned by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.QueryResultSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastore_query_result_size",
			Help:    "Number of rows returned by queries",
			Buckets: prometheus.ExponentialBuckets(1, BucketFactor2, BucketCount12),
		},
		[]string{"operation", "table"},
	)

	m.SimilarityDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datastore_similarity_scan_duration_seconds",
			Help:    "Time taken for embedding similarity scans",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		},
	)
}

// RecordDbOperation records the outcome of a database operation.
func (m *DatastoreMetrics) RecordDbOperation(operation, table, status string) {
	m.DbOperationCounter.WithLabelValues(operation, table, status).Inc()
}

// RecordDbOperationDuration records how long a database operation took.
func (m *DatastoreMetrics) RecordDbOperationDuration(operation, table string, durationSeconds float64) {
	m.DbOperationDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// RecordDbOperationError records a failed database operation.
func (m *DatastoreMetrics) RecordDbOperationError(operation, table, errorType string) {
	m.DbOperationErrors.WithLabelValues(operation, table, errorType).Inc()
}

// RecordWriteRetry records a retried database write.
func (m *DatastoreMetrics) RecordWriteRetry(operation, reason string) {
	m.WriteRetryCounter.WithLabelValues(operation, reason).Inc()
}

// RecordObservationOperation records an observation repository operation.
func (m *DatastoreMetrics) RecordObservationOperation(operation, status string) {
	m.ObservationOperationCounter.WithLabelValues(operation, status).Inc()
}

// RecordQueryResultSize records the number of rows a query returned.
func (m *DatastoreMetrics) RecordQueryResultSize(operation, table string, resultSize int) {
	m.QueryResultSize.WithLabelValues(operation, table).Observe(float64(resultSize))
}

// RecordSimilarityDuration records how long an embedding similarity scan took.
func (m *DatastoreMetrics) RecordSimilarityDuration(durationSeconds float64) {
	m.SimilarityDuration.Observe(durationSeconds)
}

// Describe implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DbOperationCounter.Describe(ch)
	m.DbOperationDuration.Describe(ch)
	m.DbOperationErrors.Describe(ch)
	m.WriteRetryCounter.Describe(ch)
	m.ObservationOperationCounter.Describe(ch)
	m.QueryResultSize.Describe(ch)
	ch <- m.SimilarityDuration.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DbOperationCounter.Collect(ch)
	m.DbOperationDuration.Collect(ch)
	m.DbOperationErrors.Collect(ch)
	m.WriteRetryCounter.Collect(ch)
	m.ObservationOperationCounter.Collect(ch)
	m.QueryResultSize.Collect(ch)
	ch <- m.SimilarityDuration
}
