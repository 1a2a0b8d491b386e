package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ImagePipelineMetrics contains all Prometheus metrics related to the image
// artifact pipeline.
type ImagePipelineMetrics struct {
	// Per-variant outcome counters and timings
	VariantTotal    *prometheus.CounterVec
	VariantDuration *prometheus.HistogramVec

	// Whole-pipeline outcomes
	PipelineTotal    *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	PartialFailures  prometheus.Counter

	// Validation and admission
	DecodeErrors     *prometheus.CounterVec
	DiskGateRefusals prometheus.Counter
	UploadSizeBytes  prometheus.Histogram

	registry *prometheus.Registry
}

// NewImagePipelineMetrics creates a new instance of ImagePipelineMetrics.
func NewImagePipelineMetrics(registry *prometheus.Registry) (*ImagePipelineMetrics, error) {
	m := &ImagePipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register image pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *ImagePipelineMetrics) initMetrics() {
	m.VariantTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagepipeline_variant_total",
			Help: "Total number of artifact variant generations partitioned by variant and status",
		},
		[]string{"variant", "status"},
	)

	m.VariantDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagepipeline_variant_duration_seconds",
			Help:    "Time taken to generate and store a single artifact variant",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		},
		[]string{"variant"},
	)

	m.PipelineTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagepipeline_runs_total",
			Help: "Total number of pipeline runs partitioned by status",
		},
		[]string{"status"},
	)

	m.PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imagepipeline_run_duration_seconds",
			Help:    "Time taken for a complete pipeline run across all variants",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount10),
		},
	)

	m.PartialFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imagepipeline_partial_failures_total",
			Help: "Total number of pipeline runs that completed with at least one failed variant",
		},
	)

	m.DecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagepipeline_decode_errors_total",
			Help: "Total number of image decode or validation failures partitioned by reason",
		},
		[]string{"reason"},
	)

	m.DiskGateRefusals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imagepipeline_disk_gate_refusals_total",
			Help: "Total number of pipeline runs refused because disk usage exceeded the configured limit",
		},
	)

	m.UploadSizeBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imagepipeline_upload_size_bytes",
			Help:    "Size distribution of accepted uploads",
			Buckets: prometheus.ExponentialBuckets(BucketStart1KB, BucketFactor4, BucketCount10),
		},
	)
}

// RecordVariant records the outcome of a single variant generation.
func (m *ImagePipelineMetrics) RecordVariant(variant, status string) {
	m.VariantTotal.WithLabelValues(variant, status).Inc()
}

// RecordVariantDuration records how long a variant took to generate and store.
func (m *ImagePipelineMetrics) RecordVariantDuration(variant string, durationSeconds float64) {
	m.VariantDuration.WithLabelValues(variant).Observe(durationSeconds)
}

// RecordPipeline records the outcome and duration of a whole pipeline run.
func (m *ImagePipelineMetrics) RecordPipeline(status string, durationSeconds float64) {
	m.PipelineTotal.WithLabelValues(status).Inc()
	m.PipelineDuration.Observe(durationSeconds)
}

// RecordPartialFailure records a pipeline run where some variants failed.
func (m *ImagePipelineMetrics) RecordPartialFailure() {
	m.PartialFailures.Inc()
}

// RecordDecodeError records a decode or validation failure.
func (m *ImagePipelineMetrics) RecordDecodeError(reason string) {
	m.DecodeErrors.WithLabelValues(reason).Inc()
}

// RecordDiskGateRefusal records a pipeline run refused by the disk usage gate.
func (m *ImagePipelineMetrics) RecordDiskGateRefusal() {
	m.DiskGateRefusals.Inc()
}

// ObserveUploadSize records the size of an accepted upload.
func (m *ImagePipelineMetrics) ObserveUploadSize(sizeBytes float64) {
	m.UploadSizeBytes.Observe(sizeBytes)
}

// Describe implements the prometheus.Collector interface.
func (m *ImagePipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.VariantTotal.Describe(ch)
	m.VariantDuration.Describe(ch)
	m.PipelineTotal.Describe(ch)
	ch <- m.PipelineDuration.Desc()
	ch <- m.PartialFailures.Desc()
	m.DecodeErrors.Describe(ch)
	ch <- m.DiskGateRefusals.Desc()
	ch <- m.UploadSizeBytes.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *ImagePipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.VariantTotal.Collect(ch)
	m.VariantDuration.Collect(ch)
	m.PipelineTotal.Collect(ch)
	ch <- m.PipelineDuration
	ch <- m.PartialFailures
	m.DecodeErrors.Collect(ch)
	ch <- m.DiskGateRefusals
	ch <- m.UploadSizeBytes
}
