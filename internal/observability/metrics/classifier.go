// Package metrics provides custom Prometheus metrics for the CulicidaeLab-Go application.
package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// ClassifierMetrics contains all Prometheus metrics related to classifier operations.
type ClassifierMetrics struct {
	// Performance metrics
	PredictionDuration  *prometheus.HistogramVec
	ModelInvokeDuration *prometheus.HistogramVec
	TensorPrepDuration  *prometheus.HistogramVec

	// Operation counters
	PredictionTotal  *prometheus.CounterVec
	PredictionErrors *prometheus.CounterVec
	ModelLoadTotal   *prometheus.CounterVec
	ModelLoadErrors  *prometheus.CounterVec

	// Current state gauges
	ActiveProcessingGauge prometheus.Gauge
	ModelLoadedGauge      prometheus.Gauge

	registry *prometheus.Registry
}

// NewClassifierMetrics creates a new instance of ClassifierMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewClassifierMetrics(registry *prometheus.Registry) (*ClassifierMetrics, error) {
	m := &ClassifierMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register classifier metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for ClassifierMetrics.
func (m *ClassifierMetrics) initMetrics() {
	m.PredictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_prediction_duration_seconds",
			Help:    "Time taken to perform a prediction",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		},
		[]string{"model"},
	)

	m.ModelInvokeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_model_invoke_duration_seconds",
			Help:    "Time taken for TensorFlow Lite model invocation",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount8),
		},
		[]string{"model"},
	)

	m.TensorPrepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_tensor_prep_duration_seconds",
			Help:    "Time taken to convert an image into the input tensor",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount8),
		},
		[]string{"model"},
	)

	m.PredictionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_predictions_total",
			Help: "Total number of prediction requests",
		},
		[]string{"model", "status"},
	)

	m.PredictionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_prediction_errors_total",
			Help: "Total number of prediction errors",
		},
		[]string{"model", "error_type"},
	)

	m.ModelLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_model_load_total",
			Help: "Total number of model load attempts",
		},
		[]string{"model", "status"},
	)

	m.ModelLoadErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_model_load_errors_total",
			Help: "Total number of model load errors",
		},
		[]string{"model", "error_type"},
	)

	m.ActiveProcessingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "classifier_active_processing",
			Help: "Number of currently active prediction operations",
		},
	)

	m.ModelLoadedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "classifier_model_loaded",
			Help: "Whether the classifier model is currently loaded (1) or not (0)",
		},
	)
}

// RecordPrediction records metrics for a prediction operation
func (m *ClassifierMetrics) RecordPrediction(model string, durationSeconds float64, err error) {
	if err != nil {
		m.PredictionTotal.WithLabelValues(model, "error").Inc()
		m.PredictionErrors.WithLabelValues(model, categorizeError(err)).Inc()
	} else {
		m.PredictionTotal.WithLabelValues(model, "success").Inc()
		m.PredictionDuration.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordModelInvoke records metrics for model invocation
func (m *ClassifierMetrics) RecordModelInvoke(model string, durationSeconds float64) {
	m.ModelInvokeDuration.WithLabelValues(model).Observe(durationSeconds)
}

// RecordTensorPrep records metrics for input tensor preparation
func (m *ClassifierMetrics) RecordTensorPrep(model string, durationSeconds float64) {
	m.TensorPrepDuration.WithLabelValues(model).Observe(durationSeconds)
}

// RecordModelLoad records metrics for model loading operations
func (m *ClassifierMetrics) RecordModelLoad(model string, err error) {
	if err != nil {
		m.ModelLoadTotal.WithLabelValues(model, "error").Inc()
		m.ModelLoadErrors.WithLabelValues(model, categorizeError(err)).Inc()
		m.ModelLoadedGauge.Set(0)
	} else {
		m.ModelLoadTotal.WithLabelValues(model, "success").Inc()
		m.ModelLoadedGauge.Set(1)
	}
}

// SetActiveProcessing sets the number of active prediction operations
func (m *ClassifierMetrics) SetActiveProcessing(count float64) {
	m.ActiveProcessingGauge.Set(count)
}

// SetModelLoaded overrides the loaded gauge, e.g. when a failed reload
// falls back to a still-serving previous model.
func (m *ClassifierMetrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoadedGauge.Set(1)
	} else {
		m.ModelLoadedGauge.Set(0)
	}
}

// categorizeError returns a category string for the error type
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}
	// Simple categorization based on error message
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "tensor"):
		return "tensor_error"
	case strings.Contains(errStr, "invoke"):
		return "invoke_error"
	case strings.Contains(errStr, "label"):
		return "label_error"
	case strings.Contains(errStr, "file"):
		return "file_error"
	case strings.Contains(errStr, "model"):
		return "model_error"
	default:
		return "unknown"
	}
}

// Describe implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.PredictionDuration.Describe(ch)
	m.ModelInvokeDuration.Describe(ch)
	m.TensorPrepDuration.Describe(ch)
	m.PredictionTotal.Describe(ch)
	m.PredictionErrors.Describe(ch)
	m.ModelLoadTotal.Describe(ch)
	m.ModelLoadErrors.Describe(ch)
	ch <- m.ActiveProcessingGauge.Desc()
	ch <- m.ModelLoadedGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Collect(ch chan<- prometheus.Metric) {
	m.PredictionDuration.Collect(ch)
	m.ModelInvokeDuration.Collect(ch)
	m.TensorPrepDuration.Collect(ch)
	m.PredictionTotal.Collect(ch)
	m.PredictionErrors.Collect(ch)
	m.ModelLoadTotal.Collect(ch)
	m.ModelLoadErrors.Collect(ch)
	ch <- m.ActiveProcessingGauge
	ch <- m.ModelLoadedGauge
}
