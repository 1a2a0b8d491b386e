// Package observability provides metrics and monitoring capabilities for the CulicidaeLab-Go application.
// Sentry-related error telemetry is handled in the telemetry package.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry      *prometheus.Registry
	Classifier    *metrics.ClassifierMetrics
	ImagePipeline *metrics.ImagePipelineMetrics
	ArtifactStore *metrics.ArtifactStoreMetrics
	Datastore     *metrics.DatastoreMetrics
	Identify      *metrics.IdentifyMetrics
	ImageProvider *metrics.ImageProviderMetrics
	MQTT          *metrics.MQTTMetrics
	SunCalc       *metrics.SunCalcMetrics
	HTTP          *metrics.HTTPMetrics
	Notification  *metrics.NotificationMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	classifierMetrics, err := metrics.NewClassifierMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier metrics: %w", err)
	}

	imagePipelineMetrics, err := metrics.NewImagePipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create image pipeline metrics: %w", err)
	}

	artifactStoreMetrics, err := metrics.NewArtifactStoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact store metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	identifyMetrics, err := metrics.NewIdentifyMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create identify metrics: %w", err)
	}

	imageProviderMetrics, err := metrics.NewImageProviderMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create ImageProvider metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	sunCalcMetrics, err := metrics.NewSunCalcMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create SunCalc metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	notificationMetrics, err := metrics.NewNotificationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification metrics: %w", err)
	}

	return &Metrics{
		registry:      registry,
		Classifier:    classifierMetrics,
		ImagePipeline: imagePipelineMetrics,
		ArtifactStore: artifactStoreMetrics,
		Datastore:     datastoreMetrics,
		Identify:      identifyMetrics,
		ImageProvider: imageProviderMetrics,
		MQTT:          mqttMetrics,
		SunCalc:       sunCalcMetrics,
		HTTP:          httpMetrics,
		Notification:  notificationMetrics,
	}, nil
}

// Gather collects the current state of all registered metrics.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}

// Handler returns the HTTP handler for the /metrics endpoint. The handler is
// mounted on the main web server.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}
