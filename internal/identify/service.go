// Package identify assembles classifier output, reference metadata, and
// stored artifact references into one immutable prediction result. The
// upload enters artifact persistence and inference in parallel; the
// assembler waits for both, bounded by the pipeline timeout.
package identify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/classifier"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/imagepipeline"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/logging"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability/metrics"
)

// DefaultReferenceTTL bounds reference metadata staleness when no cache
// TTL is configured.
const DefaultReferenceTTL = 15 * time.Minute

// defaultArtifactWindow bounds the wait on artifact persistence when no
// pipeline timeout is configured.
const defaultArtifactWindow = 30 * time.Second

// Predictor is the classifier surface the assembler needs. The engine
// satisfies it; tests substitute fixed-output fakes.
type Predictor interface {
	Predict(ctx context.Context, pixels []float32) ([]classifier.Prediction, error)
	Identifier() string
}

// Service orchestrates one identification request end to end.
type Service struct {
	settings *conf.Settings
	engine   Predictor
	pipeline *imagepipeline.Pipeline
	ds       datastore.Interface
	cache    *cache.Cache
	metrics  *metrics.IdentifyMetrics
	logger   *slog.Logger
}

// New creates an identification service. The reference cache TTL comes
// from the reference settings, falling back to DefaultReferenceTTL.
func New(settings *conf.Settings, engine Predictor, pipeline *imagepipeline.Pipeline, ds datastore.Interface, identifyMetrics *metrics.IdentifyMetrics) *Service {
	ttl := settings.Reference.CacheTTL
	if ttl <= 0 {
		ttl = DefaultReferenceTTL
	}
	return &Service{
		settings: settings,
		engine:   engine,
		pipeline: pipeline,
		ds:       ds,
		cache:    cache.New(ttl, ttl*2),
		metrics:  identifyMetrics,
		logger:   getLoggerSafe("identify"),
	}
}

// Identify validates the upload, starts detached artifact persistence,
// runs inference, and assembles the result. Artifact persistence that
// misses the pipeline window marks the result pending instead of
// blocking; a predicted label without a species record returns the raw
// label with metadata left empty.
func (s *Service) Identify(ctx context.Context, upload []byte, locale string) (*PredictionResult, error) {
	start := time.Now()

	dec, err := s.pipeline.ValidateAndDecode(upload)
	if err != nil {
		s.recordIdentify("rejected", start)
		return nil, err
	}

	job := s.pipeline.PersistDetached(dec)

	pixels := classifier.ImageToTensor(imagepipeline.ScaleSquare(dec.Image, conf.ModelInputSize))
	predictions, err := s.engine.Predict(ctx, pixels)
	if err != nil {
		s.recordIdentify("error", start)
		return nil, err
	}
	if len(predictions) == 0 {
		s.recordIdentify("error", start)
		return nil, errors.Newf("model returned no predictions").
			Component("identify").
			Category(errors.CategoryProcessing).
			Context("model_id", s.engine.Identifier()).
			Build()
	}

	artifacts, pending := s.awaitArtifacts(ctx, job)

	rankings := make([]RankedPrediction, 0, maxReportedPredictions)
	for i, p := range predictions {
		if i == maxReportedPredictions {
			break
		}
		rankings = append(rankings, RankedPrediction{
			ScientificName: p.Label,
			Probability:    float64(p.Probability),
		})
	}

	top := rankings[0]
	result := &PredictionResult{
		id:               uuid.New().String(),
		scientificName:   top.ScientificName,
		confidence:       top.Probability,
		rankings:         rankings,
		modelID:          s.engine.Identifier(),
		species:          s.referenceFor(ctx, top.ScientificName, locale),
		artifacts:        artifacts,
		artifactsPending: pending,
	}

	s.recordIdentify("success", start)
	return result, nil
}

// awaitArtifacts waits for the detached persistence run within the
// pipeline window. A skipped run yields no references and no pending
// flag; a window miss leaves the run to finish in the background.
func (s *Service) awaitArtifacts(ctx context.Context, job *imagepipeline.Job) (refs []imagepipeline.VariantRef, pending bool) {
	window := s.settings.Artifacts.PipelineTimeout
	if window <= 0 {
		window = defaultArtifactWindow
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-job.Done():
		result := job.Result()
		if result == nil || result.Skipped {
			return nil, false
		}
		return result.Refs, false
	case <-timer.C:
	case <-ctx.Done():
	}

	if s.metrics != nil {
		s.metrics.RecordArtifactsPending()
	}
	s.logger.Warn("artifact persistence still in flight, returning pending result")
	return nil, true
}

func (s *Service) recordIdentify(status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordIdentify(status, time.Since(start).Seconds())
	}
}

// getLoggerSafe returns a service logger, falling back to the default
// logger when logging is not yet initialized.
func getLoggerSafe(service string) *slog.Logger {
	logger := logging.ForService(service)
	if logger == nil {
		logger = slog.Default().With("service", service)
	}
	return logger
}
