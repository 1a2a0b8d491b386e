// Package imagepipeline turns one accepted upload into persisted image
// variants: the original bytes, the model-input resolution, and a small
// preview thumbnail. Variant writes run concurrently and tolerate
// partial failure; persistence is config-gated and guarded by a disk
// usage watermark so a full artifact volume degrades to predictions
// without stored images instead of failed requests.
package imagepipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/artifactstore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/logging"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability/metrics"
)

const (
	// maxDetachedJobs bounds how many detached persistence jobs may
	// write variants at the same time.
	maxDetachedJobs = 4

	// variantTimeout is the per-variant slice of the pipeline deadline.
	// Each variant gets its own timeout so one slow write cannot starve
	// the others.
	variantTimeout = 20 * time.Second

	// derivedExt is the storage extension for the scaled variants. They
	// are encoded as PNG so the model input can be reproduced from the
	// stored artifact byte for byte. The original is stored as received.
	derivedExt = "png"
)

// VariantRef points at one stored image variant.
type VariantRef struct {
	Variant artifactstore.Variant `json:"variant"`
	Key     string                `json:"key"`
	URL     string                `json:"url"`
	Size    int64                 `json:"size_bytes"`
}

// Result is the outcome of one persistence run. Refs holds the variants
// that made it to storage in fixed original/model/thumb order; a variant
// that failed is simply absent and Partial is set.
type Result struct {
	Refs    []VariantRef `json:"refs"`
	Partial bool         `json:"partial,omitempty"`
	Skipped bool         `json:"skipped,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

// Skip reasons reported in Result.Reason.
const (
	SkipDisabled  = "artifacts_disabled"
	SkipDiskUsage = "disk_usage_above_watermark"
	SkipShutdown  = "pipeline_shut_down"
	SkipSaturated = "supervisor_saturated"
)

// Pipeline owns variant generation and the detached write supervisor.
type Pipeline struct {
	settings *conf.Settings
	store    artifactstore.Store
	metrics  *metrics.ImagePipelineMetrics
	logger   *slog.Logger

	// diskUsage is swapped by tests to simulate watermark pressure.
	diskUsage func(path string) (float64, error)

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a pipeline writing through the given artifact store.
func New(settings *conf.Settings, store artifactstore.Store, pipelineMetrics *metrics.ImagePipelineMetrics) *Pipeline {
	return &Pipeline{
		settings:  settings,
		store:     store,
		metrics:   pipelineMetrics,
		logger:    getLoggerSafe("imagepipeline"),
		diskUsage: diskUsagePercent,
		sem:       semaphore.NewWeighted(maxDetachedJobs),
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
