// Package imageprovider fetches reference images for species from an
// external provider and caches them in memory and in the datastore so
// catalog reads and prediction results can carry an image URL without
// hitting the provider per request.
package imageprovider

import (
	"context"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/logging"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability/metrics"
)

// defaultCacheTTL bounds how long a fetched image is served from the
// in-memory cache before the persisted row is consulted again.
// Reference imagery is stable, so the TTL is long.
const defaultCacheTTL = 14 * 24 * time.Hour

// ErrImageNotFound marks species without a usable reference image.
// Callers treat it as an expected condition, not a failure.
var ErrImageNotFound = errors.NewStd("image not found")

// SpeciesImage is one fetched reference image with attribution.
type SpeciesImage struct {
	URL            string    `json:"url"`
	ScientificName string    `json:"scientific_name"`
	LicenseName    string    `json:"license_name,omitempty"`
	LicenseURL     string    `json:"license_url,omitempty"`
	AuthorName     string    `json:"author_name,omitempty"`
	AuthorURL      string    `json:"author_url,omitempty"`
	CachedAt       time.Time `json:"cached_at,omitempty"`
}

// Provider fetches a reference image for a scientific name.
type Provider interface {
	Fetch(ctx context.Context, scientificName string) (SpeciesImage, error)
	Name() string
}

// Cache layers a TTL memory cache and datastore persistence in front of
// a Provider. Misses are cached too, so species without an image do not
// generate a provider request per read.
type Cache struct {
	provider Provider
	memory   *cache.Cache
	ds       datastore.Interface
	metrics  *metrics.ImageProviderMetrics
	logger   *slog.Logger
}

// NewCache wraps provider with caching. ds may be nil in tests; the
// persisted layer is then skipped.
func NewCache(provider Provider, ds datastore.Interface, providerMetrics *metrics.ImageProviderMetrics, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{
		provider: provider,
		memory:   cache.New(ttl, ttl*2),
		ds:       ds,
		metrics:  providerMetrics,
		logger:   getLoggerSafe("imageprovider"),
	}
}

// Get returns the reference image for a scientific name, consulting the
// memory cache, then the persisted cache, then the provider.
func (c *Cache) Get(ctx context.Context, scientificName string) (SpeciesImage, error) {
	if cached, ok := c.memory.Get(scientificName); ok {
		img, _ := cached.(SpeciesImage)
		if c.metrics != nil {
			c.metrics.IncrementCacheHits()
		}
		if img.URL == "" {
			return SpeciesImage{}, ErrImageNotFound
		}
		return img, nil
	}
	if c.metrics != nil {
		c.metrics.IncrementCacheMisses()
	}

	if img, ok := c.fromStore(ctx, scientificName); ok {
		c.memory.Set(scientificName, img, cache.DefaultExpiration)
		return img, nil
	}

	start := time.Now()
	img, err := c.provider.Fetch(ctx, scientificName)
	if err != nil {
		if errors.Is(err, ErrImageNotFound) {
			// Negative entry: skip the provider until the TTL expires.
			c.memory.Set(scientificName, SpeciesImage{}, cache.DefaultExpiration)
			return SpeciesImage{}, ErrImageNotFound
		}
		if c.metrics != nil {
			c.metrics.IncrementDownloadErrors()
		}
		return SpeciesImage{}, err
	}
	if c.metrics != nil {
		c.metrics.IncrementImageDownloads()
		c.metrics.ObserveDownloadDuration(time.Since(start).Seconds())
	}

	img.CachedAt = time.Now()
	c.memory.Set(scientificName, img, cache.DefaultExpiration)
	c.persist(ctx, &img)
	return img, nil
}

// fromStore loads a previously persisted image row.
func (c *Cache) fromStore(ctx context.Context, scientificName string) (SpeciesImage, bool) {
	if c.ds == nil {
		return SpeciesImage{}, false
	}
	row, err := c.ds.GetSpeciesImageCache(ctx, c.provider.Name(), scientificName)
	if err != nil {
		if !errors.IsNotFound(err) {
			c.logger.Warn("persisted image cache lookup failed",
				"scientific_name", scientificName,
				"error", err)
		}
		return SpeciesImage{}, false
	}
	return SpeciesImage{
		URL:            row.URL,
		ScientificName: row.ScientificName,
		LicenseName:    row.LicenseName,
		LicenseURL:     row.LicenseURL,
		AuthorName:     row.AuthorName,
		AuthorURL:      row.AuthorURL,
		CachedAt:       row.CachedAt,
	}, true
}

// persist stores a fetched image so lookups survive restarts. Failure
// is logged and tolerated; the memory cache still serves the image.
func (c *Cache) persist(ctx context.Context, img *SpeciesImage) {
	if c.ds == nil {
		return
	}
	err := c.ds.SaveSpeciesImageCache(ctx, &datastore.SpeciesImageCache{
		ProviderName:   c.provider.Name(),
		ScientificName: img.ScientificName,
		URL:            img.URL,
		LicenseName:    img.LicenseName,
		LicenseURL:     img.LicenseURL,
		AuthorName:     img.AuthorName,
		AuthorURL:      img.AuthorURL,
		CachedAt:       img.CachedAt,
	})
	if err != nil {
		c.logger.Warn("failed to persist image cache entry",
			"scientific_name", img.ScientificName,
			"error", err)
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
