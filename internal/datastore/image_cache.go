// image_cache.go: persistence for fetched species reference images
package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// GetSpeciesImageCache retrieves a cached provider image by provider and
// scientific name.
func (ds *DataStore) GetSpeciesImageCache(ctx context.Context, providerName, scientificName string) (*SpeciesImageCache, error) {
	if providerName == "" || scientificName == "" {
		return nil, validationError("provider and scientific name must not be empty",
			"provider", providerName)
	}

	var cache SpeciesImageCache
	err := ds.db(ctx).
		Where("provider_name = ? AND scientific_name = ?", providerName, scientificName).
		First(&cache).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("species image cache", scientificName)
	}
	if err != nil {
		return nil, dbError(err, "get_species_image_cache", "",
			"provider", providerName,
			"scientific_name", scientificName)
	}
	return &cache, nil
}

// SaveSpeciesImageCache inserts or refreshes a cached provider image.
func (ds *DataStore) SaveSpeciesImageCache(ctx context.Context, cache *SpeciesImageCache) error {
	if cache == nil {
		return validationError("cache entry must not be nil", "cache", nil)
	}
	if cache.ProviderName == "" || cache.ScientificName == "" {
		return validationError("provider and scientific name must not be empty",
			"provider", cache.ProviderName)
	}

	err := ds.db(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_name"}, {Name: "scientific_name"}},
			UpdateAll: true,
		}).
		Create(cache).Error
	if err != nil {
		return dbError(err, "save_species_image_cache", "",
			"provider", cache.ProviderName,
			"scientific_name", cache.ScientificName)
	}
	return nil
}
