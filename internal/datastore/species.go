// species.go: reference catalog operations for species records
package datastore

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// SpeciesFilter narrows SearchSpecies results. Predicates combine
// conjunctively; zero values match everything.
type SpeciesFilter struct {
	Region       string // geographic region tag
	VectorStatus string // one of the VectorStatus constants
	Query        string // free text matched against scientific and common names
	Limit        int
	Offset       int
}

// setContains builds a dialect-appropriate predicate matching one tag
// inside a comma-joined set column. Both sides are padded with the
// separator so a tag never matches a substring of a longer tag.
func (ds *DataStore) setContains(column string) string {
	if ds.DB != nil && ds.DB.Dialector.Name() == "mysql" {
		return "CONCAT(',', " + column + ", ',') LIKE ?"
	}
	return "(',' || " + column + " || ',') LIKE ?"
}

// setPattern is the LIKE argument paired with setContains.
func setPattern(tag string) string {
	return "%," + tag + ",%"
}

// SaveSpecies inserts or updates a species record together with its
// locale bundles. Locale rows are replaced as a set so a removed
// translation disappears rather than lingering.
func (ds *DataStore) SaveSpecies(ctx context.Context, species *Species) error {
	if species == nil {
		return validationError("species must not be nil", "species", nil)
	}
	if species.ID == "" {
		return validationError("species ID must not be empty", "id", species.ID)
	}
	if species.ScientificName == "" {
		return validationError("species scientific name must not be empty", "scientific_name", species.ScientificName)
	}

	// Detach locales so the upsert touches only the species row; the
	// bundle rows are rewritten inside the same transaction below.
	locales := species.Locales
	species.Locales = nil
	defer func() { species.Locales = locales }()

	err := ds.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(species).Error; err != nil {
			return err
		}
		if err := tx.Where("species_id = ?", species.ID).Delete(&SpeciesLocale{}).Error; err != nil {
			return err
		}
		for i := range locales {
			locales[i].ID = 0
			locales[i].SpeciesID = species.ID
			if err := tx.Create(&locales[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dbError(err, "save_species", errors.PriorityHigh,
			"species_id", species.ID,
			"scientific_name", species.ScientificName)
	}
	return nil
}

// GetSpecies retrieves a species by its identifier with all locale rows
// preloaded.
func (ds *DataStore) GetSpecies(ctx context.Context, id string) (*Species, error) {
	if id == "" {
		return nil, validationError("species ID must not be empty", "id", id)
	}

	var species Species
	err := ds.db(ctx).Preload("Locales").
		Where("id = ?", id).
		First(&species).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("species", id)
	}
	if err != nil {
		return nil, dbError(err, "get_species", "", "species_id", id)
	}
	return &species, nil
}

// GetSpeciesByScientificName retrieves a species by its scientific name.
// Prediction labels join the catalog through this lookup.
func (ds *DataStore) GetSpeciesByScientificName(ctx context.Context, scientificName string) (*Species, error) {
	if scientificName == "" {
		return nil, validationError("scientific name must not be empty", "scientific_name", scientificName)
	}

	var species Species
	err := ds.db(ctx).Preload("Locales").
		Where("scientific_name = ?", scientificName).
		First(&species).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("species", scientificName)
	}
	if err != nil {
		return nil, dbError(err, "get_species_by_scientific_name", "",
			"scientific_name", scientificName)
	}
	return &species, nil
}

// SearchSpecies returns catalog entries matching the filter, ordered by
// scientific name for stable paging. Free text matches the scientific
// name and any localized common name, case folded.
func (ds *DataStore) SearchSpecies(ctx context.Context, filter SpeciesFilter) ([]Species, error) {
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	query := ds.db(ctx).Model(&Species{}).Preload("Locales")

	if filter.VectorStatus != "" {
		query = query.Where("vector_status = ?", filter.VectorStatus)
	}
	if filter.Region != "" {
		query = query.Where(ds.setContains("regions"), setPattern(filter.Region))
	}
	if filter.Query != "" {
		pattern := "%" + strings.ToLower(filter.Query) + "%"
		query = query.Where(
			"LOWER(scientific_name) LIKE ? OR id IN (?)",
			pattern,
			ds.db(ctx).Model(&SpeciesLocale{}).
				Select("species_id").
				Where("LOWER(common_name) LIKE ?", pattern),
		)
	}

	var results []Species
	err := query.Order("scientific_name ASC").
		Limit(limit).
		Offset(offset).
		Find(&results).Error
	if err != nil {
		return nil, dbError(err, "search_species", "",
			"query", filter.Query,
			"region", filter.Region)
	}

	if ds.metrics != nil {
		ds.metrics.RecordQueryResultSize("search_species", "species", len(results))
	}
	return results, nil
}
