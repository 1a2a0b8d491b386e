// diseases.go: reference catalog operations for disease records
package datastore

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// DiseaseFilter narrows SearchDiseases results.
type DiseaseFilter struct {
	Query  string // free text matched against localized disease names
	Locale string // restrict the name match to one locale, empty matches all
	Limit  int
	Offset int
}

// SaveDisease inserts or updates a disease record together with its
// locale bundles. The Vectors column is the authoritative side of the
// species link; saving a disease is how the link is edited.
func (ds *DataStore) SaveDisease(ctx context.Context, disease *Disease) error {
	if disease == nil {
		return validationError("disease must not be nil", "disease", nil)
	}
	if disease.ID == "" {
		return validationError("disease ID must not be empty", "id", disease.ID)
	}

	locales := disease.Locales
	disease.Locales = nil
	defer func() { disease.Locales = locales }()

	err := ds.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(disease).Error; err != nil {
			return err
		}
		if err := tx.Where("disease_id = ?", disease.ID).Delete(&DiseaseLocale{}).Error; err != nil {
			return err
		}
		for i := range locales {
			locales[i].ID = 0
			locales[i].DiseaseID = disease.ID
			if err := tx.Create(&locales[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dbError(err, "save_disease", errors.PriorityHigh, "disease_id", disease.ID)
	}
	return nil
}

// GetDisease retrieves a disease by its identifier with all locale rows
// preloaded.
func (ds *DataStore) GetDisease(ctx context.Context, id string) (*Disease, error) {
	if id == "" {
		return nil, validationError("disease ID must not be empty", "id", id)
	}

	var disease Disease
	err := ds.db(ctx).Preload("Locales").
		Where("id = ?", id).
		First(&disease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("disease", id)
	}
	if err != nil {
		return nil, dbError(err, "get_disease", "", "disease_id", id)
	}
	return &disease, nil
}

// SearchDiseases returns disease entries whose localized name matches the
// free-text query, ordered by identifier for stable paging.
func (ds *DataStore) SearchDiseases(ctx context.Context, filter DiseaseFilter) ([]Disease, error) {
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	query := ds.db(ctx).Model(&Disease{}).Preload("Locales")

	if filter.Query != "" {
		pattern := "%" + strings.ToLower(filter.Query) + "%"
		sub := ds.db(ctx).Model(&DiseaseLocale{}).
			Select("disease_id").
			Where("LOWER(name) LIKE ?", pattern)
		if filter.Locale != "" {
			sub = sub.Where("locale = ?", filter.Locale)
		}
		query = query.Where("id IN (?)", sub)
	}

	var results []Disease
	err := query.Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&results).Error
	if err != nil {
		return nil, dbError(err, "search_diseases", "", "query", filter.Query)
	}

	if ds.metrics != nil {
		ds.metrics.RecordQueryResultSize("search_diseases", "diseases", len(results))
	}
	return results, nil
}

// VectorsOf resolves a disease's vector species identifiers into full
// species records. Identifiers without a matching species row are
// skipped; the advisory link tolerates catalog drift.
func (ds *DataStore) VectorsOf(ctx context.Context, diseaseID string) ([]Species, error) {
	disease, err := ds.GetDisease(ctx, diseaseID)
	if err != nil {
		return nil, err
	}

	vectorIDs := disease.VectorList()
	if len(vectorIDs) == 0 {
		return nil, nil
	}

	var species []Species
	err = ds.db(ctx).Preload("Locales").
		Where("id IN ?", vectorIDs).
		Order("scientific_name ASC").
		Find(&species).Error
	if err != nil {
		return nil, dbError(err, "vectors_of", "", "disease_id", diseaseID)
	}
	return species, nil
}

// DiseasesOf returns the diseases listing the species among their
// vectors. The species side of the link is never stored; it is derived
// here at read time so a disease edit is immediately visible.
func (ds *DataStore) DiseasesOf(ctx context.Context, speciesID string) ([]Disease, error) {
	if speciesID == "" {
		return nil, validationError("species ID must not be empty", "species_id", speciesID)
	}

	var diseases []Disease
	err := ds.db(ctx).Preload("Locales").
		Where(ds.setContains("vectors"), setPattern(speciesID)).
		Order("id ASC").
		Find(&diseases).Error
	if err != nil {
		return nil, dbError(err, "diseases_of", "", "species_id", speciesID)
	}
	return diseases, nil
}
