// query.go: conjunctive filter scans over stored observations
package datastore

import (
	"context"
	"time"
)

// Pagination bounds shared by the search operations. A zero limit gets
// the default; anything above the ceiling is clamped rather than
// rejected so a greedy client still gets a page.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 1000
)

// normalizePage clamps limit and offset into their allowed ranges.
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// BoundingBox is a geographic containment predicate over stored
// observation coordinates.
type BoundingBox struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// Valid reports whether the box describes a non-inverted area on the
// globe.
func (b *BoundingBox) Valid() bool {
	return b.MinLat >= -90 && b.MaxLat <= 90 &&
		b.MinLng >= -180 && b.MaxLng <= 180 &&
		b.MinLat <= b.MaxLat && b.MinLng <= b.MaxLng
}

// ObservationFilter holds the Query Layer predicates. All present
// predicates combine conjunctively; within the set-valued ones
// (Species, Regions) membership is enough.
type ObservationFilter struct {
	Species       []string     // scientific names
	Regions       []string     // region tags, resolved through the species catalog
	From          time.Time    // inclusive lower bound on observed_at
	To            time.Time    // inclusive upper bound on observed_at
	MinConfidence float64      // observations without a confidence never match when set
	BBox          *BoundingBox // geographic containment
	Limit         int
	Offset        int
}

// SearchObservations scans the observation table with the filter applied
// and returns one page plus the total number of matching rows. Ordering
// is newest first with the identifier as secondary key, which keeps page
// boundaries deterministic while inserts are happening.
func (ds *DataStore) SearchObservations(ctx context.Context, filter ObservationFilter) ([]Observation, int64, error) {
	if filter.BBox != nil && !filter.BBox.Valid() {
		return nil, 0, validationError("bounding box is inverted or off the globe",
			"bbox", *filter.BBox)
	}
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	query := ds.db(ctx).Model(&Observation{})

	if len(filter.Species) > 0 {
		query = query.Where("species_scientific_name IN ?", filter.Species)
	}
	if len(filter.Regions) > 0 {
		// Observations carry no region tags of their own; the predicate
		// resolves through the species catalog at read time.
		group := ds.DB.Where(ds.setContains("regions"), setPattern(filter.Regions[0]))
		for _, region := range filter.Regions[1:] {
			group = group.Or(ds.setContains("regions"), setPattern(region))
		}
		sub := ds.db(ctx).Model(&Species{}).
			Select("scientific_name").
			Where(group)
		query = query.Where("species_scientific_name IN (?)", sub)
	}
	if !filter.From.IsZero() {
		query = query.Where("observed_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("observed_at <= ?", filter.To)
	}
	if filter.MinConfidence > 0 {
		query = query.Where("confidence >= ?", filter.MinConfidence)
	}
	if filter.BBox != nil {
		query = query.Where("latitude >= ? AND latitude <= ? AND longitude >= ? AND longitude <= ?",
			filter.BBox.MinLat, filter.BBox.MaxLat, filter.BBox.MinLng, filter.BBox.MaxLng)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, dbError(err, "search_observations_count", "")
	}

	var results []Observation
	err := query.Order("observed_at DESC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&results).Error
	if err != nil {
		return nil, 0, dbError(err, "search_observations", "")
	}

	if ds.metrics != nil {
		ds.metrics.RecordQueryResultSize("search_observations", "observations", len(results))
	}
	return results, total, nil
}
