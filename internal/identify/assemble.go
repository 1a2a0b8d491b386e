package identify

import (
	"context"

	"github.com/patrickmn/go-cache"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// referenceMiss is the negative cache entry for labels with no species
// record. Caching the miss keeps model/reference-data skew from turning
// every request into a catalog lookup.
type referenceMiss struct{}

// referenceFor resolves localized species metadata for a predicted
// label. It never fails the identification: unknown labels and lookup
// errors both return nil and the caller serves the raw prediction.
func (s *Service) referenceFor(ctx context.Context, scientificName, locale string) *datastore.SpeciesView {
	locale, _ = conf.NormalizeLocale(locale)
	key := locale + "|" + scientificName

	if cached, ok := s.cache.Get(key); ok {
		if s.metrics != nil {
			s.metrics.RecordReferenceCacheHit()
		}
		if view, ok := cached.(*datastore.SpeciesView); ok {
			return view
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordReferenceCacheMiss()
	}

	species, err := s.ds.GetSpeciesByScientificName(ctx, scientificName)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn("predicted label has no species record, serving raw prediction",
				"scientific_name", scientificName,
				"locale", locale)
			if s.metrics != nil {
				s.metrics.RecordReferenceMissing(scientificName)
			}
			s.cache.Set(key, referenceMiss{}, cache.DefaultExpiration)
		} else {
			s.logger.Error("reference lookup failed, serving raw prediction",
				"scientific_name", scientificName,
				"locale", locale,
				"error", err)
		}
		return nil
	}

	view := species.Localize(locale)
	s.cache.Set(key, &view, cache.DefaultExpiration)
	return &view
}
