// model.go this code defines the data model for the application
package datastore

import (
	"strings"
	"time"
)

// Vector status classifications for a species' disease-transmission risk.
const (
	VectorStatusHigh     = "high"
	VectorStatusModerate = "moderate"
	VectorStatusLow      = "low"
	VectorStatusUnknown  = "unknown"
)

// setSeparator joins set-valued columns (regions, vector species).
const setSeparator = ","

// Species is one reference catalog entry. The identifier is assigned at
// creation and never changes; prediction labels join on ScientificName.
type Species struct {
	ID             string `gorm:"primaryKey;size:64"`
	ScientificName string `gorm:"uniqueIndex:idx_species_sciname;not null"`
	VectorStatus   string `gorm:"size:16;index:idx_species_vectorstatus"`
	Regions        string // comma-joined geographic region tags, set semantics via RegionList
	Embedding      []byte // little-endian float32 vector for similarity search
	ImageURL       string // reference image filled by the species image provider
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Locales []SpeciesLocale `gorm:"foreignKey:SpeciesID;references:ID;constraint:OnDelete:CASCADE"`
}

// SpeciesLocale is one language bundle of a species record. The English
// row carries the required-for-display fields; other locales may be
// partially populated.
type SpeciesLocale struct {
	ID                 uint   `gorm:"primaryKey"`
	SpeciesID          string `gorm:"uniqueIndex:idx_species_locale;not null"`
	Locale             string `gorm:"uniqueIndex:idx_species_locale;size:8;not null"`
	CommonName         string
	Description        string `gorm:"type:text"`
	KeyCharacteristics string `gorm:"type:text"`
	Habitat            string `gorm:"type:text"`
}

// Disease is one disease reference entry. Vectors holds the identifiers
// of transmitting species and is the authoritative side of the
// species-disease link; the species side is derived at read time.
type Disease struct {
	ID        string `gorm:"primaryKey;size:64"`
	Vectors   string // comma-joined vector species identifiers
	CreatedAt time.Time
	UpdatedAt time.Time

	Locales []DiseaseLocale `gorm:"foreignKey:DiseaseID;references:ID;constraint:OnDelete:CASCADE"`
}

// DiseaseLocale is one language bundle of a disease record.
type DiseaseLocale struct {
	ID          uint   `gorm:"primaryKey"`
	DiseaseID   string `gorm:"uniqueIndex:idx_disease_locale;not null"`
	Locale      string `gorm:"uniqueIndex:idx_disease_locale;size:8;not null"`
	Name        string
	Description string `gorm:"type:text"`
	Symptoms    string `gorm:"type:text"`
	Treatment   string `gorm:"type:text"`
	Prevention  string `gorm:"type:text"`
	Prevalence  string `gorm:"type:text"`
}

// Observation is one geolocated sighting row. Identifier, species
// reference, location and timestamp are write-once; only notes and
// metadata may be amended after insert.
type Observation struct {
	ID                    string    `gorm:"primaryKey;size:36"`
	SpeciesScientificName string    `gorm:"index:idx_observations_sciname;not null"`
	Latitude              float64   `gorm:"index:idx_observations_lat"`
	Longitude             float64   `gorm:"index:idx_observations_lng"`
	LocationAccuracyM     float64   // accuracy radius in meters, 0 when unreported
	ObservedAt            time.Time `gorm:"index:idx_observations_observedat"`
	SpecimenCount         int       `gorm:"not null"`
	Notes                 string    `gorm:"type:text"`
	ObserverID            string
	DataSource            string
	ModelID               string   // prediction linkage, empty for manual observations
	Confidence            *float64 // classifier confidence in [0,1], nil for manual observations
	ImageKey              string   // artifact store key of the original upload
	Metadata              string   `gorm:"type:text"` // open metadata bundle, JSON encoded
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SpeciesImageCache persists fetched species reference images so provider
// lookups survive restarts.
type SpeciesImageCache struct {
	ID             uint   `gorm:"primaryKey"`
	ProviderName   string `gorm:"uniqueIndex:idx_speciesimagecache_provider_species;size:32;not null"`
	ScientificName string `gorm:"uniqueIndex:idx_speciesimagecache_provider_species;not null"`
	URL            string
	LicenseName    string
	LicenseURL     string
	AuthorName     string
	AuthorURL      string
	CachedAt       time.Time `gorm:"index"`
}

// RegionList returns the species' region tags as a slice.
func (s *Species) RegionList() []string {
	return splitSet(s.Regions)
}

// SetRegions stores region tags, dropping empties and surrounding space.
func (s *Species) SetRegions(regions []string) {
	s.Regions = joinSet(regions)
}

// VectorList returns the disease's vector species identifiers as a slice.
func (d *Disease) VectorList() []string {
	return splitSet(d.Vectors)
}

// SetVectors stores vector species identifiers.
func (d *Disease) SetVectors(speciesIDs []string) {
	d.Vectors = joinSet(speciesIDs)
}

// HasVector reports whether speciesID is among the disease's vectors.
func (d *Disease) HasVector(speciesID string) bool {
	for _, id := range d.VectorList() {
		if id == speciesID {
			return true
		}
	}
	return false
}

func splitSet(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, setSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinSet(values []string) string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return strings.Join(out, setSeparator)
}
