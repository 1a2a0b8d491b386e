package datastore

import (
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
)

// LocalizedField is one resolved piece of localized text. Locale names
// the bundle the value actually came from, which differs from the
// requested locale after a fallback. Missing is set when neither the
// requested locale nor the default carries text; the value is then
// empty rather than an error, because incomplete translation must
// never fail a read.
type LocalizedField struct {
	Value   string `json:"value"`
	Locale  string `json:"locale,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

// resolveField applies the locale fallback rule to a pair of candidate
// values: requested locale first, then the default locale, then an
// explicit missing marker.
func resolveField(requested, requestedLocale, fallback string) LocalizedField {
	if requested != "" {
		return LocalizedField{Value: requested, Locale: requestedLocale}
	}
	if fallback != "" {
		return LocalizedField{Value: fallback, Locale: conf.DefaultFallbackLocale}
	}
	return LocalizedField{Missing: true}
}

// localeOf returns the species locale row for the given code, or nil.
func (s *Species) localeOf(locale string) *SpeciesLocale {
	for i := range s.Locales {
		if s.Locales[i].Locale == locale {
			return &s.Locales[i]
		}
	}
	return nil
}

// localeOf returns the disease locale row for the given code, or nil.
func (d *Disease) localeOf(locale string) *DiseaseLocale {
	for i := range d.Locales {
		if d.Locales[i].Locale == locale {
			return &d.Locales[i]
		}
	}
	return nil
}

// SpeciesView is the locale-resolved projection of a Species record the
// API serves. Related disease info is assembled at read time from the
// authoritative Disease.Vectors side, so a disease rename shows up on
// the next species read without touching species rows.
type SpeciesView struct {
	ID                 string           `json:"id"`
	ScientificName     string           `json:"scientific_name"`
	VectorStatus       string           `json:"vector_status"`
	Regions            []string         `json:"regions,omitempty"`
	CommonName         LocalizedField   `json:"common_name"`
	Description        LocalizedField   `json:"description"`
	KeyCharacteristics LocalizedField   `json:"key_characteristics"`
	Habitat            LocalizedField   `json:"habitat"`
	ImageURL           string           `json:"image_url,omitempty"`
	RelatedDiseases    []RelatedDisease `json:"related_diseases,omitempty"`
}

// RelatedDisease is the denormalized projection of one linked disease.
type RelatedDisease struct {
	ID   string         `json:"id"`
	Name LocalizedField `json:"name"`
}

// DiseaseView is the locale-resolved projection of a Disease record.
type DiseaseView struct {
	ID          string         `json:"id"`
	Name        LocalizedField `json:"name"`
	Description LocalizedField `json:"description"`
	Symptoms    LocalizedField `json:"symptoms"`
	Treatment   LocalizedField `json:"treatment"`
	Prevention  LocalizedField `json:"prevention"`
	Prevalence  LocalizedField `json:"prevalence"`
	Vectors     []string       `json:"vectors,omitempty"`
}

// Localize resolves the species' text fields for the requested locale.
func (s *Species) Localize(locale string) SpeciesView {
	requested := s.localeOf(locale)
	fallback := s.localeOf(conf.DefaultFallbackLocale)
	if requested == nil {
		requested = &SpeciesLocale{}
	}
	if fallback == nil {
		fallback = &SpeciesLocale{}
	}

	return SpeciesView{
		ID:                 s.ID,
		ScientificName:     s.ScientificName,
		VectorStatus:       s.VectorStatus,
		Regions:            s.RegionList(),
		CommonName:         resolveField(requested.CommonName, locale, fallback.CommonName),
		Description:        resolveField(requested.Description, locale, fallback.Description),
		KeyCharacteristics: resolveField(requested.KeyCharacteristics, locale, fallback.KeyCharacteristics),
		Habitat:            resolveField(requested.Habitat, locale, fallback.Habitat),
		ImageURL:           s.ImageURL,
	}
}

// Localize resolves the disease's text fields for the requested locale.
func (d *Disease) Localize(locale string) DiseaseView {
	requested := d.localeOf(locale)
	fallback := d.localeOf(conf.DefaultFallbackLocale)
	if requested == nil {
		requested = &DiseaseLocale{}
	}
	if fallback == nil {
		fallback = &DiseaseLocale{}
	}

	return DiseaseView{
		ID:          d.ID,
		Name:        resolveField(requested.Name, locale, fallback.Name),
		Description: resolveField(requested.Description, locale, fallback.Description),
		Symptoms:    resolveField(requested.Symptoms, locale, fallback.Symptoms),
		Treatment:   resolveField(requested.Treatment, locale, fallback.Treatment),
		Prevention:  resolveField(requested.Prevention, locale, fallback.Prevention),
		Prevalence:  resolveField(requested.Prevalence, locale, fallback.Prevalence),
		Vectors:     d.VectorList(),
	}
}
