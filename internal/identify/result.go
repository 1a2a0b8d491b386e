package identify

import (
	"encoding/json"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/imagepipeline"
)

// maxReportedPredictions caps how many ranked pairs a result carries.
// Two entries keep the payload small while still showing the runner-up,
// which is what the UI renders.
const maxReportedPredictions = 2

// RankedPrediction is one (scientific name, probability) pair. Rank
// order lives in the slice; the keyed map form exists only in JSON.
type RankedPrediction struct {
	ScientificName string
	Probability    float64
}

// PredictionResult is the assembled outcome of one identification.
// It is built once and never mutated; accessors return copies of any
// slice-valued field.
type PredictionResult struct {
	id               string
	scientificName   string
	confidence       float64
	rankings         []RankedPrediction
	modelID          string
	species          *datastore.SpeciesView
	artifacts        []imagepipeline.VariantRef
	artifactsPending bool
}

// ID returns the generated result identifier.
func (r *PredictionResult) ID() string { return r.id }

// ScientificName returns the top-ranked label.
func (r *PredictionResult) ScientificName() string { return r.scientificName }

// Confidence returns the probability of the top-ranked label.
func (r *PredictionResult) Confidence() float64 { return r.confidence }

// ModelID returns the identifier of the model that produced the result.
func (r *PredictionResult) ModelID() string { return r.modelID }

// Rankings returns the bounded ranked pairs, highest probability first.
func (r *PredictionResult) Rankings() []RankedPrediction {
	out := make([]RankedPrediction, len(r.rankings))
	copy(out, r.rankings)
	return out
}

// Species returns the localized reference metadata, or nil when the
// predicted label had no species record.
func (r *PredictionResult) Species() *datastore.SpeciesView {
	if r.species == nil {
		return nil
	}
	view := *r.species
	return &view
}

// SpeciesImageURL returns the reference image for the predicted
// species, empty when unknown.
func (r *PredictionResult) SpeciesImageURL() string {
	if r.species == nil {
		return ""
	}
	return r.species.ImageURL
}

// Artifacts returns the stored variant references, empty while pending.
func (r *PredictionResult) Artifacts() []imagepipeline.VariantRef {
	out := make([]imagepipeline.VariantRef, len(r.artifacts))
	copy(out, r.artifacts)
	return out
}

// ArtifactsPending reports whether persistence was still in flight when
// the result was assembled.
func (r *PredictionResult) ArtifactsPending() bool { return r.artifactsPending }

// MarshalJSON renders the wire payload. The ranked pairs become a keyed
// probabilities map here and nowhere else.
func (r *PredictionResult) MarshalJSON() ([]byte, error) {
	probabilities := make(map[string]float64, len(r.rankings))
	for _, p := range r.rankings {
		probabilities[p.ScientificName] = p.Probability
	}

	return json.Marshal(struct {
		ID               string                     `json:"id"`
		ScientificName   string                     `json:"scientific_name"`
		Confidence       float64                    `json:"confidence"`
		Probabilities    map[string]float64         `json:"probabilities"`
		ModelID          string                     `json:"model_id"`
		SpeciesImageURL  string                     `json:"image_url_species,omitempty"`
		Species          *datastore.SpeciesView     `json:"species,omitempty"`
		Artifacts        []imagepipeline.VariantRef `json:"artifacts,omitempty"`
		ArtifactsPending bool                       `json:"artifacts_pending,omitempty"`
	}{
		ID:               r.id,
		ScientificName:   r.scientificName,
		Confidence:       r.confidence,
		Probabilities:    probabilities,
		ModelID:          r.modelID,
		SpeciesImageURL:  r.SpeciesImageURL(),
		Species:          r.species,
		Artifacts:        r.artifacts,
		ArtifactsPending: r.artifactsPending,
	})
}
