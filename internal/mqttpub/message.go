package mqttpub

import (
	"encoding/json"
	"time"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// ObservationMessage is the broker wire format for one observation.
// Field names are part of the MQTT contract for downstream consumers;
// do not rename existing fields.
type ObservationMessage struct {
	ID                    string         `json:"id"`
	SpeciesScientificName string         `json:"species_scientific_name"`
	Latitude              float64        `json:"latitude"`
	Longitude             float64        `json:"longitude"`
	LocationAccuracyM     float64        `json:"location_accuracy_m,omitempty"`
	ObservedAt            string         `json:"observed_at"`
	SpecimenCount         int            `json:"specimen_count"`
	Notes                 string         `json:"notes,omitempty"`
	ObserverID            string         `json:"observer_id,omitempty"`
	DataSource            string         `json:"data_source,omitempty"`
	ModelID               string         `json:"model_id,omitempty"`
	Confidence            *float64       `json:"confidence,omitempty"`
	ImageKey              string         `json:"image_key,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	SourceNode            string         `json:"source_node,omitempty"`
}

// NewObservationMessage builds the wire message from a stored row.
// sourceNode identifies the publishing instance.
func NewObservationMessage(obs *datastore.Observation, sourceNode string) (*ObservationMessage, error) {
	meta, err := obs.MetadataMap()
	if err != nil {
		return nil, errors.New(err).
			Component("mqttpub").
			Category(errors.CategoryMQTTPublish).
			Context("observation_id", obs.ID).
			Context("operation", "decode_metadata").
			Build()
	}
	return &ObservationMessage{
		ID:                    obs.ID,
		SpeciesScientificName: obs.SpeciesScientificName,
		Latitude:              obs.Latitude,
		Longitude:             obs.Longitude,
		LocationAccuracyM:     obs.LocationAccuracyM,
		ObservedAt:            obs.ObservedAt.UTC().Format(time.RFC3339),
		SpecimenCount:         obs.SpecimenCount,
		Notes:                 obs.Notes,
		ObserverID:            obs.ObserverID,
		DataSource:            obs.DataSource,
		ModelID:               obs.ModelID,
		Confidence:            obs.Confidence,
		ImageKey:              obs.ImageKey,
		Metadata:              meta,
		SourceNode:            sourceNode,
	}, nil
}

func encodeObservation(obs *datastore.Observation, sourceNode string) ([]byte, error) {
	msg, err := NewObservationMessage(obs, sourceNode)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.New(err).
			Component("mqttpub").
			Category(errors.CategoryMQTTPublish).
			Context("observation_id", obs.ID).
			Context("operation", "encode_message").
			Build()
	}
	return payload, nil
}
