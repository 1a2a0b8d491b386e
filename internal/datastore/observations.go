// observations.go: append-mostly storage for geolocated sighting records
package datastore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// ObservationAmendment carries the only fields an existing observation
// accepts after insert. Nil pointers leave the stored value untouched.
type ObservationAmendment struct {
	Notes    *string
	Metadata map[string]any
}

// MetadataMap decodes the observation's JSON metadata bundle. An empty
// column decodes to nil.
func (o *Observation) MetadataMap() (map[string]any, error) {
	if o.Metadata == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(o.Metadata), &m); err != nil {
		return nil, dbError(err, "decode_metadata", "", "observation_id", o.ID)
	}
	return m, nil
}

// SetMetadata encodes the bundle into the JSON metadata column.
func (o *Observation) SetMetadata(m map[string]any) error {
	if len(m) == 0 {
		o.Metadata = ""
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return validationError("metadata must be JSON encodable", "metadata", err.Error())
	}
	o.Metadata = string(raw)
	return nil
}

// validateObservation enforces the write-time invariants: a species
// reference, a positive specimen count, coordinates on the globe, a
// timestamp, and a confidence inside [0,1] when present.
func validateObservation(observation *Observation) error {
	switch {
	case observation == nil:
		return validationError("observation must not be nil", "observation", nil)
	case observation.SpeciesScientificName == "":
		return validationError("species scientific name must not be empty",
			"species_scientific_name", observation.SpeciesScientificName)
	case observation.SpecimenCount <= 0:
		return validationError("specimen count must be positive",
			"count", observation.SpecimenCount)
	case observation.Latitude < -90 || observation.Latitude > 90:
		return validationError("latitude must be within [-90, 90]",
			"latitude", observation.Latitude)
	case observation.Longitude < -180 || observation.Longitude > 180:
		return validationError("longitude must be within [-180, 180]",
			"longitude", observation.Longitude)
	case observation.ObservedAt.IsZero():
		return validationError("observed_at must be set",
			"observed_at", observation.ObservedAt)
	}
	if observation.Confidence != nil {
		if c := *observation.Confidence; c < 0 || c > 1 {
			return validationError("confidence must be within [0, 1]",
				"confidence", c)
		}
	}
	return nil
}

// SaveObservation inserts a new observation row. A missing identifier is
// generated; an existing one is kept so detached pipeline writes stay
// idempotent against their own retries. Transient failures are retried
// with bounded backoff before the write is reported failed.
func (ds *DataStore) SaveObservation(ctx context.Context, observation *Observation) error {
	if err := validateObservation(observation); err != nil {
		if ds.metrics != nil {
			ds.metrics.RecordObservationOperation("create", "rejected")
		}
		return err
	}

	if observation.ID == "" {
		observation.ID = uuid.New().String()
	}

	err := ds.withRetry(ctx, "save_observation", func() error {
		return ds.db(ctx).Create(observation).Error
	})
	if err != nil {
		if ds.metrics != nil {
			ds.metrics.RecordObservationOperation("create", "error")
		}
		return dbError(err, "save_observation", errors.PriorityHigh,
			"observation_id", observation.ID,
			"scientific_name", observation.SpeciesScientificName)
	}

	if ds.metrics != nil {
		ds.metrics.RecordObservationOperation("create", "success")
	}
	return nil
}

// GetObservation retrieves an observation by its identifier.
func (ds *DataStore) GetObservation(ctx context.Context, id string) (*Observation, error) {
	if id == "" {
		return nil, validationError("observation ID must not be empty", "id", id)
	}

	var observation Observation
	err := ds.db(ctx).Where("id = ?", id).First(&observation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("observation", id)
	}
	if err != nil {
		return nil, dbError(err, "get_observation", "", "observation_id", id)
	}
	return &observation, nil
}

// AmendObservation updates the notes or metadata of a stored
// observation and returns the refreshed row. Identifier, species
// reference, location and timestamp stay untouched regardless of what
// the caller sends; an amendment with nothing to change is a plain read.
func (ds *DataStore) AmendObservation(ctx context.Context, id string, amendment ObservationAmendment) (*Observation, error) {
	observation, err := ds.GetObservation(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]any, 3)
	if amendment.Notes != nil {
		updates["notes"] = *amendment.Notes
	}
	if amendment.Metadata != nil {
		scratch := Observation{}
		if err := scratch.SetMetadata(amendment.Metadata); err != nil {
			return nil, err
		}
		updates["metadata"] = scratch.Metadata
	}
	if len(updates) == 0 {
		return observation, nil
	}
	updates["updated_at"] = time.Now()

	err = ds.withRetry(ctx, "amend_observation", func() error {
		return ds.db(ctx).Model(&Observation{}).
			Where("id = ?", id).
			Updates(updates).Error
	})
	if err != nil {
		if ds.metrics != nil {
			ds.metrics.RecordObservationOperation("amend", "error")
		}
		return nil, dbError(err, "amend_observation", errors.PriorityHigh,
			"observation_id", id)
	}

	if ds.metrics != nil {
		ds.metrics.RecordObservationOperation("amend", "success")
	}
	return ds.GetObservation(ctx, id)
}
