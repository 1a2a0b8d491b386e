// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"context"

	"gorm.io/gorm"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability/metrics"
)

// Interface abstracts the underlying database implementation and defines
// the operations the reference and observation repositories support.
type Interface interface {
	Open() error
	Close() error
	Ping(ctx context.Context) error

	// Reference repository: species
	SaveSpecies(ctx context.Context, species *Species) error
	GetSpecies(ctx context.Context, id string) (*Species, error)
	GetSpeciesByScientificName(ctx context.Context, scientificName string) (*Species, error)
	SearchSpecies(ctx context.Context, filter SpeciesFilter) ([]Species, error)
	SimilarSpecies(ctx context.Context, embedding []float32, k int) ([]SpeciesMatch, error)

	// Reference repository: diseases
	SaveDisease(ctx context.Context, disease *Disease) error
	GetDisease(ctx context.Context, id string) (*Disease, error)
	SearchDiseases(ctx context.Context, filter DiseaseFilter) ([]Disease, error)
	VectorsOf(ctx context.Context, diseaseID string) ([]Species, error)
	DiseasesOf(ctx context.Context, speciesID string) ([]Disease, error)

	// Observation repository
	SaveObservation(ctx context.Context, observation *Observation) error
	GetObservation(ctx context.Context, id string) (*Observation, error)
	AmendObservation(ctx context.Context, id string, amendment ObservationAmendment) (*Observation, error)
	SearchObservations(ctx context.Context, filter ObservationFilter) ([]Observation, int64, error)

	// Species image provider persistence
	GetSpeciesImageCache(ctx context.Context, providerName, scientificName string) (*SpeciesImageCache, error)
	SaveSpeciesImageCache(ctx context.Context, cache *SpeciesImageCache) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB      *gorm.DB // GORM database instance
	metrics *metrics.DatastoreMetrics
	retry   RetryConfig
}

// New creates a new datastore instance based on the provided configuration.
// SQLite takes precedence when both outputs are enabled.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// SetMetrics attaches datastore metrics. Safe to call before Open.
func (ds *DataStore) SetMetrics(m *metrics.DatastoreMetrics) {
	ds.metrics = m
}

// SetRetryConfig overrides the write retry policy, mainly for tests.
func (ds *DataStore) SetRetryConfig(cfg RetryConfig) {
	ds.retry = cfg
}

// Ping verifies the underlying connection is alive.
func (ds *DataStore) Ping(ctx context.Context) error {
	if ds.DB == nil {
		return dbError(errNotOpened, "ping", "")
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "ping", "")
	}
	return sqlDB.PingContext(ctx)
}

// db returns a context-bound handle for query execution.
func (ds *DataStore) db(ctx context.Context) *gorm.DB {
	return ds.DB.WithContext(ctx)
}
