// mysql_integration_test.go: MySQL-backed store tests against a real server
package datastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	mysqltc "github.com/testcontainers/testcontainers-go/modules/mysql"
)

func TestMySQLStore_OpenRequiresConfig(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	settings.Output.MySQL.Enabled = true
	store := New(settings)
	require.NotNil(t, store)

	err := store.Open()
	require.Error(t, err, "Open without host and database should fail validation")
}

// TestMySQLStore_Integration runs the store against a containerized MySQL
// server. The MySQL dialect takes different code paths than SQLite in
// auto-migration and in the set-membership predicate, so these assertions
// cannot be covered by the in-process tests.
func TestMySQLStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MySQL integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	ctr, err := mysqltc.Run(ctx, "mysql:8.0.36",
		mysqltc.WithDatabase("culicidaelab"),
		mysqltc.WithUsername("culicidae"),
		mysqltc.WithPassword("larvae"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "MySQL container should start")

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	settings := createTestSettings(t)
	settings.Output.MySQL.Enabled = true
	settings.Output.MySQL.Username = "culicidae"
	settings.Output.MySQL.Password = "larvae"
	settings.Output.MySQL.Database = "culicidaelab"
	settings.Output.MySQL.Host = host
	settings.Output.MySQL.Port = port.Port()

	ds := New(settings)
	require.NoError(t, ds.Open(), "auto-migration should succeed against MySQL")
	t.Cleanup(func() {
		assert.NoError(t, ds.Close(), "Failed to close datastore")
	})

	require.NoError(t, ds.Ping(ctx))

	// Species round-trip with locale bundles.
	require.NoError(t, ds.SaveSpecies(ctx, aegypti()))
	require.NoError(t, ds.SaveSpecies(ctx, albopictus()))

	loaded, err := ds.GetSpeciesByScientificName(ctx, "Aedes aegypti")
	require.NoError(t, err)
	assert.Equal(t, "aedes_aegypti", loaded.ID)
	assert.Equal(t, VectorStatusHigh, loaded.VectorStatus)
	require.Len(t, loaded.Locales, 2, "both locale bundles should round-trip")

	// Region filter goes through the MySQL branch of setContains.
	matches, err := ds.SearchSpecies(ctx, SpeciesFilter{Region: "europe"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "aedes_albopictus", matches[0].ID)

	// The padded-separator predicate must not match a tag substring.
	matches, err = ds.SearchSpecies(ctx, SpeciesFilter{Region: "asia"})
	require.NoError(t, err)
	assert.Empty(t, matches, "partial region tag should not match")

	// Observation round-trip, including generated identifier and JSON metadata.
	obs := miamiObservation()
	require.NoError(t, obs.SetMetadata(map[string]any{"trap_id": "T-204"}))
	require.NoError(t, ds.SaveObservation(ctx, obs))
	require.NotEmpty(t, obs.ID)

	got, err := ds.GetObservation(ctx, obs.ID)
	require.NoError(t, err)
	assert.Equal(t, obs.SpeciesScientificName, got.SpeciesScientificName)
	assert.True(t, obs.ObservedAt.Equal(got.ObservedAt),
		"ObservedAt mismatch: got %v, want %v", got.ObservedAt, obs.ObservedAt)

	meta, err := got.MetadataMap()
	require.NoError(t, err)
	assert.Equal(t, "T-204", meta["trap_id"])
}
