package identify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/artifactstore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/classifier"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/imagepipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

// fakePredictor returns fixed ranked output without loading a model.
type fakePredictor struct {
	id          string
	predictions []classifier.Prediction
	err         error
}

func (f *fakePredictor) Predict(_ context.Context, _ []float32) ([]classifier.Prediction, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]classifier.Prediction, len(f.predictions))
	copy(out, f.predictions)
	return out, nil
}

func (f *fakePredictor) Identifier() string { return f.id }

// countingStore counts species lookups passing through to the real store.
type countingStore struct {
	datastore.Interface
	lookups atomic.Int64
}

func (c *countingStore) GetSpeciesByScientificName(ctx context.Context, scientificName string) (*datastore.Species, error) {
	c.lookups.Add(1)
	return c.Interface.GetSpeciesByScientificName(ctx, scientificName)
}

// gateStore blocks writes until released so tests control when artifact
// persistence completes.
type gateStore struct {
	artifactstore.Store
	release chan struct{}
}

func (s *gateStore) Put(ctx context.Context, key string, r io.Reader, opts artifactstore.PutOptions) (artifactstore.Info, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return artifactstore.Info{}, ctx.Err()
	}
	return s.Store.Put(ctx, key, r, opts)
}

func testIdentifySettings() *conf.Settings {
	s := &conf.Settings{}
	s.Artifacts.Enabled = true
	s.Artifacts.MaxUploadBytes = 5 << 20
	s.Artifacts.MinDimension = 32
	s.Artifacts.MaxDimension = 4096
	s.Artifacts.PipelineTimeout = 5 * time.Second
	s.Reference.DefaultLocale = conf.DefaultFallbackLocale
	s.Reference.CacheTTL = time.Minute
	return s
}

func createTestStore(t *testing.T, settings *conf.Settings) datastore.Interface {
	t.Helper()
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = t.TempDir() + "/test.db"

	ds := datastore.New(settings)
	require.NoError(t, ds.Open(), "Failed to open database")
	t.Cleanup(func() {
		assert.NoError(t, ds.Close(), "Failed to close datastore")
	})
	return ds
}

func seedAegypti(t *testing.T, ds datastore.Interface) {
	t.Helper()
	require.NoError(t, ds.SaveSpecies(context.Background(), &datastore.Species{
		ID:             "aedes-aegypti",
		ScientificName: "Aedes aegypti",
		VectorStatus:   datastore.VectorStatusHigh,
		Regions:        "south-america,africa,southeast-asia",
		ImageURL:       "https://images.example.org/aedes-aegypti.jpg",
		Locales: []datastore.SpeciesLocale{
			{
				Locale:      "en",
				CommonName:  "Yellow fever mosquito",
				Description: "Small dark mosquito with white lyre-shaped markings.",
				Habitat:     "Urban containers and stagnant water.",
			},
		},
	}))
}

func specimenJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 96, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func aegyptiPredictor() *fakePredictor {
	return &fakePredictor{
		id: "culicidae-classifier-v1",
		predictions: []classifier.Prediction{
			{Label: "Aedes aegypti", Probability: 0.92},
			{Label: "Aedes albopictus", Probability: 0.05},
			{Label: "Culex pipiens", Probability: 0.02},
		},
	}
}

func newTestService(t *testing.T, settings *conf.Settings, predictor Predictor, store artifactstore.Store, ds datastore.Interface) *Service {
	t.Helper()
	pipeline := imagepipeline.New(settings, store, nil)
	return New(settings, predictor, pipeline, ds, nil)
}

func TestIdentify_KnownSpecimenScenario(t *testing.T) {
	settings := testIdentifySettings()
	ds := createTestStore(t, settings)
	seedAegypti(t, ds)

	svc := newTestService(t, settings, aegyptiPredictor(), artifactstore.NewMemoryStore(), ds)

	result, err := svc.Identify(context.Background(), specimenJPEG(t), "en")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.ID())
	assert.Equal(t, "Aedes aegypti", result.ScientificName())
	assert.InDelta(t, 0.92, result.Confidence(), 1e-6)
	assert.Equal(t, "culicidae-classifier-v1", result.ModelID())

	rankings := result.Rankings()
	require.Len(t, rankings, 2)
	assert.Equal(t, "Aedes aegypti", rankings[0].ScientificName)
	assert.Equal(t, "Aedes albopictus", rankings[1].ScientificName)
	assert.Greater(t, rankings[0].Probability, rankings[1].Probability)

	species := result.Species()
	require.NotNil(t, species)
	assert.Equal(t, "Yellow fever mosquito", species.CommonName.Value)
	assert.Equal(t, "https://images.example.org/aedes-aegypti.jpg", result.SpeciesImageURL())

	assert.False(t, result.ArtifactsPending())
	artifacts := result.Artifacts()
	require.Len(t, artifacts, 3)
	assert.Equal(t, artifactstore.VariantOriginal, artifacts[0].Variant)
	assert.Equal(t, artifactstore.VariantModel, artifacts[1].Variant)
	assert.Equal(t, artifactstore.VariantThumbnail, artifacts[2].Variant)

	// An observation created from the result is retrievable with the
	// same species reference.
	confidence := result.Confidence()
	obs := &datastore.Observation{
		SpeciesScientificName: result.ScientificName(),
		SpecimenCount:         1,
		Latitude:              40.4168,
		Longitude:             -3.7038,
		ObservedAt:            time.Now().UTC(),
		ModelID:               result.ModelID(),
		Confidence:            &confidence,
		ImageKey:              artifacts[0].Key,
	}
	require.NoError(t, ds.SaveObservation(context.Background(), obs))

	stored, err := ds.GetObservation(context.Background(), obs.ID)
	require.NoError(t, err)
	assert.Equal(t, "Aedes aegypti", stored.SpeciesScientificName)
	assert.InDelta(t, 40.4168, stored.Latitude, 1e-9)
	assert.InDelta(t, -3.7038, stored.Longitude, 1e-9)
}

func TestIdentify_JSONShape(t *testing.T) {
	settings := testIdentifySettings()
	ds := createTestStore(t, settings)
	seedAegypti(t, ds)

	svc := newTestService(t, settings, aegyptiPredictor(), artifactstore.NewMemoryStore(), ds)

	result, err := svc.Identify(context.Background(), specimenJPEG(t), "en")
	require.NoError(t, err)

	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var payload struct {
		ID              string             `json:"id"`
		ScientificName  string             `json:"scientific_name"`
		Confidence      float64            `json:"confidence"`
		Probabilities   map[string]float64 `json:"probabilities"`
		ModelID         string             `json:"model_id"`
		ImageURLSpecies string             `json:"image_url_species"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))

	assert.Equal(t, result.ID(), payload.ID)
	assert.Equal(t, "Aedes aegypti", payload.ScientificName)
	assert.InDelta(t, 0.92, payload.Confidence, 1e-6)
	assert.Equal(t, "culicidae-classifier-v1", payload.ModelID)
	assert.Equal(t, "https://images.example.org/aedes-aegypti.jpg", payload.ImageURLSpecies)

	// The keyed map appears only at the serialization boundary and
	// carries at most two entries.
	require.Len(t, payload.Probabilities, 2)
	assert.InDelta(t, 0.92, payload.Probabilities["Aedes aegypti"], 1e-6)
	assert.InDelta(t, 0.05, payload.Probabilities["Aedes albopictus"], 1e-6)
}

func TestIdentify_ZeroByteUpload(t *testing.T) {
	settings := testIdentifySettings()
	ds := createTestStore(t, settings)

	svc := newTestService(t, settings, aegyptiPredictor(), artifactstore.NewMemoryStore(), ds)

	result, err := svc.Identify(context.Background(), nil, "en")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "empty")
}

func TestIdentify_ReferenceMetadataMissing(t *testing.T) {
	settings := testIdentifySettings()
	ds := createTestStore(t, settings)
	// Catalog deliberately left empty: model/reference-data skew.

	svc := newTestService(t, settings, aegyptiPredictor(), artifactstore.NewMemoryStore(), ds)

	result, err := svc.Identify(context.Background(), specimenJPEG(t), "en")
	require.NoError(t, err, "missing reference record must never abort the call")
	require.NotNil(t, result)

	assert.Equal(t, "Aedes aegypti", result.ScientificName())
	assert.InDelta(t, 0.92, result.Confidence(), 1e-6)
	assert.Nil(t, result.Species())
	assert.Empty(t, result.SpeciesImageURL())
}

func TestIdentify_ReferenceLookupCached(t *testing.T) {
	settings := testIdentifySettings()
	real := createTestStore(t, settings)
	seedAegypti(t, real)
	counting := &countingStore{Interface: real}

	svc := newTestService(t, settings, aegyptiPredictor(), artifactstore.NewMemoryStore(), counting)

	upload := specimenJPEG(t)
	for i := 0; i < 3; i++ {
		_, err := svc.Identify(context.Background(), upload, "en")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), counting.lookups.Load(), "repeated identifications should hit the reference cache")
}

func TestIdentify_ReferenceMissCached(t *testing.T) {
	settings := testIdentifySettings()
	real := createTestStore(t, settings)
	counting := &countingStore{Interface: real}

	svc := newTestService(t, settings, aegyptiPredictor(), artifactstore.NewMemoryStore(), counting)

	upload := specimenJPEG(t)
	for i := 0; i < 3; i++ {
		result, err := svc.Identify(context.Background(), upload, "en")
		require.NoError(t, err)
		assert.Nil(t, result.Species())
	}
	assert.Equal(t, int64(1), counting.lookups.Load(), "a missing record is cached, not re-queried per request")
}

func TestIdentify_ArtifactsPendingOnWindowMiss(t *testing.T) {
	settings := testIdentifySettings()
	ds := createTestStore(t, settings)
	seedAegypti(t, ds)

	gate := &gateStore{
		Store:   artifactstore.NewMemoryStore(),
		release: make(chan struct{}),
	}
	pipeline := imagepipeline.New(settings, gate, nil)
	svc := New(settings, aegyptiPredictor(), pipeline, ds, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	result, err := svc.Identify(ctx, specimenJPEG(t), "en")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.ArtifactsPending())
	assert.Empty(t, result.Artifacts())
	assert.Equal(t, "Aedes aegypti", result.ScientificName(), "prediction fields are unaffected by pending artifacts")

	// Release the writes and drain the detached run before the test ends.
	close(gate.release)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	require.NoError(t, pipeline.Shutdown(shutdownCtx))
}

func TestIdentify_PersistenceDisabled(t *testing.T) {
	settings := testIdentifySettings()
	settings.Artifacts.Enabled = false
	ds := createTestStore(t, settings)
	seedAegypti(t, ds)

	svc := newTestService(t, settings, aegyptiPredictor(), artifactstore.NewMemoryStore(), ds)

	result, err := svc.Identify(context.Background(), specimenJPEG(t), "en")
	require.NoError(t, err)
	assert.False(t, result.ArtifactsPending())
	assert.Empty(t, result.Artifacts())
	assert.Equal(t, "Aedes aegypti", result.ScientificName())
}

func TestIdentify_ModelErrorSurfaces(t *testing.T) {
	settings := testIdentifySettings()
	ds := createTestStore(t, settings)

	predictor := &fakePredictor{
		id:  "culicidae-classifier-v1",
		err: fmt.Errorf("model unavailable"),
	}
	svc := newTestService(t, settings, predictor, artifactstore.NewMemoryStore(), ds)

	result, err := svc.Identify(context.Background(), specimenJPEG(t), "en")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestIdentify_ResultImmutable(t *testing.T) {
	settings := testIdentifySettings()
	ds := createTestStore(t, settings)
	seedAegypti(t, ds)

	svc := newTestService(t, settings, aegyptiPredictor(), artifactstore.NewMemoryStore(), ds)

	result, err := svc.Identify(context.Background(), specimenJPEG(t), "en")
	require.NoError(t, err)

	rankings := result.Rankings()
	rankings[0].ScientificName = "tampered"
	assert.Equal(t, "Aedes aegypti", result.Rankings()[0].ScientificName)

	artifacts := result.Artifacts()
	require.NotEmpty(t, artifacts)
	artifacts[0].Key = "tampered"
	assert.NotEqual(t, "tampered", result.Artifacts()[0].Key)

	species := result.Species()
	require.NotNil(t, species)
	species.CommonName.Value = "tampered"
	assert.Equal(t, "Yellow fever mosquito", result.Species().CommonName.Value)
}

func TestIdentify_LocaleFallbackInMetadata(t *testing.T) {
	settings := testIdentifySettings()
	ds := createTestStore(t, settings)
	seedAegypti(t, ds)

	svc := newTestService(t, settings, aegyptiPredictor(), artifactstore.NewMemoryStore(), ds)

	// Russian is not seeded; metadata falls back to English text.
	result, err := svc.Identify(context.Background(), specimenJPEG(t), "ru")
	require.NoError(t, err)
	species := result.Species()
	require.NotNil(t, species)
	assert.Equal(t, "Yellow fever mosquito", species.CommonName.Value)
	assert.Equal(t, "en", species.CommonName.Locale)
}
