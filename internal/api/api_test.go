package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/artifactstore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/classifier"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/identify"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/imagepipeline"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/mqttpub"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/suncalc"
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

// fakeEngine reports a fixed state to the control endpoints.
type fakeEngine struct {
	mu        sync.Mutex
	state     classifier.State
	reloadErr error
	reloads   int
}

func (f *fakeEngine) State() classifier.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	if f.reloadErr != nil {
		f.state = classifier.StateError
		return f.reloadErr
	}
	f.state = classifier.StateReady
	return nil
}

// fakeBrokerPublisher records observations handed to the broker.
type fakeBrokerPublisher struct {
	mu        sync.Mutex
	connected bool
	published []datastore.Observation
}

func (f *fakeBrokerPublisher) Connect(context.Context) error { return nil }

func (f *fakeBrokerPublisher) PublishObservation(_ context.Context, obs *datastore.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, *obs)
	return nil
}

func (f *fakeBrokerPublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBrokerPublisher) Disconnect() {}

func (f *fakeBrokerPublisher) publishedObservations() []datastore.Observation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]datastore.Observation, len(f.published))
	copy(out, f.published)
	return out
}

func testAPISettings() *conf.Settings {
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

// seedCatalog loads three species with embeddings and two linked
// diseases.
func seedCatalog(t *testing.T, ds datastore.Interface) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, ds.SaveSpecies(ctx, &datastore.Species{
		ID:             "aedes-aegypti",
		ScientificName: "Aedes aegypti",
		VectorStatus:   datastore.VectorStatusHigh,
		Regions:        "south-america,africa,southeast-asia",
		Embedding:      datastore.EncodeEmbedding([]float32{1, 0, 0, 0}),
		ImageURL:       "https://images.example.org/aedes-aegypti.jpg",
		Locales: []datastore.SpeciesLocale{
			{Locale: "en", CommonName: "Yellow fever mosquito",
				Description: "Small dark mosquito with white lyre-shaped markings."},
			{Locale: "ru", CommonName: "Желтолихорадочный комар"},
		},
	}))
	require.NoError(t, ds.SaveSpecies(ctx, &datastore.Species{
		ID:             "aedes-albopictus",
		ScientificName: "Aedes albopictus",
		VectorStatus:   datastore.VectorStatusHigh,
		Regions:        "southeast-asia,europe",
		Embedding:      datastore.EncodeEmbedding([]float32{0.9, 0.1, 0, 0}),
		Locales: []datastore.SpeciesLocale{
			{Locale: "en", CommonName: "Asian tiger mosquito"},
		},
	}))
	require.NoError(t, ds.SaveSpecies(ctx, &datastore.Species{
		ID:             "culex-pipiens",
		ScientificName: "Culex pipiens",
		VectorStatus:   datastore.VectorStatusModerate,
		Regions:        "europe,north-america",
		Embedding:      datastore.EncodeEmbedding([]float32{0, 1, 0, 0}),
		Locales: []datastore.SpeciesLocale{
			{Locale: "en", CommonName: "Common house mosquito"},
		},
	}))

	require.NoError(t, ds.SaveDisease(ctx, &datastore.Disease{
		ID:      "dengue",
		Vectors: "aedes-aegypti,aedes-albopictus",
		Locales: []datastore.DiseaseLocale{
			{Locale: "en", Name: "Dengue fever", Symptoms: "High fever, severe headache."},
			{Locale: "ru", Name: "Лихорадка денге"},
		},
	}))
	require.NoError(t, ds.SaveDisease(ctx, &datastore.Disease{
		ID:      "west-nile-fever",
		Vectors: "culex-pipiens",
		Locales: []datastore.DiseaseLocale{
			{Locale: "en", Name: "West Nile fever"},
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

// harness bundles a controller wired with fakes over a real datastore.
type harness struct {
	e         *echo.Echo
	ctrl      *Controller
	ds        datastore.Interface
	settings  *conf.Settings
	engine    *fakeEngine
	store     artifactstore.Store
	predictor *fakePredictor
	publisher *fakeBrokerPublisher
}

type harnessOption func(*harness)

func withPredictor(p *fakePredictor) harnessOption {
	return func(h *harness) { h.predictor = p }
}

func withPublisher(p *fakeBrokerPublisher) harnessOption {
	return func(h *harness) { h.publisher = p }
}

func newTestAPI(t *testing.T, settings *conf.Settings, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		e:        echo.New(),
		settings: settings,
		engine:   &fakeEngine{state: classifier.StateReady},
		store:    artifactstore.NewMemoryStore(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.predictor == nil {
		h.predictor = aegyptiPredictor()
	}

	h.ds = createTestStore(t, settings)
	pipeline := imagepipeline.New(settings, h.store, nil)
	svc := identify.New(settings, h.predictor, pipeline, h.ds, nil)

	// A typed nil in the interface would defeat the Publisher nil check.
	var publisher mqttpub.Publisher
	if h.publisher != nil {
		publisher = h.publisher
	}

	ctrl, err := New(h.e, h.ds, settings, h.engine, svc, h.store,
		suncalc.New(), publisher, nil)
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(ctrl.Shutdown)
	return h
}

func (h *harness) do(method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body == nil {
		reader = &bytes.Buffer{}
	} else {
		reader = body
	}
	req := httptest.NewRequest(method, target, reader)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func (h *harness) doJSON(method, target string, payload any) *httptest.ResponseRecorder {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return h.do(method, target, bytes.NewBuffer(raw), echo.MIMEApplicationJSON)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out),
		"body: %s", rec.Body.String())
	return out
}

func multipartImage(t *testing.T, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "specimen.jpg")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestIdentifyEndpoint_Created(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	seedCatalog(t, h.ds)

	body, contentType := multipartImage(t, specimenJPEG(t))
	rec := h.do(http.MethodPost, "/api/v2/identify?locale=en", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var payload struct {
		ID             string             `json:"id"`
		ScientificName string             `json:"scientific_name"`
		Confidence     float64            `json:"confidence"`
		Probabilities  map[string]float64 `json:"probabilities"`
		ModelID        string             `json:"model_id"`
		Species        *struct {
			CommonName struct {
				Value string `json:"value"`
			} `json:"common_name"`
		} `json:"species"`
		Artifacts        []imagepipeline.VariantRef `json:"artifacts"`
		ArtifactsPending bool                       `json:"artifacts_pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))

	assert.NotEmpty(t, payload.ID)
	assert.Equal(t, "Aedes aegypti", payload.ScientificName)
	assert.InDelta(t, 0.92, payload.Confidence, 1e-6)
	assert.Equal(t, "culicidae-classifier-v1", payload.ModelID)
	assert.Len(t, payload.Probabilities, 2)
	require.NotNil(t, payload.Species)
	assert.Equal(t, "Yellow fever mosquito", payload.Species.CommonName.Value)
	assert.False(t, payload.ArtifactsPending)
	assert.Len(t, payload.Artifacts, 3)
}

func TestIdentifyEndpoint_MissingImagePart(t *testing.T) {
	h := newTestAPI(t, testAPISettings())

	rec := h.doJSON(http.MethodPost, "/api/v2/identify", map[string]string{"image": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Len(t, resp.CorrelationID, 8)
	assert.Contains(t, resp.Message, "image")
}

func TestIdentifyEndpoint_OversizeUpload(t *testing.T) {
	settings := testAPISettings()
	settings.Artifacts.MaxUploadBytes = 1024
	h := newTestAPI(t, settings)

	body, contentType := multipartImage(t, specimenJPEG(t))
	rec := h.do(http.MethodPost, "/api/v2/identify", body, contentType)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestIdentifyEndpoint_ModelUnavailable(t *testing.T) {
	predictor := &fakePredictor{
		id:  "culicidae-classifier-v1",
		err: classifier.ErrModelUnavailable,
	}
	h := newTestAPI(t, testAPISettings(), withPredictor(predictor))

	body, contentType := multipartImage(t, specimenJPEG(t))
	rec := h.do(http.MethodPost, "/api/v2/identify", body, contentType)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, resp.Message, "unavailable")
}

func madridNoonBody() map[string]any {
	return map[string]any{
		"species_scientific_name": "Aedes aegypti",
		"count":                   2,
		"location":                map[string]float64{"lat": 40.4168, "lng": -3.7038},
		"observed_at":             "2024-06-21T12:00:00Z",
		"notes":                   "near the fountain",
		"data_source":             "field-survey",
	}
}

func TestCreateObservation_StoresWithSolarPeriod(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	seedCatalog(t, h.ds)

	rec := h.doJSON(http.MethodPost, "/api/v2/observations", madridNoonBody())
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	resp := decodeBody[observationResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "Aedes aegypti", resp.SpeciesScientificName)
	assert.Equal(t, 2, resp.Count)
	require.NotNil(t, resp.Location.Lat)
	assert.InDelta(t, 40.4168, *resp.Location.Lat, 1e-9)
	assert.Equal(t, "near the fountain", resp.Notes)
	assert.Equal(t, "day", resp.Metadata[suncalc.MetadataKey],
		"midsummer noon in Madrid is daytime")

	stored, err := h.ds.GetObservation(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "field-survey", stored.DataSource)
}

func TestCreateObservation_Validation(t *testing.T) {
	h := newTestAPI(t, testAPISettings())

	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing location", func(b map[string]any) { delete(b, "location") }},
		{"missing observed_at", func(b map[string]any) { delete(b, "observed_at") }},
		{"malformed observed_at", func(b map[string]any) { b["observed_at"] = "yesterday" }},
		{"zero count", func(b map[string]any) { b["count"] = 0 }},
		{"latitude off the globe", func(b map[string]any) {
			b["location"] = map[string]float64{"lat": 91, "lng": 0}
		}},
		{"empty species", func(b map[string]any) { b["species_scientific_name"] = "  " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := madridNoonBody()
			tc.mutate(body)
			rec := h.doJSON(http.MethodPost, "/api/v2/observations", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", rec.Body.String())
		})
	}
}

func TestCreateObservation_PublishesToBroker(t *testing.T) {
	publisher := &fakeBrokerPublisher{connected: true}
	h := newTestAPI(t, testAPISettings(), withPublisher(publisher))
	seedCatalog(t, h.ds)

	rec := h.doJSON(http.MethodPost, "/api/v2/observations", madridNoonBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	// Shutdown waits for the detached publish.
	h.ctrl.Shutdown()

	published := publisher.publishedObservations()
	require.Len(t, published, 1)
	assert.Equal(t, "Aedes aegypti", published[0].SpeciesScientificName)
	assert.NotEmpty(t, published[0].ID)
}

func TestCreateObservation_SkipsPublishWhenDisconnected(t *testing.T) {
	publisher := &fakeBrokerPublisher{connected: false}
	h := newTestAPI(t, testAPISettings(), withPublisher(publisher))

	rec := h.doJSON(http.MethodPost, "/api/v2/observations", madridNoonBody())
	require.Equal(t, http.StatusCreated, rec.Code,
		"a down broker must not fail the insert")

	h.ctrl.Shutdown()
	assert.Empty(t, publisher.publishedObservations())
}

func TestObservationLifecycle(t *testing.T) {
	h := newTestAPI(t, testAPISettings())

	rec := h.doJSON(http.MethodPost, "/api/v2/observations", madridNoonBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[observationResponse](t, rec)

	rec = h.do(http.MethodGet, "/api/v2/observations/"+created.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[observationResponse](t, rec)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "near the fountain", got.Notes)

	rec = h.doJSON(http.MethodPatch, "/api/v2/observations/"+created.ID, map[string]any{
		"notes":    "corrected location",
		"metadata": map[string]any{"weather": "sunny"},
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	amended := decodeBody[observationResponse](t, rec)
	assert.Equal(t, "corrected location", amended.Notes)
	assert.Equal(t, "sunny", amended.Metadata["weather"])
	assert.NotContains(t, amended.Metadata, suncalc.MetadataKey,
		"a metadata amendment replaces the whole bundle")
	assert.Equal(t, created.SpeciesScientificName, amended.SpeciesScientificName)

	rec = h.doJSON(http.MethodPatch, "/api/v2/observations/"+created.ID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code,
		"an amendment with nothing to change is rejected")
}

func TestObservationEndpoints_NotFound(t *testing.T) {
	h := newTestAPI(t, testAPISettings())

	rec := h.do(http.MethodGet, "/api/v2/observations/no-such-id", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.doJSON(http.MethodPatch, "/api/v2/observations/no-such-id",
		map[string]any{"notes": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func seedObservations(t *testing.T, ds datastore.Interface) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	high := 0.95
	low := 0.41

	rows := []datastore.Observation{
		{SpeciesScientificName: "Aedes aegypti", SpecimenCount: 1,
			Latitude: 40.0, Longitude: -3.0, ObservedAt: base, Confidence: &high},
		{SpeciesScientificName: "Aedes aegypti", SpecimenCount: 3,
			Latitude: 41.0, Longitude: -3.5, ObservedAt: base.AddDate(0, 0, 5), Confidence: &low},
		{SpeciesScientificName: "Culex pipiens", SpecimenCount: 2,
			Latitude: 52.0, Longitude: 13.0, ObservedAt: base.AddDate(0, 0, 10)},
	}
	for i := range rows {
		require.NoError(t, ds.SaveObservation(ctx, &rows[i]))
	}
}

func TestListObservations_SpeciesFilterAndPaging(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	seedObservations(t, h.ds)

	q := url.Values{"species": {"Aedes aegypti"}}
	rec := h.do(http.MethodGet, "/api/v2/observations?"+q.Encode(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[observationListResponse](t, rec)
	assert.Equal(t, int64(2), resp.Total)
	assert.Len(t, resp.Observations, 2)
	assert.Equal(t, datastore.DefaultPageLimit, resp.Limit)
	assert.Equal(t, 0, resp.Offset)

	q.Set("limit", "1")
	q.Set("offset", "1")
	rec = h.do(http.MethodGet, "/api/v2/observations?"+q.Encode(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[observationListResponse](t, rec)
	assert.Equal(t, int64(2), resp.Total, "total counts all matches, not the page")
	assert.Len(t, resp.Observations, 1)
	assert.Equal(t, 1, resp.Limit)
	assert.Equal(t, 1, resp.Offset)
}

func TestListObservations_WindowAndConfidence(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	seedObservations(t, h.ds)

	q := url.Values{
		"from":           {"2024-06-03T00:00:00Z"},
		"min_confidence": {"0.4"},
	}
	rec := h.do(http.MethodGet, "/api/v2/observations?"+q.Encode(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[observationListResponse](t, rec)
	require.Equal(t, int64(1), resp.Total,
		"only the later aegypti row has a confidence above the floor")
	assert.Equal(t, 3, resp.Observations[0].Count)
}

func TestListObservations_BBox(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	seedObservations(t, h.ds)

	rec := h.do(http.MethodGet, "/api/v2/observations?bbox=39,-4,42,-2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[observationListResponse](t, rec)
	assert.Equal(t, int64(2), resp.Total, "the Berlin row lies outside the box")
}

func TestListObservations_BadParams(t *testing.T) {
	h := newTestAPI(t, testAPISettings())

	for _, target := range []string{
		"/api/v2/observations?bbox=1,2,3",
		"/api/v2/observations?bbox=42,-2,39,-4",
		"/api/v2/observations?min_confidence=2",
		"/api/v2/observations?from=yesterday",
		"/api/v2/observations?limit=-1",
	} {
		rec := h.do(http.MethodGet, target, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "target %s", target)
	}
}

func TestSpeciesEndpoints(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	seedCatalog(t, h.ds)

	rec := h.do(http.MethodGet, "/api/v2/species", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[speciesListResponse](t, rec)
	assert.Equal(t, 3, list.Count)
	assert.Equal(t, "en", list.Locale)

	rec = h.do(http.MethodGet, "/api/v2/species?region=africa", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = decodeBody[speciesListResponse](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "aedes-aegypti", list.Species[0].ID)

	rec = h.do(http.MethodGet, "/api/v2/species/aedes-aegypti?locale=ru", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[datastore.SpeciesView](t, rec)
	assert.Equal(t, "Желтолихорадочный комар", view.CommonName.Value)
	assert.Equal(t, "ru", view.CommonName.Locale)
	assert.Equal(t, "en", view.Description.Locale,
		"untranslated fields fall back to the default locale")
	require.Len(t, view.RelatedDiseases, 1)
	assert.Equal(t, "dengue", view.RelatedDiseases[0].ID)
	assert.Equal(t, "Лихорадка денге", view.RelatedDiseases[0].Name.Value)

	rec = h.do(http.MethodGet, "/api/v2/species/no-such-species", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSpeciesDiseases(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	seedCatalog(t, h.ds)

	rec := h.do(http.MethodGet, "/api/v2/species/aedes-albopictus/diseases", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[diseaseListResponse](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "dengue", list.Diseases[0].ID)
	assert.Equal(t, "Dengue fever", list.Diseases[0].Name.Value)

	rec = h.do(http.MethodGet, "/api/v2/species/no-such-species/diseases", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimilarSpecies(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	seedCatalog(t, h.ds)

	rec := h.do(http.MethodGet, "/api/v2/species/similar?to=aedes-aegypti&k=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[similarSpeciesResponse](t, rec)
	assert.Equal(t, "aedes-aegypti", resp.SpeciesID)
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "aedes-albopictus", resp.Matches[0].SpeciesID,
		"the near-identical embedding ranks first")
	assert.Equal(t, "culex-pipiens", resp.Matches[1].SpeciesID)
	assert.Greater(t, resp.Matches[0].Score, resp.Matches[1].Score)
	for _, m := range resp.Matches {
		assert.NotEqual(t, "aedes-aegypti", m.SpeciesID,
			"the query species itself is excluded")
	}
}

func TestSimilarSpecies_Errors(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	seedCatalog(t, h.ds)
	require.NoError(t, h.ds.SaveSpecies(context.Background(), &datastore.Species{
		ID:             "anopheles-gambiae",
		ScientificName: "Anopheles gambiae",
		VectorStatus:   datastore.VectorStatusHigh,
	}))

	rec := h.do(http.MethodGet, "/api/v2/species/similar", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "to parameter is required")

	rec = h.do(http.MethodGet, "/api/v2/species/similar?to=aedes-aegypti&k=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/api/v2/species/similar?to=no-such-species", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/api/v2/species/similar?to=anopheles-gambiae", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code,
		"a species without an embedding cannot anchor a similarity search")
}

func TestDiseaseEndpoints(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	seedCatalog(t, h.ds)

	rec := h.do(http.MethodGet, "/api/v2/diseases", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[diseaseListResponse](t, rec)
	assert.Equal(t, 2, list.Count)

	rec = h.do(http.MethodGet, "/api/v2/diseases?q=dengue", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = decodeBody[diseaseListResponse](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "dengue", list.Diseases[0].ID)

	rec = h.do(http.MethodGet, "/api/v2/diseases/dengue?locale=ru", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[datastore.DiseaseView](t, rec)
	assert.Equal(t, "Лихорадка денге", view.Name.Value)
	assert.ElementsMatch(t, []string{"aedes-aegypti", "aedes-albopictus"}, view.Vectors)

	rec = h.do(http.MethodGet, "/api/v2/diseases/dengue/vectors", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	vectors := decodeBody[speciesListResponse](t, rec)
	require.Equal(t, 2, vectors.Count)
	assert.Equal(t, "Aedes aegypti", vectors.Species[0].ScientificName,
		"vectors are ordered by scientific name")

	rec = h.do(http.MethodGet, "/api/v2/diseases/no-such-disease", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(http.MethodGet, "/api/v2/diseases/no-such-disease/vectors", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestAPI(t, testAPISettings())

	rec := h.do(http.MethodGet, "/api/v2/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[healthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ready", resp.EngineState)
	assert.Equal(t, "connected", resp.Database)

	h.engine.mu.Lock()
	h.engine.state = classifier.StateError
	h.engine.mu.Unlock()

	rec = h.do(http.MethodGet, "/api/v2/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, "health stays 200 while degraded")
	resp = decodeBody[healthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "error", resp.EngineState)
}

func TestReloadModel(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	h.engine.mu.Lock()
	h.engine.state = classifier.StateError
	h.engine.mu.Unlock()

	rec := h.do(http.MethodPost, "/api/v2/model/reload", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[reloadResponse](t, rec)
	assert.Equal(t, "reloaded", resp.Status)
	assert.Equal(t, "ready", resp.EngineState)
	assert.Equal(t, 1, h.engine.reloads)
}

func TestReloadModel_Failure(t *testing.T) {
	h := newTestAPI(t, testAPISettings())
	h.engine.reloadErr = errors.New(classifier.ErrModelUnavailable).
		Component("classifier").
		Category(errors.CategoryModelLoad).
		Build()

	rec := h.do(http.MethodPost, "/api/v2/model/reload", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, resp.Message, "reload")
}

func TestServeMedia(t *testing.T) {
	h := newTestAPI(t, testAPISettings())

	const key = "0123456789ab_7_original.jpg"
	payload := []byte("jpeg-bytes")
	info, err := h.store.Put(context.Background(), key,
		bytes.NewReader(payload), artifactstore.PutOptions{ContentType: "image/jpeg"})
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/media/"+key, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Equal(t, "image/jpeg", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")
	require.NotEmpty(t, rec.Header().Get("ETag"))

	req := httptest.NewRequest(http.MethodGet, "/media/"+key, nil)
	req.Header.Set("If-None-Match", `"`+info.ETag+`"`)
	notModified := httptest.NewRecorder()
	h.e.ServeHTTP(notModified, req)
	assert.Equal(t, http.StatusNotModified, notModified.Code)
	assert.Empty(t, notModified.Body.Bytes())

	rec = h.do(http.MethodGet, "/media/../../etc/passwd", nil, "")
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusNotFound}, rec.Code,
		"traversal-shaped keys never reach the store")

	rec = h.do(http.MethodGet, "/media/aaaaaaaaaaaa_1_thumb.png", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSystemResources(t *testing.T) {
	if testing.Short() {
		t.Skip("cpu sampling blocks for one second")
	}
	h := newTestAPI(t, testAPISettings())

	rec := h.do(http.MethodGet, "/api/v2/system/resources", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[systemResourcesResponse](t, rec)
	assert.NotEmpty(t, resp.GoVersion)
	assert.Positive(t, resp.CPU.NumCPU)
	assert.GreaterOrEqual(t, resp.CPU.InferenceThreads, 1)
	require.NotNil(t, resp.Memory)
	assert.Positive(t, resp.Memory.Total)
}

func TestRateLimiter(t *testing.T) {
	settings := testAPISettings()
	settings.WebServer.RateLimit = 1
	h := newTestAPI(t, settings)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := h.do(http.MethodGet, "/api/v2/health", nil, "")
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1], "burst admits a second immediate request")
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestErrorResponseShape(t *testing.T) {
	h := newTestAPI(t, testAPISettings())

	rec := h.do(http.MethodGet, "/api/v2/observations/missing", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, "observation not found", resp.Message)
	assert.Len(t, resp.CorrelationID, 8)
	assert.NotContains(t, strings.ToLower(resp.Error), "sql",
		"driver internals stay out of client-facing errors")
}
