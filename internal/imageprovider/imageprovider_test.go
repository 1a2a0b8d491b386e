package imageprovider

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

// fakeProvider counts fetches and serves a canned image or error.
type fakeProvider struct {
	fetches atomic.Int64
	image   SpeciesImage
	err     error
}

func (f *fakeProvider) Fetch(_ context.Context, scientificName string) (SpeciesImage, error) {
	f.fetches.Add(1)
	if f.err != nil {
		return SpeciesImage{}, f.err
	}
	img := f.image
	img.ScientificName = scientificName
	return img, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func aegyptiImage() SpeciesImage {
	return SpeciesImage{
		URL:         "https://images.example.org/aedes-aegypti.jpg",
		AuthorName:  "Jane Doe",
		AuthorURL:   "https://example.org/jane",
		LicenseName: "CC BY-SA 4.0",
		LicenseURL:  "https://creativecommons.org/licenses/by-sa/4.0",
	}
}

func createImageTestStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = t.TempDir() + "/test.db"

	ds := datastore.New(settings)
	require.NoError(t, ds.Open(), "Failed to open database")
	t.Cleanup(func() {
		assert.NoError(t, ds.Close(), "Failed to close datastore")
	})
	return ds
}

func TestCache_Get_FetchesOnceThenServesMemory(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{image: aegyptiImage()}
	c := NewCache(provider, nil, nil, time.Minute)

	for i := 0; i < 3; i++ {
		img, err := c.Get(context.Background(), "Aedes aegypti")
		require.NoError(t, err)
		assert.Equal(t, "https://images.example.org/aedes-aegypti.jpg", img.URL)
		assert.Equal(t, "Aedes aegypti", img.ScientificName)
	}
	assert.Equal(t, int64(1), provider.fetches.Load())
}

func TestCache_Get_SetsCachedAt(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{image: aegyptiImage()}
	c := NewCache(provider, nil, nil, time.Minute)

	before := time.Now()
	img, err := c.Get(context.Background(), "Aedes aegypti")
	require.NoError(t, err)
	assert.False(t, img.CachedAt.Before(before))
}

func TestCache_Get_NegativeCaching(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{err: ErrImageNotFound}
	c := NewCache(provider, nil, nil, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), "Anopheles ignotus")
		require.ErrorIs(t, err, ErrImageNotFound)
	}
	assert.Equal(t, int64(1), provider.fetches.Load(),
		"a species without an image should not trigger repeat fetches")
}

func TestCache_Get_ProviderErrorNotCached(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{err: errors.NewStd("provider down")}
	c := NewCache(provider, nil, nil, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), "Aedes aegypti")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrImageNotFound))
	}
	assert.Equal(t, int64(2), provider.fetches.Load(),
		"transient failures must be retried on the next lookup")
}

func TestCache_Get_PersistedLayerSurvivesRestart(t *testing.T) {
	t.Parallel()
	ds := createImageTestStore(t)

	provider := &fakeProvider{image: aegyptiImage()}
	first := NewCache(provider, ds, nil, time.Minute)
	_, err := first.Get(context.Background(), "Aedes aegypti")
	require.NoError(t, err)
	require.Equal(t, int64(1), provider.fetches.Load())

	// A fresh cache instance simulates a restart: the memory layer is
	// empty but the persisted row must satisfy the lookup.
	second := NewCache(provider, ds, nil, time.Minute)
	img, err := second.Get(context.Background(), "Aedes aegypti")
	require.NoError(t, err)
	assert.Equal(t, "https://images.example.org/aedes-aegypti.jpg", img.URL)
	assert.Equal(t, "Jane Doe", img.AuthorName)
	assert.Equal(t, "CC BY-SA 4.0", img.LicenseName)
	assert.Equal(t, int64(1), provider.fetches.Load(),
		"persisted cache should prevent a second provider fetch")
}

func TestCache_Get_PersistFailureTolerated(t *testing.T) {
	t.Parallel()
	ds := createImageTestStore(t)
	require.NoError(t, ds.Close())

	provider := &fakeProvider{image: aegyptiImage()}
	c := NewCache(provider, ds, nil, time.Minute)

	img, err := c.Get(context.Background(), "Aedes aegypti")
	require.NoError(t, err, "a broken persistence layer must not fail the fetch")
	assert.NotEmpty(t, img.URL)
}
