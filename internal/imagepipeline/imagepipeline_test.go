package imagepipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/artifactstore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testPipelineSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Artifacts.Enabled = true
	s.Artifacts.MaxUploadBytes = 5 << 20
	s.Artifacts.MinDimension = 32
	s.Artifacts.MaxDimension = 4096
	s.Artifacts.PipelineTimeout = 5 * time.Second
	return s
}

func newTestPipeline(t *testing.T, store artifactstore.Store) *Pipeline {
	t.Helper()
	return New(testPipelineSettings(), store, nil)
}

// testJPEG renders a gradient and encodes it so decode paths see a real
// compressed payload rather than synthetic bytes.
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: 128,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func decodeUpload(t *testing.T, p *Pipeline, raw []byte) *Decoded {
	t.Helper()
	dec, err := p.ValidateAndDecode(raw)
	require.NoError(t, err)
	return dec
}

// failingStore simulates a backend that rejects writes for one variant.
type failingStore struct {
	artifactstore.Store
	failVariant artifactstore.Variant
}

func (s *failingStore) Put(ctx context.Context, key string, r io.Reader, opts artifactstore.PutOptions) (artifactstore.Info, error) {
	if _, _, variant, _, err := artifactstore.ParseKey(key); err == nil && variant == s.failVariant {
		return artifactstore.Info{}, fmt.Errorf("simulated %s write failure", variant)
	}
	return s.Store.Put(ctx, key, r, opts)
}

func TestValidateAndDecode(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, artifactstore.NewMemoryStore())
	raw := testJPEG(t, 300, 200)

	dec, err := p.ValidateAndDecode(raw)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", dec.Format)
	assert.Equal(t, 300, dec.Width)
	assert.Equal(t, 200, dec.Height)
	assert.Len(t, dec.Digest, 32)
	assert.Equal(t, "image/jpeg", dec.ContentType())
	assert.Equal(t, "jpg", dec.Ext())
	assert.Equal(t, raw, dec.Raw)
}

func TestValidateAndDecode_Rejects(t *testing.T) {
	t.Parallel()

	valid := testJPEG(t, 300, 200)

	tests := []struct {
		name    string
		adjust  func(s *conf.Settings)
		raw     []byte
		wantMsg string
	}{
		{
			name:    "empty payload",
			raw:     nil,
			wantMsg: "empty",
		},
		{
			name:    "oversize payload",
			adjust:  func(s *conf.Settings) { s.Artifacts.MaxUploadBytes = 10 },
			raw:     valid,
			wantMsg: "exceeds",
		},
		{
			name:    "undecodable bytes",
			raw:     []byte("definitely not an image payload"),
			wantMsg: "image",
		},
		{
			name:    "below minimum dimension",
			adjust:  func(s *conf.Settings) { s.Artifacts.MinDimension = 400 },
			raw:     valid,
			wantMsg: "below the minimum",
		},
		{
			name:    "above maximum dimension",
			adjust:  func(s *conf.Settings) { s.Artifacts.MaxDimension = 100 },
			raw:     valid,
			wantMsg: "exceeds the maximum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			settings := testPipelineSettings()
			if tt.adjust != nil {
				tt.adjust(settings)
			}
			p := New(settings, artifactstore.NewMemoryStore(), nil)

			_, err := p.ValidateAndDecode(tt.raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestScaleSquare(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, artifactstore.NewMemoryStore())
	dec := decodeUpload(t, p, testJPEG(t, 300, 200))

	scaled := ScaleSquare(dec.Image, conf.ModelInputSize)
	assert.Equal(t, conf.ModelInputSize, scaled.Bounds().Dx())
	assert.Equal(t, conf.ModelInputSize, scaled.Bounds().Dy())
}

func TestPersist_StoresAllVariants(t *testing.T) {
	t.Parallel()

	store := artifactstore.NewMemoryStore()
	p := newTestPipeline(t, store)
	dec := decodeUpload(t, p, testJPEG(t, 300, 200))

	result := p.Persist(context.Background(), dec)
	require.NotNil(t, result)
	assert.False(t, result.Skipped)
	assert.False(t, result.Partial)
	require.Len(t, result.Refs, 3)

	assert.Equal(t, artifactstore.VariantOriginal, result.Refs[0].Variant)
	assert.Equal(t, artifactstore.VariantModel, result.Refs[1].Variant)
	assert.Equal(t, artifactstore.VariantThumbnail, result.Refs[2].Variant)

	// Shared digest and timestamp keep the variants of one upload
	// grouped under a common key prefix.
	digest0, at0, _, ext0, err := artifactstore.ParseKey(result.Refs[0].Key)
	require.NoError(t, err)
	assert.Equal(t, "jpg", ext0)
	for _, ref := range result.Refs[1:] {
		digest, at, _, ext, err := artifactstore.ParseKey(ref.Key)
		require.NoError(t, err)
		assert.Equal(t, digest0, digest)
		assert.True(t, at.Equal(at0))
		assert.Equal(t, "png", ext)
	}

	// The original round-trips byte for byte.
	_, rc, err := store.Get(context.Background(), result.Refs[0].Key)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, dec.Raw, stored)

	// Derived variants decode at their target resolutions.
	wantSizes := map[artifactstore.Variant]int{
		artifactstore.VariantModel:     conf.ModelInputSize,
		artifactstore.VariantThumbnail: conf.ThumbnailSize,
	}
	for _, ref := range result.Refs[1:] {
		_, rc, err := store.Get(context.Background(), ref.Key)
		require.NoError(t, err)
		img, format, err := image.Decode(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "png", format)
		assert.Equal(t, wantSizes[ref.Variant], img.Bounds().Dx())
		assert.Equal(t, wantSizes[ref.Variant], img.Bounds().Dy())
	}
}

func TestPersist_PartialFailureTolerated(t *testing.T) {
	t.Parallel()

	store := &failingStore{
		Store:       artifactstore.NewMemoryStore(),
		failVariant: artifactstore.VariantThumbnail,
	}
	p := newTestPipeline(t, store)
	dec := decodeUpload(t, p, testJPEG(t, 300, 200))

	result := p.Persist(context.Background(), dec)
	require.NotNil(t, result)
	assert.True(t, result.Partial)
	require.Len(t, result.Refs, 2)
	assert.Equal(t, artifactstore.VariantOriginal, result.Refs[0].Variant)
	assert.Equal(t, artifactstore.VariantModel, result.Refs[1].Variant)
}

func TestPersist_DisabledSkips(t *testing.T) {
	t.Parallel()

	store := artifactstore.NewMemoryStore()
	settings := testPipelineSettings()
	settings.Artifacts.Enabled = false
	p := New(settings, store, nil)
	dec := decodeUpload(t, p, testJPEG(t, 300, 200))

	result := p.Persist(context.Background(), dec)
	require.NotNil(t, result)
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipDisabled, result.Reason)
	assert.Empty(t, result.Refs)

	stored, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestPersist_DiskGate(t *testing.T) {
	t.Parallel()

	settings := testPipelineSettings()
	settings.Artifacts.Root = t.TempDir()
	settings.Artifacts.MaxDiskUsage = "90%"
	p := New(settings, artifactstore.NewMemoryStore(), nil)
	dec := decodeUpload(t, p, testJPEG(t, 300, 200))

	p.diskUsage = func(string) (float64, error) { return 95.0, nil }
	result := p.Persist(context.Background(), dec)
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipDiskUsage, result.Reason)

	p.diskUsage = func(string) (float64, error) { return 50.0, nil }
	result = p.Persist(context.Background(), dec)
	assert.False(t, result.Skipped)
	assert.Len(t, result.Refs, 3)
}

func TestPersist_DiskGateFailsOpen(t *testing.T) {
	t.Parallel()

	settings := testPipelineSettings()
	settings.Artifacts.Root = t.TempDir()
	settings.Artifacts.MaxDiskUsage = "90%"
	p := New(settings, artifactstore.NewMemoryStore(), nil)
	dec := decodeUpload(t, p, testJPEG(t, 300, 200))

	p.diskUsage = func(string) (float64, error) { return 0, fmt.Errorf("statfs unavailable") }
	result := p.Persist(context.Background(), dec)
	assert.False(t, result.Skipped)
	assert.Len(t, result.Refs, 3)
}

func TestPersistDetached_OutlivesCaller(t *testing.T) {
	t.Parallel()

	store := artifactstore.NewMemoryStore()
	p := newTestPipeline(t, store)
	dec := decodeUpload(t, p, testJPEG(t, 300, 200))

	job := p.PersistDetached(dec)

	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("detached persistence did not finish")
	}

	result := job.Result()
	require.NotNil(t, result)
	assert.False(t, result.Skipped)
	assert.Len(t, result.Refs, 3)
}

func TestShutdown_WaitsForInflightAndRefusesNewJobs(t *testing.T) {
	t.Parallel()

	store := artifactstore.NewMemoryStore()
	p := newTestPipeline(t, store)
	dec := decodeUpload(t, p, testJPEG(t, 300, 200))

	jobs := make([]*Job, 0, 3)
	for i := 0; i < 3; i++ {
		jobs = append(jobs, p.PersistDetached(dec))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	// In-flight jobs completed before Shutdown returned.
	for _, job := range jobs {
		select {
		case <-job.Done():
		default:
			t.Fatal("shutdown returned with a job still in flight")
		}
	}

	refused := p.PersistDetached(dec)
	result := refused.Result()
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipShutdown, result.Reason)

	// Shutdown is idempotent.
	require.NoError(t, p.Shutdown(context.Background()))
}
