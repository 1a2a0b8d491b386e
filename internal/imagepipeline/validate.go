package imagepipeline

import (
	"bytes"
	"crypto/sha256"
	"image"

	// Register the upload formats image.Decode accepts.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// Decoded is one validated upload: the raw bytes as received plus the
// decoded image and its content digest. All derived variants come from
// this single decode.
type Decoded struct {
	Image  image.Image
	Format string // decoder-reported format name, e.g. "jpeg"
	Raw    []byte
	Digest []byte // sha256 of Raw
	Width  int
	Height int
}

// ContentType maps the decoded format to its MIME type.
func (d *Decoded) ContentType() string {
	switch d.Format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// Ext returns the storage key extension for the original variant.
func (d *Decoded) Ext() string {
	switch d.Format {
	case "jpeg":
		return "jpg"
	default:
		return d.Format
	}
}

// ValidateAndDecode rejects malformed uploads before any expensive work:
// empty or oversize payloads, bytes that do not decode as a supported
// image, and dimensions outside the configured bounds.
func (p *Pipeline) ValidateAndDecode(raw []byte) (*Decoded, error) {
	cfg := &p.settings.Artifacts

	if len(raw) == 0 {
		p.recordDecodeError("empty_payload")
		return nil, errors.Newf("uploaded image is empty").
			Component("imagepipeline").
			Category(errors.CategoryValidation).
			Context("operation", "validate_upload").
			Build()
	}
	if cfg.MaxUploadBytes > 0 && int64(len(raw)) > cfg.MaxUploadBytes {
		p.recordDecodeError("oversize_payload")
		return nil, errors.Newf("uploaded image exceeds %d bytes", cfg.MaxUploadBytes).
			Component("imagepipeline").
			Category(errors.CategoryValidation).
			Context("operation", "validate_upload").
			Context("size_bytes", len(raw)).
			Build()
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		p.recordDecodeError("undecodable")
		return nil, errors.New(err).
			Component("imagepipeline").
			Category(errors.CategoryImageDecode).
			Context("operation", "decode_upload").
			Context("size_bytes", len(raw)).
			Build()
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < cfg.MinDimension || height < cfg.MinDimension {
		p.recordDecodeError("below_min_dimension")
		return nil, errors.Newf("image %dx%d is below the minimum dimension %d", width, height, cfg.MinDimension).
			Component("imagepipeline").
			Category(errors.CategoryValidation).
			Context("operation", "validate_dimensions").
			Build()
	}
	if cfg.MaxDimension > 0 && (width > cfg.MaxDimension || height > cfg.MaxDimension) {
		p.recordDecodeError("above_max_dimension")
		return nil, errors.Newf("image %dx%d exceeds the maximum dimension %d", width, height, cfg.MaxDimension).
			Component("imagepipeline").
			Category(errors.CategoryValidation).
			Context("operation", "validate_dimensions").
			Build()
	}

	digest := sha256.Sum256(raw)

	if p.metrics != nil {
		p.metrics.ObserveUploadSize(float64(len(raw)))
	}

	return &Decoded{
		Image:  img,
		Format: format,
		Raw:    raw,
		Digest: digest[:],
		Width:  width,
		Height: height,
	}, nil
}

func (p *Pipeline) recordDecodeError(reason string) {
	if p.metrics != nil {
		p.metrics.RecordDecodeError(reason)
	}
}
