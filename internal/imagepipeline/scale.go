package imagepipeline

import (
	"bytes"
	"image"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// ScaleSquare resamples src to a size x size square with Catmull-Rom
// interpolation. Aspect ratio is not preserved; the classifier was
// trained on stretched square inputs and the thumbnail follows the same
// geometry so both variants show the full frame.
func ScaleSquare(src image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// encodePNG renders img into the bytes stored for a derived variant.
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.New(err).
			Component("imagepipeline").
			Category(errors.CategoryImageProcessing).
			Context("operation", "encode_variant").
			Build()
	}
	return buf.Bytes(), nil
}
