package classifier

import (
	"image"
)

// ImageToTensor converts a decoded image into a float32 slice laid out
// in NHWC order with shape (1, height, width, 3), values in [0,1].
// Rows iterate before columns so the memory layout matches what the
// model input tensor expects.
func ImageToTensor(img image.Image) []float32 {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	out := make([]float32, 1*h*w*3)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r32, g32, b32, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// 16-bit color to 8-bit
			r := float32(r32 >> 8)
			g := float32(g32 >> 8)
			b := float32(b32 >> 8)

			base := ((y * w) + x) * 3
			out[base+0] = r / 255.0
			out[base+1] = g / 255.0
			out[base+2] = b / 255.0
		}
	}

	return out
}
