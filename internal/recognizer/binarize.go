package recognizer

import (
	"image"

	"github.com/disintegration/imaging"
)

// DefaultThreshold is the luminance cut used for rendered UI text: dark glyphs
// on a light background.
const DefaultThreshold uint8 = 180

// Binarize converts img to luma and maps every pixel below threshold to black
// and every other pixel to white. The result only ever holds 0 or 255.
// A zero threshold selects DefaultThreshold.
func Binarize(img image.Image, threshold uint8) *image.Gray {
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	out := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for y := 0; y < bounds.Dy(); y++ {
		src := gray.Pix[y*gray.Stride : y*gray.Stride+bounds.Dx()*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+bounds.Dx()]
		for x := range dst {
			// R, G and B carry the same luma after Grayscale
			if src[x*4] < threshold {
				dst[x] = 0
			} else {
				dst[x] = 255
			}
		}
	}

	return out
}
