package recognizer

import (
	"fmt"
	"image"
	_ "image/gif"  // GIF uploads
	_ "image/jpeg" // JPEG uploads
	_ "image/png"  // PNG uploads
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // BMP uploads
	_ "golang.org/x/image/tiff" // TIFF uploads
	_ "golang.org/x/image/webp" // WebP uploads
)

// Decode reads one uploaded image, applies its EXIF orientation and returns
// it as an RGB raster with alpha discarded.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return flatten(img), nil
}

// flatten drops the alpha channel the way an RGB conversion does: colour
// channels are kept as stored, transparency is ignored.
func flatten(img image.Image) *image.NRGBA {
	n := imaging.Clone(img)
	for i := 3; i < len(n.Pix); i += 4 {
		n.Pix[i] = 0xff
	}
	return n
}
