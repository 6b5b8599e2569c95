package recognizer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestBinarizeThresholdBoundary(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 1))
	img.Set(0, 0, color.RGBA{179, 179, 179, 255})
	img.Set(1, 0, color.RGBA{180, 180, 180, 255})
	img.Set(2, 0, color.RGBA{10, 20, 30, 255})

	out := Binarize(img, 0)

	assert.Equal(t, uint8(0), out.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), out.GrayAt(1, 0).Y)
	assert.Equal(t, uint8(0), out.GrayAt(2, 0).Y)
}

func TestBinarizeIsTwoTone(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 8))
	for x := 0; x < 64; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 30), 128, 255})
		}
	}

	out := Binarize(img, 120)
	for _, p := range out.Pix {
		assert.True(t, p == 0 || p == 255, "pixel %d is not two-tone", p)
	}
}

func TestBinarizeCustomThreshold(t *testing.T) {
	img := uniform(2, 2, color.Gray{Y: 100})
	assert.Equal(t, uint8(0), Binarize(img, 180).GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), Binarize(img, 90).GrayAt(0, 0).Y)
}

func TestBinarizeOffsetBounds(t *testing.T) {
	base := uniform(10, 10, color.White)
	sub := base.SubImage(image.Rect(4, 4, 8, 6))

	out := Binarize(sub, 0)
	assert.Equal(t, image.Rect(0, 0, 4, 2), out.Bounds())
	assert.Equal(t, uint8(255), out.GrayAt(3, 1).Y)
}

func TestRecognizeImagePassesBinaryImage(t *testing.T) {
	var seen image.Image
	engine := EngineFunc(func(ctx context.Context, img image.Image) (string, error) {
		seen = img
		return "Hostname    router1\n", nil
	})

	r := New(engine, Options{})
	text := r.RecognizeImage(context.Background(), uniform(4, 4, color.RGBA{200, 200, 200, 255}))

	assert.Equal(t, "Hostname    router1\n", text)
	gray, ok := seen.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, uint8(255), gray.GrayAt(0, 0).Y)
	assert.Equal(t, DefaultThreshold, r.Threshold())
}

func TestRecognizeImageSwallowsEngineErrors(t *testing.T) {
	engine := EngineFunc(func(ctx context.Context, img image.Image) (string, error) {
		return "partial", errors.New("leptonica: unreadable image")
	})

	r := New(engine, Options{Threshold: 150})
	assert.Equal(t, "", r.RecognizeImage(context.Background(), uniform(2, 2, color.Black)))
	assert.Equal(t, "", r.RecognizeImage(context.Background(), nil))

	assert.Error(t, r.Check(context.Background()))
}

func TestCheckPassesBlankPage(t *testing.T) {
	var seen image.Image
	engine := EngineFunc(func(ctx context.Context, img image.Image) (string, error) {
		seen = img
		return "", nil
	})

	r := New(engine, Options{})
	require.NoError(t, r.Check(context.Background()))
	require.NotNil(t, seen)
	assert.Equal(t, color.Gray{Y: 0xff}, seen.At(0, 0))
	assert.Equal(t, "func", r.Engine().Name())
}

func TestDecodeFlattensAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{10, 20, 30, 0})
	src.SetNRGBA(1, 0, color.NRGBA{200, 210, 220, 128})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := Decode(&buf)
	require.NoError(t, err)

	n, ok := img.(interface{ NRGBAAt(x, y int) color.NRGBA })
	require.True(t, ok)
	assert.Equal(t, color.NRGBA{10, 20, 30, 255}, n.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{200, 210, 220, 255}, n.NRGBAAt(1, 0))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(strings.NewReader("definitely not an image"))
	assert.Error(t, err)
}

func TestTesseractEngineRecognize(t *testing.T) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}

	img := uniform(320, 60, color.White)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 35),
	}
	d.DrawString("Hostname        router1")

	r := New(NewTesseractEngine(nil), Options{})
	text := strings.ToLower(r.RecognizeImage(context.Background(), img))
	assert.Contains(t, text, "router")
}
