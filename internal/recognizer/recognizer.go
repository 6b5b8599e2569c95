// Package recognizer turns a single raster image into raw OCR text.
package recognizer

import (
	"context"
	"image"
	"time"

	"github.com/adverant/nexus/configextract-worker/internal/logging"
)

// Engine is an OCR capability: one binary image in, raw text out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, img image.Image) (string, error)

func (f EngineFunc) Name() string { return "func" }

func (f EngineFunc) Recognize(ctx context.Context, img image.Image) (string, error) {
	return f(ctx, img)
}

// Options configures a Recognizer.
type Options struct {
	Threshold uint8 // 0 selects DefaultThreshold
	Logger    *logging.Logger
}

// Recognizer binarizes images and feeds them to an OCR engine.
type Recognizer struct {
	engine    Engine
	threshold uint8
	logger    *logging.Logger
}

// New creates a Recognizer around engine.
func New(engine Engine, opts Options) *Recognizer {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Recognizer{
		engine:    engine,
		threshold: opts.Threshold,
		logger:    opts.Logger,
	}
}

// Threshold returns the binarization cut in use.
func (r *Recognizer) Threshold() uint8 { return r.threshold }

// RecognizeImage returns the raw text found in img. It never fails: an engine
// error is logged and reported as empty text.
func (r *Recognizer) RecognizeImage(ctx context.Context, img image.Image) string {
	if img == nil {
		return ""
	}

	start := time.Now()
	binary := Binarize(img, r.threshold)

	text, err := r.engine.Recognize(ctx, binary)
	if err != nil {
		r.logger.Warn("OCR returned no text",
			"engine", r.engine.Name(),
			"width", binary.Bounds().Dx(),
			"height", binary.Bounds().Dy(),
			"error", err)
		return ""
	}

	r.logger.Debug("OCR complete",
		"engine", r.engine.Name(),
		"chars", len(text),
		"duration", time.Since(start))
	return text
}

// Engine returns the underlying OCR engine.
func (r *Recognizer) Engine() Engine { return r.engine }

// Check runs the engine once on a small blank page and returns its error.
// Unlike RecognizeImage it does not hide failures; workers call it at startup.
func (r *Recognizer) Check(ctx context.Context) error {
	page := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range page.Pix {
		page.Pix[i] = 0xff
	}
	_, err := r.engine.Recognize(ctx, page)
	return err
}
