/**
 * Tesseract OCR engine
 *
 * Offline OCR through gosseract. One client per call; the binarized frame is
 * handed over as PNG bytes. Only the default language model is used.
 */

package recognizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine handles OCR using Tesseract
type TesseractEngine struct {
	clientFactory           func() *gosseract.Client
	preserveInterwordSpaces bool
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	// PreserveInterwordSpaces keeps runs of spaces between words instead of
	// collapsing them, which is what keeps two-column gaps visible.
	PreserveInterwordSpaces bool
}

// NewTesseractEngine creates a new Tesseract OCR engine
func NewTesseractEngine(cfg *TesseractConfig) *TesseractEngine {
	if cfg == nil {
		cfg = &TesseractConfig{PreserveInterwordSpaces: true}
	}
	return &TesseractEngine{
		clientFactory:           gosseract.NewClient,
		preserveInterwordSpaces: cfg.PreserveInterwordSpaces,
	}
}

// Name identifies the engine in logs and job metadata
func (t *TesseractEngine) Name() string { return "tesseract" }

// Version reports the linked Tesseract library version
func (t *TesseractEngine) Version() string { return gosseract.Version() }

// Recognize performs OCR on one image
func (t *TesseractEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	client := t.clientFactory()
	defer client.Close()

	if t.preserveInterwordSpaces {
		if err := client.SetVariable("preserve_interword_spaces", "1"); err != nil {
			return "", fmt.Errorf("failed to set preserve_interword_spaces: %w", err)
		}
	}

	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}

	return text, nil
}
