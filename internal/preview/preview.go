// Package preview renders PDF pages to JPEG with MuPDF (go-fitz).
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// ContentType of rendered previews.
const ContentType = "image/jpeg"

var ErrPageRange = errors.New("preview page out of range")

// Options controls rendering. Zero values fall back to 72 DPI, quality 80.
type Options struct {
	DPI     int
	Quality int
	Gray    bool
}

func (o Options) withDefaults() Options {
	if o.DPI <= 0 {
		o.DPI = 72
	}
	if o.DPI > 300 {
		o.DPI = 300
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 80
	}
	return o
}

// Render renders 1-based page of the PDF in data as JPEG.
// Returns JPEG bytes, width, height.
func Render(data []byte, page int, opts Options) ([]byte, int, int, error) {
	opts = opts.withDefaults()
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if page < 1 || page > doc.NumPage() {
		return nil, 0, 0, fmt.Errorf("%w: %d of %d", ErrPageRange, page, doc.NumPage())
	}

	// go-fitz uses 0-based indexing
	img, err := doc.ImageDPI(page-1, float64(opts.DPI))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to render page %d: %w", page, err)
	}

	bounds := img.Bounds()
	var final image.Image = img
	if opts.Gray {
		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, img, image.Point{}, draw.Src)
		final = gray
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, final, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Int("page", page).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Int("dpi", opts.DPI).
		Int("jpeg_size", buf.Len()).
		Msg("rendered preview")

	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// Available reports whether MuPDF can open a document at all.
func Available(sample []byte) error {
	doc, err := fitz.NewFromMemory(sample)
	if err != nil {
		return err
	}
	return doc.Close()
}
