package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
)

// PageSize is a portrait page in millimetres.
type PageSize struct {
	Name     string
	WidthMM  float64
	HeightMM float64
}

// A4 is the output page of document captures.
var A4 = PageSize{Name: "A4", WidthMM: 210, HeightMM: 297}

// PageHeightPx is the page height in bitmap pixels for a bitmap of the
// given width laid across the full page width.
func (p PageSize) PageHeightPx(bitmapWidth int) int {
	return int(math.Round(float64(bitmapWidth) * p.HeightMM / p.WidthMM))
}

// Band is a horizontal slice [Top, Bottom) of the bitmap.
type Band struct {
	Top    int
	Bottom int
}

// Height of the band in pixels.
func (b Band) Height() int { return b.Bottom - b.Top }

// Paginate splits a bitmap of the given height into ceil(height/pageHeight)
// contiguous, non-overlapping bands. Only the last band may be shorter
// than pageHeight.
func Paginate(bitmapHeight, pageHeight int) []Band {
	if bitmapHeight <= 0 || pageHeight <= 0 {
		return nil
	}
	n := (bitmapHeight + pageHeight - 1) / pageHeight
	bands := make([]Band, n)
	for i := range bands {
		top := i * pageHeight
		bands[i] = Band{Top: top, Bottom: min(top+pageHeight, bitmapHeight)}
	}
	return bands
}

// composePages renders each band onto a white page-aspect canvas and
// encodes it as PNG.
func composePages(bitmap image.Image, bands []Band, pageHeight int) ([]io.Reader, error) {
	b := bitmap.Bounds()
	pages := make([]io.Reader, 0, len(bands))
	for i, band := range bands {
		canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), pageHeight))
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		src := image.Pt(b.Min.X, b.Min.Y+band.Top)
		draw.Draw(canvas, image.Rect(0, 0, b.Dx(), band.Height()), bitmap, src, draw.Over)

		var buf bytes.Buffer
		if err := png.Encode(&buf, canvas); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		pages = append(pages, &buf)
	}
	return pages, nil
}
