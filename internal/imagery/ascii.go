package imagery

import (
	"image"
	"math"
	"strings"

	"golang.org/x/image/draw"
)

const (
	// Palette maps luminance buckets to glyphs, darkest (most ink) first.
	Palette = "@%#*+=-:. "

	// Unavailable is what an unrenderable grid prints as.
	Unavailable = "[rendering unavailable]"

	// glyphAspect compensates for monospaced glyphs being taller than wide.
	glyphAspect = 0.55
	bucketWidth = 25
)

// ASCIIGrid is a fixed-width text rendition of an image.
type ASCIIGrid struct {
	Lines     []string
	Width     int
	Available bool

	// Reason says why the grid is unavailable.
	Reason string
}

// String joins the lines, or returns Unavailable.
func (g ASCIIGrid) String() string {
	if !g.Available {
		return Unavailable
	}
	return strings.Join(g.Lines, "\n")
}

// Glyph maps an 8-bit luminance value to its palette glyph. The last bucket
// covers 225-255 inclusive.
func Glyph(lum uint8) byte {
	idx := int(lum) / bucketWidth
	if idx >= len(Palette) {
		idx = len(Palette) - 1
	}
	return Palette[idx]
}

// GridRows returns the row count for a width x height source rendered at
// cols columns. Halves round to even and the result is at least 1.
func GridRows(width, height, cols int) int {
	rows := int(math.RoundToEven(float64(height) / float64(width) * float64(cols) * glyphAspect))
	if rows < 1 {
		rows = 1
	}
	return rows
}

// RenderASCII converts img to a grid of exactly width columns. It never fails;
// problems yield a grid with Available false.
func RenderASCII(img image.Image, width int) ASCIIGrid {
	if img == nil {
		return unavailable("no image")
	}
	if width < 1 {
		return unavailable("width must be at least 1")
	}
	b := img.Bounds()
	if b.Empty() {
		return unavailable("empty image")
	}

	rows := GridRows(b.Dx(), b.Dy(), width)
	gray := toGray(img)
	scaled := image.NewGray(image.Rect(0, 0, width, rows))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	lines := make([]string, rows)
	row := make([]byte, width)
	for y := 0; y < rows; y++ {
		for x := 0; x < width; x++ {
			row[x] = Glyph(scaled.GrayAt(x, y).Y)
		}
		lines[y] = string(row)
	}
	return ASCIIGrid{Lines: lines, Width: width, Available: true}
}

// RenderASCIIBytes decodes raw and renders it; undecodable input yields an
// unavailable grid.
func RenderASCIIBytes(raw []byte, width int) ASCIIGrid {
	img, _, err := Decode(raw)
	if err != nil {
		return unavailable(err.Error())
	}
	return RenderASCII(img, width)
}

func unavailable(reason string) ASCIIGrid {
	return ASCIIGrid{Reason: reason}
}
