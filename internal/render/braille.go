// Package render turns frames into Unicode braille text.
//
// Each character cell covers a 2x4 block of dots, so a terminal of w columns by h rows
// shows the frame at w*2 by h*4 dots.
package render

import (
	"image"
	"image/color"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/prehensile/vidille/internal/domain"
	"github.com/prehensile/vidille/internal/metrics"
)

const (
	DotsPerCellX = 2
	DotsPerCellY = 4

	brailleBase = 0x2800
)

// dotBits[y][x] is the braille bit for the dot at column x, row y of a cell.
var dotBits = [DotsPerCellY][DotsPerCellX]rune{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

var bilevel = color.Palette{color.Black, color.White}

type Options struct {
	// Threshold is the luminance below which a dot is set. Ignored when dithering.
	Threshold uint8
	Invert    bool
	Dither    bool
}

// Braille is a stateless renderer safe for concurrent use.
type Braille struct {
	opts   Options
	scaler draw.Scaler
}

func NewBraille(opts Options) *Braille {
	return &Braille{opts: opts, scaler: draw.ApproxBiLinear}
}

// Render draws frame into width x height cells, rows separated by "\n".
func (b *Braille) Render(frame *domain.Frame, width, height int) string {
	if frame == nil || frame.Image == nil || width <= 0 || height <= 0 {
		return ""
	}
	start := time.Now()
	defer func() { metrics.RenderDuration.Observe(time.Since(start).Seconds()) }()

	dot := b.dots(frame.Image, width*DotsPerCellX, height*DotsPerCellY)

	var sb strings.Builder
	sb.Grow(height * (width*3 + 1))
	for row := 0; row < height; row++ {
		if row > 0 {
			sb.WriteByte('\n')
		}
		for col := 0; col < width; col++ {
			r := rune(brailleBase)
			for dy := 0; dy < DotsPerCellY; dy++ {
				for dx := 0; dx < DotsPerCellX; dx++ {
					if dot(col*DotsPerCellX+dx, row*DotsPerCellY+dy) {
						r |= dotBits[dy][dx]
					}
				}
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// dots fits src to a w x h canvas and returns a predicate telling whether the dot at
// (x, y) is set.
func (b *Braille) dots(src image.Image, w, h int) func(x, y int) bool {
	rect := image.Rect(0, 0, w, h)
	gray := image.NewGray(rect)
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		draw.Draw(gray, rect, src, src.Bounds().Min, draw.Src)
	} else {
		b.scaler.Scale(gray, rect, src, src.Bounds(), draw.Src, nil)
	}

	invert := b.opts.Invert
	if b.opts.Dither {
		pal := image.NewPaletted(rect, bilevel)
		draw.FloydSteinberg.Draw(pal, rect, gray, image.Point{})
		return func(x, y int) bool {
			return (pal.ColorIndexAt(x, y) == 0) != invert
		}
	}

	threshold := b.opts.Threshold
	return func(x, y int) bool {
		return (gray.GrayAt(x, y).Y < threshold) != invert
	}
}
