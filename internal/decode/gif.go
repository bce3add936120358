package decode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"io"
	"os"

	"github.com/prehensile/vidille/internal/domain"
)

// GIF decodes an animated GIF up front and replays its composited frames.
type GIF struct {
	frames []*image.Gray
	pos    int
}

func openGIF(opts Options) (domain.Decoder, error) {
	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g, err := NewGIF(f)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// NewGIF reads every frame of an animated GIF from r.
func NewGIF(r io.Reader) (*GIF, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode gif: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, errors.New("gif has no frames")
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)
	frames := make([]*image.Gray, 0, len(g.Image))

	for i, frame := range g.Image {
		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}

		var previous *image.RGBA
		if disposal == gif.DisposalPrevious {
			previous = image.NewRGBA(bounds)
			draw.Draw(previous, bounds, canvas, bounds.Min, draw.Src)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, canvas, bounds.Min, draw.Src)
		frames = append(frames, gray)

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}

	return &GIF{frames: frames}, nil
}

func (g *GIF) Next(context.Context) (image.Image, error) {
	if g.pos >= len(g.frames) {
		return nil, io.EOF
	}
	img := g.frames[g.pos]
	g.pos++
	return img, nil
}

func (g *GIF) Rewind() error {
	g.pos = 0
	return nil
}

func (g *GIF) Close() error {
	g.frames = nil
	return nil
}

// Len returns the number of frames in one pass.
func (g *GIF) Len() int {
	return len(g.frames)
}
