package domain

import (
	"context"
	"image"
	"time"
)

// Frame is one decoded picture. It is never modified after it has been published, so a
// pointer to it can be shared by every session that snapshots it.
type Frame struct {
	Image     image.Image
	Seq       uint64
	DecodedAt time.Time
}

// Decoder turns a media container into a sequence of images.
//
// Next returns io.EOF at the end of the stream. Rewind repositions at the first frame.
// A decoder is owned by a single goroutine and is not safe for concurrent use.
type Decoder interface {
	Next(ctx context.Context) (image.Image, error)
	Rewind() error
	Close() error
}

// Renderer converts a frame into terminal text sized to width columns by height rows.
// A nil frame renders as the empty string.
type Renderer interface {
	Render(frame *Frame, width, height int) string
}
