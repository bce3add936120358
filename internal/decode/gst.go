//go:build gst

package decode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/prehensile/vidille/internal/domain"
)

var gstInit sync.Once

func init() {
	openers["gst"] = openGst
}

// Gst decodes through a GStreamer pipeline ending in an appsink that delivers GRAY8
// frames. Rewinding is a flushing seek to the start.
type Gst struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	width    int
	height   int
}

func openGst(opts Options) (domain.Decoder, error) {
	gstInit.Do(func() { gst.Init(nil) })

	desc := fmt.Sprintf(
		"filesrc location=%q ! decodebin ! videoconvert ! videoscale ! "+
			"video/x-raw,format=GRAY8,width=%d,height=%d,pixel-aspect-ratio=1/1 ! "+
			"appsink name=sink sync=false max-buffers=4 drop=false",
		opts.Path, opts.Width, opts.Height)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("find appsink: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	return &Gst{
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
		width:    opts.Width,
		height:   opts.Height,
	}, nil
}

func (d *Gst) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sample := d.sink.PullSample()
	if sample == nil {
		if d.sink.IsEOS() {
			return nil, io.EOF
		}
		return nil, errors.New("appsink returned no sample")
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, errors.New("sample without buffer")
	}

	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	data := mapInfo.Bytes()

	// GRAY8 rows are padded to a multiple of four bytes
	stride := (d.width + 3) &^ 3
	if len(data) < stride*(d.height-1)+d.width {
		return nil, fmt.Errorf("short frame: %d bytes for %dx%d", len(data), d.width, d.height)
	}
	img := image.NewGray(image.Rect(0, 0, d.width, d.height))
	for y := 0; y < d.height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+d.width], data[y*stride:y*stride+d.width])
	}
	return img, nil
}

func (d *Gst) Rewind() error {
	if !d.pipeline.SeekSimple(0, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit) {
		return errors.New("seek to start failed")
	}
	return nil
}

func (d *Gst) Close() error {
	return d.pipeline.SetState(gst.StateNull)
}
