// Package decode opens media files as sequences of grayscale frames.
package decode

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prehensile/vidille/internal/domain"
)

// Options selects and configures a decoder.
type Options struct {
	// Kind is "auto", "gif", "ffmpeg" or "gst". Auto picks gif for .gif files and ffmpeg
	// otherwise.
	Kind   string
	Path   string
	Width  int
	Height int
	// FFmpegPath is the ffmpeg binary used by the ffmpeg decoder.
	FFmpegPath string
}

type opener func(opts Options) (domain.Decoder, error)

var openers = map[string]opener{
	"gif":    openGIF,
	"ffmpeg": openFFmpeg,
}

// Open returns a decoder positioned at the first frame of opts.Path.
func Open(opts Options) (domain.Decoder, error) {
	kind := opts.Kind
	if kind == "" || kind == "auto" {
		kind = detect(opts.Path)
	}
	open, ok := openers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: decoder %q not available (have %s)", domain.ErrUnsupportedMedia, kind, strings.Join(Kinds(), ", "))
	}
	dec, err := open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s with %s decoder: %w", opts.Path, kind, err)
	}
	return dec, nil
}

// Kinds lists the decoders compiled into this binary.
func Kinds() []string {
	kinds := make([]string, 0, len(openers))
	for k := range openers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func detect(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".gif") {
		return "gif"
	}
	return "ffmpeg"
}
