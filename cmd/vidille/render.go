package main

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/spf13/cobra"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/term"

	"github.com/prehensile/vidille/internal/domain"
	"github.com/prehensile/vidille/internal/render"
)

const (
	fallbackCols = 80
	fallbackRows = 25
)

var renderFlags struct {
	cols      int
	rows      int
	threshold int
	invert    bool
	dither    bool
}

var renderCmd = &cobra.Command{
	Use:   "render <image>",
	Short: "Render a single image to stdout",
	Long: `Render decodes a still image (png, jpeg, gif, bmp or webp) and prints it as
braille art. The size defaults to the current terminal, or 80x25 when stdout is
not a terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	f := renderCmd.Flags()
	f.IntVar(&renderFlags.cols, "cols", 0, "output width in columns (default terminal width)")
	f.IntVar(&renderFlags.rows, "rows", 0, "output height in rows (default terminal height)")
	f.IntVar(&renderFlags.threshold, "threshold", 128, "luminance threshold 0-255")
	f.BoolVar(&renderFlags.invert, "invert", false, "light dots on dark background")
	f.BoolVar(&renderFlags.dither, "dither", false, "Floyd-Steinberg dithering")
}

func runRender(cmd *cobra.Command, args []string) error {
	if renderFlags.threshold < 0 || renderFlags.threshold > 255 {
		return fmt.Errorf("threshold must be between 0 and 255, got %d", renderFlags.threshold)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	cols, rows := outputSize(cmd.OutOrStdout(), renderFlags.cols, renderFlags.rows)
	return renderImage(cmd.OutOrStdout(), f, cols, rows, render.Options{
		Threshold: uint8(renderFlags.threshold),
		Invert:    renderFlags.invert,
		Dither:    renderFlags.dither,
	})
}

func renderImage(w io.Writer, r io.Reader, cols, rows int, opts render.Options) error {
	img, format, err := image.Decode(r)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnsupportedMedia, err)
	}

	out := render.NewBraille(opts).Render(&domain.Frame{Image: img, Seq: 1}, cols, rows)
	if _, err := io.WriteString(w, out+"\n"); err != nil {
		return fmt.Errorf("write %s render: %w", format, err)
	}
	return nil
}

// outputSize fills unset dimensions from the terminal behind w, leaving one row for the
// shell prompt.
func outputSize(w io.Writer, cols, rows int) (int, int) {
	if cols > 0 && rows > 0 {
		return cols, rows
	}

	tw, th := fallbackCols, fallbackRows
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, height, err := term.GetSize(int(f.Fd())); err == nil && width > 0 && height > 1 {
			tw, th = width, height-1
		}
	}
	if cols <= 0 {
		cols = tw
	}
	if rows <= 0 {
		rows = th
	}
	return cols, rows
}
