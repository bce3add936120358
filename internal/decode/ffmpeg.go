package decode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/prehensile/vidille/internal/domain"
)

// FFmpeg decodes any container ffmpeg understands by running it as a subprocess that
// writes raw 8-bit gray frames of a fixed size to stdout. Rewinding restarts the process.
type FFmpeg struct {
	bin    string
	input  string
	width  int
	height int

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	ctx     context.Context
	cancel  context.CancelFunc

	cmd    *exec.Cmd
	reader *bufio.Reader
	stderr bytes.Buffer
}

func openFFmpeg(opts Options) (domain.Decoder, error) {
	if _, err := os.Stat(opts.Path); err != nil {
		return nil, err
	}
	bin, err := exec.LookPath(opts.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("find ffmpeg: %w", err)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid decode size %dx%d", opts.Width, opts.Height)
	}
	return NewFFmpeg(bin, opts.Path, opts.Width, opts.Height), nil
}

func NewFFmpeg(bin, input string, width, height int) *FFmpeg {
	ctx, cancel := context.WithCancel(context.Background())
	return &FFmpeg{
		bin:     bin,
		input:   input,
		width:   width,
		height:  height,
		command: exec.CommandContext,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (d *FFmpeg) args() []string {
	return []string{
		"-nostdin",
		"-loglevel", "error",
		"-i", d.input,
		"-vf", fmt.Sprintf("scale=%d:%d", d.width, d.height),
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"-",
	}
}

func (d *FFmpeg) start() error {
	cmd := d.command(d.ctx, d.bin, d.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	d.stderr.Reset()
	cmd.Stderr = &d.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	d.cmd = cmd
	d.reader = bufio.NewReaderSize(stdout, d.width*d.height)
	return nil
}

func (d *FFmpeg) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.ctx.Err() != nil {
		return nil, os.ErrClosed
	}
	if d.cmd == nil {
		if err := d.start(); err != nil {
			return nil, err
		}
	}

	img := image.NewGray(image.Rect(0, 0, d.width, d.height))
	if _, err := io.ReadFull(d.reader, img.Pix); err != nil {
		waitErr := d.wait()
		if waitErr != nil {
			return nil, fmt.Errorf("ffmpeg exited: %w: %s", waitErr, strings.TrimSpace(d.stderr.String()))
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return img, nil
}

// wait reaps a process whose output has ended.
func (d *FFmpeg) wait() error {
	cmd := d.cmd
	d.cmd, d.reader = nil, nil
	if cmd == nil {
		return nil
	}
	return cmd.Wait()
}

// halt kills a running process and reaps it.
func (d *FFmpeg) halt() {
	cmd := d.cmd
	d.cmd, d.reader = nil, nil
	if cmd == nil {
		return
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
}

func (d *FFmpeg) Rewind() error {
	d.halt()
	return nil
}

func (d *FFmpeg) Close() error {
	d.cancel()
	d.halt()
	return nil
}
