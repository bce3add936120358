// Package console shows the broadcast on the local terminal as one more session.
package console

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/prehensile/vidille/internal/metrics"
)

const (
	transportName = "console"
	clearScreen   = "\x1b[2J"
	cursorHome    = "\x1b[H"
)

var ErrNotATerminal = errors.New("stdout is not a terminal")

// Console is the local terminal seen as a domain.Terminal. q, Esc or Ctrl-C ends it.
type Console struct {
	screen tcell.Screen
	style  tcell.Style

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// Open takes over the process terminal.
func Open() (*Console, error) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil, ErrNotATerminal
	}
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("failed to create screen: %w", err)
	}
	return New(screen)
}

// New initialises screen and starts reading its events.
func New(screen tcell.Screen) (*Console, error) {
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("failed to init screen: %w", err)
	}
	screen.HideCursor()
	screen.Clear()

	c := &Console{
		screen: screen,
		style:  tcell.StyleDefault,
		done:   make(chan struct{}),
	}
	go c.pollEvents()
	return c, nil
}

// Write draws one frame. Screen control sequences are dropped and each line is drawn
// from column 0.
func (c *Console) Write(p []byte) (int, error) {
	select {
	case <-c.done:
		return 0, os.ErrClosed
	default:
	}

	text := bytes.ReplaceAll(p, []byte(clearScreen), nil)
	text = bytes.ReplaceAll(text, []byte(cursorHome), nil)

	c.screen.Clear()
	for y, line := range bytes.Split(text, []byte{'\n'}) {
		x := 0
		for _, r := range string(bytes.TrimSuffix(line, []byte{'\r'})) {
			c.screen.SetContent(x, y, r, nil, c.style)
			x += runewidth.RuneWidth(r)
		}
	}
	c.screen.Show()

	metrics.WriteBytesTotal.WithLabelValues(transportName).Add(float64(len(p)))
	return len(p), nil
}

func (c *Console) Size() (int, int) {
	return c.screen.Size()
}

func (c *Console) Done() <-chan struct{} {
	return c.done
}

func (c *Console) RemoteAddr() string {
	return transportName
}

// Close restores the terminal.
func (c *Console) Close() error {
	c.hangup()
	c.closeOnce.Do(c.screen.Fini)
	return nil
}

func (c *Console) hangup() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Console) pollEvents() {
	for {
		ev := c.screen.PollEvent()
		if ev == nil {
			return
		}
		switch ev := ev.(type) {
		case *tcell.EventKey:
			if quitKey(ev) {
				c.hangup()
			}
		case *tcell.EventResize:
			c.screen.Sync()
		}
	}
}

func quitKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
		return ev.Rune() == 'q' || ev.Rune() == 'Q'
	}
	return false
}
