// Package sessiontest provides an in-memory domain.Terminal for tests.
package sessiontest

import (
	"io"
	"sync"
)

// Terminal records every write and lets tests hang up, resize or break the connection.
type Terminal struct {
	mu        sync.Mutex
	writes    [][]byte
	width     int
	height    int
	addr      string
	failErr   error
	failAfter int
	closed    bool

	done     chan struct{}
	doneOnce sync.Once
}

func NewTerminal(addr string, width, height int) *Terminal {
	return &Terminal{
		addr:   addr,
		width:  width,
		height: height,
		done:   make(chan struct{}),
	}
}

func (t *Terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.failErr != nil && len(t.writes) >= t.failAfter {
		return 0, t.failErr
	}
	t.writes = append(t.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (t *Terminal) Size() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.width, t.height
}

func (t *Terminal) SetSize(width, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.width, t.height = width, height
}

func (t *Terminal) Done() <-chan struct{} {
	return t.done
}

func (t *Terminal) RemoteAddr() string {
	return t.addr
}

func (t *Terminal) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.doneOnce.Do(func() { close(t.done) })
	return nil
}

// Hangup simulates the remote end going away.
func (t *Terminal) Hangup() {
	_ = t.Close()
}

// FailWrites makes every write after the first n successful ones return err.
func (t *Terminal) FailWrites(n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failAfter = n
	t.failErr = err
}

func (t *Terminal) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

func (t *Terminal) WriteCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writes)
}

func (t *Terminal) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
