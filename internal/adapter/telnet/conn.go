package telnet

import (
	"net"
	"sync"
	"time"

	"github.com/prehensile/vidille/internal/metrics"
)

const transportName = "telnet"

// Conn is a telnet client seen as a domain.Terminal.
type Conn struct {
	conn         net.Conn
	writeTimeout time.Duration
	maxWidth     int
	maxHeight    int

	mu     sync.Mutex
	width  int
	height int

	sized     chan struct{}
	sizedOnce sync.Once

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newConn(conn net.Conn, opts Options) *Conn {
	return &Conn{
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		maxWidth:     opts.MaxWidth,
		maxHeight:    opts.MaxHeight,
		width:        opts.DefaultWidth,
		height:       opts.DefaultHeight,
		sized:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Write sends p with telnet line endings, bounded by the write timeout.
func (c *Conn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	wire := encode(p)
	n, err := c.conn.Write(wire)
	metrics.WriteBytesTotal.WithLabelValues(transportName).Add(float64(n))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	c.hangup()
	return c.closeErr
}

// resize applies a NAWS report. Zero means the client does not know the dimension.
func (c *Conn) resize(width, height int) {
	c.mu.Lock()
	if width > 0 {
		c.width = min(width, c.maxWidth)
	}
	if height > 0 {
		c.height = min(height, c.maxHeight)
	}
	c.mu.Unlock()

	c.sizedOnce.Do(func() { close(c.sized) })
}

// noSize ends negotiation early when the client refuses NAWS; the default size stays.
func (c *Conn) noSize() {
	c.sizedOnce.Do(func() { close(c.sized) })
}

func (c *Conn) hangup() {
	c.doneOnce.Do(func() { close(c.done) })
}

// readLoop feeds client input to the option parser until the connection fails.
func (c *Conn) readLoop() {
	defer c.hangup()

	p := &parser{onResize: c.resize, onNoSize: c.noSize, onHangup: c.hangup}
	buf := make([]byte, 512)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			p.feed(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// negotiate sends the option greeting and waits until the client reports or refuses a
// window size, the timeout passes or the client hangs up.
func (c *Conn) negotiate(timeout time.Duration) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write(greeting); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.sized:
	case <-timer.C:
	case <-c.done:
	}
	return nil
}
