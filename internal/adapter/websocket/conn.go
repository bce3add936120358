package websocket

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prehensile/vidille/internal/metrics"
)

const (
	transportName = "websocket"
	maxMessage    = 1024
)

// controlMessage is what browsers send after connecting, e.g. {"type":"resize","cols":120,"rows":40}.
type controlMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// Conn is a WebSocket client seen as a domain.Terminal. Every Write becomes one text message.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	maxWidth     int
	maxHeight    int

	writeMu sync.Mutex

	mu     sync.Mutex
	width  int
	height int

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newConn(ws *websocket.Conn, opts Options, width, height int) *Conn {
	return &Conn{
		ws:           ws,
		writeTimeout: opts.WriteTimeout,
		maxWidth:     opts.MaxWidth,
		maxHeight:    opts.MaxHeight,
		width:        width,
		height:       height,
		done:         make(chan struct{}),
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	msg := crlf(p)
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return 0, err
	}
	metrics.WriteBytesTotal.WithLabelValues(transportName).Add(float64(len(msg)))
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
	return c.ws.RemoteAddr().String()
}

// Close sends a normal closure frame when possible and closes the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	c.hangup()
	return c.closeErr
}

func (c *Conn) resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if width > 0 {
		c.width = min(width, c.maxWidth)
	}
	if height > 0 {
		c.height = min(height, c.maxHeight)
	}
}

func (c *Conn) hangup() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Conn) readLoop() {
	defer c.hangup()

	c.ws.SetReadLimit(maxMessage)
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "resize" {
			c.resize(msg.Cols, msg.Rows)
		}
	}
}

// crlf converts bare LF to CRLF so terminal emulators in the browser return to column 0.
func crlf(p []byte) []byte {
	n := bytes.Count(p, []byte{'\n'})
	if n == 0 {
		return p
	}
	out := make([]byte, 0, len(p)+n)
	var prev byte
	for _, b := range p {
		if b == '\n' && prev != '\r' {
			out = append(out, '\r')
		}
		out = append(out, b)
		prev = b
	}
	return out
}
