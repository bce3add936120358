package telnet

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prehensile/vidille/internal/app"
	"github.com/prehensile/vidille/internal/domain"
)

type stubHandler struct {
	text  string
	sizes chan [2]int
	opts  chan app.ServeOptions
}

func newStubHandler(text string) *stubHandler {
	return &stubHandler{text: text, sizes: make(chan [2]int, 4), opts: make(chan app.ServeOptions, 4)}
}

func (h *stubHandler) Serve(ctx context.Context, term domain.Terminal, opts app.ServeOptions) error {
	w, ht := term.Size()
	h.sizes <- [2]int{w, ht}
	h.opts <- opts
	if _, err := term.Write([]byte(h.text)); err != nil {
		return err
	}
	select {
	case <-term.Done():
	case <-ctx.Done():
	}
	return term.Close()
}

func testOptions() Options {
	return Options{
		DefaultWidth:       80,
		DefaultHeight:      25,
		MaxWidth:           400,
		MaxHeight:          200,
		NegotiationTimeout: 100 * time.Millisecond,
		WriteTimeout:       time.Second,
	}
}

func startServer(t *testing.T, h Handler) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	return startServerWith(t, h, testOptions())
}

func startServerWith(t *testing.T, h Handler, opts Options) (string, context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(h, opts)
	errCh := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		errCh <- srv.Serve(ctx, ln)
		close(finished)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
		}
	})
	return ln.Addr().String(), cancel, errCh
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	got := make([]byte, len(greeting))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	require.Equal(t, greeting, got)
	return conn
}

func receiveSize(t *testing.T, h *stubHandler) [2]int {
	t.Helper()
	select {
	case s := <-h.sizes:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
		return [2]int{}
	}
}

func TestServer_NegotiatesWindowSize(t *testing.T) {
	h := newStubHandler("a\nb")
	addr, _, _ := startServer(t, h)

	conn := dial(t, addr)
	_, err := conn.Write(naws(100, 30))
	require.NoError(t, err)

	assert.Equal(t, [2]int{100, 30}, receiveSize(t, h))
	assert.Equal(t, "telnet", (<-h.opts).Transport)

	got := make([]byte, len("a\r\nb"))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, "a\r\nb", string(got))
}

func TestServer_ClampsOversizedWindow(t *testing.T) {
	h := newStubHandler("")
	addr, _, _ := startServer(t, h)

	conn := dial(t, addr)
	_, err := conn.Write(naws(1000, 30))
	require.NoError(t, err)

	assert.Equal(t, [2]int{400, 30}, receiveSize(t, h))
}

func TestServer_DefaultSizeWhenClientIsSilent(t *testing.T) {
	h := newStubHandler("")
	addr, _, _ := startServer(t, h)

	start := time.Now()
	dial(t, addr)

	assert.Equal(t, [2]int{80, 25}, receiveSize(t, h))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestServer_WontNAWSSkipsNegotiationWait(t *testing.T) {
	opts := testOptions()
	opts.NegotiationTimeout = 10 * time.Second
	h := newStubHandler("")
	addr, _, _ := startServerWith(t, h, opts)

	conn := dial(t, addr)
	start := time.Now()
	_, err := conn.Write([]byte{cmdIAC, cmdWONT, optNAWS})
	require.NoError(t, err)

	assert.Equal(t, [2]int{80, 25}, receiveSize(t, h))
	assert.Less(t, time.Since(start), time.Second)
}

func TestServer_CtrlCHangsUp(t *testing.T) {
	h := newStubHandler("x")
	addr, _, _ := startServer(t, h)

	conn := dial(t, addr)
	_, err := conn.Write(naws(80, 24))
	require.NoError(t, err)
	receiveSize(t, h)

	_, err = conn.Write([]byte{ctrlC})
	require.NoError(t, err)

	// the server closes the connection once the handler returns
	buf := make([]byte, 16)
	for {
		_, err = conn.Read(buf)
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_ShutdownStopsAccepting(t *testing.T) {
	h := newStubHandler("")
	addr, cancel, errCh := startServer(t, h)

	conn := dial(t, addr)
	_, err := conn.Write(naws(80, 24))
	require.NoError(t, err)
	receiveSize(t, h)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}
