package telnet

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prehensile/vidille/internal/domain"
	"github.com/prehensile/vidille/internal/metrics"
	"github.com/prehensile/vidille/internal/session"
)

type nilSource struct{}

func (nilSource) Snapshot() *domain.Frame { return nil }

type textRenderer string

func (r textRenderer) Render(*domain.Frame, int, int) string { return string(r) }

func TestConn_WriteBytesMetricMatchesWire(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	conn := newConn(server, testOptions())
	counter := metrics.WriteBytesTotal.WithLabelValues(transportName)
	before := testutil.ToFloat64(counter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := session.New(clockwork.NewFakeClock(), conn, nilSource{}, textRenderer("ab\ncd\xff"),
		session.Options{Interval: time.Second, Transport: transportName})
	require.True(t, sess.Admit())

	done := make(chan domain.SessionSummary, 1)
	go func() { done <- sess.Run(ctx) }()

	want := append([]byte(session.ClearHome), 'a', 'b', '\r', '\n', 'c', 'd', cmdIAC, cmdIAC)
	got := make([]byte, len(want))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	cancel()
	select {
	case sum := <-done:
		assert.Equal(t, uint64(1), sum.Frames)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}

	assert.Equal(t, float64(len(want)), testutil.ToFloat64(counter)-before)
}
