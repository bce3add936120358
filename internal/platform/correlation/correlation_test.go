package correlation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	ids := make(map[string]struct{}, 100)
	for range 100 {
		id := NewID()
		assert.Len(t, id, 8)
		ids[id] = struct{}{}
	}
	assert.Len(t, ids, 100)
}

func TestID_Roundtrip(t *testing.T) {
	id, ok := ID(WithID(context.Background(), "abc12345"))
	assert.True(t, ok)
	assert.Equal(t, "abc12345", id)

	_, ok = ID(context.Background())
	assert.False(t, ok)

	_, ok = ID(WithID(context.Background(), ""))
	assert.False(t, ok)
}

func TestSession_Roundtrip(t *testing.T) {
	want := uuid.New()
	got, ok := Session(WithSession(context.Background(), want))
	assert.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = Session(WithSession(context.Background(), uuid.Nil))
	assert.False(t, ok)
}

func TestHandler_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	sid := uuid.New()

	ctx := WithSession(WithID(context.Background(), "test1234"), sid)
	logger.InfoContext(ctx, "session closed", "frames", 90)

	out := buf.String()
	assert.Contains(t, out, "correlation_id=test1234")
	assert.Contains(t, out, "session_id="+sid.String())
	assert.Contains(t, out, "frames=90")
}

func TestHandler_NothingAddedWhenMissing(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "listening")

	assert.NotContains(t, buf.String(), "correlation_id")
	assert.NotContains(t, buf.String(), "session_id")
}

func TestHandler_WithAttrsKeepsWrapping(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, nil))).With("transport", "telnet")

	logger.InfoContext(WithID(context.Background(), "feedbeef"), "admitted")

	assert.Contains(t, buf.String(), "transport=telnet")
	assert.Contains(t, buf.String(), "correlation_id=feedbeef")
}
