package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prehensile/vidille/internal/domain"
)

func summaryAt(offset time.Duration) domain.SessionSummary {
	return domain.SessionSummary{
		ID:          uuid.New(),
		RemoteAddr:  "198.51.100.4:2000",
		Transport:   "telnet",
		ConnectedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC).Add(offset),
		Duration:    12*time.Second + 500*time.Millisecond,
		Frames:      225,
		CloseReason: "shutdown",
	}
}

func openTemp(t *testing.T) *History {
	t.Helper()
	h, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHistory_RecordAndRecent(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()

	older := summaryAt(0)
	newer := summaryAt(time.Hour)
	require.NoError(t, h.Record(ctx, older))
	require.NoError(t, h.Record(ctx, newer))

	got, err := h.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, newer, got[0])
	assert.Equal(t, older, got[1])
}

func TestHistory_Limit(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()

	for i := range 6 {
		require.NoError(t, h.Record(ctx, summaryAt(time.Duration(i)*time.Minute)))
	}

	got, err := h.Recent(ctx, 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, summaryAt(5*time.Minute).ConnectedAt, got[0].ConnectedAt)
}

func TestHistory_DuplicateIgnored(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()

	s := summaryAt(0)
	require.NoError(t, h.Record(ctx, s))
	require.NoError(t, h.Record(ctx, s))

	got, err := h.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestHistory_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	h, err := Open(ctx, path)
	require.NoError(t, err)
	s := summaryAt(0)
	require.NoError(t, h.Record(ctx, s))
	require.NoError(t, h.Close())

	h, err = Open(ctx, path)
	require.NoError(t, err)
	defer h.Close()

	got, err := h.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, s.ID, got[0].ID)
}

func TestHistory_InMemory(t *testing.T) {
	h, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Record(context.Background(), summaryAt(0)))
	got, err := h.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoError(t, h.Ping(context.Background()))
}
