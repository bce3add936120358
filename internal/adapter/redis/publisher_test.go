package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prehensile/vidille/internal/domain"
	apperrors "github.com/prehensile/vidille/internal/errors"
)

func TestCarriesViewerCount(t *testing.T) {
	assert.True(t, carriesViewerCount("session.admitted"))
	assert.True(t, carriesViewerCount("playback.stopped"))
	assert.False(t, carriesViewerCount("session.rejected"))
}

func TestPublisher_UnreachableIsExternalError(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := NewPublisher(rdb, "", "").Publish(ctx, domain.Event{Type: domain.EventSessionAdmitted, Active: 1})
	require.Error(t, err)
	assert.Equal(t, apperrors.TypeExternal, apperrors.TypeOf(err))

	structured := apperrors.AsStructuredError(err)
	assert.Equal(t, domain.EventSessionAdmitted, structured.Context["event"])
}
