package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/prehensile/vidille/internal/domain"
	apperrors "github.com/prehensile/vidille/internal/errors"
)

const (
	DefaultChannel    = "vidille:events"
	DefaultViewersKey = "vidille:viewers"
)

// Publisher sends every event as JSON on a pub/sub channel. Events that carry the
// viewer count also update the viewers key in the same transaction.
type Publisher struct {
	rdb        goredis.Cmdable
	channel    string
	viewersKey string
}

func NewPublisher(rdb goredis.Cmdable, channel, viewersKey string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if viewersKey == "" {
		viewersKey = DefaultViewersKey
	}
	return &Publisher{rdb: rdb, channel: channel, viewersKey: viewersKey}
}

func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.Publish(ctx, p.channel, payload)
	if carriesViewerCount(event.Type) {
		pipe.Set(ctx, p.viewersKey, event.Active, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.ExternalError("redis publish", err).WithContext("event", event.Type)
	}
	return nil
}

// Ping is the readiness check for this sink.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func carriesViewerCount(t domain.EventType) bool {
	switch t {
	case domain.EventSessionAdmitted, domain.EventSessionClosed,
		domain.EventPlaybackStarted, domain.EventPlaybackStopped:
		return true
	}
	return false
}
