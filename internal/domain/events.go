package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSessionAdmitted EventType = "session.admitted"
	EventSessionRejected EventType = "session.rejected"
	EventSessionClosed   EventType = "session.closed"
	EventPlaybackStarted EventType = "playback.started"
	EventPlaybackStopped EventType = "playback.stopped"
)

// Event is a lifecycle notification published to external sinks.
type Event struct {
	Type       EventType       `json:"type" msgpack:"type"`
	At         time.Time       `json:"at" msgpack:"at"`
	SessionID  uuid.UUID       `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	RemoteAddr string          `json:"remote_addr,omitempty" msgpack:"remote_addr,omitempty"`
	Transport  string          `json:"transport,omitempty" msgpack:"transport,omitempty"`
	Active     int64           `json:"active" msgpack:"active"`
	Reason     string          `json:"reason,omitempty" msgpack:"reason,omitempty"`
	Summary    *SessionSummary `json:"summary,omitempty" msgpack:"summary,omitempty"`
}

// EventPublisher publishes lifecycle events to infrastructure.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
