package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionSummary is emitted once per admitted session when it closes.
type SessionSummary struct {
	ID          uuid.UUID     `json:"id" msgpack:"id"`
	RemoteAddr  string        `json:"remote_addr" msgpack:"remote_addr"`
	Transport   string        `json:"transport" msgpack:"transport"`
	ConnectedAt time.Time     `json:"connected_at" msgpack:"connected_at"`
	Duration    time.Duration `json:"duration_ns" msgpack:"duration_ns"`
	Frames      uint64        `json:"frames" msgpack:"frames"`
	CloseReason string        `json:"close_reason" msgpack:"close_reason"`
}

// AverageFPS returns frames per second over the connected duration. The second result is
// false when there is nothing to average: no frames or no elapsed time.
func (s SessionSummary) AverageFPS() (float64, bool) {
	if s.Frames == 0 || s.Duration <= 0 {
		return 0, false
	}
	return float64(s.Frames) / s.Duration.Seconds(), true
}

type SessionHistory interface {
	Record(ctx context.Context, summary SessionSummary) error
	Recent(ctx context.Context, limit int) ([]SessionSummary, error)
}
