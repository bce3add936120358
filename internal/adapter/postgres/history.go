package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prehensile/vidille/internal/domain"
	"github.com/prehensile/vidille/internal/metrics"
)

const storeName = "postgres"

// History implements domain.SessionHistory on the sessions table.
type History struct {
	pool *pgxpool.Pool
}

func NewHistory(pool *pgxpool.Pool) *History {
	return &History{pool: pool}
}

func (h *History) Record(ctx context.Context, s domain.SessionSummary) error {
	_, err := h.pool.Exec(ctx, `
		INSERT INTO sessions (id, remote_addr, transport, connected_at, duration_ms, frames, close_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, s.RemoteAddr, s.Transport, s.ConnectedAt, s.Duration.Milliseconds(), int64(s.Frames), s.CloseReason,
	)
	if err != nil {
		metrics.HistoryWriteErrors.WithLabelValues(storeName).Inc()
		return fmt.Errorf("failed to record session %s: %w", s.ID, err)
	}
	return nil
}

func (h *History) Recent(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT id, remote_addr, transport, connected_at, duration_ms, frames, close_reason
		FROM sessions
		ORDER BY connected_at DESC, recorded_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SessionSummary, error) {
		var (
			s          domain.SessionSummary
			durationMs int64
			frames     int64
		)
		if err := row.Scan(&s.ID, &s.RemoteAddr, &s.Transport, &s.ConnectedAt, &durationMs, &frames, &s.CloseReason); err != nil {
			return s, err
		}
		s.Duration = time.Duration(durationMs) * time.Millisecond
		s.Frames = uint64(frames)
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return summaries, nil
}

// Ping is the readiness check for this store.
func (h *History) Ping(ctx context.Context) error {
	return h.pool.Ping(ctx)
}
