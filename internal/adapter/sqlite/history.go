// Package sqlite stores closed session summaries in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/prehensile/vidille/internal/domain"
	"github.com/prehensile/vidille/internal/metrics"
)

const storeName = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id           TEXT PRIMARY KEY,
    remote_addr  TEXT    NOT NULL,
    transport    TEXT    NOT NULL,
    connected_at INTEGER NOT NULL, -- UnixNano
    duration_ns  INTEGER NOT NULL,
    frames       INTEGER NOT NULL,
    close_reason TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_connected_at_idx ON sessions (connected_at DESC);
`

// History implements domain.SessionHistory on a SQLite database.
type History struct {
	db *sql.DB
}

// Open creates the database file and its directory when missing. ":memory:" keeps the
// history in process memory.
func Open(ctx context.Context, path string) (*History, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path +
			"?_pragma=journal_mode(WAL)" +
			"&_pragma=synchronous(NORMAL)" +
			"&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY and keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &History{db: db}, nil
}

func (h *History) Record(ctx context.Context, s domain.SessionSummary) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (id, remote_addr, transport, connected_at, duration_ns, frames, close_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.RemoteAddr, s.Transport, s.ConnectedAt.UnixNano(), int64(s.Duration), int64(s.Frames), s.CloseReason,
	)
	if err != nil {
		metrics.HistoryWriteErrors.WithLabelValues(storeName).Inc()
		return fmt.Errorf("failed to record session %s: %w", s.ID, err)
	}
	return nil
}

func (h *History) Recent(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, remote_addr, transport, connected_at, duration_ns, frames, close_reason
		FROM sessions
		ORDER BY connected_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionSummary
	for rows.Next() {
		var (
			s           domain.SessionSummary
			id          string
			connectedAt int64
			duration    int64
			frames      int64
		)
		if err := rows.Scan(&id, &s.RemoteAddr, &s.Transport, &connectedAt, &duration, &frames, &s.CloseReason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid session id %q: %w", id, err)
		}
		s.ConnectedAt = time.Unix(0, connectedAt).UTC()
		s.Duration = time.Duration(duration)
		s.Frames = uint64(frames)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return out, nil
}

// Ping is the readiness check for this store.
func (h *History) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

func (h *History) Close() error {
	return h.db.Close()
}
