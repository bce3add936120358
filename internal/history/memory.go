// Package history keeps summaries of finished sessions in memory.
package history

import (
	"context"
	"sync"

	"github.com/eapache/queue"

	"github.com/prehensile/vidille/internal/domain"
)

// Memory is a bounded ring of the most recent session summaries.
type Memory struct {
	mu    sync.Mutex
	q     *queue.Queue
	limit int
}

func NewMemory(limit int) *Memory {
	if limit < 1 {
		limit = 1
	}
	return &Memory{q: queue.New(), limit: limit}
}

func (m *Memory) Record(_ context.Context, summary domain.SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.q.Add(summary)
	for m.q.Length() > m.limit {
		m.q.Remove()
	}
	return nil
}

// Recent returns up to limit summaries, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]domain.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.q.Length()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.SessionSummary, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, m.q.Get(-i).(domain.SessionSummary))
	}
	return out, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}
