package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/prehensile/vidille/internal/domain"
	"github.com/prehensile/vidille/internal/metrics"
	"github.com/prehensile/vidille/internal/platform/correlation"
	"github.com/prehensile/vidille/internal/player"
	"github.com/prehensile/vidille/internal/registry"
	"github.com/prehensile/vidille/internal/session"
)

const recordTimeout = 5 * time.Second

// Source is the control side of the shared frame source.
type Source interface {
	session.Source
	Play() bool
	Stop() bool
	Playing() bool
	Stats() player.Stats
}

type Config struct {
	CapacityMessage string
	LimitMessage    string
	// RenderInterval is the cadence for connections that do not ask for one.
	RenderInterval time.Duration
	// MinRenderInterval is the fastest cadence a connection may ask for.
	MinRenderInterval time.Duration
}

// ServeOptions describe one connection.
type ServeOptions struct {
	Transport string
	// Interval overrides the default render cadence when non-zero.
	Interval time.Duration
}

// LiveSession is a rendering session as reported by Status.
type LiveSession struct {
	ID          uuid.UUID `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Transport   string    `json:"transport"`
	ConnectedAt time.Time `json:"connected_at"`
	Frames      uint64    `json:"frames"`
}

type Status struct {
	Playing     bool    `json:"playing"`
	Active      int64   `json:"active"`
	Max         int64   `json:"max"`
	CapacityPct float64 `json:"capacity_pct"`
	// ClientAddrs is the number of distinct addresses with open connections, zero
	// without a gate.
	ClientAddrs int `json:"client_addrs"`
	// LastSeq is the sequence number of the current frame, zero before the first decode.
	LastSeq  uint64        `json:"last_seq"`
	Source   player.Stats  `json:"source"`
	Sessions []LiveSession `json:"sessions"`
}

// Service is the only component that references the source, the registry and the
// sinks together.
type Service struct {
	clock     clockwork.Clock
	source    Source
	registry  *registry.Registry
	gate      *registry.Gate
	renderer  domain.Renderer
	publisher domain.EventPublisher
	history   domain.SessionHistory
	cfg       Config

	// serialises admit+play against release+stop so a stop decided by the last
	// leaving session cannot overtake a play decided by an arriving one
	lifecycle sync.Mutex

	mu   sync.Mutex
	live map[uuid.UUID]*session.Session

	// closing guards wg.Add against a concurrent Wait
	closeMu sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewService wires the service. gate, publisher and history may be nil.
func NewService(clock clockwork.Clock, source Source, reg *registry.Registry, gate *registry.Gate,
	renderer domain.Renderer, publisher domain.EventPublisher, history domain.SessionHistory, cfg Config) *Service {
	return &Service{
		clock:     clock,
		source:    source,
		registry:  reg,
		gate:      gate,
		renderer:  renderer,
		publisher: publisher,
		history:   history,
		cfg:       cfg,
		live:      make(map[uuid.UUID]*session.Session),
	}
}

// Serve runs one connection to completion. Rejected connections receive a one-line
// message and Serve returns domain.ErrAtCapacity, domain.ErrTooManyFromAddr or
// domain.ErrRateLimited. Once Wait has been called Serve closes term and returns
// domain.ErrShuttingDown. Admitted connections return nil once their session closes.
func (s *Service) Serve(ctx context.Context, term domain.Terminal, opts ServeOptions) error {
	if !s.enter() {
		_ = term.Close()
		return domain.ErrShuttingDown
	}
	defer s.wg.Done()

	ctx = correlation.WithID(ctx, correlation.NewID())
	sess := session.New(s.clock, term, s.source, s.renderer, session.Options{
		Interval:  s.ClampInterval(opts.Interval),
		Transport: opts.Transport,
	})

	addr := hostOf(term.RemoteAddr())
	if s.gate != nil {
		if err := s.gate.Enter(addr); err != nil {
			s.reject(ctx, sess, s.cfg.LimitMessage, err)
			return err
		}
		metrics.ClientAddresses.Set(float64(s.gate.UniqueAddrs()))
		defer func() {
			s.gate.Leave(addr)
			metrics.ClientAddresses.Set(float64(s.gate.UniqueAddrs()))
		}()
	}

	active, ok := s.admit(ctx, sess)
	if !ok {
		s.reject(ctx, sess, s.cfg.CapacityMessage, domain.ErrAtCapacity)
		return domain.ErrAtCapacity
	}

	ctx = correlation.WithSession(ctx, sess.ID)
	metrics.SessionsTotal.WithLabelValues(opts.Transport, "admitted").Inc()
	attrs := []any{"remote", term.RemoteAddr(), "transport", opts.Transport, "active", active}
	if s.gate != nil {
		attrs = append(attrs, "from_addr", s.gate.Count(addr))
	}
	slog.InfoContext(ctx, "Session admitted", attrs...)
	s.publish(ctx, domain.Event{
		Type:       domain.EventSessionAdmitted,
		SessionID:  sess.ID,
		RemoteAddr: term.RemoteAddr(),
		Transport:  opts.Transport,
		Active:     active,
	})

	s.track(sess)
	summary := sess.Run(ctx)
	s.untrack(sess)

	remaining := s.release(ctx)
	s.record(ctx, summary)
	s.publish(ctx, domain.Event{
		Type:       domain.EventSessionClosed,
		SessionID:  sess.ID,
		RemoteAddr: summary.RemoteAddr,
		Transport:  summary.Transport,
		Active:     remaining,
		Reason:     summary.CloseReason,
		Summary:    &summary,
	})
	return nil
}

// admit claims a registry slot and starts the source when the count leaves zero.
func (s *Service) admit(ctx context.Context, sess *session.Session) (int64, bool) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	active, ok := s.registry.TryAdmit()
	if !ok {
		return active, false
	}
	sess.Admit()
	metrics.SessionsActive.Set(float64(active))
	metrics.CapacityUtilization.Set(s.registry.CapacityPct())

	if active == 1 && s.source.Play() {
		slog.InfoContext(ctx, "Playback started")
		s.publish(ctx, domain.Event{Type: domain.EventPlaybackStarted, Active: active})
	}
	return active, true
}

// release gives the slot back and stops the source when the count reaches zero.
func (s *Service) release(ctx context.Context) int64 {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	remaining := s.registry.Release()
	metrics.SessionsActive.Set(float64(remaining))
	metrics.CapacityUtilization.Set(s.registry.CapacityPct())

	if remaining == 0 && s.source.Stop() {
		slog.InfoContext(ctx, "Playback stopped, no viewers left")
		s.publish(ctx, domain.Event{Type: domain.EventPlaybackStopped})
	}
	return remaining
}

func (s *Service) reject(ctx context.Context, sess *session.Session, message string, cause error) {
	result := rejectResult(cause)
	metrics.SessionsTotal.WithLabelValues(sess.Transport(), result).Inc()
	slog.InfoContext(ctx, "Connection rejected", "remote", sess.RemoteAddr(), "transport", sess.Transport(), "reason", result)

	if err := sess.Reject(message); err != nil {
		slog.DebugContext(ctx, "Failed to deliver rejection", "error", err)
	}
	s.publish(ctx, domain.Event{
		Type:       domain.EventSessionRejected,
		RemoteAddr: sess.RemoteAddr(),
		Transport:  sess.Transport(),
		Active:     s.registry.Current(),
		Reason:     result,
	})
}

func rejectResult(cause error) string {
	switch {
	case errors.Is(cause, domain.ErrTooManyFromAddr):
		return "per_addr"
	case errors.Is(cause, domain.ErrRateLimited):
		return "rate"
	default:
		return "capacity"
	}
}

func (s *Service) record(ctx context.Context, summary domain.SessionSummary) {
	if s.history == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.history.Record(rctx, summary); err != nil {
		metrics.HistoryWriteErrors.WithLabelValues("history").Inc()
		slog.WarnContext(ctx, "Failed to record session", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.publisher == nil {
		return
	}
	event.At = s.clock.Now()
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "Failed to queue event", "event", event.Type, "error", err)
	}
}

// ClampInterval returns the render cadence a connection gets for a requested interval.
func (s *Service) ClampInterval(requested time.Duration) time.Duration {
	if requested <= 0 {
		return s.cfg.RenderInterval
	}
	if requested < s.cfg.MinRenderInterval {
		return s.cfg.MinRenderInterval
	}
	return requested
}

func (s *Service) track(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[sess.ID] = sess
}

func (s *Service) untrack(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, sess.ID)
}

// Status reports the source state and every rendering session, oldest first.
func (s *Service) Status() Status {
	s.mu.Lock()
	sessions := make([]LiveSession, 0, len(s.live))
	for _, sess := range s.live {
		sessions = append(sessions, LiveSession{
			ID:          sess.ID,
			RemoteAddr:  sess.RemoteAddr(),
			Transport:   sess.Transport(),
			ConnectedAt: sess.ConnectedAt(),
			Frames:      sess.Frames(),
		})
	}
	s.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
	var addrs int
	if s.gate != nil {
		addrs = s.gate.UniqueAddrs()
	}
	stats := s.source.Stats()
	return Status{
		Playing:     s.source.Playing(),
		Active:      s.registry.Current(),
		Max:         s.registry.Max(),
		CapacityPct: s.registry.CapacityPct(),
		ClientAddrs: addrs,
		LastSeq:     stats.LastSeq,
		Source:      stats,
		Sessions:    sessions,
	}
}

// History returns recently closed sessions, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Recent(ctx, limit)
}

// Wait stops accepting connections and blocks until every connection already handed to
// Serve has finished.
func (s *Service) Wait() {
	s.closeMu.Lock()
	s.closing = true
	s.closeMu.Unlock()
	s.wg.Wait()
}

func (s *Service) enter() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
