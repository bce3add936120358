// Package session runs one viewer connection: its own render cadence, snapshot, render,
// write, until the connection fails, the viewer leaves or the server shuts down.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/prehensile/vidille/internal/domain"
	apperrors "github.com/prehensile/vidille/internal/errors"
	"github.com/prehensile/vidille/internal/metrics"
)

// ClearHome clears the screen and moves the cursor to the top-left corner. It precedes
// every rendered frame.
const ClearHome = "\x1b[2J\x1b[H"

// Close reasons reported in summaries, logs and metrics.
const (
	ReasonDisconnect = "disconnect"
	ReasonWriteError = "write_error"
	ReasonPanic      = "panic"
	ReasonShutdown   = "shutdown"
)

type State int32

const (
	Connecting State = iota
	Admitted
	Rendering
	Rejected
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Admitted:
		return "admitted"
	case Rendering:
		return "rendering"
	case Rejected:
		return "rejected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Source is the read side of the shared frame source.
type Source interface {
	Snapshot() *domain.Frame
}

type Options struct {
	// Interval is this session's render cadence.
	Interval  time.Duration
	Transport string
}

type Session struct {
	ID          uuid.UUID
	term        domain.Terminal
	source      Source
	renderer    domain.Renderer
	clock       clockwork.Clock
	interval    time.Duration
	transport   string
	connectedAt time.Time

	state  atomic.Int32
	frames atomic.Uint64

	// loop-owned
	buf []byte
}

// New creates a session in the Connecting state. The connect timestamp is taken now.
func New(clock clockwork.Clock, term domain.Terminal, source Source, renderer domain.Renderer, opts Options) *Session {
	return &Session{
		ID:          uuid.New(),
		term:        term,
		source:      source,
		renderer:    renderer,
		clock:       clock,
		interval:    opts.Interval,
		transport:   opts.Transport,
		connectedAt: clock.Now(),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Frames() uint64 {
	return s.frames.Load()
}

func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

func (s *Session) Transport() string {
	return s.transport
}

func (s *Session) RemoteAddr() string {
	return s.term.RemoteAddr()
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Admit moves a connecting session to Admitted.
func (s *Session) Admit() bool {
	return s.transition(Connecting, Admitted)
}

// Reject writes message as a single line and closes the connection. The render path is
// never entered.
func (s *Session) Reject(message string) error {
	if !s.transition(Connecting, Rejected) {
		return fmt.Errorf("reject session in state %s", s.State())
	}
	defer s.state.Store(int32(Closed))

	_, err := s.term.Write([]byte(message + "\n"))
	if cerr := s.term.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return apperrors.TransportError("write capacity message", err)
	}
	return nil
}

// Run renders until the session closes and returns its summary. The first frame is
// rendered immediately, then one per Interval. When Run returns the render ticker is
// stopped and the terminal is closed, so no further frame is ever written.
func (s *Session) Run(ctx context.Context) domain.SessionSummary {
	if !s.transition(Admitted, Rendering) {
		return s.summary(fmt.Sprintf("not admitted (%s)", s.State()))
	}

	logger := slog.Default().With("transport", s.transport, "remote", s.term.RemoteAddr())

	// unblock a write stuck on a dead peer when the server shuts down
	stopAfter := context.AfterFunc(ctx, func() { _ = s.term.Close() })

	reason := s.loop(ctx, logger)

	stopAfter()
	_ = s.term.Close()
	s.state.Store(int32(Closed))

	summary := s.summary(reason)
	logClosed(ctx, logger, summary)
	metrics.SessionCloseTotal.WithLabelValues(reason).Inc()
	metrics.SessionDuration.Observe(summary.Duration.Seconds())
	return summary
}

func (s *Session) loop(ctx context.Context, logger *slog.Logger) string {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.tick(); err != nil {
			return s.failReason(ctx, logger, err)
		}

		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-s.term.Done():
			return ReasonDisconnect
		case <-ticker.Chan():
		}
	}
}

func (s *Session) failReason(ctx context.Context, logger *slog.Logger, err error) string {
	switch {
	case ctx.Err() != nil:
		return ReasonShutdown
	case apperrors.TypeOf(err) == apperrors.TypeInternal:
		logger.ErrorContext(ctx, "Render tick failed", "error", err)
		return ReasonPanic
	default:
		select {
		case <-s.term.Done():
			return ReasonDisconnect
		default:
		}
		logger.DebugContext(ctx, "Write failed", "error", err)
		return ReasonWriteError
	}
}

// tick renders the current frame and writes it. A panic anywhere in the tick is turned
// into an internal error.
func (s *Session) tick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.InternalError("render tick panicked", fmt.Errorf("%v", r))
		}
	}()

	frame := s.source.Snapshot()
	width, height := s.term.Size()
	text := s.renderer.Render(frame, width, height)

	s.buf = append(s.buf[:0], ClearHome...)
	s.buf = append(s.buf, text...)
	if _, err := s.term.Write(s.buf); err != nil {
		return apperrors.TransportError("write frame", err)
	}

	s.frames.Add(1)
	metrics.FramesRenderedTotal.WithLabelValues(s.transport).Inc()
	return nil
}

func (s *Session) summary(reason string) domain.SessionSummary {
	return domain.SessionSummary{
		ID:          s.ID,
		RemoteAddr:  s.term.RemoteAddr(),
		Transport:   s.transport,
		ConnectedAt: s.connectedAt,
		Duration:    s.clock.Since(s.connectedAt),
		Frames:      s.frames.Load(),
		CloseReason: reason,
	}
}

func logClosed(ctx context.Context, logger *slog.Logger, sum domain.SessionSummary) {
	attrs := []any{
		"reason", sum.CloseReason,
		"frames", sum.Frames,
		"seconds", sum.Duration.Seconds(),
	}
	if fps, ok := sum.AverageFPS(); ok {
		attrs = append(attrs, "avg_fps", fps)
		logger.InfoContext(ctx, fmt.Sprintf("Session closed: rendered %d frames in %.2f seconds (avg %.1f fps)",
			sum.Frames, sum.Duration.Seconds(), fps), attrs...)
		return
	}
	logger.InfoContext(ctx, "Session closed", attrs...)
}
