// Package eventpublisher fans lifecycle events out to every configured sink without
// blocking the sessions that produce them.
package eventpublisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prehensile/vidille/internal/domain"
	apperrors "github.com/prehensile/vidille/internal/errors"
	"github.com/prehensile/vidille/internal/metrics"
)

var ErrQueueFull = errors.New("event queue full")

// Sink is a named publisher; the name labels metrics and logs.
type Sink struct {
	Name      string
	Publisher domain.EventPublisher
}

// Dispatcher implements domain.EventPublisher by queueing events and delivering them,
// in order, to each sink from a single goroutine.
type Dispatcher struct {
	sinks   []Sink
	queue   chan domain.Event
	timeout time.Duration
}

func New(buffer int, timeout time.Duration, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan domain.Event, buffer),
		timeout: timeout,
	}
}

// Publish enqueues event. It never blocks; when the queue is full the event is dropped.
func (d *Dispatcher) Publish(_ context.Context, event domain.Event) error {
	if len(d.sinks) == 0 {
		return nil
	}
	select {
	case d.queue <- event:
		return nil
	default:
		metrics.EventsPublishedTotal.WithLabelValues("queue", "dropped").Inc()
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is cancelled, then flushes what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event domain.Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := sink.Publisher.Publish(ctx, event)
		cancel()

		if err != nil {
			metrics.EventsPublishedTotal.WithLabelValues(sink.Name, "error").Inc()
			slog.Warn("Failed to publish event", "sink", sink.Name, "event", event.Type, "type", apperrors.TypeOf(err), "error", err)
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(sink.Name, "ok").Inc()
	}
}

func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name
	}
	return names
}
