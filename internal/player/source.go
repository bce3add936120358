// Package player owns the shared media decoder and publishes the current frame.
package player

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/prehensile/vidille/internal/domain"
	apperrors "github.com/prehensile/vidille/internal/errors"
	"github.com/prehensile/vidille/internal/metrics"
)

// FrameSource advances a decoder on a fixed cadence while playing and publishes the
// latest frame for any number of readers.
//
// The decoder belongs to the goroutine running Run. Play, Stop and Snapshot are safe to
// call from anywhere; Play only requests a rewind, which the loop performs before its
// next decode.
type FrameSource struct {
	clock    clockwork.Clock
	decoder  domain.Decoder
	interval time.Duration

	current atomic.Pointer[domain.Frame]
	playing atomic.Bool
	rewind  atomic.Bool

	// loop-owned
	seq uint64

	decoded atomic.Uint64
	rewinds atomic.Uint64
}

// Stats is a point-in-time view of the source for status reporting.
type Stats struct {
	Playing       bool   `json:"playing"`
	FramesDecoded uint64 `json:"frames_decoded"`
	Rewinds       uint64 `json:"rewinds"`
	LastSeq       uint64 `json:"last_seq"`
}

func NewFrameSource(clock clockwork.Clock, decoder domain.Decoder, interval time.Duration) *FrameSource {
	return &FrameSource{
		clock:    clock,
		decoder:  decoder,
		interval: interval,
	}
}

// Run drives the source until ctx is cancelled. While idle it keeps ticking but never
// touches the decoder, so the published frame stays frozen.
func (s *FrameSource) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Frame source started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Frame source stopped")
			return
		case <-ticker.Chan():
			if s.playing.Load() {
				s.Advance(ctx)
			}
		}
	}
}

// Advance decodes the next frame and publishes it. At end of stream, or when the decoder
// fails, the decoder is rewound, the published frame is left as it was and Advance
// returns false. Only the goroutine that owns the decoder may call it.
func (s *FrameSource) Advance(ctx context.Context) bool {
	if s.rewind.CompareAndSwap(true, false) {
		s.rewindDecoder("play")
	}

	start := s.clock.Now()
	img, err := s.decoder.Next(ctx)
	metrics.DecodeDuration.Observe(s.clock.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		cause := "eof"
		if !errors.Is(err, io.EOF) {
			derr := apperrors.DecodeError("next frame", err)
			cause = string(apperrors.TypeOf(derr))
			slog.Warn("Decode failed, restarting media", "error", derr, "type", cause)
		}
		s.rewindDecoder(cause)
		return false
	}

	s.seq++
	s.current.Store(&domain.Frame{
		Image:     img,
		Seq:       s.seq,
		DecodedAt: s.clock.Now(),
	})
	s.decoded.Add(1)
	metrics.FramesDecodedTotal.Inc()
	return true
}

func (s *FrameSource) rewindDecoder(cause string) {
	s.rewinds.Add(1)
	metrics.SourceRewindsTotal.WithLabelValues(cause).Inc()
	if err := s.decoder.Rewind(); err != nil {
		slog.Error("Failed to rewind media", "cause", cause, "error", err)
	}
}

// Play starts advancing from the beginning of the media. It reports whether the source
// was idle before the call; calling it while already playing changes nothing.
func (s *FrameSource) Play() bool {
	if s.playing.Load() {
		return false
	}
	s.rewind.Store(true)
	if !s.playing.CompareAndSwap(false, true) {
		return false
	}
	metrics.SourcePlaying.Set(1)
	return true
}

// Stop freezes the source. It reports whether the source was playing before the call.
func (s *FrameSource) Stop() bool {
	if !s.playing.CompareAndSwap(true, false) {
		return false
	}
	metrics.SourcePlaying.Set(0)
	return true
}

func (s *FrameSource) Playing() bool {
	return s.playing.Load()
}

// Snapshot returns the most recently published frame, or nil before the first decode.
func (s *FrameSource) Snapshot() *domain.Frame {
	return s.current.Load()
}

func (s *FrameSource) Stats() Stats {
	st := Stats{
		Playing:       s.playing.Load(),
		FramesDecoded: s.decoded.Load(),
		Rewinds:       s.rewinds.Load(),
	}
	if f := s.current.Load(); f != nil {
		st.LastSeq = f.Seq
	}
	return st
}

// Close releases the decoder. Call it only after Run has returned.
func (s *FrameSource) Close() error {
	return s.decoder.Close()
}
