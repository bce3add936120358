// Package telnet serves the broadcast to telnet clients.
package telnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prehensile/vidille/internal/app"
	"github.com/prehensile/vidille/internal/domain"
)

// Handler runs one connection to completion.
type Handler interface {
	Serve(ctx context.Context, term domain.Terminal, opts app.ServeOptions) error
}

type Options struct {
	DefaultWidth       int
	DefaultHeight      int
	MaxWidth           int
	MaxHeight          int
	NegotiationTimeout time.Duration
	WriteTimeout       time.Duration
}

type Server struct {
	handler Handler
	opts    Options
	wg      sync.WaitGroup
}

func NewServer(handler Handler, opts Options) *Server {
	return &Server{handler: handler, opts: opts}
}

// Listen opens a TCP listener on addr.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := listenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections until ctx is cancelled, then closes ln and waits for
// every connection handler to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	slog.Info("Telnet server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				slog.Warn("Accept timed out", "error", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, nc net.Conn) {
	c := newConn(nc, s.opts)
	defer func() { _ = c.Close() }()

	go c.readLoop()

	if err := c.negotiate(s.opts.NegotiationTimeout); err != nil {
		slog.Debug("Telnet negotiation failed", "remote", c.RemoteAddr(), "error", err)
		return
	}

	err := s.handler.Serve(ctx, c, app.ServeOptions{Transport: transportName})
	if err != nil {
		slog.Debug("Telnet connection rejected", "remote", c.RemoteAddr(), "error", err)
	}
}
