// Package httpserver is the admin HTTP surface: health, metrics, status and the
// WebSocket transport.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/prehensile/vidille/internal/app"
	"github.com/prehensile/vidille/internal/domain"
)

type appService interface {
	Status() app.Status
	History(ctx context.Context, limit int) ([]domain.SessionSummary, error)
}

type Options struct {
	HealthChecks []HealthCheck
	// WebSocket serves /ws when set.
	WebSocket echo.HandlerFunc
	// APIRate limits /status and /sessions per client address. Zero disables limiting.
	APIRate  float64
	APIBurst int
	// HistoryLimit bounds /sessions and the recent list in /status.
	HistoryLimit int
	// Registerer receives the HTTP request metrics. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

type Server struct {
	echo *echo.Echo
	app  appService
	opts Options

	httpMetrics  *HTTPMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(svc appService, opts Options) *Server {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		app:          svc,
		opts:         opts,
		httpMetrics:  NewHTTPMetrics(opts.Registerer),
		healthChecks: opts.HealthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown. Request contexts derive from ctx so long-lived
// WebSocket sessions end when ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.echo.Server.BaseContext = func(net.Listener) context.Context { return ctx }

	slog.Info("Starting admin server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
