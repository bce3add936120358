package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/prehensile/vidille/internal/adapter/console"
	"github.com/prehensile/vidille/internal/adapter/eventpublisher"
	"github.com/prehensile/vidille/internal/adapter/httpserver"
	"github.com/prehensile/vidille/internal/adapter/mqtt"
	"github.com/prehensile/vidille/internal/adapter/postgres"
	"github.com/prehensile/vidille/internal/adapter/redis"
	"github.com/prehensile/vidille/internal/adapter/sqlite"
	"github.com/prehensile/vidille/internal/adapter/telnet"
	"github.com/prehensile/vidille/internal/adapter/websocket"
	"github.com/prehensile/vidille/internal/app"
	"github.com/prehensile/vidille/internal/decode"
	"github.com/prehensile/vidille/internal/domain"
	"github.com/prehensile/vidille/internal/history"
	"github.com/prehensile/vidille/internal/platform/config"
	"github.com/prehensile/vidille/internal/platform/logging"
	"github.com/prehensile/vidille/internal/platform/retry"
	"github.com/prehensile/vidille/internal/platform/version"
	"github.com/prehensile/vidille/internal/player"
	"github.com/prehensile/vidille/internal/registry"
	"github.com/prehensile/vidille/internal/render"
)

const (
	eventQueueSize  = 256
	eventTimeout    = 2 * time.Second
	apiRatePerSec   = 10
	apiBurst        = 20
	startupDeadline = 30 * time.Second
)

// closer releases a resource during shutdown.
type closer struct {
	name  string
	close func() error
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Starting vidille", "version", version.Get().String())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	decoder, err := setupDecoder(ctx, cfg)
	if err != nil {
		return err
	}
	source := player.NewFrameSource(clock, decoder, cfg.FrameInterval())

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].close(); err != nil {
				slog.Warn("Failed to close resource", "resource", closers[i].name, "error", err)
			}
		}
	}()

	startCtx, cancelStart := context.WithTimeout(ctx, startupDeadline)
	sinks, sinkChecks, sinkClosers := setupSinks(startCtx, cfg)
	store, storeChecks, storeClosers := setupHistory(startCtx, cfg)
	cancelStart()
	closers = append(closers, sinkClosers...)
	closers = append(closers, storeClosers...)

	dispatcher := eventpublisher.New(eventQueueSize, eventTimeout, sinks...)
	renderer := render.NewBraille(render.Options{
		Threshold: uint8(cfg.RenderThreshold),
		Invert:    cfg.RenderInvert,
		Dither:    cfg.RenderDither,
	})
	svc := app.NewService(clock, source,
		registry.New(cfg.MaxClients),
		registry.NewGate(clock, cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst),
		renderer, dispatcher, store,
		app.Config{
			CapacityMessage:   cfg.CapacityMessage,
			LimitMessage:      cfg.LimitMessage,
			RenderInterval:    cfg.RenderInterval(),
			MinRenderInterval: cfg.MinRenderInterval(),
		})

	// the source and the dispatcher outlive the listeners so that closing sessions still
	// see frames and their events are flushed
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		source.Run(bgCtx)
	}()
	go func() {
		defer background.Done()
		dispatcher.Run(bgCtx)
	}()
	defer func() {
		cancelBackground()
		background.Wait()
		if err := source.Close(); err != nil {
			slog.Warn("Failed to close decoder", "error", err)
		}
	}()

	ln, err := telnet.Listen(ctx, net.JoinHostPort("", cfg.Port))
	if err != nil {
		return err
	}

	errCh := make(chan error, 3)
	var servers sync.WaitGroup

	tsrv := telnet.NewServer(svc, telnet.Options{
		DefaultWidth:       cfg.DefaultWidth,
		DefaultHeight:      cfg.DefaultHeight,
		MaxWidth:           cfg.MaxWidth,
		MaxHeight:          cfg.MaxHeight,
		NegotiationTimeout: cfg.NegotiationTimeout,
		WriteTimeout:       cfg.WriteTimeout,
	})
	servers.Add(1)
	go func() {
		defer servers.Done()
		if err := tsrv.Serve(ctx, ln); err != nil {
			errCh <- fmt.Errorf("telnet server: %w", err)
		}
	}()

	var admin *httpserver.Server
	if cfg.HTTPPort != "" {
		admin = setupAdminServer(cfg, svc, append(sinkChecks, storeChecks...))
		servers.Add(1)
		go func() {
			defer servers.Done()
			if err := admin.Start(ctx, net.JoinHostPort("", cfg.HTTPPort)); err != nil {
				errCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	if cfg.Console {
		if err := startConsole(ctx, stop, svc); err != nil {
			slog.Warn("Console preview disabled", "error", err)
		}
	}

	slog.Info("vidille ready",
		"telnet_port", cfg.Port,
		"http_port", cfg.HTTPPort,
		"media", cfg.MediaFile,
		"max_clients", cfg.MaxClients,
		"sinks", dispatcher.Sinks())

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case runErr = <-errCh:
		slog.Error("Server failed, shutting down", "error", runErr)
		stop()
	}

	shutdown(cfg.ShutdownTimeout, admin, svc)
	servers.Wait()
	return runErr
}

// setupDecoder opens the media file and decodes one frame so that an unreadable file
// fails at startup rather than on the first connection.
func setupDecoder(ctx context.Context, cfg *config.Config) (domain.Decoder, error) {
	decoder, err := decode.Open(decode.Options{
		Kind:       cfg.MediaDecoder,
		Path:       cfg.MediaFile,
		Width:      cfg.DecodeWidth,
		Height:     cfg.DecodeHeight,
		FFmpegPath: cfg.FFmpegPath,
	})
	if err != nil {
		return nil, err
	}

	if _, err := decoder.Next(ctx); err != nil {
		_ = decoder.Close()
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrUnsupportedMedia, cfg.MediaFile, err)
	}
	if err := decoder.Rewind(); err != nil {
		_ = decoder.Close()
		return nil, fmt.Errorf("rewind %s: %w", cfg.MediaFile, err)
	}
	return decoder, nil
}

// setupSinks connects the optional event publishers. A sink that cannot be reached is
// logged and left out.
func setupSinks(ctx context.Context, cfg *config.Config) ([]eventpublisher.Sink, []httpserver.HealthCheck, []closer) {
	var (
		sinks   []eventpublisher.Sink
		checks  []httpserver.HealthCheck
		closers []closer
	)
	policy := startupPolicy()

	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(ctx, cfg.RedisURL, policy)
		if err != nil {
			slog.Warn("Redis publisher disabled", "error", err)
		} else {
			pub := redis.NewPublisher(rdb, cfg.RedisChannel, redis.DefaultViewersKey)
			sinks = append(sinks, eventpublisher.Sink{Name: "redis", Publisher: pub})
			checks = append(checks, httpserver.HealthCheck{Name: "redis", Check: pub.Ping})
			closers = append(closers, closer{name: "redis", close: rdb.Close})
			slog.Info("Redis publisher enabled", "channel", cfg.RedisChannel)
		}
	}

	if cfg.MQTTBroker != "" {
		pub, err := mqtt.Connect(ctx, mqtt.Options{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			Encoding: cfg.MQTTEncoding,
		}, policy)
		if err != nil {
			slog.Warn("MQTT publisher disabled", "error", err)
		} else {
			sinks = append(sinks, eventpublisher.Sink{Name: "mqtt", Publisher: pub})
			checks = append(checks, httpserver.HealthCheck{Name: "mqtt", Check: pub.Ping})
			closers = append(closers, closer{name: "mqtt", close: func() error { pub.Close(); return nil }})
			slog.Info("MQTT publisher enabled", "broker", cfg.MQTTBroker, "topic", cfg.MQTTTopic)
		}
	}

	return sinks, checks, closers
}

// setupHistory opens the configured session history store, falling back to the
// in-memory ring when a database cannot be reached.
func setupHistory(ctx context.Context, cfg *config.Config) (domain.SessionHistory, []httpserver.HealthCheck, []closer) {
	kind, dsn, _ := cfg.History()
	fallback := history.NewMemory(cfg.HistorySize)

	switch kind {
	case "sqlite":
		h, err := sqlite.Open(ctx, dsn)
		if err != nil {
			slog.Warn("SQLite history unavailable, keeping history in memory", "path", dsn, "error", err)
			return fallback, nil, nil
		}
		slog.Info("Session history in SQLite", "path", dsn)
		return h, []httpserver.HealthCheck{{Name: "history", Check: h.Ping}}, []closer{{name: "sqlite", close: h.Close}}

	case "postgres":
		pool, err := postgres.Connect(ctx, dsn, startupPolicy())
		if err != nil {
			slog.Warn("Postgres history unavailable, keeping history in memory", "error", err)
			return fallback, nil, nil
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			slog.Warn("Postgres migrations failed, keeping history in memory", "error", err)
			return fallback, nil, nil
		}
		h := postgres.NewHistory(pool)
		slog.Info("Session history in Postgres")
		return h, []httpserver.HealthCheck{{Name: "history", Check: h.Ping}}, []closer{{name: "postgres", close: func() error { pool.Close(); return nil }}}

	default:
		return fallback, nil, nil
	}
}

func setupAdminServer(cfg *config.Config, svc *app.Service, checks []httpserver.HealthCheck) *httpserver.Server {
	ws := websocket.NewEndpoint(svc, websocket.Options{
		DefaultWidth:   cfg.DefaultWidth,
		DefaultHeight:  cfg.DefaultHeight,
		MaxWidth:       cfg.MaxWidth,
		MaxHeight:      cfg.MaxHeight,
		WriteTimeout:   cfg.WriteTimeout,
		AllowedOrigins: cfg.AllowedOrigins(),
	})
	return httpserver.NewServer(svc, httpserver.Options{
		HealthChecks: checks,
		WebSocket:    ws.Handle,
		APIRate:      apiRatePerSec,
		APIBurst:     apiBurst,
		HistoryLimit: cfg.HistorySize,
	})
}

// startConsole runs a preview session on the local terminal. Quitting the preview
// stops the server.
func startConsole(ctx context.Context, stop context.CancelFunc, svc *app.Service) error {
	con, err := console.Open()
	if err != nil {
		return err
	}
	go func() {
		defer stop()
		if err := svc.Serve(ctx, con, app.ServeOptions{Transport: "console"}); err != nil {
			_ = con.Close()
			slog.Warn("Console session rejected", "error", err)
		}
	}()
	return nil
}

func startupPolicy() retry.Policy {
	policy := retry.DefaultPolicy
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Connection attempt failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}
	return policy
}

// shutdown stops the admin server and waits for open sessions to finish, bounded by
// timeout. Listener contexts are already cancelled when it runs.
func shutdown(timeout time.Duration, admin *httpserver.Server, svc *app.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if admin != nil {
		if err := admin.Shutdown(ctx); err != nil {
			slog.Error("Admin server shutdown error", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("All sessions closed")
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Warn("Shutdown timed out with sessions still open", "timeout", timeout)
		}
	}
}
