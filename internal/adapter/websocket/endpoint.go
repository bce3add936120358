// Package websocket serves the broadcast to browser terminals over WebSocket.
package websocket

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/prehensile/vidille/internal/app"
	"github.com/prehensile/vidille/internal/domain"
	apperrors "github.com/prehensile/vidille/internal/errors"
)

// Handler runs one connection to completion.
type Handler interface {
	Serve(ctx context.Context, term domain.Terminal, opts app.ServeOptions) error
}

type Options struct {
	DefaultWidth   int
	DefaultHeight  int
	MaxWidth       int
	MaxHeight      int
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// Endpoint upgrades /ws requests and hands the connection to the service.
type Endpoint struct {
	handler  Handler
	opts     Options
	upgrader websocket.Upgrader
}

func NewEndpoint(handler Handler, opts Options) *Endpoint {
	return &Endpoint{
		handler: handler,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessage,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     NewCheckOrigin(opts.AllowedOrigins),
		},
	}
}

type connectParams struct {
	cols     int
	rows     int
	interval time.Duration
}

// Handle serves GET /ws?cols=&rows=&fps=. All parameters are optional.
func (e *Endpoint) Handle(c echo.Context) error {
	params, err := e.parse(c)
	if err != nil {
		return err
	}

	ws, err := e.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already replied
		slog.Debug("WebSocket upgrade failed", "remote", c.Request().RemoteAddr, "error", err)
		return nil
	}

	conn := newConn(ws, e.opts, params.cols, params.rows)
	defer func() { _ = conn.Close() }()
	go conn.readLoop()

	err = e.handler.Serve(c.Request().Context(), conn, app.ServeOptions{
		Transport: transportName,
		Interval:  params.interval,
	})
	if err != nil {
		slog.Debug("WebSocket connection rejected", "remote", conn.RemoteAddr(), "error", err)
	}
	return nil
}

func (e *Endpoint) parse(c echo.Context) (connectParams, error) {
	params := connectParams{cols: e.opts.DefaultWidth, rows: e.opts.DefaultHeight}

	var err error
	if params.cols, err = dimension(c.QueryParam("cols"), "cols", e.opts.DefaultWidth, e.opts.MaxWidth); err != nil {
		return params, err
	}
	if params.rows, err = dimension(c.QueryParam("rows"), "rows", e.opts.DefaultHeight, e.opts.MaxHeight); err != nil {
		return params, err
	}

	if raw := c.QueryParam("fps"); raw != "" {
		fps, perr := strconv.ParseFloat(raw, 64)
		if perr != nil || fps <= 0 || math.IsInf(fps, 0) || math.IsNaN(fps) {
			return params, apperrors.ValidationError("fps must be a positive number").WithContext("fps", raw)
		}
		params.interval = time.Duration(float64(time.Second) / fps)
	}
	return params, nil
}

func dimension(raw, name string, def, maximum int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, apperrors.ValidationError(name+" must be a positive integer").WithContext(name, raw)
	}
	return min(v, maximum), nil
}
