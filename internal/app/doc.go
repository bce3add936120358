// Package app provides the application service layer.
//
// Service runs the connection lifecycle: per-address gating, capacity admission, starting
// the shared frame source for the first viewer and stopping it after the last, running the
// session, and reporting the result to history and event sinks. Transports hand it a
// domain.Terminal and nothing else.
package app
