package domain

import "errors"

var (
	ErrAtCapacity       = errors.New("server at capacity")
	ErrTooManyFromAddr  = errors.New("too many connections from address")
	ErrRateLimited      = errors.New("connection rate exceeded")
	ErrUnsupportedMedia = errors.New("unsupported media")
	ErrSessionClosed    = errors.New("session closed")
	ErrShuttingDown     = errors.New("server shutting down")
)
