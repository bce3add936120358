package domain

import "io"

// Terminal is one connected viewer as seen by the broadcast core.
//
// Write delivers bytes to the remote end and fails once the connection is gone. Size reports
// the current window size in character cells and may change over the life of the connection.
// Done is closed when the remote end disconnects.
type Terminal interface {
	io.Writer
	Size() (width, height int)
	Done() <-chan struct{}
	RemoteAddr() string
	Close() error
}
