// Package transport delivers encoded room events to a single connection.
package transport

import (
	"context"
	"errors"
)

// ErrGone marks a connection the far end has already closed. Any other
// delivery error is transient: the frame is lost but the connection may live.
var ErrGone = errors.New("connection gone")

// Sender delivers payload to one connection
type Sender interface {
	Deliver(ctx context.Context, connID string, payload []byte) error
}

// IsGone reports whether err means the target connection no longer exists
func IsGone(err error) bool { return errors.Is(err, ErrGone) }
