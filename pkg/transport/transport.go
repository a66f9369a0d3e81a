// Package transport provides the ordered, reliable message link between the
// two peers of a session.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned when sending on a closed link.
var ErrClosed = errors.New("transport: link closed")

// Conn is one end of a peer link. Messages arrive in the order they were
// sent, but nothing is delivered across a disconnect.
type Conn interface {
	// Send queues msg for the peer.
	Send(ctx context.Context, msg []byte) error
	// Incoming yields every message from the peer, in order.
	Incoming() <-chan []byte
	// Done is closed once the link is down, from either side.
	Done() <-chan struct{}
	Close() error
}
