package transport

import (
	"context"
	"sync"
)

const pipeBuffer = 64

// pipe is the shared state of both ends of an in-memory link.
type pipe struct {
	done chan struct{}
	once sync.Once
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

// PipeConn is one end of an in-memory link.
type PipeConn struct {
	pipe *pipe
	in   chan []byte
	peer *PipeConn
}

// Pipe returns the two ends of an in-memory link. Closing either end takes
// the link down for both.
func Pipe() (*PipeConn, *PipeConn) {
	p := &pipe{done: make(chan struct{})}
	a := &PipeConn{pipe: p, in: make(chan []byte, pipeBuffer)}
	b := &PipeConn{pipe: p, in: make(chan []byte, pipeBuffer)}
	a.peer, b.peer = b, a
	return a, b
}

func (c *PipeConn) Send(ctx context.Context, msg []byte) error {
	select {
	case <-c.pipe.done:
		return ErrClosed
	default:
	}
	buf := append([]byte(nil), msg...)
	select {
	case c.peer.in <- buf:
		return nil
	case <-c.pipe.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *PipeConn) Incoming() <-chan []byte {
	return c.in
}

func (c *PipeConn) Done() <-chan struct{} {
	return c.pipe.done
}

func (c *PipeConn) Close() error {
	c.pipe.close()
	return nil
}
