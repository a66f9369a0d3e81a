package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsBuffer     = 64
	writeTimeout = 10 * time.Second
	maxMessage   = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WebSocketConn carries peer messages as binary websocket frames.
type WebSocketConn struct {
	conn *websocket.Conn
	in   chan []byte
	done chan struct{}
	once sync.Once
	log  zerolog.Logger

	// gorilla connections support one concurrent writer.
	writeMu sync.Mutex
}

// Dial connects to a peer or relay listening at url.
func Dial(ctx context.Context, url string, log zerolog.Logger) (*WebSocketConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return newWebSocketConn(conn, log), nil
}

// Upgrade accepts a peer connecting to an HTTP handler.
func Upgrade(w http.ResponseWriter, r *http.Request, log zerolog.Logger) (*WebSocketConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrade: %w", err)
	}
	return newWebSocketConn(conn, log), nil
}

func newWebSocketConn(conn *websocket.Conn, log zerolog.Logger) *WebSocketConn {
	conn.SetReadLimit(maxMessage)
	c := &WebSocketConn{
		conn: conn,
		in:   make(chan []byte, wsBuffer),
		done: make(chan struct{}),
		log:  log.With().Str("component", "transport").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
	go c.readLoop()
	return c
}

func (c *WebSocketConn) readLoop() {
	defer c.shutdown()
	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		select {
		case c.in <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *WebSocketConn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *WebSocketConn) Send(ctx context.Context, msg []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		c.shutdown()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (c *WebSocketConn) Incoming() <-chan []byte {
	return c.in
}

func (c *WebSocketConn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and tears the connection down.
func (c *WebSocketConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}
