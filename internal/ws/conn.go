package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/agustinlozano/ur-partner-realtime/internal/transport"
)

// ErrQueueFull is a transient delivery failure: the socket is alive but slow
var ErrQueueFull = errors.New("ws: send queue full")

const (
	pingEvery    = 20 * time.Second
	writeTimeout = 5 * time.Second
)

type Conn struct {
	id   string
	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

// Accept upgrades HTTP to websocket (allow all origins)
func Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
}

// NewConn wraps an accepted socket with an outbound queue of the given depth
func NewConn(ws *websocket.Conn, id string, queue int) *Conn {
	return &Conn{
		id:   id,
		ws:   ws,
		out:  make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Read blocks until it receives a text/binary message
// Returns false if connection is closed
func (c *Conn) Read(ctx context.Context) ([]byte, bool) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, false
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return data, true
		}
	}
}

// Enqueue hands b to the writer without blocking
func (c *Conn) Enqueue(b []byte) error {
	select {
	case <-c.done:
		return transport.ErrGone
	default:
	}
	select {
	case c.out <- b:
		return nil
	case <-c.done:
		return transport.ErrGone
	default:
		return ErrQueueFull
	}
}

// WriteLoop sends outbound messages + periodic pings.
// Exits when ctx is cancelled, the conn is closed or a write fails.
func (c *Conn) WriteLoop(ctx context.Context) {
	t := time.NewTicker(pingEvery)
	defer t.Stop()

	for {
		select {
		case b := <-c.out:
			if err := c.write(ctx, b); err != nil {
				c.shutdown()
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) write(ctx context.Context, b []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, b)
}

// shutdown marks the conn dead; later Enqueue calls report ErrGone
func (c *Conn) shutdown() { c.once.Do(func() { close(c.done) }) }

// Close closes the WS connection normally
func (c *Conn) Close() error {
	c.shutdown()
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}
