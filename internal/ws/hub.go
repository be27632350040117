package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agustinlozano/ur-partner-realtime/internal/room"
	"github.com/agustinlozano/ur-partner-realtime/internal/transport"
	"github.com/agustinlozano/ur-partner-realtime/pkg/metrics"
)

// Sessions registers and forgets sockets in the directory
type Sessions interface {
	Connect(ctx context.Context, connID, roomID string, slot room.Slot) error
	Disconnect(ctx context.Context, connID string) error
	Touch(ctx context.Context, connID string) error
}

// Dispatcher applies one inbound event
type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, ev room.Event) error
}

// Hub owns the sockets accepted by this process and delivers to them,
// relaying through the bus for sockets held elsewhere.
type Hub struct {
	log        *slog.Logger
	bus        *RedisBus // nil on a single instance
	queue      int
	touchEvery time.Duration

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub sets up the hub; bus may be nil
func NewHub(logger *slog.Logger, bus *RedisBus, queue int) *Hub {
	return &Hub{log: logger, bus: bus, queue: queue, touchEvery: time.Minute, conns: map[string]*Conn{}}
}

// Run listens to the redis bus and forwards frames to local sockets
func (h *Hub) Run(ctx context.Context) {
	if h.bus == nil {
		<-ctx.Done()
		return
	}
	h.bus.Run(ctx, func(connID string, payload []byte) {
		if err := h.deliverLocal(connID, payload); err != nil {
			h.log.Debug("ws.relay_dropped", "conn", connID, "err", err)
		}
	})
}

// Deliver implements transport.Sender
func (h *Hub) Deliver(ctx context.Context, connID string, payload []byte) error {
	if h.local(connID) != nil || h.bus == nil {
		return h.deliverLocal(connID, payload)
	}
	return h.bus.Relay(ctx, connID, payload)
}

func (h *Hub) deliverLocal(connID string, payload []byte) error {
	c := h.local(connID)
	if c == nil {
		return fmt.Errorf("deliver %s: %w", connID, transport.ErrGone)
	}
	if err := c.Enqueue(payload); err != nil {
		return fmt.Errorf("deliver %s: %w", connID, err)
	}
	return nil
}

func (h *Hub) local(connID string) *Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[connID]
}

func (h *Hub) add(ctx context.Context, c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	metrics.LocalConnections.Inc()
	if h.bus != nil {
		if err := h.bus.Watch(ctx, c.id); err != nil {
			h.log.Error("ws.watch_failed", "conn", c.id, "err", err)
		}
	}
}

func (h *Hub) remove(ctx context.Context, c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	metrics.LocalConnections.Dec()
	if h.bus != nil {
		if err := h.bus.Unwatch(ctx, c.id); err != nil {
			h.log.Warn("ws.unwatch_failed", "conn", c.id, "err", err)
		}
	}
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServeWS handles /ws?roomId=&slot= connections
func (h *Hub) ServeWS(s Sessions, d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		roomID := q.Get("roomId")
		slot, err := room.ParseSlot(q.Get("slot"))
		if roomID == "" || err != nil {
			http.Error(w, "roomId and slot required", http.StatusBadRequest)
			return
		}

		wsc, err := Accept(w, r)
		if err != nil {
			h.log.Error("ws.accept", "err", err)
			return
		}
		ctx := r.Context()
		// cleanup runs after the client is gone
		bg := context.WithoutCancel(ctx)

		c := NewConn(wsc, uuid.NewString(), h.queue)
		h.add(ctx, c)
		go c.WriteLoop(ctx)

		if err := s.Connect(ctx, c.id, roomID, slot); err != nil {
			h.log.Error("ws.connect", "conn", c.id, "room", roomID, "slot", slot, "err", err)
			h.remove(bg, c)
			_ = c.Close()
			return
		}
		go h.keepAlive(ctx, s, c)

		for {
			raw, ok := c.Read(ctx)
			if !ok {
				break
			}
			ev, err := room.ParseEvent(raw)
			if err == nil {
				err = d.Dispatch(ctx, c.id, ev)
			}
			if err != nil {
				h.log.Warn("ws.event_rejected", "conn", c.id, "err", err)
				h.reply(c, err)
			}
		}

		h.remove(bg, c)
		if err := s.Disconnect(bg, c.id); err != nil {
			h.log.Error("ws.disconnect", "conn", c.id, "err", err)
		}
		_ = c.Close()
	}
}

// keepAlive refreshes the directory entry while the socket is open
func (h *Hub) keepAlive(ctx context.Context, s Sessions, c *Conn) {
	t := time.NewTicker(h.touchEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := s.Touch(ctx, c.id); err != nil {
				h.log.Warn("ws.touch_failed", "conn", c.id, "err", err)
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) reply(c *Conn, cause error) {
	b, err := json.Marshal(errorFrame{Type: "error", Message: cause.Error()})
	if err != nil {
		return
	}
	if err := c.Enqueue(b); err != nil {
		h.log.Debug("ws.reply_dropped", "conn", c.id, "err", err)
	}
}

var _ transport.Sender = (*Hub)(nil)
