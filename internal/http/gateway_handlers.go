package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/agustinlozano/ur-partner-realtime/internal/realtime"
	"github.com/agustinlozano/ur-partner-realtime/internal/room"
	"github.com/agustinlozano/ur-partner-realtime/pkg/auth"
)

// ConnHeader carries the managed gateway's connection ID
const ConnHeader = "X-Connection-Id"

// max inbound event size
const maxEventBytes = 64 << 10

type Sessions interface {
	Connect(ctx context.Context, connID, roomID string, slot room.Slot) error
	Disconnect(ctx context.Context, connID string) error
	Touch(ctx context.Context, connID string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, ev room.Event) error
}

// GatewayAPI receives socket lifecycle and message callbacks from a gateway
// that owns the sockets itself
type GatewayAPI struct {
	Sessions Sessions
	Events   Dispatcher
	Log      *slog.Logger
}

// Connect handles POST /gateway/connect?roomId=&slot=
func (a *GatewayAPI) Connect(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(ConnHeader)
	roomID := r.URL.Query().Get("roomId")
	slot, err := room.ParseSlot(r.URL.Query().Get("slot"))
	if connID == "" || roomID == "" || err != nil {
		http.Error(w, "Missing or invalid connection params.", http.StatusBadRequest)
		return
	}
	if err := a.Sessions.Connect(r.Context(), connID, roomID, slot); err != nil {
		a.Log.Error("gateway.connect", "conn", connID, "room", roomID, "slot", slot, "err", err)
		http.Error(w, "Failed to save connection.", http.StatusInternalServerError)
		return
	}
	a.Log.Debug("gateway.connect", "conn", connID, "room", roomID, "slot", slot, "caller", auth.Subject(r.Context()))
	writeText(w, "Connected.")
}

// Disconnect handles POST /gateway/disconnect
func (a *GatewayAPI) Disconnect(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(ConnHeader)
	if connID == "" {
		http.Error(w, "Missing connectionId.", http.StatusBadRequest)
		return
	}
	if err := a.Sessions.Disconnect(r.Context(), connID); err != nil {
		a.Log.Error("gateway.disconnect", "conn", connID, "err", err)
		http.Error(w, "Failed to delete connection.", http.StatusInternalServerError)
		return
	}
	writeText(w, "Disconnected.")
}

// Message handles POST /gateway/message; the body is the raw event
func (a *GatewayAPI) Message(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(ConnHeader)
	if connID == "" {
		http.Error(w, "Missing connectionId.", http.StatusBadRequest)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		http.Error(w, "Invalid JSON body.", http.StatusBadRequest)
		return
	}
	ev, err := room.ParseEvent(raw)
	if err != nil {
		a.Log.Warn("gateway.message.invalid", "conn", connID, "err", err)
		http.Error(w, "Invalid JSON body.", http.StatusBadRequest)
		return
	}
	// every message proves the gateway still holds the socket
	if err := a.Sessions.Touch(r.Context(), connID); err != nil {
		a.Log.Warn("gateway.touch_failed", "conn", connID, "err", err)
	}
	if err := a.Events.Dispatch(r.Context(), connID, ev); err != nil {
		if errors.Is(err, realtime.ErrNotSlotHolder) {
			http.Error(w, "Slot held by another connection.", http.StatusForbidden)
			return
		}
		a.Log.Error("gateway.message", "conn", connID, "type", ev.Type, "err", err)
		http.Error(w, "Failed to process message.", http.StatusInternalServerError)
		return
	}
	writeText(w, "Message processed.")
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s)
}
