package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agustinlozano/ur-partner-realtime/internal/directory"
	"github.com/agustinlozano/ur-partner-realtime/internal/room"
)

// Lifecycle records sockets opening and closing
type Lifecycle struct {
	dir   directory.Directory
	rooms *Rooms
	log   *slog.Logger
}

func NewLifecycle(dir directory.Directory, rooms *Rooms, log *slog.Logger) *Lifecycle {
	return &Lifecycle{dir: dir, rooms: rooms, log: log}
}

// Connect registers connID as the holder of (roomID, slot) and marks the slot
// present. Presence is advisory here: a store failure is logged, the
// connection stays registered, and the client's get_in/leave events keep it accurate.
func (l *Lifecycle) Connect(ctx context.Context, connID, roomID string, slot room.Slot) error {
	if err := l.dir.Upsert(ctx, connID, roomID, slot); err != nil {
		return fmt.Errorf("connect %s: %w", connID, err)
	}
	if err := l.rooms.SetPresence(ctx, roomID, slot, true); err != nil {
		l.log.Error("connect.presence_failed", "conn", connID, "room", roomID, "slot", slot, "err", err)
	}
	l.log.Info("connect", "conn", connID, "room", roomID, "slot", slot)
	return nil
}

// Disconnect forgets connID. Presence is left to the explicit leave event.
func (l *Lifecycle) Disconnect(ctx context.Context, connID string) error {
	if err := l.dir.Remove(ctx, connID); err != nil {
		return fmt.Errorf("disconnect %s: %w", connID, err)
	}
	l.log.Info("disconnect", "conn", connID)
	return nil
}

// Touch keeps a live connection's directory entry from expiring
func (l *Lifecycle) Touch(ctx context.Context, connID string) error {
	if err := l.dir.Touch(ctx, connID); err != nil {
		return fmt.Errorf("touch %s: %w", connID, err)
	}
	return nil
}
