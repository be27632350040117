// Package directory tracks which live connection occupies which room slot.
//
// The directory is shared by every server instance, so it lives in an external
// store rather than process memory. At most one connection holds a given
// (room, slot) pair; upserting a new holder evicts the previous one.
package directory

import (
	"context"
	"time"

	"github.com/agustinlozano/ur-partner-realtime/internal/room"
)

// Connection is a directory entry
type Connection struct {
	ID        string    `json:"connectionId"`
	RoomID    string    `json:"roomId"`
	Slot      room.Slot `json:"slot"`
	CreatedAt time.Time `json:"createdAt"`
}

// Directory is the keyed connection store. Implementations return storage
// errors to the caller unchanged in meaning; nothing is swallowed here.
type Directory interface {
	// Upsert records connID as the holder of (roomID, slot), evicting any other holder
	Upsert(ctx context.Context, connID, roomID string, slot room.Slot) error
	// Remove deletes connID; absent IDs are not an error
	Remove(ctx context.Context, connID string) error
	// ListByRoom returns every live connection of the room in no particular order
	ListByRoom(ctx context.Context, roomID string) ([]Connection, error)
	// FindBySlot returns the holder of (roomID, slot) or nil
	FindBySlot(ctx context.Context, roomID string, slot room.Slot) (*Connection, error)
	// Touch extends the expiry of a live connection's entries; absent IDs are not an error
	Touch(ctx context.Context, connID string) error
}
