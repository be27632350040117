package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agustinlozano/ur-partner-realtime/internal/room"
	"github.com/agustinlozano/ur-partner-realtime/internal/store"
)

// Rooms applies the room state transitions. Each call returns once the store
// has acknowledged the write; store failures are returned, never swallowed.
//
// AddCompletedCategory and RemoveCompletedCategory read then write the list
// without a compare-and-swap. Two writers racing on the same slot's list can
// lose an update; a slot is only written by its own participant, so this is
// accepted rather than locked around.
type Rooms struct {
	store store.RoomStore
	log   *slog.Logger
	now   func() time.Time
}

func NewRooms(s store.RoomStore, log *slog.Logger) *Rooms {
	return &Rooms{store: s, log: log, now: time.Now}
}

func (r *Rooms) patch(ctx context.Context, op, roomID string, p room.Patch) error {
	if err := r.store.UpsertPatch(ctx, roomID, p); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func checkSlot(op string, slot room.Slot) error {
	if !slot.Valid() {
		return fmt.Errorf("%s: %w: %q", op, room.ErrInvalidSlot, slot)
	}
	return nil
}

// SetPresence marks the slot's participant as in or out of the room
func (r *Rooms) SetPresence(ctx context.Context, roomID string, slot room.Slot, in bool) error {
	if err := checkSlot("set presence", slot); err != nil {
		return err
	}
	err := r.patch(ctx, "set presence", roomID, room.Patch{room.SetBool(room.FieldsOf(slot).InRoom, in)})
	if err == nil {
		r.log.Info("room.presence", "room", roomID, "slot", slot, "in_room", in)
	}
	return err
}

func (r *Rooms) SetReady(ctx context.Context, roomID string, slot room.Slot) error {
	return r.setReady(ctx, roomID, slot, true)
}

func (r *Rooms) SetNotReady(ctx context.Context, roomID string, slot room.Slot) error {
	return r.setReady(ctx, roomID, slot, false)
}

func (r *Rooms) setReady(ctx context.Context, roomID string, slot room.Slot, v bool) error {
	if err := checkSlot("set ready", slot); err != nil {
		return err
	}
	err := r.patch(ctx, "set ready", roomID, room.Patch{room.SetBool(room.FieldsOf(slot).Ready, v)})
	if err == nil {
		r.log.Info("room.ready", "room", roomID, "slot", slot, "ready", v)
	}
	return err
}

// FixCategory overwrites the slot's fixed category
func (r *Rooms) FixCategory(ctx context.Context, roomID string, slot room.Slot, category string) error {
	if err := checkSlot("fix category", slot); err != nil {
		return err
	}
	err := r.patch(ctx, "fix category", roomID, room.Patch{room.SetString(room.FieldsOf(slot).FixedCategory, category)})
	if err == nil {
		r.log.Info("room.category.fixed", "room", roomID, "slot", slot, "category", category)
	}
	return err
}

// AddCompletedCategory appends category with the current time unless it is
// already listed, in which case the first completion time is kept and nothing is written.
func (r *Rooms) AddCompletedCategory(ctx context.Context, roomID string, slot room.Slot, category string) error {
	if err := checkSlot("add completed", slot); err != nil {
		return err
	}
	field := room.FieldsOf(slot).Completed
	list, err := r.completed(ctx, roomID, slot, field)
	if err != nil {
		return fmt.Errorf("add completed: %w", err)
	}
	if room.HasCompleted(list, category) {
		r.log.Debug("room.category.exists", "room", roomID, "slot", slot, "category", category)
		return nil
	}

	list = append(list, room.CompletedCategory{Category: category, CompletedAt: r.now().UnixMilli()})
	if err := r.patch(ctx, "add completed", roomID, room.Patch{room.SetCompleted(field, list)}); err != nil {
		return err
	}
	r.log.Info("room.category.completed", "room", roomID, "slot", slot, "category", category, "count", len(list))
	return nil
}

// RemoveCompletedCategory drops category from the list; absent categories write nothing
func (r *Rooms) RemoveCompletedCategory(ctx context.Context, roomID string, slot room.Slot, category string) error {
	if err := checkSlot("remove completed", slot); err != nil {
		return err
	}
	field := room.FieldsOf(slot).Completed
	list, err := r.completed(ctx, roomID, slot, field)
	if err != nil {
		return fmt.Errorf("remove completed: %w", err)
	}

	kept := make([]room.CompletedCategory, 0, len(list))
	for _, c := range list {
		if c.Category != category {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(list) {
		r.log.Debug("room.category.absent", "room", roomID, "slot", slot, "category", category)
		return nil
	}

	if err := r.patch(ctx, "remove completed", roomID, room.Patch{room.SetCompleted(field, kept)}); err != nil {
		return err
	}
	r.log.Info("room.category.uncompleted", "room", roomID, "slot", slot, "category", category, "count", len(kept))
	return nil
}

func (r *Rooms) completed(ctx context.Context, roomID string, slot room.Slot, field room.Field) ([]room.CompletedCategory, error) {
	rec, err := r.store.GetRoomFields(ctx, roomID, field)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return rec.Slot(slot).Completed, nil
}

// Get returns the full room record, nil when the room does not exist yet
func (r *Rooms) Get(ctx context.Context, roomID string) (*room.Record, error) {
	rec, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return rec, nil
}
