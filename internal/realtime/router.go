package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agustinlozano/ur-partner-realtime/internal/directory"
	"github.com/agustinlozano/ur-partner-realtime/internal/room"
	"github.com/agustinlozano/ur-partner-realtime/pkg/metrics"
)

// ErrNotSlotHolder rejects a mutation sent by a connection that no longer
// holds the slot it names, e.g. a socket evicted by a newer one
var ErrNotSlotHolder = errors.New("sender does not hold the slot")

// Broadcaster is the fan-out half of the engine, split out for the router
type Broadcaster interface {
	Broadcast(ctx context.Context, roomID string, payload []byte, exclude string) error
}

// policy says what an event kind does before and during relay
type policy struct {
	mutate  func(ctx context.Context, r *Rooms, ev room.Event) error
	exclude bool // keep the sender out of the fan-out
}

var policies = map[room.Kind]policy{
	room.KindGetIn: {exclude: true},
	room.KindSay:   {exclude: true},
	room.KindPing:  {exclude: true},
	room.KindLeave: {exclude: true, mutate: func(ctx context.Context, r *Rooms, ev room.Event) error {
		return r.SetPresence(ctx, ev.RoomID, ev.Slot, false)
	}},
	room.KindCategoryFixed: {exclude: true, mutate: func(ctx context.Context, r *Rooms, ev room.Event) error {
		return r.FixCategory(ctx, ev.RoomID, ev.Slot, ev.Category)
	}},
	room.KindCategoryCompleted: {exclude: true, mutate: func(ctx context.Context, r *Rooms, ev room.Event) error {
		return r.AddCompletedCategory(ctx, ev.RoomID, ev.Slot, ev.Category)
	}},
	room.KindCategoryUncompleted: {exclude: true, mutate: func(ctx context.Context, r *Rooms, ev room.Event) error {
		return r.RemoveCompletedCategory(ctx, ev.RoomID, ev.Slot, ev.Category)
	}},
	room.KindIsReady: {exclude: true, mutate: func(ctx context.Context, r *Rooms, ev room.Event) error {
		return r.SetReady(ctx, ev.RoomID, ev.Slot)
	}},
	room.KindNotReady: {exclude: true, mutate: func(ctx context.Context, r *Rooms, ev room.Event) error {
		return r.SetNotReady(ctx, ev.RoomID, ev.Slot)
	}},
	// unrecognised types reach everyone, sender included, untouched
	room.KindUnknown: {},
}

// Router applies an inbound event: state change first, relay second
type Router struct {
	rooms *Rooms
	bc    Broadcaster
	dir   directory.Directory
	log   *slog.Logger
}

func NewRouter(rooms *Rooms, bc Broadcaster, dir directory.Directory, log *slog.Logger) *Router {
	return &Router{rooms: rooms, bc: bc, dir: dir, log: log}
}

// Dispatch handles ev sent by connID. A failed mutation aborts before any
// peer is told about it; the relayed bytes are the event exactly as received.
func (rt *Router) Dispatch(ctx context.Context, connID string, ev room.Event) error {
	p, ok := policies[ev.Kind]
	if !ok {
		// every Kind has a table entry; reaching here is a programming error
		return fmt.Errorf("dispatch: no policy for kind %d", ev.Kind)
	}

	if p.mutate != nil {
		if err := rt.checkHolder(ctx, connID, ev); err != nil {
			return fmt.Errorf("dispatch %s: %w", ev.Type, err)
		}
		if err := p.mutate(ctx, rt.rooms, ev); err != nil {
			metrics.Events.WithLabelValues(ev.Kind.String(), "mutation_failed").Inc()
			return fmt.Errorf("dispatch %s: %w", ev.Type, err)
		}
	}

	exclude := ""
	if p.exclude {
		exclude = connID
	}
	if err := rt.bc.Broadcast(ctx, ev.RoomID, ev.Raw, exclude); err != nil {
		metrics.Events.WithLabelValues(ev.Kind.String(), "broadcast_failed").Inc()
		return fmt.Errorf("dispatch %s: %w", ev.Type, err)
	}
	metrics.Events.WithLabelValues(ev.Kind.String(), "ok").Inc()
	rt.log.Debug("event.dispatched", "type", ev.Type, "room", ev.RoomID, "slot", ev.Slot, "conn", connID)
	return nil
}

// checkHolder lets only the current holder of ev's slot change its state
func (rt *Router) checkHolder(ctx context.Context, connID string, ev room.Event) error {
	holder, err := rt.dir.FindBySlot(ctx, ev.RoomID, ev.Slot)
	if err != nil {
		metrics.Events.WithLabelValues(ev.Kind.String(), "mutation_failed").Inc()
		return err
	}
	if holder == nil || holder.ID != connID {
		metrics.Events.WithLabelValues(ev.Kind.String(), "not_holder").Inc()
		rt.log.Warn("event.not_holder", "type", ev.Type, "room", ev.RoomID, "slot", ev.Slot, "conn", connID)
		return ErrNotSlotHolder
	}
	return nil
}
