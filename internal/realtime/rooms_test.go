package realtime

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/agustinlozano/ur-partner-realtime/internal/room"
)

func TestSetReadyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.rooms.SetReady(ctx, "R1", room.SlotA); err != nil {
		t.Fatalf("SetReady: %v", err)
	}
	once := f.record(t, "R1").Slots

	if err := f.rooms.SetReady(ctx, "R1", room.SlotA); err != nil {
		t.Fatalf("SetReady again: %v", err)
	}
	twice := f.record(t, "R1").Slots

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("state changed on second SetReady:\n%+v\n%+v", once, twice)
	}
	if !twice[0].Ready || twice[1].Ready {
		t.Fatalf("ready flags = %+v", twice)
	}

	if err := f.rooms.SetNotReady(ctx, "R1", room.SlotA); err != nil {
		t.Fatalf("SetNotReady: %v", err)
	}
	if f.record(t, "R1").Slot(room.SlotA).Ready {
		t.Fatal("slot a should be not ready")
	}
}

func TestSetPresenceCreatesRoom(t *testing.T) {
	f := newFixture(t)
	if err := f.rooms.SetPresence(context.Background(), "fresh", room.SlotB, true); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	rec := f.record(t, "fresh")
	if !rec.Slot(room.SlotB).InRoom || rec.Slot(room.SlotA).InRoom {
		t.Fatalf("presence = %+v", rec.Slots)
	}
}

func TestFixCategoryOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.rooms.FixCategory(ctx, "R1", room.SlotB, "food")
	_ = f.rooms.FixCategory(ctx, "R1", room.SlotB, "music")

	got := f.record(t, "R1").Slot(room.SlotB).FixedCategory
	if got == nil || *got != "music" {
		t.Fatalf("fixed category = %v", got)
	}
	if f.record(t, "R1").Slot(room.SlotA).FixedCategory != nil {
		t.Fatal("slot a must be untouched")
	}
}

func TestAddCompletedCategoryKeepsFirstTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clock := time.UnixMilli(1_000)
	f.rooms.now = func() time.Time { return clock }

	if err := f.rooms.AddCompletedCategory(ctx, "R1", room.SlotA, "x"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	writes := f.store.Writes()

	clock = time.UnixMilli(9_000)
	if err := f.rooms.AddCompletedCategory(ctx, "R1", room.SlotA, "x"); err != nil {
		t.Fatalf("Add again: %v", err)
	}
	if f.store.Writes() != writes {
		t.Fatal("duplicate add must not write")
	}

	list := f.record(t, "R1").Slot(room.SlotA).Completed
	want := []room.CompletedCategory{{Category: "x", CompletedAt: 1_000}}
	if !reflect.DeepEqual(list, want) {
		t.Fatalf("completed = %+v, want %+v", list, want)
	}
}

func TestAddCompletedCategoryPreservesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, c := range []string{"food", "music", "Food"} {
		if err := f.rooms.AddCompletedCategory(ctx, "R1", room.SlotB, c); err != nil {
			t.Fatalf("Add %s: %v", c, err)
		}
	}
	list := f.record(t, "R1").Slot(room.SlotB).Completed
	var names []string
	for _, c := range list {
		names = append(names, c.Category)
	}
	if !reflect.DeepEqual(names, []string{"food", "music", "Food"}) {
		t.Fatalf("order = %v", names)
	}
}

func TestRemoveCompletedCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.rooms.AddCompletedCategory(ctx, "R1", room.SlotA, "a1")
	_ = f.rooms.AddCompletedCategory(ctx, "R1", room.SlotA, "a2")

	if err := f.rooms.RemoveCompletedCategory(ctx, "R1", room.SlotA, "a1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	list := f.record(t, "R1").Slot(room.SlotA).Completed
	if len(list) != 1 || list[0].Category != "a2" {
		t.Fatalf("completed = %+v", list)
	}
}

func TestRemoveAbsentCategoryWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.rooms.AddCompletedCategory(ctx, "R1", room.SlotA, "kept")
	before := f.record(t, "R1")
	writes := f.store.Writes()

	if err := f.rooms.RemoveCompletedCategory(ctx, "R1", room.SlotA, "missing"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if f.store.Writes() != writes {
		t.Fatal("removing an absent category must not write")
	}
	after := f.record(t, "R1")
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("record changed:\n%+v\n%+v", before, after)
	}

	// no room at all: still no write and no room created
	if err := f.rooms.RemoveCompletedCategory(ctx, "nowhere", room.SlotB, "x"); err != nil {
		t.Fatalf("Remove on missing room: %v", err)
	}
	if rec, _ := f.rooms.Get(ctx, "nowhere"); rec != nil {
		t.Fatal("remove must not create a room")
	}
}

func TestMutationFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.store.failing = true

	err := f.rooms.SetReady(context.Background(), "R1", room.SlotA)
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("err = %v, want store error", err)
	}
}

func TestInvalidSlotRejected(t *testing.T) {
	f := newFixture(t)
	err := f.rooms.FixCategory(context.Background(), "R1", room.Slot("c"), "food")
	if !errors.Is(err, room.ErrInvalidSlot) {
		t.Fatalf("err = %v, want ErrInvalidSlot", err)
	}
	if f.store.Writes() != 0 {
		t.Fatal("invalid slot must not reach the store")
	}
}
