package room

import (
	"errors"
	"fmt"
	"strings"
)

// Slot is one of the two participant positions in a room
type Slot string

const (
	SlotA Slot = "a"
	SlotB Slot = "b"
)

var ErrInvalidSlot = errors.New("invalid slot")

// Slots lists both positions in index order
var Slots = [2]Slot{SlotA, SlotB}

// ParseSlot accepts exactly "a" or "b"
func ParseSlot(s string) (Slot, error) {
	switch Slot(s) {
	case SlotA, SlotB:
		return Slot(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSlot, s)
}

func (s Slot) Valid() bool { return s == SlotA || s == SlotB }

// Other returns the peer slot
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// index maps a slot onto the per-slot arrays of Record and the field table.
// Callers must validate the slot first.
func (s Slot) index() int {
	if s == SlotB {
		return 1
	}
	return 0
}

// NormalizeID is the canonical room key shared by the directory and the state store
func NormalizeID(roomID string) string {
	return strings.ToUpper(strings.TrimSpace(roomID))
}
