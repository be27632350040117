package room

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidEvent = errors.New("invalid event")

// Kind is the closed set of inbound event types
type Kind int

const (
	KindUnknown Kind = iota
	KindGetIn
	KindSay
	KindPing
	KindLeave
	KindCategoryFixed
	KindCategoryCompleted
	KindCategoryUncompleted
	KindIsReady
	KindNotReady

	kindCount
)

var kindNames = map[string]Kind{
	"get_in":               KindGetIn,
	"say":                  KindSay,
	"ping":                 KindPing,
	"leave":                KindLeave,
	"category_fixed":       KindCategoryFixed,
	"category_completed":   KindCategoryCompleted,
	"category_uncompleted": KindCategoryUncompleted,
	"is_ready":             KindIsReady,
	"not_ready":            KindNotReady,
}

// Kinds lists every kind, KindUnknown included
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// KindOf maps a wire type onto a Kind; unrecognised values are KindUnknown
func KindOf(typ string) Kind {
	if k, ok := kindNames[typ]; ok {
		return k
	}
	return KindUnknown
}

func (k Kind) String() string {
	for name, v := range kindNames {
		if v == k {
			return name
		}
	}
	return "unknown"
}

// NeedsSlot reports whether the kind mutates slot state
func (k Kind) NeedsSlot() bool {
	switch k {
	case KindLeave, KindCategoryFixed, KindCategoryCompleted, KindCategoryUncompleted, KindIsReady, KindNotReady:
		return true
	}
	return false
}

// NeedsCategory reports whether the kind carries a category payload
func (k Kind) NeedsCategory() bool {
	switch k {
	case KindCategoryFixed, KindCategoryCompleted, KindCategoryUncompleted:
		return true
	}
	return false
}

// Event is one inbound message. Raw is relayed to peers byte for byte.
type Event struct {
	Kind     Kind
	Type     string
	RoomID   string
	Slot     Slot
	Category string
	Progress *float64
	Message  string
	Payload  json.RawMessage
	Raw      []byte
}

type envelope struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId"`
	Slot     string          `json:"slot"`
	Category string          `json:"category,omitempty"`
	Progress *float64        `json:"progress,omitempty"`
	Message  string          `json:"message,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ParseEvent decodes a wire envelope
func ParseEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if env.RoomID == "" {
		return Event{}, fmt.Errorf("%w: roomId required", ErrInvalidEvent)
	}

	ev := Event{
		Kind:     KindOf(env.Type),
		Type:     env.Type,
		RoomID:   env.RoomID,
		Slot:     Slot(env.Slot),
		Category: env.Category,
		Progress: env.Progress,
		Message:  env.Message,
		Payload:  env.Payload,
		Raw:      append([]byte(nil), raw...),
	}
	// relay-only kinds may omit the slot but never carry a bad one
	if (ev.Kind.NeedsSlot() || env.Slot != "") && !ev.Slot.Valid() {
		return Event{}, fmt.Errorf("%w: %s: %w", ErrInvalidEvent, env.Type, ErrInvalidSlot)
	}
	if ev.Kind.NeedsCategory() && ev.Category == "" {
		return Event{}, fmt.Errorf("%w: %s: category required", ErrInvalidEvent, env.Type)
	}
	return ev, nil
}
