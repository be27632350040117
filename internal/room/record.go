package room

import (
	"errors"
	"fmt"
	"time"
)

var ErrFieldType = errors.New("field value type mismatch")

// CompletedCategory is one entry of a slot's completed list.
// The JSON shape matches rows written by earlier versions of the service.
type CompletedCategory struct {
	Category    string `json:"category"`
	CompletedAt int64  `json:"value"` // unix millis
}

// SlotState is the realtime state owned by one participant
type SlotState struct {
	Ready         bool                `json:"ready"`
	FixedCategory *string             `json:"fixedCategory,omitempty"`
	Completed     []CompletedCategory `json:"completedCategories"`
	InRoom        bool                `json:"inRoom"`
}

// Record is the persisted state of a room
type Record struct {
	RoomID    string       `json:"roomId"`
	Slots     [2]SlotState `json:"-"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Slot returns the state for s
func (r *Record) Slot(s Slot) *SlotState { return &r.Slots[s.index()] }

// HasCompleted reports whether category is in the list (exact match)
func HasCompleted(list []CompletedCategory, category string) bool {
	for _, c := range list {
		if c.Category == category {
			return true
		}
	}
	return false
}

// Field names one per-slot column of a room record
type Field int

const (
	FieldReadyA Field = iota
	FieldReadyB
	FieldFixedCategoryA
	FieldFixedCategoryB
	FieldCompletedA
	FieldCompletedB
	FieldInRoomA
	FieldInRoomB

	fieldCount
)

// Kind of value a field holds
type FieldKind int

const (
	KindBool FieldKind = iota
	KindString
	KindCompleted
)

type fieldInfo struct {
	slot Slot
	kind FieldKind
	name string
}

var fieldTable = [fieldCount]fieldInfo{
	FieldReadyA:         {SlotA, KindBool, "ready_a"},
	FieldReadyB:         {SlotB, KindBool, "ready_b"},
	FieldFixedCategoryA: {SlotA, KindString, "fixed_category_a"},
	FieldFixedCategoryB: {SlotB, KindString, "fixed_category_b"},
	FieldCompletedA:     {SlotA, KindCompleted, "completed_categories_a"},
	FieldCompletedB:     {SlotB, KindCompleted, "completed_categories_b"},
	FieldInRoomA:        {SlotA, KindBool, "in_room_a"},
	FieldInRoomB:        {SlotB, KindBool, "in_room_b"},
}

func (f Field) Valid() bool     { return f >= 0 && f < fieldCount }
func (f Field) Slot() Slot      { return fieldTable[f].slot }
func (f Field) Kind() FieldKind { return fieldTable[f].kind }
func (f Field) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldTable[f].name
}

// AllFields lists every field in declaration order
func AllFields() []Field {
	out := make([]Field, 0, fieldCount)
	for f := Field(0); f < fieldCount; f++ {
		out = append(out, f)
	}
	return out
}

// SlotFields groups the fields owned by one slot
type SlotFields struct {
	Ready         Field
	FixedCategory Field
	Completed     Field
	InRoom        Field
}

var slotFields = [2]SlotFields{
	{Ready: FieldReadyA, FixedCategory: FieldFixedCategoryA, Completed: FieldCompletedA, InRoom: FieldInRoomA},
	{Ready: FieldReadyB, FixedCategory: FieldFixedCategoryB, Completed: FieldCompletedB, InRoom: FieldInRoomB},
}

// FieldsOf returns the field table entry for s. s must be valid.
func FieldsOf(s Slot) SlotFields { return slotFields[s.index()] }

// Assignment sets one field to a value
type Assignment struct {
	Field Field
	Value any
}

// Patch is an ordered set of field assignments applied in one store call
type Patch []Assignment

func SetBool(f Field, v bool) Assignment { return Assignment{Field: f, Value: v} }
func SetString(f Field, v string) Assignment { return Assignment{Field: f, Value: v} }
func SetCompleted(f Field, v []CompletedCategory) Assignment {
	if v == nil {
		v = []CompletedCategory{}
	}
	return Assignment{Field: f, Value: v}
}

// Check verifies every assignment holds a value of its field's kind
func (a Assignment) Check() error {
	if !a.Field.Valid() {
		return fmt.Errorf("%w: %s", ErrFieldType, a.Field)
	}
	ok := false
	switch a.Field.Kind() {
	case KindBool:
		_, ok = a.Value.(bool)
	case KindString:
		_, ok = a.Value.(string)
	case KindCompleted:
		_, ok = a.Value.([]CompletedCategory)
	}
	if !ok {
		return fmt.Errorf("%w: %s got %T", ErrFieldType, a.Field, a.Value)
	}
	return nil
}

// Apply writes the assignment into rec. Check must have passed.
func (a Assignment) Apply(rec *Record) {
	st := rec.Slot(a.Field.Slot())
	fs := FieldsOf(a.Field.Slot())
	switch a.Field {
	case fs.Ready:
		st.Ready = a.Value.(bool)
	case fs.FixedCategory:
		v := a.Value.(string)
		st.FixedCategory = &v
	case fs.Completed:
		st.Completed = append([]CompletedCategory(nil), a.Value.([]CompletedCategory)...)
	case fs.InRoom:
		st.InRoom = a.Value.(bool)
	}
}
