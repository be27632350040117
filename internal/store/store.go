package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agustinlozano/ur-partner-realtime/internal/room"
)

// RoomStore persists room records. Every UpsertPatch is a single statement,
// so concurrent readers never see half of a patch.
type RoomStore interface {
	// GetRoom returns nil, nil when the room does not exist
	GetRoom(ctx context.Context, roomID string) (*room.Record, error)
	// GetRoomFields loads only the named fields; the rest of the record is zero
	GetRoomFields(ctx context.Context, roomID string, fields ...room.Field) (*room.Record, error)
	// UpsertPatch applies the patch, creating the room with defaults first if needed
	UpsertPatch(ctx context.Context, roomID string, patch room.Patch) error
	Ping(ctx context.Context) error
	Close() error
}

// column names match the existing rooms rows
var columns = map[room.Field]string{
	room.FieldReadyA:         "realtime_a_ready",
	room.FieldReadyB:         "realtime_b_ready",
	room.FieldFixedCategoryA: "realtime_a_fixed_category",
	room.FieldFixedCategoryB: "realtime_b_fixed_category",
	room.FieldCompletedA:     "realtime_a_completed_categories",
	room.FieldCompletedB:     "realtime_b_completed_categories",
	room.FieldInRoomA:        "realtime_in_room_a",
	room.FieldInRoomB:        "realtime_in_room_b",
}

type dialect struct {
	name        string
	placeholder func(n int) string
	now         string
}

var (
	postgresDialect = dialect{name: "postgres", placeholder: func(n int) string { return "$" + strconv.Itoa(n) }, now: "NOW()"}
	sqliteDialect   = dialect{name: "sqlite", placeholder: func(int) string { return "?" }, now: "CURRENT_TIMESTAMP"}
)

type rowScanner interface {
	Scan(dest ...any) error
}

// querier is the slice of a driver both backends provide
type querier interface {
	exec(ctx context.Context, sql string, args ...any) error
	queryRow(ctx context.Context, sql string, args ...any) rowScanner
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

// buildUpsert renders one INSERT ... ON CONFLICT statement for the patch.
// Repeated fields keep the last assignment.
func buildUpsert(d dialect, roomID string, patch room.Patch) (string, []any, error) {
	last := map[room.Field]int{}
	for i, a := range patch {
		if err := a.Check(); err != nil {
			return "", nil, err
		}
		last[a.Field] = i
	}

	cols := []string{"room_id"}
	args := []any{roomID}
	for i, a := range patch {
		if last[a.Field] != i {
			continue
		}
		v, err := encodeValue(a)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, columns[a.Field])
		args = append(args, v)
	}

	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = d.placeholder(i + 1)
	}
	set := make([]string, 0, len(cols))
	for _, c := range cols[1:] {
		set = append(set, c+" = excluded."+c)
	}
	set = append(set, "updated_at = "+d.now)

	q := "INSERT INTO rooms (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(ph, ", ") + ")" +
		" ON CONFLICT (room_id) DO UPDATE SET " + strings.Join(set, ", ")
	return q, args, nil
}

func encodeValue(a room.Assignment) (any, error) {
	if a.Field.Kind() != room.KindCompleted {
		return a.Value, nil
	}
	b, err := json.Marshal(a.Value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", a.Field, err)
	}
	return string(b), nil
}

func buildSelect(d dialect, fields []room.Field) string {
	cols := []string{"room_id"}
	for _, f := range fields {
		cols = append(cols, columns[f])
	}
	cols = append(cols, "created_at", "updated_at")
	return "SELECT " + strings.Join(cols, ", ") + " FROM rooms WHERE room_id = " + d.placeholder(1)
}

// scan target for one field
type cell struct {
	field room.Field
	b     bool
	s     sql.NullString
	raw   []byte
}

func (c *cell) dest() any {
	switch c.field.Kind() {
	case room.KindBool:
		return &c.b
	case room.KindString:
		return &c.s
	}
	return &c.raw
}

func (c *cell) into(rec *room.Record) error {
	st := rec.Slot(c.field.Slot())
	fs := room.FieldsOf(c.field.Slot())
	switch c.field {
	case fs.Ready:
		st.Ready = c.b
	case fs.InRoom:
		st.InRoom = c.b
	case fs.FixedCategory:
		if c.s.Valid {
			v := c.s.String
			st.FixedCategory = &v
		}
	case fs.Completed:
		st.Completed = []room.CompletedCategory{}
		if len(c.raw) > 0 {
			if err := json.Unmarshal(c.raw, &st.Completed); err != nil {
				return fmt.Errorf("decode %s: %w", c.field, err)
			}
		}
	}
	return nil
}

func getRoom(ctx context.Context, q querier, d dialect, roomID string, fields []room.Field) (*room.Record, error) {
	for _, f := range fields {
		if !f.Valid() {
			return nil, fmt.Errorf("%w: %s", room.ErrFieldType, f)
		}
	}
	roomID = room.NormalizeID(roomID)

	var rec room.Record
	cells := make([]cell, len(fields))
	dest := []any{&rec.RoomID}
	for i, f := range fields {
		cells[i].field = f
		dest = append(dest, cells[i].dest())
	}
	var created, updated time.Time
	dest = append(dest, &created, &updated)

	if err := q.queryRow(ctx, buildSelect(d, fields), roomID).Scan(dest...); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	for i := range cells {
		if err := cells[i].into(&rec); err != nil {
			return nil, fmt.Errorf("get room %s: %w", roomID, err)
		}
	}
	rec.CreatedAt, rec.UpdatedAt = created.UTC(), updated.UTC()
	return &rec, nil
}

func upsertPatch(ctx context.Context, q querier, d dialect, roomID string, patch room.Patch) error {
	if len(patch) == 0 {
		return nil
	}
	roomID = room.NormalizeID(roomID)
	stmt, args, err := buildUpsert(d, roomID, patch)
	if err != nil {
		return fmt.Errorf("upsert room %s: %w", roomID, err)
	}
	if err := q.exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert room %s: %w", roomID, err)
	}
	return nil
}
