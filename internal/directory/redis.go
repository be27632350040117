package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agustinlozano/ur-partner-realtime/internal/room"
	"github.com/agustinlozano/ur-partner-realtime/pkg/metrics"
)

// deletes KEYS[1] only while it still names ARGV[1]
const releaseSlot = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

// extends KEYS[1] by ARGV[2] ms only while it still names ARGV[1]
const touchSlot = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) end return 0`

// Redis keeps the directory in three key families:
//
//	conn:{id}             hash  room_id, slot, created_at
//	room:{ROOM}:slot:{s}  string holder connection ID
//	room:{ROOM}:conns     set   connection IDs of the room
type Redis struct {
	rdb redis.UniversalClient
	log *slog.Logger
	ttl time.Duration
	now func() time.Time
}

// NewRedis builds a directory on an existing client. ttl <= 0 disables expiry.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration, log *slog.Logger) *Redis {
	return &Redis{rdb: rdb, log: log, ttl: ttl, now: time.Now}
}

func connKey(id string) string { return "conn:" + id }

func slotKey(roomID string, s room.Slot) string { return "room:" + roomID + ":slot:" + string(s) }

func roomKey(roomID string) string { return "room:" + roomID + ":conns" }

// Upsert replaces the slot holder with connID
func (d *Redis) Upsert(ctx context.Context, connID, roomID string, slot room.Slot) error {
	if !slot.Valid() {
		return fmt.Errorf("directory upsert: %w", room.ErrInvalidSlot)
	}
	roomID = room.NormalizeID(roomID)

	prev, err := d.rdb.Get(ctx, slotKey(roomID, slot)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("directory upsert: read slot: %w", err)
	}
	if prev != "" && prev != connID {
		if err := d.Remove(ctx, prev); err != nil {
			return fmt.Errorf("directory upsert: evict %s: %w", prev, err)
		}
		metrics.DirectoryEvictions.Inc()
		d.log.Info("directory.evict", "room", roomID, "slot", slot, "prev", prev, "next", connID)
	}

	// same connection moving to another slot leaves nothing behind
	cur, err := d.get(ctx, connID)
	if err != nil {
		return fmt.Errorf("directory upsert: read conn: %w", err)
	}
	if cur != nil && (cur.RoomID != roomID || cur.Slot != slot) {
		if err := d.Remove(ctx, connID); err != nil {
			return fmt.Errorf("directory upsert: move %s: %w", connID, err)
		}
	}

	created := d.now().UTC().Format(time.RFC3339Nano)
	_, err = d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, connKey(connID), "room_id", roomID, "slot", string(slot), "created_at", created)
		pipe.Set(ctx, slotKey(roomID, slot), connID, d.ttl)
		pipe.SAdd(ctx, roomKey(roomID), connID)
		if d.ttl > 0 {
			pipe.Expire(ctx, connKey(connID), d.ttl)
			pipe.Expire(ctx, roomKey(roomID), d.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("directory upsert: write: %w", err)
	}
	d.log.Debug("directory.upsert", "conn", connID, "room", roomID, "slot", slot)
	return nil
}

// Remove deletes connID and its index entries
func (d *Redis) Remove(ctx context.Context, connID string) error {
	c, err := d.get(ctx, connID)
	if err != nil {
		return fmt.Errorf("directory remove: %w", err)
	}
	if c == nil {
		return nil
	}

	// a newer holder of the slot keeps its key
	if err := d.rdb.Eval(ctx, releaseSlot, []string{slotKey(c.RoomID, c.Slot)}, connID).Err(); err != nil {
		return fmt.Errorf("directory remove: release slot: %w", err)
	}
	_, err = d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, connKey(connID))
		pipe.SRem(ctx, roomKey(c.RoomID), connID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("directory remove: %w", err)
	}
	d.log.Debug("directory.remove", "conn", connID, "room", c.RoomID, "slot", c.Slot)
	return nil
}

// Touch pushes the expiry of connID's keys out by a full ttl. A slot key
// already taken over by a newer holder is left alone.
func (d *Redis) Touch(ctx context.Context, connID string) error {
	if d.ttl <= 0 {
		return nil
	}
	c, err := d.get(ctx, connID)
	if err != nil {
		return fmt.Errorf("directory touch: %w", err)
	}
	if c == nil {
		return nil
	}
	_, err = d.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, connKey(connID), d.ttl)
		pipe.Expire(ctx, roomKey(c.RoomID), d.ttl)
		pipe.Eval(ctx, touchSlot, []string{slotKey(c.RoomID, c.Slot)}, connID, d.ttl.Milliseconds())
		return nil
	})
	if err != nil {
		return fmt.Errorf("directory touch: %w", err)
	}
	return nil
}

// ListByRoom reads the room's set and resolves each member
func (d *Redis) ListByRoom(ctx context.Context, roomID string) ([]Connection, error) {
	roomID = room.NormalizeID(roomID)
	ids, err := d.rdb.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("directory list: %w", err)
	}
	if len(ids) == 0 {
		return []Connection{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = d.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, connKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory list: %w", err)
	}

	out := make([]Connection, 0, len(ids))
	for i, cmd := range cmds {
		// set member whose hash expired or was removed mid-flight
		if len(cmd.Val()) == 0 {
			continue
		}
		c, err := decode(ids[i], cmd.Val())
		if err != nil {
			return nil, fmt.Errorf("directory list: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// FindBySlot resolves the slot holder
func (d *Redis) FindBySlot(ctx context.Context, roomID string, slot room.Slot) (*Connection, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("directory find: %w", room.ErrInvalidSlot)
	}
	id, err := d.rdb.Get(ctx, slotKey(room.NormalizeID(roomID), slot)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory find: %w", err)
	}
	c, err := d.get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("directory find: %w", err)
	}
	return c, nil
}

func (d *Redis) get(ctx context.Context, connID string) (*Connection, error) {
	h, err := d.rdb.HGetAll(ctx, connKey(connID)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	c, err := decode(connID, h)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func decode(id string, h map[string]string) (Connection, error) {
	slot, err := room.ParseSlot(h["slot"])
	if err != nil {
		return Connection{}, fmt.Errorf("conn %s: %w", id, err)
	}
	c := Connection{ID: id, RoomID: h["room_id"], Slot: slot}
	if ts := h["created_at"]; ts != "" {
		if c.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return Connection{}, fmt.Errorf("conn %s: created_at: %w", id, err)
		}
	}
	return c, nil
}
