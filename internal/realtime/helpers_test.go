package realtime

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/agustinlozano/ur-partner-realtime/internal/app"
	"github.com/agustinlozano/ur-partner-realtime/internal/directory"
	"github.com/agustinlozano/ur-partner-realtime/internal/room"
	"github.com/agustinlozano/ur-partner-realtime/internal/store"
	"github.com/agustinlozano/ur-partner-realtime/internal/transport"
)

var errStoreDown = errors.New("store unavailable")

// countingStore wraps a real store, counts writes and can be made to fail
type countingStore struct {
	store.RoomStore
	mu      sync.Mutex
	writes  int
	failing bool
}

func (s *countingStore) UpsertPatch(ctx context.Context, roomID string, p room.Patch) error {
	s.mu.Lock()
	failing := s.failing
	if !failing {
		s.writes++
	}
	s.mu.Unlock()
	if failing {
		return errStoreDown
	}
	return s.RoomStore.UpsertPatch(ctx, roomID, p)
}

func (s *countingStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type delivery struct {
	connID  string
	payload string
}

// fakeSender records deliveries; results maps conn IDs to the error to return
type fakeSender struct {
	mu        sync.Mutex
	results   map[string]error
	delivered []delivery
	onDeliver func(connID string)
}

func (s *fakeSender) Deliver(_ context.Context, connID string, payload []byte) error {
	if s.onDeliver != nil {
		s.onDeliver(connID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, delivery{connID: connID, payload: string(payload)})
	return s.results[connID]
}

func (s *fakeSender) targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.delivered))
	for _, d := range s.delivered {
		out = append(out, d.connID)
	}
	sort.Strings(out)
	return out
}

type fixture struct {
	mr     *miniredis.Miniredis
	dir    *directory.Redis
	store  *countingStore
	sender *fakeSender
	rooms  *Rooms
	engine *Engine
	router *Router
	life   *Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := app.DiscardLogger()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	dir := directory.NewRedis(rdb, 0, log)

	db, err := store.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "rooms.db"), log)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	cs := &countingStore{RoomStore: db}

	sender := &fakeSender{results: map[string]error{}}
	rooms := NewRooms(cs, log)
	engine := NewEngine(dir, sender, log)
	return &fixture{
		mr:     mr,
		dir:    dir,
		store:  cs,
		sender: sender,
		rooms:  rooms,
		engine: engine,
		router: NewRouter(rooms, engine, dir, log),
		life:   NewLifecycle(dir, rooms, log),
	}
}

func (f *fixture) join(t *testing.T, connID, roomID string, slot room.Slot) {
	t.Helper()
	if err := f.dir.Upsert(context.Background(), connID, roomID, slot); err != nil {
		t.Fatalf("Upsert %s: %v", connID, err)
	}
}

func (f *fixture) record(t *testing.T, roomID string) *room.Record {
	t.Helper()
	rec, err := f.rooms.Get(context.Background(), roomID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		t.Fatalf("room %s does not exist", roomID)
	}
	return rec
}

var _ transport.Sender = (*fakeSender)(nil)
