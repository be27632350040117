package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agustinlozano/ur-partner-realtime/internal/app"
	"github.com/agustinlozano/ur-partner-realtime/internal/realtime"
	"github.com/agustinlozano/ur-partner-realtime/internal/room"
	"github.com/agustinlozano/ur-partner-realtime/pkg/auth"
)

const testSecret = "test-secret"

var errBoom = errors.New("boom")

type fakeSessions struct {
	fail      bool
	connected map[string]room.Slot
	gone      []string
	touched   []string
}

func (s *fakeSessions) Connect(_ context.Context, connID, _ string, slot room.Slot) error {
	if s.fail {
		return errBoom
	}
	s.connected[connID] = slot
	return nil
}

func (s *fakeSessions) Disconnect(_ context.Context, connID string) error {
	if s.fail {
		return errBoom
	}
	s.gone = append(s.gone, connID)
	return nil
}

func (s *fakeSessions) Touch(_ context.Context, connID string) error {
	s.touched = append(s.touched, connID)
	return nil
}

type fakeDispatcher struct {
	fail bool
	err  error
	got  []room.Event
}

func (d *fakeDispatcher) Dispatch(_ context.Context, _ string, ev room.Event) error {
	if d.fail {
		return errBoom
	}
	if d.err != nil {
		return d.err
	}
	d.got = append(d.got, ev)
	return nil
}

type fakeRooms map[string]*room.Record

func (f fakeRooms) Get(_ context.Context, id string) (*room.Record, error) {
	if id == "BROKEN" {
		return nil, errBoom
	}
	return f[id], nil
}

type harness struct {
	h        http.Handler
	sessions *fakeSessions
	events   *fakeDispatcher
	token    string
	ready    error
}

func newHarness(t *testing.T) *harness { return newHarnessLimited(t, 1000) }

func newHarnessLimited(t *testing.T, perMin int) *harness {
	t.Helper()
	cfg := app.Config{CORSAllow: []string{"http://localhost:3000"}, JWTSecret: testSecret, RateLimitPerMin: perMin}
	log := app.DiscardLogger()
	hs := &harness{sessions: &fakeSessions{connected: map[string]room.Slot{}}, events: &fakeDispatcher{}}

	cat := "food"
	rooms := fakeRooms{"R1": {
		RoomID: "R1",
		Slots: [2]room.SlotState{
			{Ready: true, InRoom: true, FixedCategory: &cat, Completed: []room.CompletedCategory{{Category: "music", CompletedAt: 7}}},
			{Completed: []room.CompletedCategory{}},
		},
	}}
	hs.h = NewRouter(cfg, log, Deps{
		Gateway: &GatewayAPI{Sessions: hs.sessions, Events: hs.events, Log: log},
		Rooms:   &RoomsAPI{Rooms: rooms, Log: log},
		Probes:  []Probe{{Name: "redis", Check: func(context.Context) error { return hs.ready }}},
	})

	tok, err := auth.New(testSecret).Sign("gateway", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	hs.token = tok
	return hs
}

func (hs *harness) do(method, target, connID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+hs.token)
	if connID != "" {
		req.Header.Set(ConnHeader, connID)
	}
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	return rec
}

func bodyOf(rec *httptest.ResponseRecorder) string {
	b, _ := io.ReadAll(rec.Body)
	return strings.TrimSpace(string(b))
}

func TestHealthAndReadiness(t *testing.T) {
	hs := newHarness(t)

	for _, p := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := hs.do(http.MethodGet, p, "", ""); rec.Code != http.StatusOK {
			t.Errorf("%s = %d", p, rec.Code)
		}
	}

	hs.ready = errBoom
	rec := hs.do(http.MethodGet, "/readyz", "", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(bodyOf(rec), "redis") {
		t.Fatalf("readyz with failing probe = %d %q", rec.Code, bodyOf(rec))
	}
}

func TestGatewayRequiresToken(t *testing.T) {
	hs := newHarness(t)
	hs.token = "nope"
	if rec := hs.do(http.MethodPost, "/gateway/connect?roomId=R1&slot=a", "c1", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(hs.sessions.connected) != 0 {
		t.Fatal("handler ran without auth")
	}
}

func TestGatewayConnect(t *testing.T) {
	hs := newHarness(t)

	cases := []struct {
		name, target, conn string
		code               int
		body               string
	}{
		{"ok", "/gateway/connect?roomId=R1&slot=b", "c1", 200, "Connected."},
		{"no conn id", "/gateway/connect?roomId=R1&slot=a", "", 400, "Missing or invalid connection params."},
		{"no room", "/gateway/connect?slot=a", "c2", 400, "Missing or invalid connection params."},
		{"bad slot", "/gateway/connect?roomId=R1&slot=z", "c2", 400, "Missing or invalid connection params."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := hs.do(http.MethodPost, tc.target, tc.conn, "")
			if rec.Code != tc.code || bodyOf(rec) != tc.body {
				t.Fatalf("got %d %q, want %d %q", rec.Code, bodyOf(rec), tc.code, tc.body)
			}
		})
	}
	if hs.sessions.connected["c1"] != room.SlotB {
		t.Fatalf("connected = %v", hs.sessions.connected)
	}

	hs.sessions.fail = true
	if rec := hs.do(http.MethodPost, "/gateway/connect?roomId=R1&slot=a", "c3", ""); rec.Code != 500 {
		t.Fatalf("failing connect = %d", rec.Code)
	}
}

func TestGatewayDisconnect(t *testing.T) {
	hs := newHarness(t)

	if rec := hs.do(http.MethodPost, "/gateway/disconnect", "c1", ""); rec.Code != 200 || bodyOf(rec) != "Disconnected." {
		t.Fatalf("got %d %q", rec.Code, bodyOf(rec))
	}
	if rec := hs.do(http.MethodPost, "/gateway/disconnect", "", ""); rec.Code != 400 {
		t.Fatalf("missing id = %d", rec.Code)
	}
	hs.sessions.fail = true
	if rec := hs.do(http.MethodPost, "/gateway/disconnect", "c1", ""); rec.Code != 500 {
		t.Fatalf("failing disconnect = %d", rec.Code)
	}
	if len(hs.sessions.gone) != 1 || hs.sessions.gone[0] != "c1" {
		t.Fatalf("gone = %v", hs.sessions.gone)
	}
}

func TestGatewayMessage(t *testing.T) {
	hs := newHarness(t)
	msg := `{"type":"is_ready","roomId":"R1","slot":"a"}`

	rec := hs.do(http.MethodPost, "/gateway/message", "c1", msg)
	if rec.Code != 200 || bodyOf(rec) != "Message processed." {
		t.Fatalf("got %d %q", rec.Code, bodyOf(rec))
	}
	if len(hs.events.got) != 1 || string(hs.events.got[0].Raw) != msg {
		t.Fatalf("dispatched = %+v", hs.events.got)
	}

	if rec := hs.do(http.MethodPost, "/gateway/message", "c1", "{bad"); rec.Code != 400 {
		t.Fatalf("bad json = %d", rec.Code)
	}
	if rec := hs.do(http.MethodPost, "/gateway/message", "", msg); rec.Code != 400 {
		t.Fatalf("missing id = %d", rec.Code)
	}
	if len(hs.sessions.touched) != 1 || hs.sessions.touched[0] != "c1" {
		t.Fatalf("touched = %v", hs.sessions.touched)
	}

	hs.events.err = fmt.Errorf("dispatch is_ready: %w", realtime.ErrNotSlotHolder)
	if rec := hs.do(http.MethodPost, "/gateway/message", "c1", msg); rec.Code != http.StatusForbidden {
		t.Fatalf("evicted sender = %d", rec.Code)
	}
	hs.events.err = nil

	hs.events.fail = true
	if rec := hs.do(http.MethodPost, "/gateway/message", "c1", msg); rec.Code != 500 || bodyOf(rec) != "Failed to process message." {
		t.Fatalf("failing dispatch = %d %q", rec.Code, bodyOf(rec))
	}
}

func TestRoomSnapshot(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(http.MethodGet, "/api/rooms/R1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got roomResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RoomID != "R1" || !got.A.Ready || !got.A.InRoom || got.A.FixedCategory == nil || *got.A.FixedCategory != "food" {
		t.Fatalf("slot a = %+v", got.A)
	}
	if len(got.A.CompletedCategories) != 1 || got.A.CompletedCategories[0].CompletedAt != 7 {
		t.Fatalf("completed = %+v", got.A.CompletedCategories)
	}
	if got.B.Ready || got.B.FixedCategory != nil {
		t.Fatalf("slot b = %+v", got.B)
	}

	if rec := hs.do(http.MethodGet, "/api/rooms/NOPE", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing room = %d", rec.Code)
	}
	if rec := hs.do(http.MethodGet, "/api/rooms/BROKEN", "", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("store failure = %d", rec.Code)
	}
}

func TestRoutesAbsentWithoutDeps(t *testing.T) {
	h := NewRouter(app.Config{JWTSecret: testSecret, RateLimitPerMin: 10}, app.DiscardLogger(), Deps{})
	for _, target := range []string{"/ws", "/api/rooms/R1"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s = %d", target, rec.Code)
		}
	}
}

func TestGatewayNotRateLimited(t *testing.T) {
	hs := newHarnessLimited(t, 3)
	msg := `{"type":"say","roomId":"R1","slot":"a"}`

	for i := 0; i < 20; i++ {
		if rec := hs.do(http.MethodPost, "/gateway/message", "c1", msg); rec.Code != http.StatusOK {
			t.Fatalf("message %d = %d", i, rec.Code)
		}
	}
	if len(hs.events.got) != 20 {
		t.Fatalf("dispatched %d, want 20", len(hs.events.got))
	}

	// browser-facing routes from the same address still are
	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		codes = append(codes, hs.do(http.MethodGet, "/healthz", "", "").Code)
	}
	if codes[2] != http.StatusOK || codes[3] != http.StatusTooManyRequests {
		t.Fatalf("healthz codes = %v", codes)
	}
}
