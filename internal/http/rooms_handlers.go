package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/agustinlozano/ur-partner-realtime/internal/room"
)

type RoomReader interface {
	Get(ctx context.Context, roomID string) (*room.Record, error)
}

type RoomsAPI struct {
	Rooms RoomReader
	Log   *slog.Logger
}

type slotDTO struct {
	Ready               bool                     `json:"ready"`
	InRoom              bool                     `json:"inRoom"`
	FixedCategory       *string                  `json:"fixedCategory"`
	CompletedCategories []room.CompletedCategory `json:"completedCategories"`
}

type roomResponse struct {
	RoomID    string    `json:"roomId"`
	A         slotDTO   `json:"a"`
	B         slotDTO   `json:"b"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toSlotDTO(s *room.SlotState) slotDTO {
	return slotDTO{Ready: s.Ready, InRoom: s.InRoom, FixedCategory: s.FixedCategory, CompletedCategories: s.Completed}
}

// Get returns the realtime state of one room
func (a *RoomsAPI) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	rec, err := a.Rooms.Get(r.Context(), id)
	if err != nil {
		a.Log.Error("rooms.get", "room", id, "err", err)
		http.Error(w, "failed to load room", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, roomResponse{
		RoomID:    rec.RoomID,
		A:         toSlotDTO(rec.Slot(room.SlotA)),
		B:         toSlotDTO(rec.Slot(room.SlotB)),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	})
}

// send JSON with proper headers
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
