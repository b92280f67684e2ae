// internal/handlers/rooms.go
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/jason-s-yu/roomservice/internal/room"
)

type roomListResponse struct {
	Rooms []room.Summary `json:"rooms"`
}

type newRoomIDResponse struct {
	RoomID string `json:"room_id"`
}

type serverTimeResponse struct {
	ServerTime int64 `json:"server_time"`
}

// ListRoomsHandler returns the read-only summaries of every room of {kind}.
func ListRoomsHandler(dir *room.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := dir.Rooms(r.PathValue("kind"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, roomListResponse{Rooms: rooms})
	}
}

// NewRoomIDHandler allocates a short random id no live room of {kind} uses.
// The id is not reserved; the room is created when the first client connects.
func NewRoomIDHandler(dir *room.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := dir.NewRoomID(r.PathValue("kind"))
		if err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, game.ErrUnknownKind) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, newRoomIDResponse{RoomID: id})
	}
}

// ServerTimeHandler reports the server clock in unix milliseconds.
func ServerTimeHandler(clock func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, serverTimeResponse{ServerTime: clock().UnixMilli()})
	}
}
