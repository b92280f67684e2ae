// internal/handlers/router.go
package handlers

import (
	"net/http"
	"time"

	"github.com/jason-s-yu/roomservice/internal/config"
	"github.com/jason-s-yu/roomservice/internal/middleware"
	"github.com/jason-s-yu/roomservice/internal/room"
	"github.com/sirupsen/logrus"
)

// NewRouter registers the websocket and HTTP endpoints, all behind request logging.
func NewRouter(logger *logrus.Logger, dir *room.Directory, cfg config.WebsocketConfig, clock func() time.Time) http.Handler {
	if clock == nil {
		clock = time.Now
	}
	mux := http.NewServeMux()

	// room websocket
	mux.Handle("GET /ws/{room_id}/{kind}", RoomWSHandler(logger, dir, cfg))

	// room endpoints
	mux.Handle("GET /api/rooms/{kind}", ListRoomsHandler(dir))
	mux.Handle("GET /api/rooms/{kind}/new-id", NewRoomIDHandler(dir))
	mux.Handle("GET /api/server-time", ServerTimeHandler(clock))

	return middleware.LogMiddleware(logger)(mux)
}
