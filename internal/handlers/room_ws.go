// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/roomservice/internal/config"
	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/jason-s-yu/roomservice/internal/middleware"
	"github.com/jason-s-yu/roomservice/internal/room"
	"github.com/sirupsen/logrus"
)

// identifyTimeout bounds the wait for the identity announcement.
const identifyTimeout = 10 * time.Second

// RoomWSHandler upgrades /ws/{room_id}/{kind} to a websocket, reads the client's
// identity announcement, joins the room (creating it on first use) and then
// feeds every message to the room until the socket goes away.
func RoomWSHandler(logger *logrus.Logger, dir *room.Directory, cfg config.WebsocketConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.PathValue("room_id")
		kind := r.PathValue("kind")
		if !dir.HasKind(kind) {
			http.Error(w, "unsupported game kind", http.StatusNotFound)
			return
		}

		opts := &websocket.AcceptOptions{OriginPatterns: cfg.OriginPatterns}
		if cfg.Subprotocol != "" {
			opts.Subprotocols = []string{cfg.Subprotocol}
		}
		ws, err := websocket.Accept(w, r, opts)
		if err != nil {
			logger.WithError(err).Warn("websocket accept error")
			return
		}
		if cfg.Subprotocol != "" && ws.Subprotocol() != cfg.Subprotocol {
			ws.Close(BadSubprotocolError, "client must speak the "+cfg.Subprotocol+" subprotocol")
			return
		}
		if cfg.ReadLimit > 0 {
			ws.SetReadLimit(cfg.ReadLimit)
		}

		log := logger.WithFields(logrus.Fields{"room_id": roomID, "game_kind": kind})

		prof, err := readIdentity(r.Context(), ws)
		if err != nil {
			log.WithError(err).Warn("invalid identity announcement")
			ws.Close(InvalidIdentityError, closeReason(err))
			return
		}
		log = log.WithField("player_id", prof.ID)

		conn := newWSConn(ws, cfg.WriteTimeout, log)
		rm, err := join(dir, kind, roomID, conn, prof)
		if err != nil {
			log.WithError(err).Warn("failed to join room")
			ws.Close(closeCodeFor(err), closeReason(err))
			return
		}
		middleware.LogWebSocketConnect(log.WithField("conn_id", conn.ID()), r.RemoteAddr, r.URL.Path)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go conn.pingLoop(ctx, cancel, cfg.PingInterval)

		readErr := readRoomMessages(ctx, ws, rm, conn, log)

		rm.Disconnect(conn)
		conn.closeWith(websocket.StatusNormalClosure, "")
		middleware.LogWebSocketDisconnect(log.WithField("conn_id", conn.ID()), r.RemoteAddr, r.URL.Path, readErr)
	}
}

// readIdentity waits for the first message and parses it as a player profile.
func readIdentity(ctx context.Context, ws *websocket.Conn) (game.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, identifyTimeout)
	defer cancel()

	typ, data, err := ws.Read(ctx)
	if err != nil {
		return game.Profile{}, game.ErrMalformed.Errorf("no identity announcement received")
	}
	if typ != websocket.MessageText {
		return game.Profile{}, game.ErrMalformed.Errorf("identity announcement must be a text frame")
	}
	return game.ParseProfile(data)
}

// join connects conn to kind/roomID. A room that closed between lookup and
// connect has just been destroyed, so the lookup is retried once to get its
// replacement.
func join(dir *room.Directory, kind, roomID string, conn game.Conn, prof game.Profile) (*room.Room, error) {
	for range 2 {
		rm, err := dir.GetOrCreate(kind, roomID)
		if err != nil {
			return nil, err
		}
		err = rm.Connect(conn, prof)
		if errors.Is(err, game.ErrRoomClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return rm, nil
	}
	return nil, game.ErrRoomClosed
}

func closeCodeFor(err error) websocket.StatusCode {
	switch {
	case errors.Is(err, game.ErrRoomFull):
		return RoomFullError
	case errors.Is(err, game.ErrRoomClosed):
		return RoomClosedError
	case errors.Is(err, game.ErrUnknownKind), errors.Is(err, game.ErrMalformed):
		return InvalidRoomError
	default:
		return websocket.StatusInternalError
	}
}

// readRoomMessages reads text frames until the socket or ctx ends and hands each
// one to the room. It returns the error that ended the loop, nil for a normal close.
func readRoomMessages(ctx context.Context, ws *websocket.Conn, rm *room.Room, conn *wsConn, log *logrus.Entry) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				return nil
			case errors.Is(err, context.Canceled):
				return nil
			default:
				return err
			}
		}
		if typ != websocket.MessageText {
			log.WithField("frame_type", typ).Warn("ignoring non-text frame")
			continue
		}
		if err := dispatch(rm, conn, data); err != nil {
			log.WithError(err).Error("message handler panicked, dropping connection")
			return err
		}
	}
}

// dispatch runs one message through the room, turning a panic into an error so
// only this connection is dropped.
func dispatch(rm *room.Room, conn *wsConn, data []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError{value: p}
		}
	}()
	rm.HandleMessage(conn, data)
	return nil
}

type panicError struct{ value any }

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
