package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jason-s-yu/roomservice/internal/game"
)

// maxCloseReason is the largest close reason that fits a websocket control frame.
const maxCloseReason = 123

// closeReason turns err into a client-facing close reason.
func closeReason(err error) string {
	msg := game.AsError(err).Message
	if len(msg) > maxCloseReason {
		msg = msg[:maxCloseReason]
	}
	return msg
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports err in the same shape as websocket error frames.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, game.NewErrorMessage(err))
}
