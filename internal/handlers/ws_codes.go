// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the room handler.
// These give clients a more specific reason than the standard codes.
const (
	BadSubprotocolError  = 3000 // Client connected with an unsupported subprotocol.
	InvalidIdentityError = 3002 // First message was not a valid identity announcement.
	InvalidRoomError     = 3003 // Room id or game kind in the path is invalid.
	RoomFullError        = 3004 // The room's game already has its maximum number of players.
	RoomClosedError      = 3005 // The room was torn down while the client was joining.
)
