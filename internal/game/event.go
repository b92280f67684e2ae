package game

import (
	"bytes"
	"encoding/json"
)

// Event is one tagged client message. The payload stays raw so that the room
// can forward it to a game without interpreting it.
type Event struct {
	Type string
	Raw  json.RawMessage
}

// ParseEvent decodes a `{"type": ..., ...}` message.
func ParseEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, ErrMalformed.Errorf("message must be a JSON object")
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return Event{}, ErrMalformed.Errorf("invalid JSON: %v", err)
	}
	if head.Type == "" {
		return Event{}, ErrMalformed.Errorf("message has no type")
	}
	return Event{Type: head.Type, Raw: json.RawMessage(trimmed)}, nil
}

// NewEvent builds an Event from a Go value, mostly for tests and server-side triggers.
func NewEvent(typ string, fields map[string]any) Event {
	body := map[string]any{"type": typ}
	for k, v := range fields {
		body[k] = v
	}
	raw, _ := json.Marshal(body)
	return Event{Type: typ, Raw: raw}
}

// Decode unmarshals the whole message into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return ErrMalformed.Errorf("invalid %s payload: %v", e.Type, err)
	}
	return nil
}

// ErrorMessage is the server -> client error frame.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage builds the error frame for err.
func NewErrorMessage(err error) ErrorMessage {
	e := AsError(err)
	return ErrorMessage{Type: "error", Code: e.Code, Message: e.Message}
}
