package game

import (
	"encoding/json"
	"strings"
	"time"
)

// Profile is the identity a client announces in its first message.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ParseProfile decodes and validates an identity announcement.
func ParseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, ErrMalformed.Errorf("identity announcement must be a JSON object: %v", err)
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return Profile{}, ErrMalformed.Errorf("identity announcement requires an id")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return p, nil
}

// Player is a member of one room. It survives short disconnects and is removed
// when the reconnect grace expires or the room is torn down.
type Player struct {
	Profile
	JoinedAt time.Time

	// Per-game payload, cleared by the game on start or reset.
	Score      int
	Lives      int
	Answer     string
	AnsweredAt int64
}

// View is the public projection of a player used in broadcasts.
type View struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// View returns the public projection of p.
func (p *Player) View() View {
	return View{ID: p.ID, Name: p.Name, Avatar: p.Avatar}
}

// ResetPayload clears the per-game fields.
func (p *Player) ResetPayload() {
	p.Score = 0
	p.Lives = 0
	p.Answer = ""
	p.AnsweredAt = 0
}
