package game

import (
	"context"
	"time"
)

// Conn is one client's message channel. Implementations must allow concurrent
// Send calls and must never block past the context deadline.
type Conn interface {
	// ID is unique for the lifetime of the process.
	ID() string
	// Send delivers one text frame. A closed or broken channel returns an error.
	Send(ctx context.Context, data []byte) error
	// Close tears the channel down. Safe to call multiple times.
	Close(reason string)
}

// Binding pairs a live connection with the player it belongs to.
type Binding struct {
	PlayerID string
	Conn     Conn
}

// Registry tracks the players of one room and which connection each is using.
// A connection maps to exactly one player and a player has at most one live
// connection. Players stay registered while disconnected.
//
// Registry is not safe for concurrent use; the owning room serializes access.
type Registry struct {
	players map[string]*Player
	order   []string
	live    map[string]Conn   // player id -> connection
	bound   map[string]string // connection id -> player id
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		players: make(map[string]*Player),
		live:    make(map[string]Conn),
		bound:   make(map[string]string),
	}
}

// Add registers a player, or refreshes the name and avatar of a known one.
func (r *Registry) Add(p Profile, now time.Time) *Player {
	if existing, ok := r.players[p.ID]; ok {
		existing.Name = p.Name
		existing.Avatar = p.Avatar
		return existing
	}
	pl := &Player{Profile: p, JoinedAt: now}
	r.players[p.ID] = pl
	r.order = append(r.order, p.ID)
	return pl
}

// Remove forgets a player and its connection binding. It returns the live
// connection the player had, if any.
func (r *Registry) Remove(playerID string) Conn {
	if _, ok := r.players[playerID]; !ok {
		return nil
	}
	delete(r.players, playerID)
	for i, id := range r.order {
		if id == playerID {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	c, ok := r.live[playerID]
	if !ok {
		return nil
	}
	delete(r.live, playerID)
	delete(r.bound, c.ID())
	return c
}

// Bind attaches c to a registered player. Any connection the player was already
// using is unbound and returned so the caller can close it. If c was bound to a
// different player it is moved.
func (r *Registry) Bind(playerID string, c Conn) (prev Conn) {
	if other, ok := r.bound[c.ID()]; ok && other != playerID {
		delete(r.live, other)
	}
	if old, ok := r.live[playerID]; ok && old.ID() != c.ID() {
		delete(r.bound, old.ID())
		prev = old
	}
	r.live[playerID] = c
	r.bound[c.ID()] = playerID
	return prev
}

// Unbind detaches c from its player. It reports the player id and whether c was bound.
func (r *Registry) Unbind(c Conn) (string, bool) {
	pid, ok := r.bound[c.ID()]
	if !ok {
		return "", false
	}
	delete(r.bound, c.ID())
	if cur, ok := r.live[pid]; ok && cur.ID() == c.ID() {
		delete(r.live, pid)
	}
	return pid, true
}

// PlayerOf returns the player bound to c.
func (r *Registry) PlayerOf(c Conn) (string, bool) {
	pid, ok := r.bound[c.ID()]
	return pid, ok
}

// Get returns a registered player.
func (r *Registry) Get(playerID string) (*Player, bool) {
	p, ok := r.players[playerID]
	return p, ok
}

// Has reports whether playerID is registered.
func (r *Registry) Has(playerID string) bool {
	_, ok := r.players[playerID]
	return ok
}

// Conn returns the live connection of a player.
func (r *Registry) Conn(playerID string) (Conn, bool) {
	c, ok := r.live[playerID]
	return c, ok
}

// Connected reports whether a player currently has a live connection.
func (r *Registry) Connected(playerID string) bool {
	_, ok := r.live[playerID]
	return ok
}

// IDs returns player ids in join order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Players returns players in join order.
func (r *Registry) Players() []*Player {
	out := make([]*Player, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id])
	}
	return out
}

// Live returns the live bindings in join order.
func (r *Registry) Live() []Binding {
	out := make([]Binding, 0, len(r.live))
	for _, id := range r.order {
		if c, ok := r.live[id]; ok {
			out = append(out, Binding{PlayerID: id, Conn: c})
		}
	}
	return out
}

// Len returns the number of registered players.
func (r *Registry) Len() int { return len(r.players) }

// LiveCount returns the number of players with a live connection.
func (r *Registry) LiveCount() int { return len(r.live) }
