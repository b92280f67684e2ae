package cache

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/redis/go-redis/v9"
)

// ActionQueue publishes accepted game actions for the historian.
type ActionQueue struct {
	*Queue
}

// NewActionQueue returns an ActionQueue on the list called name.
func NewActionQueue(rdb *redis.Client, name string) ActionQueue {
	return ActionQueue{NewQueue(rdb, name)}
}

// LogAction pushes rec onto the queue.
func (q ActionQueue) LogAction(ctx context.Context, rec game.ActionRecord) error {
	return q.Push(ctx, rec)
}

// Session event kinds.
const (
	EventSession = "session"
	EventStats   = "stats"
)

// SessionEvent is one entry of the session queue: either a finished session
// to store or a request to refresh a player's aggregate stats.
type SessionEvent struct {
	Kind     string              `json:"kind"`
	Session  *game.SessionRecord `json:"session,omitempty"`
	PlayerID string              `json:"player_id,omitempty"`
	GameKind string              `json:"game_kind,omitempty"`
}

// Validate reports whether e carries what its kind needs.
func (e SessionEvent) Validate() error {
	switch e.Kind {
	case EventSession:
		if e.Session == nil {
			return fmt.Errorf("session event without a session")
		}
	case EventStats:
		if e.PlayerID == "" || e.GameKind == "" {
			return fmt.Errorf("stats event needs player_id and game_kind")
		}
	default:
		return fmt.Errorf("unknown session event kind %q", e.Kind)
	}
	return nil
}

// SessionQueue is a game.Sink that defers persistence to the historian.
type SessionQueue struct {
	*Queue
}

// NewSessionQueue returns a SessionQueue on the list called name.
func NewSessionQueue(rdb *redis.Client, name string) SessionQueue {
	return SessionQueue{NewQueue(rdb, name)}
}

// RecordSession enqueues rec.
func (q SessionQueue) RecordSession(ctx context.Context, rec game.SessionRecord) error {
	return q.Push(ctx, SessionEvent{Kind: EventSession, Session: &rec})
}

// UpdateStats enqueues a stats refresh. It is applied after every session
// queued before it.
func (q SessionQueue) UpdateStats(ctx context.Context, playerID, gameKind string) error {
	return q.Push(ctx, SessionEvent{Kind: EventStats, PlayerID: playerID, GameKind: gameKind})
}
