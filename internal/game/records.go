package game

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Session statuses.
const (
	SessionCompleted = "completed"
	SessionAborted   = "aborted"
)

// SessionRecord is one player's result for one finished game.
type SessionRecord struct {
	SessionID       uuid.UUID `json:"session_id"`
	PlayerID        string    `json:"player_id"`
	GameKind        string    `json:"game_kind"`
	RoomID          string    `json:"room_id"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Score           int       `json:"score"`
	Accuracy        float64   `json:"accuracy"`
	RoundsPlayed    int       `json:"rounds_played"`
	RoundsTotal     int       `json:"rounds_total"`
	Status          string    `json:"status"`
}

// Sink receives finished sessions. Calls happen off the room's handler path and
// failures are only logged.
type Sink interface {
	RecordSession(ctx context.Context, rec SessionRecord) error
	UpdateStats(ctx context.Context, playerID, gameKind string) error
}

// ActionRecord is one accepted game action, appended to the action log.
type ActionRecord struct {
	GameID    uuid.UUID       `json:"game_id"`
	Index     int             `json:"action_index"`
	ActorID   string          `json:"actor_id"`
	Type      string          `json:"action_type"`
	Payload   json.RawMessage `json:"action_payload"`
	Timestamp int64           `json:"timestamp"`
}

// ActionLog receives accepted game actions.
type ActionLog interface {
	LogAction(ctx context.Context, rec ActionRecord) error
}

// LogSink writes finished sessions to the logger only.
type LogSink struct {
	Logger *logrus.Entry
}

// RecordSession logs rec.
func (s LogSink) RecordSession(_ context.Context, rec SessionRecord) error {
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"player_id": rec.PlayerID,
			"game_kind": rec.GameKind,
			"room_id":   rec.RoomID,
			"score":     rec.Score,
			"accuracy":  rec.Accuracy,
			"status":    rec.Status,
		}).Info("session finished")
	}
	return nil
}

// UpdateStats is a no-op.
func (LogSink) UpdateStats(context.Context, string, string) error { return nil }

// NopActionLog discards actions.
type NopActionLog struct{}

// LogAction discards rec.
func (NopActionLog) LogAction(context.Context, ActionRecord) error { return nil }
