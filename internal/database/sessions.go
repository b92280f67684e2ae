// internal/database/sessions.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/roomservice/internal/game"
)

// Store persists finished game sessions, per-player aggregate stats and the
// game action log. It satisfies game.Sink and game.ActionLog.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an open pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// PlayerStats is one player's aggregate over their completed sessions of a kind.
type PlayerStats struct {
	PlayerID             string
	GameKind             string
	TotalGames           int
	TotalScore           int64
	AverageScore         float64
	BestScore            int
	AverageAccuracy      float64
	TotalPlayTimeSeconds int64
	LastPlayed           *time.Time
}

const insertSessionQ = `
	INSERT INTO game_sessions (
		session_id, player_id, game_kind, room_id, started_at, ended_at,
		duration_seconds, score, accuracy, rounds_played, rounds_total, status
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (session_id, player_id) DO NOTHING
`

// refreshStatsQ recomputes one player's aggregate from their completed sessions.
// A player with no completed sessions keeps no stats row.
const refreshStatsQ = `
	INSERT INTO player_stats (
		player_id, game_kind, total_games, total_score, average_score, best_score,
		average_accuracy, total_play_time_seconds, last_played, updated_at
	)
	SELECT player_id, game_kind,
		COUNT(*),
		COALESCE(SUM(score), 0),
		COALESCE(AVG(score), 0),
		COALESCE(MAX(score), 0),
		COALESCE(AVG(accuracy), 0),
		COALESCE(SUM(duration_seconds), 0),
		MAX(ended_at),
		NOW()
	FROM game_sessions
	WHERE player_id = $1 AND game_kind = $2 AND status = 'completed'
	GROUP BY player_id, game_kind
	ON CONFLICT (player_id, game_kind) DO UPDATE SET
		total_games = EXCLUDED.total_games,
		total_score = EXCLUDED.total_score,
		average_score = EXCLUDED.average_score,
		best_score = EXCLUDED.best_score,
		average_accuracy = EXCLUDED.average_accuracy,
		total_play_time_seconds = EXCLUDED.total_play_time_seconds,
		last_played = EXCLUDED.last_played,
		updated_at = NOW()
`

const insertActionQ = `
	INSERT INTO game_actions (game_id, action_index, actor_id, action_type, action_payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (game_id, action_index) DO NOTHING
`

// RecordSession stores one player's result. Recording the same session twice is a no-op.
func (s *Store) RecordSession(ctx context.Context, rec game.SessionRecord) error {
	if err := s.RecordSessions(ctx, []game.SessionRecord{rec}); err != nil {
		return fmt.Errorf("record session %s for %s: %w", rec.SessionID, rec.PlayerID, err)
	}
	return nil
}

// RecordSessions stores several results in one transaction.
func (s *Store) RecordSessions(ctx context.Context, recs []game.SessionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, rec := range recs {
			b.Queue(insertSessionQ,
				rec.SessionID, rec.PlayerID, rec.GameKind, rec.RoomID, rec.StartedAt, rec.EndedAt,
				rec.DurationSeconds, rec.Score, rec.Accuracy, rec.RoundsPlayed, rec.RoundsTotal, rec.Status,
			)
		}
		return tx.SendBatch(ctx, b).Close()
	})
}

// UpdateStats refreshes the aggregate stats of playerID for gameKind.
func (s *Store) UpdateStats(ctx context.Context, playerID, gameKind string) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, refreshStatsQ, playerID, gameKind)
		return err
	})
	if err != nil {
		return fmt.Errorf("update stats for %s/%s: %w", playerID, gameKind, err)
	}
	return nil
}

// Stats loads the aggregate of playerID for gameKind. ok is false when the
// player has no completed sessions of that kind.
func (s *Store) Stats(ctx context.Context, playerID, gameKind string) (stats PlayerStats, ok bool, err error) {
	q := `
		SELECT player_id, game_kind, total_games, total_score, average_score, best_score,
			average_accuracy, total_play_time_seconds, last_played
		FROM player_stats
		WHERE player_id = $1 AND game_kind = $2
	`
	err = s.pool.QueryRow(ctx, q, playerID, gameKind).Scan(
		&stats.PlayerID, &stats.GameKind, &stats.TotalGames, &stats.TotalScore, &stats.AverageScore,
		&stats.BestScore, &stats.AverageAccuracy, &stats.TotalPlayTimeSeconds, &stats.LastPlayed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return PlayerStats{}, false, nil
	}
	if err != nil {
		return PlayerStats{}, false, fmt.Errorf("load stats for %s/%s: %w", playerID, gameKind, err)
	}
	return stats, true, nil
}

// LogAction appends one accepted game action.
func (s *Store) LogAction(ctx context.Context, rec game.ActionRecord) error {
	return s.InsertActions(ctx, []game.ActionRecord{rec})
}

// InsertActions appends a batch of actions in one transaction. Actions already
// stored under the same game and index are skipped.
func (s *Store) InsertActions(ctx context.Context, recs []game.ActionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, rec := range recs {
			payload := rec.Payload
			if len(payload) == 0 {
				payload = []byte(`{}`)
			}
			b.Queue(insertActionQ,
				rec.GameID, rec.Index, rec.ActorID, rec.Type, string(payload), time.UnixMilli(rec.Timestamp),
			)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return fmt.Errorf("insert %d actions: %w", len(recs), err)
	}
	return nil
}

// ActionCount returns how many actions are stored for a game.
func (s *Store) ActionCount(ctx context.Context, gameID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM game_actions WHERE game_id = $1`, gameID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}
