package database_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/roomservice/internal/database"
	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/jason-s-yu/roomservice/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ game.Sink      = (*database.Store)(nil)
	_ game.ActionLog = (*database.Store)(nil)
)

func session(player string, score int, accuracy float64, status string, ended time.Time) game.SessionRecord {
	return game.SessionRecord{
		SessionID:       uuid.New(),
		PlayerID:        player,
		GameKind:        "pattern_hunt",
		RoomID:          "R1",
		StartedAt:       ended.Add(-90 * time.Second),
		EndedAt:         ended,
		DurationSeconds: 90,
		Score:           score,
		Accuracy:        accuracy,
		RoundsPlayed:    3,
		RoundsTotal:     3,
		Status:          status,
	}
}

func TestStoreSessionsAndStats(t *testing.T) {
	pg := testutil.NewPostgres(t)
	store := database.NewStore(pg.Pool)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	first := session("p1", 4, 80, game.SessionCompleted, base)
	require.NoError(t, store.RecordSession(ctx, first))
	require.NoError(t, store.RecordSession(ctx, first), "recording twice is a no-op")
	require.NoError(t, store.RecordSession(ctx, session("p1", 10, 100, game.SessionCompleted, base.Add(time.Hour))))
	require.NoError(t, store.RecordSession(ctx, session("p1", 50, 100, game.SessionAborted, base.Add(2*time.Hour))))

	require.NoError(t, store.UpdateStats(ctx, "p1", "pattern_hunt"))
	stats, ok, err := store.Stats(ctx, "p1", "pattern_hunt")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 2, stats.TotalGames, "aborted sessions are not aggregated")
	assert.EqualValues(t, 14, stats.TotalScore)
	assert.InDelta(t, 7.0, stats.AverageScore, 1e-9)
	assert.Equal(t, 10, stats.BestScore)
	assert.InDelta(t, 90.0, stats.AverageAccuracy, 1e-9)
	assert.EqualValues(t, 180, stats.TotalPlayTimeSeconds)
	require.NotNil(t, stats.LastPlayed)
	assert.True(t, stats.LastPlayed.Equal(base.Add(time.Hour)))

	// refreshing again replaces rather than accumulates
	require.NoError(t, store.UpdateStats(ctx, "p1", "pattern_hunt"))
	again, _, err := store.Stats(ctx, "p1", "pattern_hunt")
	require.NoError(t, err)
	assert.Equal(t, stats.TotalGames, again.TotalGames)
}

func TestStoreStatsMissing(t *testing.T) {
	pg := testutil.NewPostgres(t)
	store := database.NewStore(pg.Pool)
	ctx := context.Background()

	require.NoError(t, store.RecordSession(ctx, session("p2", 3, 50, game.SessionAborted, time.Now().UTC())))
	require.NoError(t, store.UpdateStats(ctx, "p2", "pattern_hunt"))

	_, ok, err := store.Stats(ctx, "p2", "pattern_hunt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreInsertActions(t *testing.T) {
	pg := testutil.NewPostgres(t)
	store := database.NewStore(pg.Pool)
	ctx := context.Background()
	gameID := uuid.New()

	recs := []game.ActionRecord{
		{GameID: gameID, Index: 0, ActorID: "p1", Type: "flip", Payload: json.RawMessage(`{"index":3}`), Timestamp: 1000},
		{GameID: gameID, Index: 1, ActorID: "p2", Type: "flip", Timestamp: 2000},
	}
	require.NoError(t, store.InsertActions(ctx, recs))
	require.NoError(t, store.LogAction(ctx, recs[0]), "duplicate index is skipped")
	require.NoError(t, store.InsertActions(ctx, nil))

	n, err := store.ActionCount(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMigrateDownAndUp(t *testing.T) {
	pg := testutil.NewPostgres(t)

	version, dirty, err := database.Migrate(pg.DSN(), "down", 1)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.EqualValues(t, 1, version)

	version, _, err = database.Migrate(pg.DSN(), "up", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)

	_, _, err = database.Migrate(pg.DSN(), "up", 0)
	assert.NoError(t, err, "no change is not an error")

	_, _, err = database.Migrate(pg.DSN(), "sideways", 0)
	assert.Error(t, err)
}
