package game_test

import (
	"testing"
	"time"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/jason-s-yu/roomservice/internal/game/gametest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBindAndReconnect(t *testing.T) {
	reg := game.NewRegistry()
	now := time.Now()
	reg.Add(game.Profile{ID: "a", Name: "Ann"}, now)
	reg.Add(game.Profile{ID: "b", Name: "Bob"}, now)

	c1 := gametest.NewConn()
	assert.Nil(t, reg.Bind("a", c1))
	pid, ok := reg.PlayerOf(c1)
	require.True(t, ok)
	assert.Equal(t, "a", pid)
	assert.True(t, reg.Connected("a"))
	assert.False(t, reg.Connected("b"))

	// Same player on a new connection: the old one is handed back.
	c2 := gametest.NewConn()
	prev := reg.Bind("a", c2)
	require.NotNil(t, prev)
	assert.Equal(t, c1.ID(), prev.ID())
	_, ok = reg.PlayerOf(c1)
	assert.False(t, ok)
	assert.Equal(t, 1, reg.LiveCount())

	// Unbinding the stale connection must not detach the new one.
	_, ok = reg.Unbind(c1)
	assert.False(t, ok)
	assert.True(t, reg.Connected("a"))

	pid, ok = reg.Unbind(c2)
	require.True(t, ok)
	assert.Equal(t, "a", pid)
	assert.False(t, reg.Connected("a"))
	assert.True(t, reg.Has("a"), "player record survives disconnect")
}

func TestRegistryOrderAndRemove(t *testing.T) {
	reg := game.NewRegistry()
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		reg.Add(game.Profile{ID: id}, now)
	}
	c := gametest.NewConn()
	reg.Bind("b", c)

	assert.Equal(t, []string{"a", "b", "c"}, reg.IDs())
	removed := reg.Remove("b")
	require.NotNil(t, removed)
	assert.Equal(t, c.ID(), removed.ID())
	assert.Equal(t, []string{"a", "c"}, reg.IDs())
	assert.Equal(t, 0, reg.LiveCount())
	assert.Nil(t, reg.Remove("b"))

	// Re-adding keeps the original record and refreshes the profile.
	p := reg.Add(game.Profile{ID: "a", Name: "Renamed"}, now)
	assert.Equal(t, "Renamed", p.Name)
	assert.Equal(t, 2, reg.Len())
}

func TestParseProfile(t *testing.T) {
	p, err := game.ParseProfile([]byte(`{"id":" u1 ","name":"","avatar":"x.png"}`))
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "u1", p.Name)
	assert.Equal(t, "x.png", p.Avatar)

	_, err = game.ParseProfile([]byte(`{"name":"nobody"}`))
	assert.ErrorIs(t, err, game.ErrMalformed)

	_, err = game.ParseProfile([]byte(`not json`))
	assert.ErrorIs(t, err, game.ErrMalformed)
}

func TestParseEvent(t *testing.T) {
	ev, err := game.ParseEvent([]byte(`{"type":"action","action":{"type":"flip","cardId":"A1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "action", ev.Type)

	var body struct {
		Action struct {
			CardID string `json:"cardId"`
		} `json:"action"`
	}
	require.NoError(t, ev.Decode(&body))
	assert.Equal(t, "A1", body.Action.CardID)

	for _, bad := range []string{``, `[]`, `{"type":""}`, `{"type":3}`, `{`} {
		_, err := game.ParseEvent([]byte(bad))
		assert.ErrorIs(t, err, game.ErrMalformed, bad)
	}
}

func TestErrorMatching(t *testing.T) {
	err := game.ErrUnknownCard.Errorf("card %q does not exist", "Z9")
	assert.ErrorIs(t, err, game.ErrUnknownCard)
	assert.NotErrorIs(t, err, game.ErrNotYourTurn)

	msg := game.NewErrorMessage(err)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "unknown_card", msg.Code)
	assert.Contains(t, msg.Message, "Z9")

	internal := game.NewErrorMessage(assert.AnError)
	assert.Equal(t, "internal", internal.Code)
}
