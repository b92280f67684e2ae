package room

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/jason-s-yu/roomservice/internal/game/gametest"
	"github.com/jason-s-yu/roomservice/internal/game/patternhunt"
	"github.com/jason-s-yu/roomservice/internal/game/roundgame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type testingT interface {
	require.TestingT
	Helper()
}

type harness struct {
	r     *Room
	conns map[string]*gametest.Conn
	empty *atomic.Int32
	sink  *gametest.Sink
	clock *gametest.Clock
}

func newHarness(t testingT, id string, grace time.Duration, factory game.Factory) *harness {
	t.Helper()
	log, _ := gametest.Logger()
	h := &harness{
		conns: map[string]*gametest.Conn{},
		empty: &atomic.Int32{},
		sink:  &gametest.Sink{},
		clock: gametest.NewClock(),
	}
	h.r = New(Options{
		ID:             id,
		Kind:           "test",
		Factory:        factory,
		ReconnectGrace: grace,
		Sink:           h.sink,
		Logger:         log,
		Clock:          h.clock.Now,
		Rand:           rand.New(rand.NewPCG(1, 2)),
		OnEmpty:        func(*Room) { h.empty.Add(1) },
	})
	return h
}

func (h *harness) join(t testingT, id string) *gametest.Conn {
	t.Helper()
	c := gametest.NewConn()
	require.NoError(t, h.r.Connect(c, game.Profile{ID: id, Name: "name-" + id}))
	h.conns[id] = c
	return c
}

func (h *harness) send(id, typ string, fields map[string]any) {
	body := map[string]any{"type": typ}
	for k, v := range fields {
		body[k] = v
	}
	data, _ := json.Marshal(body)
	h.r.HandleMessage(h.conns[id], data)
}

func (h *harness) round() *roundgame.Game {
	return h.r.game.(*roundgame.Game)
}

func errCode(c *gametest.Conn) string {
	msg := c.Last("error")
	if msg == nil {
		return ""
	}
	return msg["code"].(string)
}

func TestSoloOwnerStartsImmediately(t *testing.T) {
	h := newHarness(t, "R1", time.Minute, roundgame.New)
	h.join(t, "A")

	s := h.r.Snapshot()
	assert.Equal(t, "A", s.Owner)
	require.Len(t, s.Players, 1)
	assert.True(t, s.Players[0].Ready, "owner is auto-ready")
	assert.True(t, s.Players[0].IsOwner)

	h.send("A", "start_game", nil)
	assert.Empty(t, errCode(h.conns["A"]))
	assert.Equal(t, StatusPlaying, h.r.Snapshot().Status)
	assert.Equal(t, []string{"A"}, h.round().Order)
	assert.Equal(t, game.ModeSingle, h.round().Mode)
	assert.Equal(t, "playing", h.conns["A"].Last("room_state")["status"])
}

func TestStartRejectedUntilEveryoneReady(t *testing.T) {
	h := newHarness(t, "R2", time.Minute, roundgame.New)
	h.join(t, "A")
	h.join(t, "B")

	h.conns["B"].Reset()
	h.send("A", "start_game", nil)
	assert.Equal(t, "not_ready", errCode(h.conns["A"]))
	assert.Nil(t, h.conns["B"].Last("error"), "errors go to the sender only")
	assert.Equal(t, StatusWaiting, h.r.Snapshot().Status)

	h.send("B", "start_game", nil)
	assert.Equal(t, "not_owner", errCode(h.conns["B"]))

	h.send("B", "toggle_ready", nil)
	h.send("A", "start_game", nil)
	assert.Equal(t, StatusPlaying, h.r.Snapshot().Status)
	assert.ElementsMatch(t, []string{"A", "B"}, h.round().Order)
}

func TestToggleReady(t *testing.T) {
	h := newHarness(t, "T", time.Minute, roundgame.New)
	h.join(t, "A")
	h.join(t, "B")

	h.send("A", "toggle_ready", nil)
	assert.Equal(t, "owner_ready", errCode(h.conns["A"]))

	h.send("B", "toggle_ready", nil)
	assert.True(t, h.r.Snapshot().Players[1].Ready)
	h.send("B", "toggle_ready", nil)
	assert.False(t, h.r.Snapshot().Players[1].Ready)

	h.send("B", "toggle_ready", nil)
	h.send("A", "start_game", nil)
	h.send("B", "toggle_ready", nil)
	assert.Equal(t, "wrong_state", errCode(h.conns["B"]))
}

func TestGameMessagesRejectedWhileWaiting(t *testing.T) {
	h := newHarness(t, "T", time.Minute, roundgame.New)
	h.join(t, "A")
	h.send("A", "action", map[string]any{"action": map[string]any{"points": 1}})
	assert.Equal(t, "wrong_state", errCode(h.conns["A"]))

	h.r.HandleMessage(h.conns["A"], []byte("not json"))
	assert.Equal(t, "malformed", errCode(h.conns["A"]))
}

func TestOwnerDepartureTransfersOwnership(t *testing.T) {
	h := newHarness(t, "T", 0, roundgame.New)
	h.join(t, "A")
	h.join(t, "B")
	h.join(t, "C")

	h.r.Disconnect(h.conns["A"])

	s := h.r.Snapshot()
	assert.Equal(t, "B", s.Owner, "first remaining joiner becomes owner")
	require.Len(t, s.Players, 2)
	assert.True(t, s.Players[0].Ready, "new owner is auto-ready")
	last := h.conns["C"].Last("room_state")
	assert.Equal(t, "B", last["owner"])
	assert.Equal(t, int32(0), h.empty.Load())
}

func TestOwnershipSurvivesReconnectWithinGrace(t *testing.T) {
	h := newHarness(t, "T", time.Hour, roundgame.New)
	h.join(t, "A")
	h.join(t, "B")
	h.send("B", "toggle_ready", nil)

	h.r.Disconnect(h.conns["A"])
	s := h.r.Snapshot()
	assert.Equal(t, "A", s.Owner)
	assert.False(t, s.Players[0].Connected)
	assert.True(t, h.r.sched.Pending(graceKey("A")))

	h.join(t, "A")
	s = h.r.Snapshot()
	assert.Equal(t, "A", s.Owner)
	assert.True(t, s.Players[0].Connected)
	assert.True(t, s.Players[1].Ready, "readiness untouched by reconnect")
	assert.False(t, h.r.sched.Pending(graceKey("A")))
	assert.Len(t, s.Players, 2)
}

func TestGraceExpiryRemovesPlayer(t *testing.T) {
	h := newHarness(t, "T", 20*time.Millisecond, roundgame.New)
	h.join(t, "A")
	h.join(t, "B")

	h.r.Disconnect(h.conns["A"])
	assert.Eventually(t, func() bool { return h.r.Snapshot().Owner == "B" }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.r.Snapshot().Players, 1)
}

func TestReplacementClosesOldConnection(t *testing.T) {
	h := newHarness(t, "T", time.Minute, roundgame.New)
	old := h.join(t, "A")
	h.join(t, "A")

	closed, _ := old.Closed()
	assert.True(t, closed)
	h.r.Disconnect(old)
	s := h.r.Snapshot()
	assert.True(t, s.Players[0].Connected, "disconnect of the replaced socket is ignored")
	assert.Equal(t, int32(0), h.empty.Load())
}

func TestEmptyCallbackWaitsForGraceExpiry(t *testing.T) {
	h := newHarness(t, "T", 20*time.Millisecond, roundgame.New)
	h.join(t, "A")
	h.join(t, "B")

	h.r.Disconnect(h.conns["A"])
	h.r.Disconnect(h.conns["B"])
	assert.Equal(t, int32(0), h.empty.Load(), "seats are kept through the grace window")
	assert.False(t, h.r.Idle())
	assert.Len(t, h.r.Snapshot().Players, 2)

	assert.Eventually(t, func() bool { return h.empty.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.r.Idle())
	assert.Empty(t, h.r.Snapshot().Players)
}

func TestEmptyCallbackWithoutGrace(t *testing.T) {
	h := newHarness(t, "T", 0, roundgame.New)
	h.join(t, "A")

	h.r.Disconnect(h.conns["A"])
	assert.Equal(t, int32(1), h.empty.Load())
	assert.True(t, h.r.Idle())
}

func TestImmediateDepartureBroadcastsOnce(t *testing.T) {
	h := newHarness(t, "T", 0, roundgame.New)
	h.join(t, "A")
	h.join(t, "B")
	h.conns["B"].Reset()

	h.r.Disconnect(h.conns["A"])
	states := h.conns["B"].OfType("room_state")
	require.Len(t, states, 1)
	assert.Equal(t, "B", states[0]["owner"])
}

func TestDepartedPlayerRejoinsAsNewcomer(t *testing.T) {
	h := newHarness(t, "T", 0, roundgame.New)
	h.join(t, "A")
	h.join(t, "B")
	h.r.Disconnect(h.conns["A"])
	require.Len(t, h.r.Snapshot().Players, 1)

	back := h.join(t, "A")
	assert.Empty(t, back.OfType("rules_updated"), "a fresh join gets no resync")
	assert.NotNil(t, back.Last("game_state"))
	assert.Equal(t, "B", h.r.Snapshot().Owner)
}

func TestFailedSendPrunesConnection(t *testing.T) {
	h := newHarness(t, "T", time.Minute, roundgame.New)
	h.join(t, "A")
	h.join(t, "B")
	h.join(t, "C")
	h.conns["B"].Break()

	h.send("C", "toggle_ready", nil)

	s := h.r.Snapshot()
	assert.False(t, s.Players[1].Connected)
	assert.True(t, s.Players[2].Ready)
	closed, _ := h.conns["B"].Closed()
	assert.True(t, closed)
	assert.True(t, h.r.sched.Pending(graceKey("B")))
	assert.Equal(t, false, h.conns["A"].Last("room_state")["players"].([]any)[1].(map[string]any)["connected"])
}

func TestRoomFull(t *testing.T) {
	h := newHarness(t, "T", time.Minute, patternhunt.New)
	h.join(t, "A")
	h.join(t, "B")

	err := h.r.Connect(gametest.NewConn(), game.Profile{ID: "C"})
	assert.ErrorIs(t, err, game.ErrRoomFull)

	require.NoError(t, h.r.Connect(gametest.NewConn(), game.Profile{ID: "B"}), "known players may always reconnect")
}

func TestEndAndResetGame(t *testing.T) {
	h := newHarness(t, "T", time.Minute, roundgame.New)
	h.join(t, "A")
	h.join(t, "B")
	h.send("B", "toggle_ready", nil)
	h.send("A", "start_game", map[string]any{"total_rounds": 5})

	h.send("B", "end_game", nil)
	assert.Equal(t, "not_owner", errCode(h.conns["B"]))
	h.send("A", "reset_game", nil)
	assert.Equal(t, "wrong_state", errCode(h.conns["A"]))

	h.send("A", "end_game", nil)
	assert.Equal(t, StatusEnded, h.r.Snapshot().Status)
	assert.True(t, h.round().Aborted)

	h.send("A", "reset_game", nil)
	s := h.r.Snapshot()
	assert.Equal(t, StatusWaiting, s.Status)
	assert.True(t, s.Players[0].Ready)
	assert.False(t, s.Players[1].Ready, "reset clears readiness except the owner")
	assert.Equal(t, game.StateInit, h.round().State)
}

func TestGameDrivenFinishEndsRoom(t *testing.T) {
	h := newHarness(t, "T", time.Minute, roundgame.New)
	h.join(t, "A")
	h.send("A", "start_game", map[string]any{"total_rounds": 1})
	h.send("A", "action", map[string]any{"action": map[string]any{"points": 3}})

	assert.Equal(t, StatusEnded, h.r.Snapshot().Status)
	assert.True(t, h.round().Finished())
	h.r.Drain()
	require.Len(t, h.sink.Recorded(), 1)
	assert.Equal(t, 3, h.sink.Recorded()[0].Score)

	h.send("A", "action", map[string]any{"action": map[string]any{"points": 3}})
	assert.Equal(t, "game_finished", errCode(h.conns["A"]), "game messages still reach a finished game")
}

func TestUpdateRulesOwnerOnly(t *testing.T) {
	h := newHarness(t, "T", time.Minute, roundgame.New)
	h.join(t, "A")
	h.join(t, "B")

	h.send("B", "update_rules", map[string]any{"rules": map[string]any{"total_rounds": 3}})
	assert.Equal(t, "not_owner", errCode(h.conns["B"]))

	h.send("A", "update_rules", map[string]any{"rules": map[string]any{"total_rounds": 3}})
	assert.Equal(t, 3, h.round().Rules().TotalRounds)
	assert.NotNil(t, h.conns["B"].Last("rules_updated"))

	h.send("A", "update_rules", map[string]any{"rules": map[string]any{"bogus": 1}})
	assert.Equal(t, "invalid_rules", errCode(h.conns["A"]))
}

func TestPingAndTimeSync(t *testing.T) {
	h := newHarness(t, "T", time.Minute, roundgame.New)
	h.join(t, "A")

	h.send("A", "ping", nil)
	assert.Equal(t, float64(h.clock.Now().UnixMilli()), h.conns["A"].Last("pong")["server_time"])

	h.send("A", "sync_time", map[string]any{"clientRequestTime": 1234})
	resp := h.conns["A"].Last("time_sync_response")
	require.NotNil(t, resp)
	assert.Equal(t, float64(1234), resp["clientRequestTime"])
	assert.Equal(t, float64(h.clock.Now().UnixMilli()), resp["serverTime"])
}

func TestClosedRoomRejectsEverything(t *testing.T) {
	h := newHarness(t, "T", time.Minute, roundgame.New)
	a := h.join(t, "A")
	h.r.Close()

	closed, reason := a.Closed()
	assert.True(t, closed)
	assert.Equal(t, "room closed", reason)
	assert.ErrorIs(t, h.r.Connect(gametest.NewConn(), game.Profile{ID: "B"}), game.ErrRoomClosed)
	assert.False(t, h.r.Idle())
}

func TestSummaryIsReadOnly(t *testing.T) {
	h := newHarness(t, "T", time.Minute, patternhunt.New)
	h.join(t, "A")
	h.join(t, "B")
	before := h.r.Snapshot()

	s := h.r.Summary()
	assert.Equal(t, "T", s.ID)
	assert.Equal(t, "name-A", s.Owner)
	assert.Equal(t, "name-A's room", s.Name)
	assert.Equal(t, 2, s.PlayerCount)
	assert.Equal(t, 2, s.MaxPlayers)
	assert.Equal(t, StatusWaiting, s.Status)
	assert.Equal(t, before, h.r.Snapshot())
}

func TestPropertyStartGating(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "players")
		minPlayers := rapid.IntRange(1, 6).Draw(t, "min")
		h := newHarness(t, "P", time.Minute, roundgame.New)
		h.round().SetLimits(game.Limits{MinPlayers: minPlayers, MaxPlayers: 8})

		allReady := true
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("p%d", i)
			h.join(t, id)
			if i == 0 {
				continue
			}
			if rapid.Bool().Draw(t, "ready-"+id) {
				h.send(id, "toggle_ready", nil)
			} else {
				allReady = false
			}
		}

		h.send("p0", "start_game", nil)
		started := h.r.Snapshot().Status == StatusPlaying
		want := n >= minPlayers && allReady
		if started != want {
			t.Fatalf("started=%v with %d players, min %d, allReady=%v", started, n, minPlayers, allReady)
		}
	})
}

func TestPropertyReconnectPreservesState(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t, "P", time.Hour, roundgame.New)
		ids := []string{"a", "b", "c"}
		for _, id := range ids {
			h.join(t, id)
		}
		h.send("b", "toggle_ready", nil)
		h.send("c", "toggle_ready", nil)
		h.send("a", "start_game", map[string]any{"total_rounds": 100})

		for i := rapid.IntRange(0, 4).Draw(t, "warmup"); i > 0; i-- {
			h.send(h.round().Current, "action", map[string]any{"action": map[string]any{"points": i}})
		}

		before := map[string]int{}
		for _, id := range ids {
			p, _ := h.r.reg.Get(id)
			before[id] = p.Score
		}
		owner := h.r.Snapshot().Owner
		order := append([]string(nil), h.round().Order...)
		number := h.round().Number

		steps := rapid.SliceOfN(rapid.SampledFrom(ids), 1, 12).Draw(t, "blips")
		for _, id := range steps {
			h.r.Disconnect(h.conns[id])
			if rapid.Bool().Draw(t, "back-now") {
				h.join(t, id)
			}
		}
		for _, id := range ids {
			if !h.r.reg.Connected(id) {
				h.join(t, id)
			}
		}

		if got := h.r.Snapshot().Owner; got != owner {
			t.Fatalf("owner changed from %s to %s", owner, got)
		}
		for _, id := range ids {
			p, ok := h.r.reg.Get(id)
			if !ok || p.Score != before[id] {
				t.Fatalf("player %s lost state", id)
			}
		}
		if fmt.Sprint(order) != fmt.Sprint(h.round().Order) || number != h.round().Number {
			t.Fatalf("turn state changed")
		}
	})
}
