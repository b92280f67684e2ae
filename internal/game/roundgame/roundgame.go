// Package roundgame is the plain turn-based scored game: on their turn a
// player submits points, which are added to their score, and the turn passes.
package roundgame

import (
	"encoding/json"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/sirupsen/logrus"
)

// Kind is the game-kind tag used in connection paths and the directory.
const Kind = "round"

// Rules is the live rule set of a round game.
type Rules struct {
	// TotalRounds is the round ceiling used when start_game does not set one.
	TotalRounds int `json:"total_rounds"`
	// TargetScore ends the game as soon as a player reaches it. Zero disables it.
	TargetScore int `json:"target_score"`
	// MaxPoints caps a single action. Zero disables the cap.
	MaxPoints int `json:"max_points"`
}

// DefaultRules returns the rule set a new game starts with.
func DefaultRules() Rules {
	return Rules{TotalRounds: 10}
}

func (r Rules) validate() error {
	if r.TotalRounds < 1 {
		return game.ErrInvalidRules.Errorf("total_rounds must be at least 1")
	}
	if r.TargetScore < 0 || r.MaxPoints < 0 {
		return game.ErrInvalidRules.Errorf("target_score and max_points must not be negative")
	}
	return nil
}

// Game is the round game variant.
type Game struct {
	game.Round
	rules Rules
}

// New builds an unstarted round game.
func New(deps game.Deps) game.Game {
	return newGame(deps)
}

func newGame(deps game.Deps) *Game {
	g := &Game{rules: DefaultRules()}
	g.InitRound(Kind, game.Limits{MinPlayers: 1, MaxPlayers: 8}, deps, g, g)
	g.DefaultTotalRounds = g.rules.TotalRounds
	return g
}

// Rules returns the live rule set.
func (g *Game) Rules() Rules { return g.rules }

// Start resets scores, picks the turn order and broadcasts the first state.
func (g *Game) Start(opts game.StartOptions) error {
	if err := g.StartRound(opts); err != nil {
		return err
	}
	for _, pid := range g.Order {
		if p, ok := g.Registry().Get(pid); ok {
			p.Score = 0
		}
	}
	g.Logger().WithFields(logrus.Fields{"room_id": g.RoomID(), "order": g.Order, "total_rounds": g.TotalRounds}).
		Info("round game started")
	g.BroadcastState()
	return nil
}

// HandleEvent accepts only actions.
func (g *Game) HandleEvent(c game.Conn, ev game.Event, playerID string) {
	if ev.Type != "action" {
		g.SendError(c, game.ErrUnknownEvent.Errorf("unknown event type %q", ev.Type))
		return
	}
	var body struct {
		Action json.RawMessage `json:"action"`
	}
	if err := ev.Decode(&body); err != nil {
		g.SendError(c, err)
		return
	}
	if len(body.Action) == 0 {
		g.SendError(c, game.ErrMalformed.Errorf("action payload missing"))
		return
	}
	g.HandleAction(c, playerID, body.Action)
}

type pointsAction struct {
	Points *int `json:"points"`
}

// ProcessAction adds the submitted points to the actor's score.
func (g *Game) ProcessAction(playerID string, raw json.RawMessage) (game.Outcome, error) {
	var a pointsAction
	if err := json.Unmarshal(raw, &a); err != nil {
		return game.Outcome{}, game.ErrMalformed.Errorf("invalid action: %v", err)
	}
	if a.Points == nil {
		return game.Outcome{}, game.ErrMalformed.Errorf("action requires points")
	}
	if *a.Points < 0 || (g.rules.MaxPoints > 0 && *a.Points > g.rules.MaxPoints) {
		return game.Outcome{}, game.ErrMalformed.Errorf("points %d out of range", *a.Points)
	}
	p, ok := g.Registry().Get(playerID)
	if !ok {
		return game.Outcome{}, game.ErrUnknownPlayer
	}
	p.Score += *a.Points
	return game.Outcome{Advance: true}, nil
}

// Terminated reports whether someone reached the target score.
func (g *Game) Terminated() bool {
	if g.rules.TargetScore == 0 {
		return false
	}
	for _, pid := range g.Order {
		if p, ok := g.Registry().Get(pid); ok && p.Score >= g.rules.TargetScore {
			return true
		}
	}
	return false
}

// Info carries the scores of the turn order.
func (g *Game) Info() any {
	scores := make(map[string]int, len(g.Order))
	for _, pid := range g.Order {
		if p, ok := g.Registry().Get(pid); ok {
			scores[pid] = p.Score
		}
	}
	return map[string]any{"scores": scores, "target_score": g.rules.TargetScore}
}

// OnFinish records every participant still in the room.
func (g *Game) OnFinish() {
	var records []game.SessionRecord
	for _, pid := range g.Order {
		p, ok := g.Registry().Get(pid)
		if !ok {
			continue
		}
		rec := g.NewSessionRecord(pid, game.SessionCompleted)
		rec.Score = p.Score
		rec.RoundsPlayed = g.Number
		rec.RoundsTotal = g.TotalRounds
		records = append(records, rec)
	}
	g.Persist(records)
}

// UpdateRules merges patch into the live rules and broadcasts the result.
func (g *Game) UpdateRules(patch map[string]any) error {
	next, err := game.MergeRules(g.rules, patch)
	if err != nil {
		return err
	}
	if err := next.validate(); err != nil {
		return err
	}
	g.rules = next
	g.DefaultTotalRounds = next.TotalRounds
	g.Broadcast(game.RulesMessage{Type: "rules_updated", Rules: g.rules})
	return nil
}

func (g *Game) OnJoin(c game.Conn, _ *game.Player) {
	g.Reply(c, g.StateMessage())
}

func (g *Game) OnReconnect(c game.Conn, _ *game.Player) {
	g.Reply(c, game.RulesMessage{Type: "rules_updated", Rules: g.rules})
	g.Reply(c, g.StateMessage())
}

func (g *Game) OnLeave(*game.Player) {}

// End aborts a running game.
func (g *Game) End() { g.EndRound() }

// Reset returns to init and clears scores.
func (g *Game) Reset() {
	for _, p := range g.Registry().Players() {
		p.ResetPayload()
	}
	g.ResetRound()
}
