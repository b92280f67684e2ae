package game

import (
	"encoding/json"
	"slices"
)

// RoundState is the state of the turn engine.
type RoundState string

const (
	StateInit        RoundState = "init"
	StatePlayerTurn  RoundState = "player_turn"
	StateCheckingEnd RoundState = "checking_end"
	StateFinished    RoundState = "finished"
)

// Outcome is what a processed action means for the turn engine.
type Outcome struct {
	// Advance passes the turn to the next player and counts a new round.
	Advance bool
}

// Turns is implemented by round-based variants.
type Turns interface {
	// ProcessAction applies one action by the current player. It must not change
	// any state when it returns an error.
	ProcessAction(playerID string, action json.RawMessage) (Outcome, error)
	// Terminated is the variant's end predicate, evaluated after every action.
	Terminated() bool
	// Info is the variant block of the game_state message.
	Info() any
	// OnFinish runs once when the game reaches StateFinished through play.
	OnFinish()
}

// StateMessage is the game_state broadcast.
type StateMessage struct {
	Type          string     `json:"type"`
	RoomID        string     `json:"room_id"`
	State         RoundState `json:"state"`
	Mode          string     `json:"mode"`
	CurrentPlayer string     `json:"current_player"`
	Round         int        `json:"round"`
	TotalRounds   int        `json:"total_rounds"`
	Order         []string   `json:"order"`
	Aborted       bool       `json:"aborted,omitempty"`
	Info          any        `json:"info,omitempty"`
}

// Round is the turn engine: init -> player_turn -> checking_end -> (player_turn | finished).
// The current player cycles through a fixed order chosen at start.
type Round struct {
	Base
	turns Turns

	State       RoundState
	Mode        string
	Order       []string
	Current     string
	Number      int
	TotalRounds int
	Aborted     bool

	// DefaultTotalRounds applies when start_game does not set total_rounds. Zero means no ceiling.
	DefaultTotalRounds int
	// SkipDisconnected makes the turn pass over players without a live connection.
	SkipDisconnected bool
}

// InitRound wires the engine. It must be called once by the variant constructor.
func (r *Round) InitRound(kind string, limits Limits, deps Deps, hooks Hooks, turns Turns) {
	r.Base.Init(kind, limits, deps, hooks)
	r.turns = turns
	r.State = StateInit
	r.SkipDisconnected = true
}

// StartRound picks the turn order and moves to player_turn. It does not broadcast.
func (r *Round) StartRound(opts StartOptions) error {
	if r.State != StateInit {
		return ErrWrongState.Errorf("game already started")
	}
	ids := r.reg.IDs()
	if len(ids) == 0 {
		return ErrTooFewPlayers
	}

	mode := opts.Mode
	switch mode {
	case "":
		mode = ModeMulti
		if len(ids) == 1 {
			mode = ModeSingle
		}
	case "double":
		mode = ModeMulti
	case ModeSingle, ModeMulti:
	default:
		return ErrMalformed.Errorf("unknown mode %q", opts.Mode)
	}

	var order []string
	if mode == ModeSingle {
		starter := opts.Starter
		if starter == "" || !r.reg.Has(starter) {
			starter = ids[0]
		}
		order = []string{starter}
	} else {
		order = ids
		r.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	total := opts.TotalRounds
	if total <= 0 {
		total = r.DefaultTotalRounds
	}

	r.BeginSession()
	r.Mode = mode
	r.Order = order
	r.Current = order[0]
	r.Number = 1
	r.TotalRounds = total
	r.Aborted = false
	r.State = StatePlayerTurn
	return nil
}

// Participant reports whether playerID is in the turn order.
func (r *Round) Participant(playerID string) bool {
	return slices.Contains(r.Order, playerID)
}

// HandleAction runs the turn check and then the action.
func (r *Round) HandleAction(c Conn, playerID string, action json.RawMessage) {
	if r.State == StateFinished {
		r.SendError(c, ErrGameFinished)
		return
	}
	if r.State != StatePlayerTurn || playerID != r.Current {
		r.SendError(c, ErrNotYourTurn)
		return
	}
	r.Apply(c, playerID, action)
}

// Apply processes an action without the turn check. Variants that allow
// out-of-turn actions call it directly.
func (r *Round) Apply(c Conn, playerID string, action json.RawMessage) {
	if r.State != StatePlayerTurn {
		r.SendError(c, ErrWrongState.Errorf("game is %s", r.State))
		return
	}
	out, err := r.turns.ProcessAction(playerID, action)
	if err != nil {
		r.SendError(c, err)
		return
	}
	r.LogAction(playerID, "action", action)
	r.State = StateCheckingEnd
	r.checkEnd(out)
}

func (r *Round) checkEnd(out Outcome) {
	switch {
	case r.turns.Terminated():
		r.finish()
	case out.Advance && r.TotalRounds > 0 && r.Number >= r.TotalRounds:
		r.finish()
	case out.Advance:
		r.Number++
		r.Current = r.next(r.Current)
		r.State = StatePlayerTurn
		r.BroadcastState()
	default:
		r.State = StatePlayerTurn
		r.BroadcastState()
	}
}

func (r *Round) finish() {
	r.State = StateFinished
	r.BroadcastState()
	r.turns.OnFinish()
	if r.host != nil {
		r.host.GameFinished()
	}
}

// next returns the player after from in cyclic order. With SkipDisconnected it
// passes over players without a live connection unless nobody is connected.
func (r *Round) next(from string) string {
	n := len(r.Order)
	if n == 0 {
		return ""
	}
	idx := slices.Index(r.Order, from)
	for step := 1; step <= n; step++ {
		cand := r.Order[(idx+step)%n]
		if !r.SkipDisconnected || r.reg.Connected(cand) {
			return cand
		}
	}
	return r.Order[(idx+1)%n]
}

// PlayerDeparted hands the turn on when the current player's grace window expires.
func (r *Round) PlayerDeparted(playerID string) {
	if r.State != StatePlayerTurn || r.Current != playerID || len(r.Order) < 2 {
		return
	}
	r.Current = r.next(playerID)
	r.BroadcastState()
}

// EndRound stops the game without evaluating the end predicate.
func (r *Round) EndRound() {
	if r.State == StateFinished || r.State == StateInit {
		return
	}
	r.State = StateFinished
	r.Aborted = true
	r.BroadcastState()
}

// ResetRound returns the engine to init.
func (r *Round) ResetRound() {
	r.State = StateInit
	r.Mode = ""
	r.Order = nil
	r.Current = ""
	r.Number = 0
	r.TotalRounds = 0
	r.Aborted = false
}

// Finished reports whether the engine is in its finished state.
func (r *Round) Finished() bool {
	return r.State == StateFinished
}

// StateMessage builds the current game_state message.
func (r *Round) StateMessage() StateMessage {
	return StateMessage{
		Type:          "game_state",
		RoomID:        r.RoomID(),
		State:         r.State,
		Mode:          r.Mode,
		CurrentPlayer: r.Current,
		Round:         r.Number,
		TotalRounds:   r.TotalRounds,
		Order:         slices.Clone(r.Order),
		Aborted:       r.Aborted,
		Info:          r.turns.Info(),
	}
}

// BroadcastState sends game_state to everyone.
func (r *Round) BroadcastState() {
	r.Broadcast(r.StateMessage())
}
