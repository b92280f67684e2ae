// Package game defines the contract between a room and the game it hosts, plus
// the shared machinery game variants are built from: the player registry,
// broadcast with send-failure pruning, partial rule merging, and the round-based
// turn engine.
//
// Nothing in this package locks. Every method is called by the owning room while
// it holds the room lock, including scheduled tasks, which the room runs through
// its own serialized runner.
package game

import (
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
)

// Limits is the room-scope player configuration of a game.
type Limits struct {
	MinPlayers int `json:"min_players"`
	MaxPlayers int `json:"max_players"`
}

// Play modes accepted by start_game.
const (
	ModeSingle = "single"
	ModeMulti  = "multi"
)

// StartOptions are the owner-supplied start_game parameters.
type StartOptions struct {
	Mode        string `json:"mode"`
	TotalRounds int    `json:"total_rounds"`
	// Starter is the player who started the game (the room owner).
	Starter string `json:"-"`
}

// Game is a pluggable ruleset driven by a room.
type Game interface {
	Kind() string
	Limits() Limits
	// Connect registers c for p. A player seen before gets a resync instead of a join.
	Connect(c Conn, p *Player)
	// Disconnect unregisters c and marks its player as disconnected.
	Disconnect(c Conn)
	// Forget drops what the game remembers about a player who left for good, so a
	// later connect with the same id is a fresh join.
	Forget(playerID string)
	// HandleEvent processes one in-game message from playerID.
	HandleEvent(c Conn, ev Event, playerID string)
	// UpdateRules merges a partial rule set and broadcasts the effective rules.
	UpdateRules(patch map[string]any) error
	Start(opts StartOptions) error
	// End stops a running game without evaluating its termination rules.
	End()
	// Reset returns the game to its pre-start state.
	Reset()
	Finished() bool

	// Broadcast sends msg to every live connection, pruning failed ones.
	Broadcast(msg any)
	// Reply sends msg to one connection, pruning it on failure.
	Reply(c Conn, msg any) bool
	// SendError reports err to c only.
	SendError(c Conn, err error)
}

// Departer is implemented by games that react when a player's grace window expires.
type Departer interface {
	PlayerDeparted(playerID string)
}

// Host is the room as seen from its game. It is a plain back-reference; a game never
// outlives its room.
type Host interface {
	RoomID() string
	// Schedule runs fn after d under the room lock, replacing any task with the same key.
	Schedule(key string, d time.Duration, fn func())
	// Cancel drops a scheduled task.
	Cancel(key string)
	// ConnectionLost tells the room a connection was pruned after a failed send.
	ConnectionLost(playerID string)
	// GameFinished tells the room the game reached its finished state.
	GameFinished()
	// SetReconnectGrace changes how long disconnected players are retained.
	SetReconnectGrace(d time.Duration)
}

// Hooks are the per-variant callbacks invoked by Base.
type Hooks interface {
	OnJoin(c Conn, p *Player)
	OnReconnect(c Conn, p *Player)
	OnLeave(p *Player)
}

// Deps are the collaborators handed to a game constructor.
type Deps struct {
	Registry *Registry
	Host     Host
	Sink     Sink
	Actions  ActionLog
	Logger   *logrus.Entry
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Rand defaults to a time-seeded source.
	Rand *rand.Rand
	// SendTimeout bounds a single send during broadcast.
	SendTimeout time.Duration
	// PersistTimeout bounds sink and action log calls.
	PersistTimeout time.Duration
}

// Factory builds an empty game of one kind.
type Factory func(Deps) Game

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		d.Rand = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	if d.SendTimeout <= 0 {
		d.SendTimeout = 5 * time.Second
	}
	if d.PersistTimeout <= 0 {
		d.PersistTimeout = 5 * time.Second
	}
	if d.Logger == nil {
		d.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if d.Sink == nil {
		d.Sink = LogSink{Logger: d.Logger}
	}
	if d.Actions == nil {
		d.Actions = NopActionLog{}
	}
	if d.Registry == nil {
		d.Registry = NewRegistry()
	}
	return d
}
