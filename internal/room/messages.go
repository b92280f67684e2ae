package room

import (
	"encoding/json"
	"time"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/sirupsen/logrus"
)

// PlayerState is one seat in the room_state snapshot.
type PlayerState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	Ready     bool   `json:"ready"`
	Connected bool   `json:"connected"`
	IsOwner   bool   `json:"is_owner"`
}

// State is the room_state message: full membership, ownership and readiness.
type State struct {
	Type       string        `json:"type"`
	RoomID     string        `json:"room_id"`
	GameKind   string        `json:"game_kind"`
	Status     Status        `json:"status"`
	Owner      string        `json:"owner"`
	Players    []PlayerState `json:"players"`
	MinPlayers int           `json:"min_players"`
	MaxPlayers int           `json:"max_players"`
}

// Summary is the read-only listing view of a room.
type Summary struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Owner       string      `json:"owner"`
	Players     []game.View `json:"players"`
	PlayerCount int         `json:"playerCount"`
	MaxPlayers  int         `json:"maxPlayers"`
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type pongMessage struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"server_time"`
}

type timeSyncMessage struct {
	Type              string          `json:"type"`
	ServerTime        int64           `json:"serverTime"`
	ClientRequestTime json.RawMessage `json:"clientRequestTime,omitempty"`
}

func (r *Room) state() State {
	limits := r.game.Limits()
	s := State{
		Type:       "room_state",
		RoomID:     r.id,
		GameKind:   r.kind,
		Status:     r.status,
		Owner:      r.owner,
		Players:    make([]PlayerState, 0, r.reg.Len()),
		MinPlayers: limits.MinPlayers,
		MaxPlayers: limits.MaxPlayers,
	}
	for _, p := range r.reg.Players() {
		s.Players = append(s.Players, PlayerState{
			ID:        p.ID,
			Name:      p.Name,
			Avatar:    p.Avatar,
			Ready:     r.ready[p.ID],
			Connected: r.reg.Connected(p.ID),
			IsOwner:   p.ID == r.owner,
		})
	}
	return s
}

func (r *Room) broadcastState() {
	r.game.Broadcast(r.state())
}

// Snapshot returns the current room_state.
func (r *Room) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state()
}

// Summary returns the listing view. It never mutates the room.
func (r *Room) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		ID:          r.id,
		Name:        r.id,
		Players:     make([]game.View, 0, r.reg.Len()),
		PlayerCount: r.reg.Len(),
		MaxPlayers:  r.game.Limits().MaxPlayers,
		Status:      r.status,
		CreatedAt:   r.created,
	}
	if p, ok := r.reg.Get(r.owner); ok {
		s.Owner = p.Name
		s.Name = p.Name + "'s room"
	}
	for _, p := range r.reg.Players() {
		s.Players = append(s.Players, p.View())
	}
	return s
}

// HandleMessage processes one raw client message from c. Room-level messages are
// handled here; everything else goes to the game while one is running.
func (r *Room) HandleMessage(c game.Conn, data []byte) {
	ev, parseErr := game.ParseEvent(data)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	pid, ok := r.reg.PlayerOf(c)
	if !ok {
		return
	}
	if parseErr != nil {
		r.game.SendError(c, parseErr)
		return
	}
	r.log.WithFields(logrus.Fields{"player_id": pid, "type": ev.Type}).Debug("message received")

	var err error
	switch ev.Type {
	case "toggle_ready":
		err = r.toggleReady(pid)
	case "start_game":
		err = r.startGame(pid, ev)
	case "end_game":
		err = r.endGame(pid)
	case "reset_game":
		err = r.resetGame(pid)
	case "update_rules":
		err = r.updateRules(pid, ev)
	case "ping":
		r.game.Reply(c, pongMessage{Type: "pong", ServerTime: r.clock().UnixMilli()})
	case "sync_time":
		var body struct {
			ClientRequestTime json.RawMessage `json:"clientRequestTime"`
		}
		_ = ev.Decode(&body)
		r.game.Reply(c, timeSyncMessage{
			Type:              "time_sync_response",
			ServerTime:        r.clock().UnixMilli(),
			ClientRequestTime: body.ClientRequestTime,
		})
	default:
		if r.status == StatusWaiting {
			err = game.ErrWrongState.Errorf("%s is not accepted before the game starts", ev.Type)
			break
		}
		r.game.HandleEvent(c, ev, pid)
	}
	if err != nil {
		r.game.SendError(c, err)
	}
}

func (r *Room) toggleReady(pid string) error {
	if r.status != StatusWaiting {
		return game.ErrWrongState.Errorf("readiness can only change while waiting")
	}
	if pid == r.owner {
		return game.ErrOwnerAlwaysSet
	}
	r.ready[pid] = !r.ready[pid]
	r.broadcastState()
	return nil
}

func (r *Room) startGame(pid string, ev game.Event) error {
	if pid != r.owner {
		return game.ErrNotOwner
	}
	if r.status != StatusWaiting {
		return game.ErrWrongState.Errorf("room is %s", r.status)
	}
	if err := r.canStart(); err != nil {
		return err
	}
	var opts game.StartOptions
	if err := ev.Decode(&opts); err != nil {
		return err
	}
	opts.Starter = r.owner

	r.status = StatusPlaying
	if err := r.game.Start(opts); err != nil {
		r.status = StatusWaiting
		return err
	}
	r.log.WithFields(logrus.Fields{"players": r.reg.Len(), "mode": opts.Mode}).Info("game started")
	if r.game.Finished() {
		r.status = StatusEnded
	}
	r.broadcastState()
	return nil
}

func (r *Room) endGame(pid string) error {
	if pid != r.owner {
		return game.ErrNotOwner
	}
	if r.status != StatusPlaying {
		return game.ErrWrongState.Errorf("no game is running")
	}
	r.game.End()
	r.status = StatusEnded
	r.log.Info("game ended by owner")
	r.broadcastState()
	return nil
}

func (r *Room) resetGame(pid string) error {
	if pid != r.owner {
		return game.ErrNotOwner
	}
	if r.status != StatusEnded {
		return game.ErrWrongState.Errorf("only an ended game can be reset")
	}
	r.game.Reset()
	r.ready = map[string]bool{r.owner: true}
	r.status = StatusWaiting
	r.log.Info("room reset")
	r.broadcastState()
	return nil
}

func (r *Room) updateRules(pid string, ev game.Event) error {
	if pid != r.owner {
		return game.ErrNotOwner
	}
	var body struct {
		Rules map[string]any `json:"rules"`
	}
	if err := ev.Decode(&body); err != nil {
		return err
	}
	if len(body.Rules) == 0 {
		return game.ErrMalformed.Errorf("update_rules requires a rules object")
	}
	return r.game.UpdateRules(body.Rules)
}
