// Package room hosts games: membership, ownership, readiness and the
// waiting -> playing -> ended lifecycle, plus the directory of live rooms.
package room

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/jason-s-yu/roomservice/internal/schedule"
	"github.com/sirupsen/logrus"
)

// Status is the lifecycle state of a room.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
	StatusEnded   Status = "ended"
)

// Options configure a single room.
type Options struct {
	ID      string
	Kind    string
	Factory game.Factory

	// ReconnectGrace is how long a disconnected player keeps their seat. Zero removes them at once.
	ReconnectGrace time.Duration

	Sink           game.Sink
	Actions        game.ActionLog
	Logger         *logrus.Entry
	Clock          func() time.Time
	Rand           *rand.Rand
	SendTimeout    time.Duration
	PersistTimeout time.Duration

	// OnEmpty runs, with the room lock held, when the last tracked player leaves for good.
	// It must not call back into the room.
	OnEmpty func(*Room)
}

// Room is one named session around a single game. Every exported method takes the
// room lock, so all of a room's events are strictly ordered.
type Room struct {
	mu sync.Mutex

	id      string
	kind    string
	reg     *game.Registry
	game    game.Game
	sched   *schedule.Scheduler
	log     *logrus.Entry
	clock   func() time.Time
	onEmpty func(*Room)

	status  Status
	owner   string
	ready   map[string]bool
	grace   time.Duration
	closed  bool
	created time.Time
}

// New builds a room in the waiting state with a fresh game from opts.Factory.
func New(opts Options) *Room {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Room{
		id:      opts.ID,
		kind:    opts.Kind,
		reg:     game.NewRegistry(),
		log:     opts.Logger.WithFields(logrus.Fields{"room_id": opts.ID, "game_kind": opts.Kind}),
		clock:   opts.Clock,
		onEmpty: opts.OnEmpty,
		status:  StatusWaiting,
		ready:   make(map[string]bool),
		grace:   opts.ReconnectGrace,
		created: opts.Clock(),
	}
	r.sched = schedule.New(r.run)
	r.game = opts.Factory(game.Deps{
		Registry:       r.reg,
		Host:           host{r},
		Sink:           opts.Sink,
		Actions:        opts.Actions,
		Logger:         r.log,
		Clock:          opts.Clock,
		Rand:           opts.Rand,
		SendTimeout:    opts.SendTimeout,
		PersistTimeout: opts.PersistTimeout,
	})
	return r
}

// run executes a scheduled task under the room lock, unless the room has closed.
func (r *Room) run(task func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	task()
}

func (r *Room) ID() string   { return r.id }
func (r *Room) Kind() string { return r.kind }

// Connect admits c for the announced player. A known player id is a reconnect: the
// new connection replaces the old binding and ownership, readiness and game
// progress are left untouched.
func (r *Room) Connect(c game.Conn, prof game.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return game.ErrRoomClosed
	}

	if r.reg.Has(prof.ID) {
		p := r.reg.Add(prof, r.clock())
		r.sched.Cancel(graceKey(p.ID))
		r.game.Connect(c, p)
		r.log.WithFields(logrus.Fields{"player_id": p.ID, "conn_id": c.ID()}).Info("player reconnected")
		r.broadcastState()
		return nil
	}

	if limit := r.game.Limits().MaxPlayers; limit > 0 && r.reg.Len() >= limit {
		return game.ErrRoomFull
	}

	p := r.reg.Add(prof, r.clock())
	if r.owner == "" {
		r.owner = p.ID
		r.ready[p.ID] = true
	}
	r.game.Connect(c, p)
	r.log.WithFields(logrus.Fields{"player_id": p.ID, "conn_id": c.ID(), "owner": r.owner == p.ID}).Info("player joined")
	r.broadcastState()
	return nil
}

// Disconnect drops c. Its player keeps their seat for the reconnect grace window.
// Unknown or already replaced connections are ignored.
func (r *Room) Disconnect(c game.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	pid, ok := r.reg.PlayerOf(c)
	if !ok {
		return
	}
	r.game.Disconnect(c)
	r.log.WithFields(logrus.Fields{"player_id": pid, "conn_id": c.ID()}).Info("player disconnected")
	r.lost(pid)
}

// lost handles a player whose connection went away, by disconnect or by pruning.
func (r *Room) lost(pid string) {
	if !r.reg.Has(pid) || r.reg.Connected(pid) {
		return
	}
	if r.grace <= 0 {
		r.depart(pid)
		return
	}
	r.sched.After(graceKey(pid), r.grace, func() {
		if r.reg.Has(pid) && !r.reg.Connected(pid) {
			r.depart(pid)
		}
	})
	if r.reg.LiveCount() == 0 {
		r.log.Debug("room has no live connections")
		return
	}
	r.broadcastState()
}

// depart removes a player for good. Ownership passes to the earliest remaining
// joiner, who is marked ready.
func (r *Room) depart(pid string) {
	r.sched.Cancel(graceKey(pid))
	if c := r.reg.Remove(pid); c != nil {
		c.Close("removed from room")
	}
	delete(r.ready, pid)

	fields := logrus.Fields{"player_id": pid}
	if r.owner == pid {
		r.owner = ""
		if ids := r.reg.IDs(); len(ids) > 0 {
			r.owner = ids[0]
			r.ready[r.owner] = true
		}
		fields["new_owner"] = r.owner
	}
	r.game.Forget(pid)
	if d, ok := r.game.(game.Departer); ok {
		d.PlayerDeparted(pid)
	}
	r.log.WithFields(fields).Info("player left the room")

	if r.reg.Len() == 0 {
		r.log.Debug("room has no players left")
		if r.onEmpty != nil {
			r.onEmpty(r)
		}
		return
	}
	r.broadcastState()
}

func graceKey(pid string) string { return "grace:" + pid }

// canStart holds when enough players are seated and every non-owner is ready.
func (r *Room) canStart() error {
	if r.reg.Len() < r.game.Limits().MinPlayers {
		return game.ErrTooFewPlayers.Errorf("need at least %d players, have %d", r.game.Limits().MinPlayers, r.reg.Len())
	}
	for _, pid := range r.reg.IDs() {
		if pid != r.owner && !r.ready[pid] {
			return game.ErrNotReady
		}
	}
	return nil
}

// Close tears the room down: pending tasks are dropped and live connections closed.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.sched.Stop()
	for _, l := range r.reg.Live() {
		l.Conn.Close("room closed")
	}
	r.log.Info("room closed")
}

// Drain waits for the game's background persistence to finish.
func (r *Room) Drain() {
	if w, ok := r.game.(interface{ Wait() }); ok {
		w.Wait()
	}
}

// Idle reports whether the room is open and tracks no players, connected or
// within their reconnect grace.
func (r *Room) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.reg.Len() == 0
}

// Closed reports whether Close has run.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// host is the room as seen by its game. Its methods run with the room lock held.
type host struct{ r *Room }

func (h host) RoomID() string { return h.r.id }

func (h host) Schedule(key string, d time.Duration, fn func()) {
	h.r.sched.After("game:"+key, d, fn)
}

func (h host) Cancel(key string) { h.r.sched.Cancel("game:" + key) }

func (h host) ConnectionLost(playerID string) { h.r.lost(playerID) }

func (h host) GameFinished() {
	if h.r.status == StatusPlaying {
		h.r.status = StatusEnded
		h.r.log.Info("game finished")
		h.r.broadcastState()
	}
}

func (h host) SetReconnectGrace(d time.Duration) {
	h.r.grace = d
	h.r.log.WithField("grace", d).Info("reconnect grace changed")
}
