package game

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Base holds the state every game variant shares: the connection registry view,
// the disconnected-player set, broadcast with pruning, and the persistence plumbing.
// Variants embed it (usually through Round) and pass themselves as Hooks.
type Base struct {
	kind           string
	limits         Limits
	reg            *Registry
	host           Host
	sink           Sink
	actions        ActionLog
	log            *logrus.Entry
	clock          func() time.Time
	rng            *rand.Rand
	sendTimeout    time.Duration
	persistTimeout time.Duration
	hooks          Hooks

	seen         map[string]bool
	disconnected map[string]bool

	SessionID   uuid.UUID
	StartedAt   time.Time
	actionIndex int

	inflight sync.WaitGroup
}

// Init wires the base. It must be called once by the variant constructor.
func (b *Base) Init(kind string, limits Limits, deps Deps, hooks Hooks) {
	deps = deps.withDefaults()
	b.kind = kind
	b.limits = limits
	b.reg = deps.Registry
	b.host = deps.Host
	b.sink = deps.Sink
	b.actions = deps.Actions
	b.log = deps.Logger.WithField("game_kind", kind)
	b.clock = deps.Clock
	b.rng = deps.Rand
	b.sendTimeout = deps.SendTimeout
	b.persistTimeout = deps.PersistTimeout
	b.hooks = hooks
	b.seen = make(map[string]bool)
	b.disconnected = make(map[string]bool)
}

func (b *Base) Kind() string            { return b.kind }
func (b *Base) Limits() Limits          { return b.limits }
func (b *Base) Registry() *Registry     { return b.reg }
func (b *Base) Logger() *logrus.Entry   { return b.log }
func (b *Base) Now() time.Time          { return b.clock() }
func (b *Base) Rand() *rand.Rand        { return b.rng }
func (b *Base) Host() Host              { return b.host }
func (b *Base) SetLimits(limits Limits) { b.limits = limits }

// RoomID returns the id of the hosting room.
func (b *Base) RoomID() string {
	if b.host == nil {
		return ""
	}
	return b.host.RoomID()
}

// Connect binds c to p and runs the join or reconnect hook.
func (b *Base) Connect(c Conn, p *Player) {
	prev := b.reg.Bind(p.ID, c)
	if prev != nil {
		prev.Close("replaced by a newer connection")
	}

	returning := b.disconnected[p.ID] || b.seen[p.ID] || prev != nil
	delete(b.disconnected, p.ID)
	b.seen[p.ID] = true

	if returning {
		b.log.WithField("player_id", p.ID).Debug("player reconnected")
		b.hooks.OnReconnect(c, p)
		return
	}
	b.log.WithField("player_id", p.ID).Debug("player joined")
	b.hooks.OnJoin(c, p)
}

// Disconnect unbinds c and marks its player as disconnected. Unknown connections are ignored.
func (b *Base) Disconnect(c Conn) {
	pid, ok := b.reg.Unbind(c)
	if !ok {
		return
	}
	b.disconnected[pid] = true
	if p, ok := b.reg.Get(pid); ok {
		b.hooks.OnLeave(p)
	}
}

// Forget clears the join history of a departed player.
func (b *Base) Forget(playerID string) {
	delete(b.seen, playerID)
	delete(b.disconnected, playerID)
}

// IsDisconnected reports whether a player has left and not yet come back.
func (b *Base) IsDisconnected(playerID string) bool {
	return b.disconnected[playerID]
}

// Broadcast sends msg to every live connection.
func (b *Base) Broadcast(msg any) {
	b.BroadcastExcept(msg, nil)
}

// BroadcastExcept sends msg to every live connection other than exclude. Sends run
// concurrently and all of them finish before it returns; connections that fail
// are pruned.
func (b *Base) BroadcastExcept(msg any, exclude Conn) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.WithError(err).Error("failed to marshal broadcast")
		return
	}
	targets := make([]Binding, 0, b.reg.LiveCount())
	for _, l := range b.reg.Live() {
		if exclude != nil && l.Conn.ID() == exclude.ID() {
			continue
		}
		targets = append(targets, l)
	}
	b.prune(b.fanOut(targets, data))
}

// BroadcastEach sends a per-player message to every live connection.
func (b *Base) BroadcastEach(build func(playerID string) any) {
	for _, l := range b.reg.Live() {
		b.SendTo(l.PlayerID, build(l.PlayerID))
	}
}

func (b *Base) fanOut(targets []Binding, data []byte) []Binding {
	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
			defer cancel()
			errs[i] = t.Conn.Send(ctx, data)
			return nil
		})
	}
	_ = g.Wait()

	var failed []Binding
	for i, err := range errs {
		if err != nil {
			b.log.WithFields(logrus.Fields{
				"player_id": targets[i].PlayerID,
				"conn_id":   targets[i].Conn.ID(),
			}).WithError(err).Warn("send failed, pruning connection")
			failed = append(failed, targets[i])
		}
	}
	return failed
}

// SendTo sends msg to one player's live connection. It reports whether the send succeeded.
func (b *Base) SendTo(playerID string, msg any) bool {
	c, ok := b.reg.Conn(playerID)
	if !ok {
		return false
	}
	return b.Reply(c, msg)
}

// Reply sends msg to one connection, pruning it on failure.
func (b *Base) Reply(c Conn, msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.WithError(err).Error("failed to marshal reply")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
	defer cancel()
	if err := c.Send(ctx, data); err != nil {
		pid, _ := b.reg.PlayerOf(c)
		b.log.WithFields(logrus.Fields{"player_id": pid, "conn_id": c.ID()}).WithError(err).
			Warn("send failed, pruning connection")
		b.prune([]Binding{{PlayerID: pid, Conn: c}})
		return false
	}
	return true
}

// SendError reports err to c only.
func (b *Base) SendError(c Conn, err error) {
	b.Reply(c, NewErrorMessage(err))
}

func (b *Base) prune(failed []Binding) {
	for _, f := range failed {
		pid, ok := b.reg.PlayerOf(f.Conn)
		if !ok || pid != f.PlayerID {
			continue
		}
		b.Disconnect(f.Conn)
		f.Conn.Close("send failed")
		if b.host != nil {
			b.host.ConnectionLost(pid)
		}
	}
}

// BeginSession starts a new game session id and clock.
func (b *Base) BeginSession() {
	b.SessionID = uuid.New()
	b.StartedAt = b.clock()
	b.actionIndex = 0
}

// NewSessionRecord fills the session-wide fields of a record for playerID.
func (b *Base) NewSessionRecord(playerID string, status string) SessionRecord {
	ended := b.clock()
	return SessionRecord{
		SessionID:       b.SessionID,
		PlayerID:        playerID,
		GameKind:        b.kind,
		RoomID:          b.RoomID(),
		StartedAt:       b.StartedAt,
		EndedAt:         ended,
		DurationSeconds: int(ended.Sub(b.StartedAt).Seconds()),
		Status:          status,
	}
}

// Persist hands records to the sink in the background. Failures are logged and
// never touch game state.
func (b *Base) Persist(records []SessionRecord) {
	if len(records) == 0 {
		return
	}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.persistTimeout)
		defer cancel()
		for _, rec := range records {
			entry := b.log.WithFields(logrus.Fields{"player_id": rec.PlayerID, "session_id": rec.SessionID})
			if err := b.sink.RecordSession(ctx, rec); err != nil {
				entry.WithError(err).Warn("failed to record session")
				continue
			}
			if err := b.sink.UpdateStats(ctx, rec.PlayerID, rec.GameKind); err != nil {
				entry.WithError(err).Warn("failed to update player stats")
			}
		}
	}()
}

// LogAction appends an accepted action to the action log in the background.
// Assumes the room lock is held so that indices are ordered.
func (b *Base) LogAction(actorID, actionType string, payload any) {
	b.actionIndex++
	raw, err := json.Marshal(payload)
	if err != nil || payload == nil {
		raw = json.RawMessage(`{}`)
	}
	rec := ActionRecord{
		GameID:    b.SessionID,
		Index:     b.actionIndex,
		ActorID:   actorID,
		Type:      actionType,
		Payload:   raw,
		Timestamp: b.clock().UnixMilli(),
	}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.persistTimeout)
		defer cancel()
		if err := b.actions.LogAction(ctx, rec); err != nil {
			b.log.WithError(err).WithField("action_index", rec.Index).Warn("failed to log action")
		}
	}()
}

// Wait blocks until background sink and action log calls have returned.
func (b *Base) Wait() {
	b.inflight.Wait()
}
