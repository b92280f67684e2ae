// Package gametest provides in-memory connections, hosts and sinks for testing
// games and rooms without a network.
package gametest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var connSeq atomic.Int64

// ErrClosed is returned by Send on a closed or failing Conn.
var ErrClosed = errors.New("connection closed")

// Conn records every frame it is sent.
type Conn struct {
	id string

	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	reason   string
	failNext bool
}

// NewConn returns an open connection with a unique id.
func NewConn() *Conn {
	return &Conn{id: fmt.Sprintf("conn-%d", connSeq.Add(1))}
}

func (c *Conn) ID() string { return c.id }

// Send records data, or fails if the connection is closed or set to fail.
func (c *Conn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failNext {
		return ErrClosed
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

// Close marks the connection closed.
func (c *Conn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.reason = reason
	}
}

// Break makes every later Send fail without closing the connection, like a dead peer.
func (c *Conn) Break() {
	c.mu.Lock()
	c.failNext = true
	c.mu.Unlock()
}

// Closed reports whether Close was called and with what reason.
func (c *Conn) Closed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.reason
}

// Messages decodes every recorded frame.
func (c *Conn) Messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// OfType returns recorded messages with the given type tag.
func (c *Conn) OfType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range c.Messages() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message with the given type tag, or nil.
func (c *Conn) Last(typ string) map[string]any {
	msgs := c.OfType(typ)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// Reset forgets recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// Host is a game.Host that runs scheduled tasks only when told to.
type Host struct {
	ID       string
	Pending  map[string]func()
	Delays   map[string]time.Duration
	Lost     []string
	Finished int
	Grace    time.Duration
}

// NewHost returns a host for room id.
func NewHost(id string) *Host {
	return &Host{ID: id, Pending: map[string]func(){}, Delays: map[string]time.Duration{}}
}

func (h *Host) RoomID() string { return h.ID }

func (h *Host) Schedule(key string, d time.Duration, fn func()) {
	h.Pending[key] = fn
	h.Delays[key] = d
}

func (h *Host) Cancel(key string) {
	delete(h.Pending, key)
	delete(h.Delays, key)
}

func (h *Host) ConnectionLost(playerID string) { h.Lost = append(h.Lost, playerID) }

func (h *Host) GameFinished() { h.Finished++ }

func (h *Host) SetReconnectGrace(d time.Duration) { h.Grace = d }

// Fire runs the pending task under key, as if its timer elapsed. It reports whether one existed.
func (h *Host) Fire(key string) bool {
	fn, ok := h.Pending[key]
	if !ok {
		return false
	}
	delete(h.Pending, key)
	delete(h.Delays, key)
	fn()
	return true
}

// Sink records sessions and stat updates.
type Sink struct {
	mu       sync.Mutex
	Sessions []game.SessionRecord
	Stats    []string
	Err      error
}

func (s *Sink) RecordSession(_ context.Context, rec game.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Sessions = append(s.Sessions, rec)
	return nil
}

func (s *Sink) UpdateStats(_ context.Context, playerID, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Stats = append(s.Stats, playerID+"/"+kind)
	return nil
}

// Recorded returns a copy of the recorded sessions.
func (s *Sink) Recorded() []game.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]game.SessionRecord(nil), s.Sessions...)
}

// StatUpdates returns a copy of the "player/kind" stats refreshes.
func (s *Sink) StatUpdates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Stats...)
}

// Actions records logged actions.
type Actions struct {
	mu      sync.Mutex
	Records []game.ActionRecord
}

func (a *Actions) LogAction(_ context.Context, rec game.ActionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Records = append(a.Records, rec)
	return nil
}

// Len returns the number of recorded actions.
func (a *Actions) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Records)
}

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Logger returns a discarding logger entry and the hook that captured its output.
func Logger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

// Deps builds game dependencies around reg and host with a seeded RNG.
func Deps(reg *game.Registry, host game.Host, seed uint64) (game.Deps, *Sink, *Actions, *Clock) {
	sink := &Sink{}
	actions := &Actions{}
	clock := NewClock()
	log, _ := Logger()
	return game.Deps{
		Registry:       reg,
		Host:           host,
		Sink:           sink,
		Actions:        actions,
		Logger:         log,
		Clock:          clock.Now,
		Rand:           rand.New(rand.NewPCG(seed, seed+1)),
		SendTimeout:    time.Second,
		PersistTimeout: time.Second,
	}, sink, actions, clock
}
