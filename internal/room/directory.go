package room

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/jason-s-yu/roomservice/internal/schedule"
	"github.com/sirupsen/logrus"
)

const (
	maxRoomIDLength = 64
	idAttempts      = 100
)

// DirectoryOptions configure the directory and every room it creates.
type DirectoryOptions struct {
	// Factories maps a game-kind tag to its constructor.
	Factories map[string]game.Factory

	ReconnectGrace time.Duration
	// EmptyGrace is how long a room whose last player has left is kept before removal.
	EmptyGrace time.Duration

	IDLength   int
	IDAlphabet string

	Sink           game.Sink
	Actions        game.ActionLog
	Logger         *logrus.Entry
	Clock          func() time.Time
	SendTimeout    time.Duration
	PersistTimeout time.Duration
	// NewRand seeds each room's game. Nil uses a time-seeded source.
	NewRand func() *rand.Rand
}

// Directory owns every live room, keyed by game kind and room id.
type Directory struct {
	mu    sync.Mutex
	opts  DirectoryOptions
	rooms map[string]map[string]*Room
	sched *schedule.Scheduler
	log   *logrus.Entry
}

// NewDirectory returns an empty directory.
func NewDirectory(opts DirectoryOptions) *Directory {
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.IDLength <= 0 {
		opts.IDLength = 8
	}
	if opts.IDAlphabet == "" {
		opts.IDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	}
	d := &Directory{
		opts:  opts,
		rooms: make(map[string]map[string]*Room),
		sched: schedule.New(nil),
		log:   opts.Logger,
	}
	for kind := range opts.Factories {
		d.rooms[kind] = make(map[string]*Room)
	}
	return d
}

// Kinds lists the registered game kinds.
func (d *Directory) Kinds() []string {
	kinds := make([]string, 0, len(d.opts.Factories))
	for k := range d.opts.Factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// HasKind reports whether kind has a registered factory.
func (d *Directory) HasKind(kind string) bool {
	_, ok := d.opts.Factories[kind]
	return ok
}

// GetOrCreate returns the room kind/id, creating it with an empty game on first use.
// A pending removal of that room is cancelled.
func (d *Directory) GetOrCreate(kind, id string) (*Room, error) {
	factory, ok := d.opts.Factories[kind]
	if !ok {
		return nil, game.ErrUnknownKind.Errorf("unsupported game kind %q", kind)
	}
	if id == "" || len(id) > maxRoomIDLength {
		return nil, game.ErrMalformed.Errorf("room id must be 1 to %d characters", maxRoomIDLength)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.sched.Cancel(removalKey(kind, id))
	if r, ok := d.rooms[kind][id]; ok {
		return r, nil
	}

	var rng *rand.Rand
	if d.opts.NewRand != nil {
		rng = d.opts.NewRand()
	}
	r := New(Options{
		ID:             id,
		Kind:           kind,
		Factory:        factory,
		ReconnectGrace: d.opts.ReconnectGrace,
		Sink:           d.opts.Sink,
		Actions:        d.opts.Actions,
		Logger:         d.log,
		Clock:          d.opts.Clock,
		Rand:           rng,
		SendTimeout:    d.opts.SendTimeout,
		PersistTimeout: d.opts.PersistTimeout,
		OnEmpty:        d.scheduleRemoval,
	})
	d.rooms[kind][id] = r
	d.log.WithFields(logrus.Fields{"room_id": id, "game_kind": kind}).Info("room created")
	return r, nil
}

// Get looks a room up without creating it.
func (d *Directory) Get(kind, id string) (*Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[kind][id]
	return r, ok
}

// scheduleRemoval is the rooms' empty callback. It runs under the room lock and
// only touches the scheduler.
func (d *Directory) scheduleRemoval(r *Room) {
	d.sched.After(removalKey(r.kind, r.id), d.opts.EmptyGrace, func() { d.remove(r) })
}

// remove destroys r if it is still registered and still tracks no players.
func (d *Directory) remove(r *Room) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.rooms[r.kind][r.id]; !ok || cur != r {
		return
	}
	if !r.Idle() {
		return
	}
	delete(d.rooms[r.kind], r.id)
	r.Close()
	d.log.WithFields(logrus.Fields{"room_id": r.id, "game_kind": r.kind}).Info("room destroyed")
}

// RemovalPending reports whether a destruction is scheduled for kind/id.
func (d *Directory) RemovalPending(kind, id string) bool {
	return d.sched.Pending(removalKey(kind, id))
}

func removalKey(kind, id string) string { return "room:" + kind + "/" + id }

// NewRoomID samples a short random id that no live room of kind uses.
func (d *Directory) NewRoomID(kind string) (string, error) {
	if _, ok := d.opts.Factories[kind]; !ok {
		return "", game.ErrUnknownKind.Errorf("unsupported game kind %q", kind)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for range idAttempts {
		id, err := randomID(d.opts.IDLength, d.opts.IDAlphabet)
		if err != nil {
			return "", err
		}
		if _, taken := d.rooms[kind][id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("no free room id after %d attempts", idAttempts)
}

// Rooms lists every room of kind, ordered by id.
func (d *Directory) Rooms(kind string) ([]Summary, error) {
	if _, ok := d.opts.Factories[kind]; !ok {
		return nil, game.ErrUnknownKind.Errorf("unsupported game kind %q", kind)
	}
	d.mu.Lock()
	rooms := make([]*Room, 0, len(d.rooms[kind]))
	for _, r := range d.rooms[kind] {
		rooms = append(rooms, r)
	}
	d.mu.Unlock()

	out := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len counts live rooms across all kinds.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, m := range d.rooms {
		n += len(m)
	}
	return n
}

// Shutdown closes every room and waits for their pending persistence.
func (d *Directory) Shutdown() {
	d.sched.Stop()
	d.mu.Lock()
	var all []*Room
	for kind, m := range d.rooms {
		for _, r := range m {
			all = append(all, r)
		}
		d.rooms[kind] = make(map[string]*Room)
	}
	d.mu.Unlock()

	for _, r := range all {
		r.Close()
		r.Drain()
	}
	d.log.WithField("rooms", len(all)).Info("directory shut down")
}
