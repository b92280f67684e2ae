package room

import (
	"regexp"
	"testing"
	"time"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/jason-s-yu/roomservice/internal/game/gametest"
	"github.com/jason-s-yu/roomservice/internal/game/patternhunt"
	"github.com/jason-s-yu/roomservice/internal/game/quiz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDirectory(t *testing.T, opts DirectoryOptions) *Directory {
	t.Helper()
	if opts.Factories == nil {
		opts.Factories = DefaultFactories()
	}
	if opts.Logger == nil {
		opts.Logger, _ = gametest.Logger()
	}
	d := NewDirectory(opts)
	t.Cleanup(d.Shutdown)
	return d
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{})

	a, err := d.GetOrCreate(patternhunt.Kind, "abc")
	require.NoError(t, err)
	b, err := d.GetOrCreate(patternhunt.Kind, "abc")
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := d.GetOrCreate(quiz.Kind, "abc")
	require.NoError(t, err)
	assert.NotSame(t, a, other, "rooms are scoped by game kind")
	assert.Equal(t, 2, d.Len())

	_, err = d.GetOrCreate("chess", "abc")
	assert.ErrorIs(t, err, game.ErrUnknownKind)
	_, err = d.GetOrCreate(patternhunt.Kind, "")
	assert.ErrorIs(t, err, game.ErrMalformed)
}

func TestKinds(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{})
	assert.Equal(t, []string{patternhunt.Kind, quiz.Kind, "round"}, d.Kinds())
}

func TestEmptyRoomIsRemovedAfterGrace(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{EmptyGrace: 20 * time.Millisecond, ReconnectGrace: 20 * time.Millisecond})
	r, err := d.GetOrCreate(quiz.Kind, "room1")
	require.NoError(t, err)

	c := gametest.NewConn()
	require.NoError(t, r.Connect(c, game.Profile{ID: "questioner-1"}))
	r.Disconnect(c)
	assert.False(t, d.RemovalPending(quiz.Kind, "room1"), "the seat is still held")

	assert.Eventually(t, func() bool {
		_, ok := d.Get(quiz.Kind, "room1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.True(t, r.Closed())

	fresh, err := d.GetOrCreate(quiz.Kind, "room1")
	require.NoError(t, err)
	assert.NotSame(t, r, fresh)
	assert.Empty(t, fresh.Snapshot().Players, "a recreated room starts empty")
}

func TestRoomOutlivesEmptyGraceWhilePlayerMayReturn(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{EmptyGrace: 20 * time.Millisecond, ReconnectGrace: time.Hour})
	r, err := d.GetOrCreate(patternhunt.Kind, "resume")
	require.NoError(t, err)

	c := gametest.NewConn()
	require.NoError(t, r.Connect(c, game.Profile{ID: "A"}))
	r.HandleMessage(c, []byte(`{"type":"start_game"}`))
	require.Equal(t, StatusPlaying, r.Snapshot().Status)

	r.Disconnect(c)
	assert.False(t, d.RemovalPending(patternhunt.Kind, "resume"))
	time.Sleep(100 * time.Millisecond)

	again, err := d.GetOrCreate(patternhunt.Kind, "resume")
	require.NoError(t, err)
	assert.Same(t, r, again)
	assert.False(t, again.Closed())

	back := gametest.NewConn()
	require.NoError(t, again.Connect(back, game.Profile{ID: "A"}))
	s := again.Snapshot()
	assert.Equal(t, StatusPlaying, s.Status)
	assert.Equal(t, "A", s.Owner)
	require.Len(t, s.Players, 1)
	assert.True(t, s.Players[0].Connected)
}

func TestRejoinCancelsRemoval(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{EmptyGrace: time.Hour})
	r, err := d.GetOrCreate(patternhunt.Kind, "keep")
	require.NoError(t, err)

	c := gametest.NewConn()
	require.NoError(t, r.Connect(c, game.Profile{ID: "A"}))
	r.Disconnect(c)
	require.True(t, d.RemovalPending(patternhunt.Kind, "keep"), "no grace means the player left at once")

	again, err := d.GetOrCreate(patternhunt.Kind, "keep")
	require.NoError(t, err)
	assert.Same(t, r, again)
	assert.False(t, d.RemovalPending(patternhunt.Kind, "keep"))

	require.NoError(t, again.Connect(gametest.NewConn(), game.Profile{ID: "B"}))
	assert.Equal(t, "B", again.Snapshot().Owner)
}

func TestRemoveSkipsBusyRoom(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{})
	r, err := d.GetOrCreate(patternhunt.Kind, "busy")
	require.NoError(t, err)
	require.NoError(t, r.Connect(gametest.NewConn(), game.Profile{ID: "A"}))

	d.remove(r)
	got, ok := d.Get(patternhunt.Kind, "busy")
	require.True(t, ok)
	assert.Same(t, r, got)
	assert.False(t, r.Closed())
}

func TestRemoveSkipsReplacedRoom(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{})
	stale := New(Options{ID: "x", Kind: patternhunt.Kind, Factory: patternhunt.New})
	cur, err := d.GetOrCreate(patternhunt.Kind, "x")
	require.NoError(t, err)

	d.remove(stale)
	got, ok := d.Get(patternhunt.Kind, "x")
	require.True(t, ok)
	assert.Same(t, cur, got)
}

func TestNewRoomID(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{})
	id, err := d.NewRoomID(patternhunt.Kind)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9]{8}$`), id)

	_, err = d.NewRoomID("chess")
	assert.ErrorIs(t, err, game.ErrUnknownKind)
}

func TestNewRoomIDExhausted(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{IDLength: 1, IDAlphabet: "a"})
	id, err := d.NewRoomID(quiz.Kind)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	_, err = d.GetOrCreate(quiz.Kind, "a")
	require.NoError(t, err)
	_, err = d.NewRoomID(quiz.Kind)
	assert.Error(t, err)

	id, err = d.NewRoomID(patternhunt.Kind)
	require.NoError(t, err, "ids are unique per kind")
	assert.Equal(t, "a", id)
}

func TestRoomsListing(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{})
	for _, id := range []string{"b", "a", "c"} {
		r, err := d.GetOrCreate(patternhunt.Kind, id)
		require.NoError(t, err)
		require.NoError(t, r.Connect(gametest.NewConn(), game.Profile{ID: "p-" + id, Name: "P" + id}))
	}

	list, err := d.Rooms(patternhunt.Kind)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "Pa's room", list[0].Name)
	assert.Equal(t, 1, list[0].PlayerCount)
	assert.Equal(t, 2, list[0].MaxPlayers)

	empty, err := d.Rooms(quiz.Kind)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = d.Rooms("chess")
	assert.ErrorIs(t, err, game.ErrUnknownKind)
}

func TestShutdownClosesRooms(t *testing.T) {
	d := newDirectory(t, DirectoryOptions{})
	r, err := d.GetOrCreate(patternhunt.Kind, "s")
	require.NoError(t, err)
	c := gametest.NewConn()
	require.NoError(t, r.Connect(c, game.Profile{ID: "A"}))

	d.Shutdown()
	assert.True(t, r.Closed())
	closed, _ := c.Closed()
	assert.True(t, closed)
	assert.Zero(t, d.Len())
}
