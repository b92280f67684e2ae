// Package patternhunt implements the pattern-matching memory game. Sixteen cards
// each hide one pattern. Every player chases a private sequence of 48 target
// patterns (three shuffled passes over the sixteen) across the same cards.
package patternhunt

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/sirupsen/logrus"
)

// Kind is the game-kind tag used in connection paths and the directory.
const Kind = "pattern_hunt"

const (
	CardCount      = 16
	Passes         = 3
	SequenceLength = CardCount * Passes

	ScoreFloor       = 0
	ScoreCeiling     = 20
	SingleStartScore = 15
	MultiStartScore  = 10

	hiddenImage = "empty"
	lockKey     = "lock"
)

// Card is one physical card on the table.
type Card struct {
	CardID    string `json:"cardId"`
	PatternID string `json:"patternId,omitempty"`
	ImgURL    string `json:"imgUrl"`
}

// flip marks a card that is face up until its animation ends.
type flip struct {
	card    string
	player  string
	started time.Time
}

// Game is the pattern hunt variant of the round engine.
type Game struct {
	game.Round

	rules   Rules
	cardIDs []string
	cards   map[string]*Card
	targets map[string][]string
	cursor  map[string]int
	scores  map[string]int
	flips   map[string]flip
	locked  bool
}

// New builds an unstarted game.
func New(deps game.Deps) game.Game {
	return newGame(deps)
}

func newGame(deps game.Deps) *Game {
	g := &Game{rules: DefaultRules()}
	g.InitRound(Kind, game.Limits{MinPlayers: 1, MaxPlayers: 2}, deps, g, g)
	g.clear()
	return g
}

func (g *Game) clear() {
	g.cardIDs = nil
	g.cards = make(map[string]*Card)
	g.targets = make(map[string][]string)
	g.cursor = make(map[string]int)
	g.scores = make(map[string]int)
	g.flips = make(map[string]flip)
	g.locked = false
}

// Rules returns the live rule set.
func (g *Game) Rules() Rules { return g.rules }

// Start deals the cards and target sequences and sends each player its sequence.
func (g *Game) Start(opts game.StartOptions) error {
	if err := g.StartRound(opts); err != nil {
		return err
	}
	g.cancelTimers()
	g.clear()

	patterns := patternIDs()
	g.Rand().Shuffle(len(patterns), func(i, j int) { patterns[i], patterns[j] = patterns[j], patterns[i] })
	for i, pattern := range patterns {
		id := "A" + strconv.Itoa(i+1)
		g.cardIDs = append(g.cardIDs, id)
		g.cards[id] = &Card{CardID: id, PatternID: pattern, ImgURL: hiddenImage}
	}

	start := MultiStartScore
	if g.Mode == game.ModeSingle {
		start = SingleStartScore
	}
	for _, pid := range g.Order {
		seq := make([]string, 0, SequenceLength)
		for range Passes {
			pass := patternIDs()
			g.Rand().Shuffle(len(pass), func(i, j int) { pass[i], pass[j] = pass[j], pass[i] })
			seq = append(seq, pass...)
		}
		g.targets[pid] = seq
		g.cursor[pid] = 0
		g.setScore(pid, start)
	}

	g.Logger().WithFields(logrus.Fields{"room_id": g.RoomID(), "mode": g.Mode, "players": len(g.Order)}).
		Info("pattern hunt started")

	for _, pid := range g.Order {
		g.SendTo(pid, targetSequenceMessage{Type: "target_sequence", Targets: g.targets[pid]})
	}
	g.BroadcastState()
	return nil
}

func patternIDs() []string {
	ids := make([]string, CardCount)
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
	}
	return ids
}

func (g *Game) setScore(pid string, score int) {
	g.scores[pid] = score
	if p, ok := g.Registry().Get(pid); ok {
		p.Score = score
	}
}

// HandleEvent dispatches in-game messages.
func (g *Game) HandleEvent(c game.Conn, ev game.Event, playerID string) {
	switch ev.Type {
	case "action":
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
		if g.rules.AllowSimultaneousActions && g.Participant(playerID) {
			g.Apply(c, playerID, body.Action)
			return
		}
		g.HandleAction(c, playerID, body.Action)
	case "view_final_state":
		if !g.Finished() {
			g.SendError(c, game.ErrGameNotFinished)
			return
		}
		g.Reply(c, g.finalState())
	default:
		g.SendError(c, game.ErrUnknownEvent.Errorf("unknown event type %q", ev.Type))
	}
}

type flipAction struct {
	Type   string `json:"type"`
	CardID string `json:"cardId"`
}

// ProcessAction resolves one flip. Checks run before any state changes.
func (g *Game) ProcessAction(playerID string, raw json.RawMessage) (game.Outcome, error) {
	var a flipAction
	if err := json.Unmarshal(raw, &a); err != nil {
		return game.Outcome{}, game.ErrMalformed.Errorf("invalid action: %v", err)
	}
	if !g.Participant(playerID) {
		return game.Outcome{}, game.ErrNotParticipant
	}
	if g.rules.FlipRestrictions.ActionLockEnabled && g.locked {
		return game.Outcome{}, game.ErrActionLocked
	}
	if a.Type != "flip" {
		return game.Outcome{}, game.ErrUnknownEvent.Errorf("unknown action %q", a.Type)
	}
	card, ok := g.cards[a.CardID]
	if !ok {
		return game.Outcome{}, game.ErrUnknownCard.Errorf("card %q does not exist", a.CardID)
	}

	now := g.Now()
	if g.rules.FlipRestrictions.PreventFlipDuringAnimation {
		for _, f := range g.flips {
			if g.animating(f, now) {
				return game.Outcome{}, game.ErrAnimating
			}
		}
	}
	if g.rules.FlipRestrictions.WaitForOthersToFlipBack && playerID == g.Current {
		for _, f := range g.flips {
			if f.player != playerID && g.animating(f, now) {
				return game.Outcome{}, game.ErrWaitForFlipBack
			}
		}
	}
	if limit := g.rules.MaxConcurrentFlips; limit > 0 {
		n := 0
		for _, f := range g.flips {
			if f.player == playerID && g.animating(f, now) {
				n++
			}
		}
		if n >= limit {
			return game.Outcome{}, game.ErrTooManyFlips
		}
	}

	idx := g.cursor[playerID]
	matched := card.PatternID == g.targets[playerID][idx]
	if matched {
		g.setScore(playerID, g.scores[playerID]+1)
		g.cursor[playerID] = idx + 1
	} else {
		g.setScore(playerID, g.scores[playerID]-1)
	}

	f := flip{card: card.CardID, player: playerID, started: now}
	g.flips[card.CardID] = f
	g.Host().Schedule(flipKey(card.CardID), g.rules.animation(), func() { g.flipBack(f) })

	if !matched && g.rules.FlipRestrictions.ActionLockEnabled && g.rules.TurnTransitionDelay > 0 {
		g.locked = true
		g.Host().Schedule(lockKey, g.rules.transition(), func() { g.locked = false })
	}

	g.Broadcast(cardFlippedMessage{
		Type:     "card_flipped",
		RoomID:   g.RoomID(),
		PlayerID: playerID,
		Result: flipResult{
			CardID:    card.CardID,
			ImgURL:    card.ImgURL,
			PatternID: card.PatternID,
			Matched:   matched,
			FlipBack:  g.rules.AnimationDuration,
		},
	})
	return game.Outcome{Advance: !matched}, nil
}

// flipBack clears the face-up marker for f. It does nothing if the card was
// flipped again or already cleared since f was scheduled.
func (g *Game) flipBack(f flip) {
	cur, ok := g.flips[f.card]
	if !ok || !cur.started.Equal(f.started) || cur.player != f.player {
		return
	}
	delete(g.flips, f.card)
}

func (g *Game) animating(f flip, now time.Time) bool {
	return now.Sub(f.started) < g.rules.animation()
}

func flipKey(cardID string) string { return "flip:" + cardID }

// Terminated reports whether any player hit the score floor or ceiling or
// finished their target sequence.
func (g *Game) Terminated() bool {
	for _, pid := range g.Order {
		if g.scores[pid] <= ScoreFloor || g.scores[pid] >= ScoreCeiling || g.cursor[pid] >= SequenceLength {
			return true
		}
	}
	return false
}

// OnFinish records every participant's session.
func (g *Game) OnFinish() {
	g.Logger().WithFields(logrus.Fields{"room_id": g.RoomID(), "scores": g.scores}).Info("pattern hunt finished")
	records := make([]game.SessionRecord, 0, len(g.Order))
	for _, pid := range g.Order {
		rec := g.NewSessionRecord(pid, game.SessionCompleted)
		rec.Score = g.scores[pid]
		rec.RoundsPlayed = g.cursor[pid]
		rec.RoundsTotal = SequenceLength
		rec.Accuracy = math.Round(float64(g.cursor[pid])/SequenceLength*10000) / 100
		records = append(records, rec)
	}
	g.LogAction("", "game_end", map[string]any{"scores": g.scores})
	g.Persist(records)
}

type playerInfo struct {
	Score       int     `json:"score"`
	NextPattern *string `json:"next_pattern"`
	TargetIndex int     `json:"target_index"`
}

// Info is the per-player block of game_state.
func (g *Game) Info() any {
	info := make(map[string]playerInfo, len(g.Order))
	for _, pid := range g.Order {
		idx := g.cursor[pid]
		pi := playerInfo{Score: g.scores[pid], TargetIndex: idx}
		if seq := g.targets[pid]; idx < len(seq) {
			next := seq[idx]
			pi.NextPattern = &next
		}
		info[pid] = pi
	}
	return info
}

// UpdateRules merges patch into the live rules and broadcasts the result.
func (g *Game) UpdateRules(patch map[string]any) error {
	next, err := game.MergeRules(g.rules, patch)
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	g.rules = next
	if !g.rules.FlipRestrictions.ActionLockEnabled {
		g.locked = false
		g.Host().Cancel(lockKey)
	}
	g.Broadcast(game.RulesMessage{Type: "rules_updated", Rules: g.rules})
	return nil
}

// OnJoin sends the newcomer the rules and the current state.
func (g *Game) OnJoin(c game.Conn, _ *game.Player) {
	g.Reply(c, game.RulesMessage{Type: "rules_updated", Rules: g.rules})
	g.Reply(c, g.StateMessage())
}

// OnReconnect re-sends everything a client needs to resume, including which
// cards are still face up and for how long.
func (g *Game) OnReconnect(c game.Conn, p *game.Player) {
	g.Reply(c, game.RulesMessage{Type: "rules_updated", Rules: g.rules})
	g.Reply(c, g.StateMessage())
	if g.State == game.StateInit {
		return
	}
	g.Reply(c, cardsSyncMessage{Type: "cards_sync", Cards: g.visibleCards()})
	g.Reply(c, flipStatusMessage{Type: "flip_status_sync", FlipStatus: g.flipStatus()})
	if g.Participant(p.ID) {
		g.Reply(c, playerSyncMessage{
			Type:         "player_sync",
			Targets:      g.targets[p.ID],
			CurrentIndex: g.cursor[p.ID],
			Score:        g.scores[p.ID],
		})
	}
}

// OnLeave keeps everything; the player may come back.
func (g *Game) OnLeave(p *game.Player) {
	g.Logger().WithFields(logrus.Fields{"room_id": g.RoomID(), "player_id": p.ID}).Debug("pattern hunt player left")
}

// End aborts a running game.
func (g *Game) End() {
	g.cancelTimers()
	g.EndRound()
}

// Reset clears the table for another game.
func (g *Game) Reset() {
	g.cancelTimers()
	g.ResetRound()
	g.clear()
}

func (g *Game) cancelTimers() {
	if g.Host() == nil {
		return
	}
	for id := range g.flips {
		g.Host().Cancel(flipKey(id))
	}
	g.Host().Cancel(lockKey)
	g.locked = false
}

// visibleCards hides patterns of face-down cards until the game is over.
func (g *Game) visibleCards() []Card {
	now := g.Now()
	out := make([]Card, 0, len(g.cardIDs))
	for _, id := range g.cardIDs {
		c := *g.cards[id]
		if f, up := g.flips[id]; !g.Finished() && (!up || !g.animating(f, now)) {
			c.PatternID = ""
		}
		out = append(out, c)
	}
	return out
}

type flipStatus struct {
	Flipping      bool   `json:"flipping"`
	RemainingTime int64  `json:"remaining_time,omitempty"`
	FlippedBy     string `json:"flipped_by,omitempty"`
}

func (g *Game) flipStatus() map[string]flipStatus {
	now := g.Now()
	out := make(map[string]flipStatus, len(g.cardIDs))
	for _, id := range g.cardIDs {
		f, ok := g.flips[id]
		if !ok || !g.animating(f, now) {
			out[id] = flipStatus{}
			continue
		}
		remaining := g.rules.animation() - now.Sub(f.started)
		out[id] = flipStatus{Flipping: true, RemainingTime: remaining.Milliseconds(), FlippedBy: f.player}
	}
	return out
}

func (g *Game) finalState() finalStateMessage {
	cards := make(map[string]Card, len(g.cards))
	for id, c := range g.cards {
		cards[id] = *c
	}
	targets := make(map[string][]string, len(g.targets))
	for pid, seq := range g.targets {
		targets[pid] = seq
	}
	index := make(map[string]int, len(g.cursor))
	for pid, i := range g.cursor {
		index[pid] = i
	}
	scores := make(map[string]int, len(g.scores))
	for pid, s := range g.scores {
		scores[pid] = s
	}
	return finalStateMessage{
		Type:              "final_state",
		Cards:             cards,
		Scores:            scores,
		PlayerTargets:     targets,
		PlayerTargetIndex: index,
	}
}

// Snapshot is a read-only copy of the table, for tests and diagnostics.
type Snapshot struct {
	Cards   []Card
	Targets map[string][]string
	Cursor  map[string]int
	Scores  map[string]int
	FaceUp  []string
	Locked  bool
}

// Snapshot copies the current table.
func (g *Game) Snapshot() Snapshot {
	s := Snapshot{
		Targets: make(map[string][]string, len(g.targets)),
		Cursor:  make(map[string]int, len(g.cursor)),
		Scores:  make(map[string]int, len(g.scores)),
		Locked:  g.locked,
	}
	for _, id := range g.cardIDs {
		s.Cards = append(s.Cards, *g.cards[id])
	}
	for pid, seq := range g.targets {
		s.Targets[pid] = append([]string(nil), seq...)
	}
	for pid, i := range g.cursor {
		s.Cursor[pid] = i
	}
	for pid, sc := range g.scores {
		s.Scores[pid] = sc
	}
	for id := range g.flips {
		s.FaceUp = append(s.FaceUp, id)
	}
	sort.Strings(s.FaceUp)
	return s
}
