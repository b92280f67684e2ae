// Package quiz implements the questioner-driven quiz. Questioners post
// questions and judge the answers; everyone else answers. Questioners are
// recognised by the "questioner-" id prefix.
package quiz

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/sirupsen/logrus"
)

// Kind is the game-kind tag used in connection paths and the directory.
const Kind = "quiz"

const (
	QuestionerPrefix = "questioner-"

	ModeScoring  = "scoring"
	ModeSurvival = "survival"

	// HiddenAnswer replaces answer text for answerers while answers are not exposed.
	HiddenAnswer = "[Hidden]"

	// TimestampWindow bounds how far a client answer timestamp may stray from server time.
	TimestampWindow = 30 * time.Second

	maxPlayers = 64
)

// Rules is the live rule set of a quiz.
type Rules struct {
	// ExposeAnswer shows submitted answers to the other answerers.
	ExposeAnswer bool `json:"expose_answer"`
}

// IsQuestioner reports whether playerID is a questioner.
func IsQuestioner(playerID string) bool {
	return strings.HasPrefix(playerID, QuestionerPrefix)
}

// Game is the quiz variant.
type Game struct {
	game.Base

	rules       Rules
	mode        string
	started     bool
	finished    bool
	question    json.RawMessage
	questionID  string
	pending     bool
	round       int
	totalRounds int
	judged      map[string]int
	correct     map[string]int
}

// New builds an unstarted quiz.
func New(deps game.Deps) game.Game {
	return newGame(deps)
}

func newGame(deps game.Deps) *Game {
	g := &Game{}
	g.Init(Kind, game.Limits{MinPlayers: 1, MaxPlayers: maxPlayers}, deps, g)
	g.clear()
	return g
}

func (g *Game) clear() {
	g.mode = ModeScoring
	g.started = false
	g.finished = false
	g.question = nil
	g.questionID = ""
	g.pending = false
	g.round = 1
	g.totalRounds = 1
	g.judged = make(map[string]int)
	g.correct = make(map[string]int)
}

// Rules returns the live rule set.
func (g *Game) Rules() Rules { return g.rules }

// Mode returns the judging mode.
func (g *Game) Mode() string { return g.mode }

// Pending reports whether a question is awaiting judgement.
func (g *Game) Pending() bool { return g.pending }

// Finished reports whether the quiz has been concluded.
func (g *Game) Finished() bool { return g.finished }

// Start opens a new quiz session.
func (g *Game) Start(opts game.StartOptions) error {
	if g.started && !g.finished {
		return game.ErrWrongState.Errorf("quiz already started")
	}
	switch opts.Mode {
	case "":
	case ModeScoring, ModeSurvival:
		g.mode = opts.Mode
	default:
		return game.ErrMalformed.Errorf("unknown quiz mode %q", opts.Mode)
	}
	g.started = true
	g.finished = false
	g.pending = false
	g.question = nil
	g.questionID = ""
	g.round = 1
	if opts.TotalRounds > 0 {
		g.totalRounds = opts.TotalRounds
	}
	g.judged = make(map[string]int)
	g.correct = make(map[string]int)
	g.BeginSession()

	g.Logger().WithFields(logrus.Fields{"room_id": g.RoomID(), "mode": g.mode}).Info("quiz started")
	g.Broadcast(g.stateMessage())
	g.broadcastPlayers()
	return nil
}

// HandleEvent dispatches quiz messages.
func (g *Game) HandleEvent(c game.Conn, ev game.Event, playerID string) {
	if g.finished && ev.Type != "get_latest_answers" {
		g.SendError(c, game.ErrGameFinished)
		return
	}

	var err error
	switch ev.Type {
	case "answer":
		err = g.answer(playerID, ev)
	case "get_latest_answers":
		g.Reply(c, g.latestAnswers(playerID))
	case "mode_change", "question", "judgement", "timeout_change", "initialize_scores",
		"initialize_lives", "round_update", "set_expose_answer", "congratulations":
		if !IsQuestioner(playerID) {
			err = game.ErrNotQuestioner
			break
		}
		err = g.questionerEvent(playerID, ev)
	default:
		err = game.ErrUnknownEvent.Errorf("unknown event type %q", ev.Type)
	}
	if err != nil {
		g.SendError(c, err)
	}
}

func (g *Game) questionerEvent(playerID string, ev game.Event) error {
	switch ev.Type {
	case "mode_change":
		var body struct {
			Mode string `json:"mode"`
		}
		if err := ev.Decode(&body); err != nil {
			return err
		}
		if body.Mode != ModeScoring && body.Mode != ModeSurvival {
			return game.ErrMalformed.Errorf("unknown quiz mode %q", body.Mode)
		}
		g.mode = body.Mode
		g.Broadcast(modeChangeMessage{Type: "mode_change", CurrentMode: g.mode})
	case "question":
		var body struct {
			Content    json.RawMessage `json:"content"`
			QuestionID string          `json:"questionId"`
		}
		if err := ev.Decode(&body); err != nil {
			return err
		}
		if len(body.Content) == 0 {
			return game.ErrMalformed.Errorf("question requires content")
		}
		g.question = body.Content
		g.questionID = body.QuestionID
		g.pending = true
		for _, p := range g.Registry().Players() {
			p.Answer = ""
			p.AnsweredAt = 0
		}
		g.LogAction(playerID, "question", map[string]any{"questionId": body.QuestionID})
		g.Broadcast(questionMessage{Type: "question", Content: g.question, QuestionID: g.questionID})
	case "judgement":
		return g.judge(playerID, ev)
	case "timeout_change":
		var body struct {
			ReconnectTimeout json.Number `json:"reconnect_timeout"`
		}
		if err := ev.Decode(&body); err != nil {
			return err
		}
		secs, err := body.ReconnectTimeout.Int64()
		if err != nil || secs < 0 {
			return game.ErrMalformed.Errorf("reconnect_timeout must be a non-negative integer")
		}
		g.Host().SetReconnectGrace(time.Duration(secs) * time.Second)
		g.toQuestioners(timeoutMessage{Type: "timeout_updated", Timeout: secs})
	case "initialize_scores":
		var body struct {
			Score *int `json:"score"`
		}
		if err := ev.Decode(&body); err != nil {
			return err
		}
		if body.Score == nil {
			return game.ErrMalformed.Errorf("initialize_scores requires score")
		}
		for _, p := range g.Registry().Players() {
			p.Score = *body.Score
		}
		g.broadcastPlayers()
	case "initialize_lives":
		var body struct {
			Lives *int `json:"lives"`
		}
		if err := ev.Decode(&body); err != nil {
			return err
		}
		if body.Lives == nil {
			return game.ErrMalformed.Errorf("initialize_lives requires lives")
		}
		for _, p := range g.Registry().Players() {
			p.Lives = *body.Lives
		}
		g.broadcastPlayers()
	case "round_update":
		var body struct {
			CurrentRound int `json:"currentRound"`
			TotalRounds  int `json:"totalRounds"`
		}
		if err := ev.Decode(&body); err != nil {
			return err
		}
		if body.CurrentRound < 1 || body.TotalRounds < body.CurrentRound {
			return game.ErrMalformed.Errorf("round %d of %d is out of range", body.CurrentRound, body.TotalRounds)
		}
		g.round = body.CurrentRound
		g.totalRounds = body.TotalRounds
		g.Broadcast(roundMessage{Type: "round", CurrentRound: g.round, TotalRounds: g.totalRounds})
	case "set_expose_answer":
		var body struct {
			ExposeAnswer *bool `json:"expose_answer"`
		}
		if err := ev.Decode(&body); err != nil {
			return err
		}
		if body.ExposeAnswer == nil {
			return game.ErrMalformed.Errorf("set_expose_answer requires expose_answer")
		}
		g.setExpose(*body.ExposeAnswer)
	case "congratulations":
		g.conclude(playerID)
	}
	return nil
}

func (g *Game) answer(playerID string, ev game.Event) error {
	if IsQuestioner(playerID) {
		return game.ErrNotParticipant.Errorf("questioners do not answer")
	}
	if !g.pending {
		return game.ErrNoQuestion
	}
	var body struct {
		Text      string          `json:"text"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := ev.Decode(&body); err != nil {
		return err
	}
	p, ok := g.Registry().Get(playerID)
	if !ok {
		return game.ErrUnknownPlayer
	}
	p.Answer = body.Text
	p.AnsweredAt = resolveTimestamp(body.Timestamp, g.Now())

	g.LogAction(playerID, "answer", map[string]any{"questionId": g.questionID, "text": body.Text})

	full := answerMessage{
		Type:      "answer",
		PlayerID:  p.ID,
		Name:      p.Name,
		Avatar:    p.Avatar,
		Text:      p.Answer,
		Timestamp: p.AnsweredAt,
	}
	hidden := full
	if !g.rules.ExposeAnswer {
		hidden.Text = HiddenAnswer
	}
	g.BroadcastEach(func(to string) any {
		if IsQuestioner(to) || to == playerID {
			return full
		}
		return hidden
	})
	return nil
}

// resolveTimestamp accepts the client timestamp (ms) when it lies within
// TimestampWindow of now and falls back to server time otherwise.
func resolveTimestamp(raw json.RawMessage, now time.Time) int64 {
	server := now.UnixMilli()
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return server
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return server
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return server
		}
		v = parsed
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return server
	}
	window := float64(TimestampWindow.Milliseconds())
	if v < float64(server)-window || v > float64(server)+window {
		return server
	}
	return int64(v)
}

type verdict struct {
	Correct   bool `json:"correct"`
	Score     int  `json:"score"`
	LostLives int  `json:"lostLives"`
}

func (g *Game) judge(playerID string, ev game.Event) error {
	var body struct {
		Results       map[string]verdict `json:"results"`
		CorrectAnswer string             `json:"correct_answer"`
		Explanation   string             `json:"explanation"`
		CurrentRound  int                `json:"currentRound"`
	}
	if err := ev.Decode(&body); err != nil {
		return err
	}
	if !g.pending {
		return game.ErrNoQuestion
	}
	for pid := range body.Results {
		if !g.Registry().Has(pid) {
			return game.ErrUnknownPlayer.Errorf("player %q is not in this room", pid)
		}
	}

	results := make(map[string]judgedResult, len(body.Results))
	for pid, v := range body.Results {
		p, _ := g.Registry().Get(pid)
		r := judgedResult{Name: p.Name, Avatar: p.Avatar, Correct: v.Correct}
		switch g.mode {
		case ModeSurvival:
			p.Lives -= v.LostLives
			lost := v.LostLives
			r.LostLives = &lost
		default:
			p.Score += v.Score
			score := v.Score
			r.Score = &score
		}
		g.judged[pid]++
		if v.Correct {
			g.correct[pid]++
		}
		results[pid] = r
	}
	g.pending = false

	round := body.CurrentRound
	if round == 0 {
		round = g.round
	}
	g.LogAction(playerID, "judgement", body.Results)
	g.Broadcast(judgementMessage{
		Type:          "judgement_complete",
		Results:       results,
		CorrectAnswer: body.CorrectAnswer,
		Explanation:   body.Explanation,
		Round:         round,
	})
	g.broadcastPlayers()
	return nil
}

// conclude broadcasts the final standings, finishes the quiz and records every answerer's session.
func (g *Game) conclude(playerID string) {
	standings := make([]standing, 0, g.Registry().Len())
	records := make([]game.SessionRecord, 0, g.Registry().Len())
	for _, p := range g.Registry().Players() {
		if IsQuestioner(p.ID) {
			continue
		}
		standings = append(standings, standing{ID: p.ID, Name: p.Name, Avatar: p.Avatar, Score: p.Score, Lives: p.Lives})
		records = append(records, g.record(p, game.SessionCompleted))
	}
	g.finished = true
	g.pending = false

	g.LogAction(playerID, "congratulations", nil)
	g.Broadcast(congratulationsMessage{Type: "congratulations_complete", Results: standings})
	g.Logger().WithFields(logrus.Fields{"room_id": g.RoomID(), "players": len(standings)}).Info("quiz concluded")
	g.Persist(records)
	g.Host().GameFinished()
}

func (g *Game) record(p *game.Player, status string) game.SessionRecord {
	rec := g.NewSessionRecord(p.ID, status)
	rec.Score = p.Score
	rec.RoundsPlayed = g.round
	rec.RoundsTotal = g.totalRounds
	if n := g.judged[p.ID]; n > 0 {
		rec.Accuracy = math.Round(float64(g.correct[p.ID])/float64(n)*10000) / 100
	}
	return rec
}

func (g *Game) setExpose(v bool) {
	g.rules.ExposeAnswer = v
	g.Broadcast(exposeMessage{Type: "expose_answer_update", Value: v})
}

func (g *Game) toQuestioners(msg any) {
	for _, l := range g.Registry().Live() {
		if IsQuestioner(l.PlayerID) {
			g.SendTo(l.PlayerID, msg)
		}
	}
}

// latestAnswers lists every answerer's latest answer as seen by viewer.
func (g *Game) latestAnswers(viewer string) latestAnswersMessage {
	out := latestAnswersMessage{Type: "latest_answers", LatestAnswers: []latestAnswer{}}
	for _, p := range g.Registry().Players() {
		if IsQuestioner(p.ID) {
			continue
		}
		text := p.Answer
		if text != "" && !g.rules.ExposeAnswer && !IsQuestioner(viewer) && viewer != p.ID {
			text = HiddenAnswer
		}
		out.LatestAnswers = append(out.LatestAnswers, latestAnswer{
			ID:              p.ID,
			Name:            p.Name,
			Avatar:          p.Avatar,
			SubmittedAnswer: text,
			Timestamp:       p.AnsweredAt,
		})
	}
	return out
}

func (g *Game) broadcastPlayers() {
	players := make([]playerEntry, 0, g.Registry().Len())
	for _, p := range g.Registry().Players() {
		players = append(players, playerEntry{
			ID:        p.ID,
			Name:      p.Name,
			Avatar:    p.Avatar,
			Score:     p.Score,
			Lives:     p.Lives,
			Timestamp: p.AnsweredAt,
			Connected: g.Registry().Connected(p.ID),
			Role:      role(p.ID),
		})
	}
	g.Broadcast(playerListMessage{Type: "player_list", Players: players})
}

func role(playerID string) string {
	if IsQuestioner(playerID) {
		return "questioner"
	}
	return "player"
}

func (g *Game) stateMessage() stateMessage {
	msg := stateMessage{
		Type:         "quiz_state",
		RoomID:       g.RoomID(),
		Mode:         g.mode,
		Started:      g.started,
		Finished:     g.finished,
		CurrentRound: g.round,
		TotalRounds:  g.totalRounds,
		ExposeAnswer: g.rules.ExposeAnswer,
	}
	if g.pending {
		msg.Question = g.question
		msg.QuestionID = g.questionID
	}
	return msg
}

// UpdateRules merges patch into the live rules.
func (g *Game) UpdateRules(patch map[string]any) error {
	next, err := game.MergeRules(g.rules, patch)
	if err != nil {
		return err
	}
	changed := next.ExposeAnswer != g.rules.ExposeAnswer
	g.rules = next
	g.Broadcast(game.RulesMessage{Type: "rules_updated", Rules: g.rules})
	if changed {
		g.Broadcast(exposeMessage{Type: "expose_answer_update", Value: g.rules.ExposeAnswer})
	}
	return nil
}

// OnJoin sends the newcomer the quiz state and tells everyone about them.
func (g *Game) OnJoin(c game.Conn, _ *game.Player) {
	g.Reply(c, g.stateMessage())
	g.broadcastPlayers()
}

// OnReconnect restores the quiz state and the player's own answer.
func (g *Game) OnReconnect(c game.Conn, p *game.Player) {
	g.Reply(c, g.stateMessage())
	if p.Answer != "" {
		g.Reply(c, answerMessage{
			Type:      "answer",
			PlayerID:  p.ID,
			Name:      p.Name,
			Avatar:    p.Avatar,
			Text:      p.Answer,
			Timestamp: p.AnsweredAt,
		})
	}
	g.broadcastPlayers()
}

// OnLeave marks the player offline in everyone's list. Their answer is kept.
func (g *Game) OnLeave(*game.Player) {
	g.broadcastPlayers()
}

// PlayerDeparted drops a player whose grace window expired from the list.
func (g *Game) PlayerDeparted(playerID string) {
	delete(g.judged, playerID)
	delete(g.correct, playerID)
	g.broadcastPlayers()
}

// End stops a running quiz and records it as aborted.
func (g *Game) End() {
	if !g.started || g.finished {
		return
	}
	records := make([]game.SessionRecord, 0, g.Registry().Len())
	for _, p := range g.Registry().Players() {
		if !IsQuestioner(p.ID) {
			records = append(records, g.record(p, game.SessionAborted))
		}
	}
	g.finished = true
	g.pending = false
	g.Broadcast(g.stateMessage())
	g.Persist(records)
}

// Reset clears scores, lives and answers for another quiz. Rules are kept.
func (g *Game) Reset() {
	for _, p := range g.Registry().Players() {
		p.ResetPayload()
	}
	g.clear()
	g.Broadcast(g.stateMessage())
	g.broadcastPlayers()
}
