package quiz

import "encoding/json"

type stateMessage struct {
	Type         string          `json:"type"`
	RoomID       string          `json:"room_id"`
	Mode         string          `json:"mode"`
	Started      bool            `json:"started"`
	Finished     bool            `json:"finished"`
	CurrentRound int             `json:"currentRound"`
	TotalRounds  int             `json:"totalRounds"`
	ExposeAnswer bool            `json:"expose_answer"`
	Question     json.RawMessage `json:"question,omitempty"`
	QuestionID   string          `json:"questionId,omitempty"`
}

type modeChangeMessage struct {
	Type        string `json:"type"`
	CurrentMode string `json:"currentMode"`
}

type questionMessage struct {
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content"`
	QuestionID string          `json:"questionId"`
}

type answerMessage struct {
	Type      string `json:"type"`
	PlayerID  string `json:"playerId"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type judgedResult struct {
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	Correct   bool   `json:"correct"`
	Score     *int   `json:"score"`
	LostLives *int   `json:"lostLives"`
}

type judgementMessage struct {
	Type          string                  `json:"type"`
	Results       map[string]judgedResult `json:"results"`
	CorrectAnswer string                  `json:"correct_answer"`
	Explanation   string                  `json:"explanation"`
	Round         int                     `json:"round"`
}

type latestAnswer struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Avatar          string `json:"avatar"`
	SubmittedAnswer string `json:"submitted_answer"`
	Timestamp       int64  `json:"timestamp"`
}

type latestAnswersMessage struct {
	Type          string         `json:"type"`
	LatestAnswers []latestAnswer `json:"latest_answers"`
}

type timeoutMessage struct {
	Type    string `json:"type"`
	Timeout int64  `json:"timeout"`
}

type roundMessage struct {
	Type         string `json:"type"`
	TotalRounds  int    `json:"totalRounds"`
	CurrentRound int    `json:"currentRound"`
}

type exposeMessage struct {
	Type  string `json:"type"`
	Value bool   `json:"value"`
}

type standing struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Score  int    `json:"score"`
	Lives  int    `json:"lives"`
}

type congratulationsMessage struct {
	Type    string     `json:"type"`
	Results []standing `json:"results"`
}

type playerEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	Score     int    `json:"score"`
	Lives     int    `json:"lives"`
	Timestamp int64  `json:"timestamp"`
	Connected bool   `json:"connected"`
	Role      string `json:"role"`
}

type playerListMessage struct {
	Type    string        `json:"type"`
	Players []playerEntry `json:"players"`
}
