package patternhunt

type targetSequenceMessage struct {
	Type    string   `json:"type"`
	Targets []string `json:"targets"`
}

type flipResult struct {
	CardID    string `json:"cardId"`
	ImgURL    string `json:"imgUrl"`
	PatternID string `json:"patternId"`
	Matched   bool   `json:"matched"`
	FlipBack  int    `json:"flipBack"`
}

type cardFlippedMessage struct {
	Type     string     `json:"type"`
	RoomID   string     `json:"roomId"`
	PlayerID string     `json:"playerId"`
	Result   flipResult `json:"result"`
}

type cardsSyncMessage struct {
	Type  string `json:"type"`
	Cards []Card `json:"cards"`
}

type flipStatusMessage struct {
	Type       string                `json:"type"`
	FlipStatus map[string]flipStatus `json:"flip_status"`
}

type playerSyncMessage struct {
	Type         string   `json:"type"`
	Targets      []string `json:"targets"`
	CurrentIndex int      `json:"current_index"`
	Score        int      `json:"score"`
}

type finalStateMessage struct {
	Type              string              `json:"type"`
	Cards             map[string]Card     `json:"cards"`
	Scores            map[string]int      `json:"scores"`
	PlayerTargets     map[string][]string `json:"player_targets"`
	PlayerTargetIndex map[string]int      `json:"player_target_index"`
}
