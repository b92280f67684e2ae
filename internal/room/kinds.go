package room

import (
	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/jason-s-yu/roomservice/internal/game/patternhunt"
	"github.com/jason-s-yu/roomservice/internal/game/quiz"
	"github.com/jason-s-yu/roomservice/internal/game/roundgame"
)

// DefaultFactories registers every built-in game kind.
func DefaultFactories() map[string]game.Factory {
	return map[string]game.Factory{
		patternhunt.Kind: patternhunt.New,
		quiz.Kind:        quiz.New,
		roundgame.Kind:   roundgame.New,
	}
}
