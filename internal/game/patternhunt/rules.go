package patternhunt

import (
	"time"

	"github.com/jason-s-yu/roomservice/internal/game"
)

// FlipRestrictions gate when a flip is accepted.
type FlipRestrictions struct {
	// PreventFlipDuringAnimation rejects flips while any card is still face up.
	PreventFlipDuringAnimation bool `json:"preventFlipDuringAnimation"`
	// WaitForOthersToFlipBack rejects the current player's flip while another
	// player's card is still face up.
	WaitForOthersToFlipBack bool `json:"waitForOthersToFlipBack"`
	// ActionLockEnabled holds a lock for TurnTransitionDelay after the turn passes.
	ActionLockEnabled bool `json:"actionLockEnabled"`
}

// Rules is the live rule set of a pattern hunt game.
type Rules struct {
	// AllowSimultaneousActions lets players flip out of turn.
	AllowSimultaneousActions bool             `json:"allowSimultaneousActions"`
	FlipRestrictions         FlipRestrictions `json:"flipRestrictions"`
	// AnimationDuration is how long a flipped card stays face up, in milliseconds.
	AnimationDuration int `json:"animationDuration"`
	// MaxConcurrentFlips caps one player's face-up cards. Zero disables the cap.
	MaxConcurrentFlips int `json:"maxConcurrentFlips"`
	// TurnTransitionDelay is the action lock window after a turn change, in milliseconds.
	TurnTransitionDelay int `json:"turnTransitionDelay"`
}

// DefaultRules returns the rule set a new game starts with.
func DefaultRules() Rules {
	return Rules{
		AllowSimultaneousActions: false,
		FlipRestrictions: FlipRestrictions{
			PreventFlipDuringAnimation: false,
			WaitForOthersToFlipBack:    false,
			ActionLockEnabled:          true,
		},
		AnimationDuration:   5000,
		MaxConcurrentFlips:  0,
		TurnTransitionDelay: 1000,
	}
}

// Validate checks value ranges.
func (r Rules) Validate() error {
	if r.AnimationDuration < 0 || r.AnimationDuration > 60000 {
		return game.ErrInvalidRules.Errorf("animationDuration must be between 0 and 60000, got %d", r.AnimationDuration)
	}
	if r.MaxConcurrentFlips < 0 {
		return game.ErrInvalidRules.Errorf("maxConcurrentFlips must not be negative")
	}
	if r.TurnTransitionDelay < 0 || r.TurnTransitionDelay > 60000 {
		return game.ErrInvalidRules.Errorf("turnTransitionDelay must be between 0 and 60000, got %d", r.TurnTransitionDelay)
	}
	return nil
}

func (r Rules) animation() time.Duration {
	return time.Duration(r.AnimationDuration) * time.Millisecond
}

func (r Rules) transition() time.Duration {
	return time.Duration(r.TurnTransitionDelay) * time.Millisecond
}
