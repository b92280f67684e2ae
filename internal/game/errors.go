package game

import (
	"errors"
	"fmt"
)

// Error is a client-facing error. It is reported only to the connection that caused it.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches any *Error with the same code, so wrapped or re-worded errors still
// compare equal to the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Errorf returns a copy of e with a formatted message.
func (e *Error) Errorf(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Protocol errors.
var (
	ErrMalformed     = &Error{Code: "malformed", Message: "malformed message"}
	ErrUnknownEvent  = &Error{Code: "unknown_event", Message: "unknown event type"}
	ErrUnknownCard   = &Error{Code: "unknown_card", Message: "card does not exist"}
	ErrUnknownPlayer = &Error{Code: "unknown_player", Message: "player does not exist"}
	ErrUnknownKind   = &Error{Code: "unknown_kind", Message: "unsupported game kind"}
	ErrInvalidRules  = &Error{Code: "invalid_rules", Message: "invalid rule update"}
)

// Turn and ordering violations.
var (
	ErrNotYourTurn     = &Error{Code: "not_your_turn", Message: "it is not your turn"}
	ErrActionLocked    = &Error{Code: "action_locked", Message: "another action is in progress"}
	ErrAnimating       = &Error{Code: "animating", Message: "a card is still face up"}
	ErrWaitForFlipBack = &Error{Code: "wait_for_flip_back", Message: "another player's card has not flipped back"}
	ErrTooManyFlips    = &Error{Code: "too_many_flips", Message: "too many cards flipped at once"}
	ErrNotParticipant  = &Error{Code: "not_participant", Message: "you are not playing in this game"}
	ErrGameFinished    = &Error{Code: "game_finished", Message: "the game has finished"}
	ErrGameNotFinished = &Error{Code: "game_not_finished", Message: "the game has not finished"}
	ErrNoQuestion      = &Error{Code: "no_question", Message: "no question is awaiting answers"}
	ErrNotQuestioner   = &Error{Code: "not_questioner", Message: "only a questioner may do that"}
)

// Room lifecycle errors.
var (
	ErrNotOwner       = &Error{Code: "not_owner", Message: "only the room owner may do that"}
	ErrNotReady       = &Error{Code: "not_ready", Message: "not every player is ready"}
	ErrTooFewPlayers  = &Error{Code: "too_few_players", Message: "not enough players to start"}
	ErrWrongState     = &Error{Code: "wrong_state", Message: "not allowed in the current room state"}
	ErrOwnerAlwaysSet = &Error{Code: "owner_ready", Message: "the owner is always ready"}
	ErrRoomFull       = &Error{Code: "room_full", Message: "the room is full"}
	ErrRoomClosed     = &Error{Code: "room_closed", Message: "the room has closed"}
)

// AsError converts err into a client-facing *Error, hiding internal details.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: "internal", Message: "internal error"}
}
