package game

import (
	"errors"
	"fmt"
)

// Error categories. Every rule error wraps exactly one of these.
var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
)

var (
	ErrGameNotFound    = fmt.Errorf("%w: game not found", ErrNotFound)
	ErrGameNotJoinable = fmt.Errorf("%w: game already started", ErrPreconditionFailed)
	ErrGameFull        = fmt.Errorf("%w: game already full", ErrPreconditionFailed)
	ErrGameFinished    = fmt.Errorf("%w: game already finished", ErrPreconditionFailed)
	ErrInvalidStatus   = fmt.Errorf("%w: game is not in progress", ErrPreconditionFailed)
	ErrNotYourTurn     = fmt.Errorf("%w: not your turn", ErrPreconditionFailed)
	ErrRoundCompleted  = fmt.Errorf("%w: round already completed", ErrPreconditionFailed)
	ErrRoundNotReached = fmt.Errorf("%w: round not reached yet", ErrPreconditionFailed)
	ErrInvalidRound    = fmt.Errorf("%w: no such round", ErrPreconditionFailed)
	ErrUnknownSlot     = fmt.Errorf("%w: no such letter", ErrPreconditionFailed)
	ErrUnknownTeam     = fmt.Errorf("%w: team has not joined", ErrPreconditionFailed)
	ErrNotAdmin        = fmt.Errorf("%w: only the game creator can do that", ErrPreconditionFailed)
	ErrInvalidName     = fmt.Errorf("%w: team name is required", ErrPreconditionFailed)
)

// InsufficientQuestionPoolError is returned when a round has fewer authored
// letter questions than its main answer has letter slots.
type InsufficientQuestionPoolError struct {
	Round int
	Need  int
	Have  int
}

func (e *InsufficientQuestionPoolError) Error() string {
	return fmt.Sprintf("round %d: need %d letter questions, have %d", e.Round+1, e.Need, e.Have)
}

// DefinitionError reports an invalid game definition.
type DefinitionError struct {
	Round int // -1 when the error is not tied to a round
	Msg   string
}

func (e *DefinitionError) Error() string {
	if e.Round < 0 {
		return "invalid game definition: " + e.Msg
	}
	return fmt.Sprintf("invalid game definition: round %d: %s", e.Round+1, e.Msg)
}
