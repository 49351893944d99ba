package wordgame

import "errors"

var (
	ErrInvalidWager               = errors.New("wager outside accepted range")
	ErrInvalidParticipant         = errors.New("invalid participant address")
	ErrDuplicateActiveParticipant = errors.New("participant already has an active match")
	ErrMatchNotFound              = errors.New("match not found")
	ErrMatchFull                  = errors.New("match already has two players")
	ErrSelfJoin                   = errors.New("cannot join your own match")
	ErrGameNotActive              = errors.New("match is not in the playing state")
	ErrPlayerNotInMatch           = errors.New("participant is not in this match")
	ErrPlayerResolved             = errors.New("participant already has a resolved outcome")
	ErrInvalidGuessFormat         = errors.New("guess must be exactly five letters")
	ErrWrongLifecycle             = errors.New("operation not valid in current lifecycle state")
	ErrEscrowAlreadySet           = errors.New("escrow handle already recorded")
	ErrEscrowNotRequested         = errors.New("no escrow requested for participant")
	ErrRemoveActiveMatch          = errors.New("cannot remove a match that has not concluded")
)
