package server

import (
	"context"
	"errors"
	"time"

	"github.com/decred/dcrd/dcrutil/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	wordduel "github.com/wordduel/wordduel"
	"github.com/wordduel/wordduel/ledger"
	"github.com/wordduel/wordduel/wordgame"
)

// CreateMatchRequest opens a new match for a creator staking Wager atoms.
type CreateMatchRequest struct {
	Creator string
	Wager   dcrutil.Amount
}

// MatchResponse carries the match view plus the caller's escrow deposit
// coordinates when one is pending.
type MatchResponse struct {
	Match         wordgame.Snapshot
	EscrowHandle  string
	EscrowAddress string
}

// CreateMatch registers the match and issues the creator's escrow.
func (s *Server) CreateMatch(ctx context.Context, req CreateMatchRequest) (*MatchResponse, error) {
	snap, err := s.store.Create(wordgame.MatchSpec{Wager: req.Wager, Creator: req.Creator})
	if err != nil {
		return nil, statusFromGame(err)
	}

	h, err := s.adapter.RequestEscrow(ctx, snap.ID, req.Creator, req.Wager)
	if err != nil {
		// The match cannot proceed without a deposit destination; unwind it.
		_ = s.store.WithMatch(snap.ID, func(m *wordgame.Match) error {
			_, ferr := m.Forfeit(req.Creator, time.Now())
			return ferr
		})
		_ = s.store.Remove(snap.ID, false)
		return nil, statusFromLedger(err)
	}

	err = s.store.WithMatch(snap.ID, func(m *wordgame.Match) error {
		if err := m.SetEscrow(req.Creator, h.ID); err != nil {
			return err
		}
		snap = m.Snapshot()
		return nil
	})
	if err != nil {
		return nil, statusFromGame(err)
	}

	s.log.Infof("match %s created by %s, wager %s", snap.ID, req.Creator, req.Wager)
	s.ntfns.publish(EventCreated, snap)
	return &MatchResponse{Match: snap, EscrowHandle: h.ID, EscrowAddress: h.Address}, nil
}

// JoinMatchRequest admits Joiner into an open match.
type JoinMatchRequest struct {
	MatchID string
	Joiner  string
}

// JoinMatch adds the second participant and issues their escrow. A repeat
// call from a joiner whose escrow request previously failed resumes at the
// escrow step.
func (s *Server) JoinMatch(ctx context.Context, req JoinMatchRequest) (*MatchResponse, error) {
	snap, err := s.store.Join(req.MatchID, req.Joiner)
	if errors.Is(err, wordgame.ErrSelfJoin) {
		// Already joined; only resumable when no escrow handle exists yet.
		prior, gerr := s.store.Get(req.MatchID)
		if gerr != nil {
			return nil, statusFromGame(gerr)
		}
		if ref, ok := prior.Escrows[req.Joiner]; ok && ref.Handle != "" {
			return nil, statusFromGame(err)
		}
		snap, err = prior, nil
	}
	if err != nil {
		return nil, statusFromGame(err)
	}

	h, err := s.adapter.RequestEscrow(ctx, req.MatchID, req.Joiner, snap.Wager)
	if err != nil {
		return nil, statusFromLedger(err)
	}
	err = s.store.WithMatch(req.MatchID, func(m *wordgame.Match) error {
		if err := m.SetEscrow(req.Joiner, h.ID); err != nil {
			return err
		}
		snap = m.Snapshot()
		return nil
	})
	if err != nil {
		return nil, statusFromGame(err)
	}

	s.log.Infof("match %s joined by %s", req.MatchID, req.Joiner)
	s.ntfns.publish(EventJoined, snap)
	return &MatchResponse{Match: snap, EscrowHandle: h.ID, EscrowAddress: h.Address}, nil
}

// ConfirmEscrowRequest presents a participant's signed deposit
// acknowledgement.
type ConfirmEscrowRequest struct {
	MatchID     string
	Participant string
	Proof       wordduel.EscrowProof
}

// ConfirmEscrow verifies the deposit with the ledger and advances the
// lifecycle: the creator's confirmation opens the lobby, the joiner's
// starts play.
func (s *Server) ConfirmEscrow(ctx context.Context, req ConfirmEscrowRequest) (*MatchResponse, error) {
	snap, err := s.store.Get(req.MatchID)
	if err != nil {
		return nil, statusFromGame(err)
	}
	ref, ok := snap.Escrows[req.Participant]
	if !ok || ref.Handle == "" {
		return nil, statusFromGame(wordgame.ErrEscrowNotRequested)
	}

	// The adapter call happens outside the match section; it may block on
	// chain queries.
	if err := s.adapter.ConfirmEscrow(ctx, ref.Handle, req.Proof); err != nil {
		return nil, statusFromLedger(err)
	}

	before := snap.Lifecycle
	err = s.store.WithMatch(req.MatchID, func(m *wordgame.Match) error {
		if err := m.ConfirmEscrowFor(req.Participant, time.Now()); err != nil {
			return err
		}
		snap = m.Snapshot()
		return nil
	})
	if err != nil {
		return nil, statusFromGame(err)
	}

	switch {
	case before == wordgame.StateAwaitingEscrow && snap.Lifecycle == wordgame.StateWaiting:
		s.log.Infof("match %s open for opponents", req.MatchID)
		s.ntfns.publish(EventOpened, snap)
	case snap.Lifecycle == wordgame.StatePlaying && before != wordgame.StatePlaying:
		s.log.Infof("match %s started", req.MatchID)
		s.ntfns.publish(EventStarted, snap)
	}
	return &MatchResponse{Match: snap, EscrowHandle: ref.Handle}, nil
}

// SubmitGuessRequest is one guess attempt.
type SubmitGuessRequest struct {
	MatchID string
	Player  string
	Word    string
}

// SubmitGuessResponse reports what the guess did.
type SubmitGuessResponse struct {
	Result wordgame.GuessResult
	Match  wordgame.Snapshot
}

// SubmitGuess applies a guess and settles the match when it concludes.
func (s *Server) SubmitGuess(ctx context.Context, req SubmitGuessRequest) (*SubmitGuessResponse, error) {
	var (
		res  wordgame.GuessResult
		snap wordgame.Snapshot
	)
	err := s.store.WithMatch(req.MatchID, func(m *wordgame.Match) error {
		var err error
		res, err = m.ApplyGuess(req.Player, req.Word, time.Now())
		if err != nil {
			return err
		}
		snap = m.Snapshot()
		return nil
	})
	if err != nil {
		return nil, statusFromGame(err)
	}

	s.ntfns.publish(EventGuess, snap)
	if res.Concluded {
		s.log.Infof("match %s concluded, winner %s", req.MatchID, res.Winner)
		s.ntfns.publish(EventConcluded, snap)
		s.settleConcluded(ctx, req.MatchID)
		snap, _ = s.store.Get(req.MatchID)
	}
	return &SubmitGuessResponse{Result: res, Match: snap}, nil
}

// ForfeitRequest is a voluntary exit from a match.
type ForfeitRequest struct {
	MatchID string
	Player  string
}

// Forfeit applies the exit and runs the matching disbursement: an active
// forfeit settles the pot to the opponent, a lobby exit refunds minus the
// flat penalty, a pre-escrow exit is a plain cancellation.
func (s *Server) Forfeit(ctx context.Context, req ForfeitRequest) (*MatchResponse, error) {
	var (
		fr   wordgame.ForfeitResult
		snap wordgame.Snapshot
	)
	err := s.store.WithMatch(req.MatchID, func(m *wordgame.Match) error {
		var err error
		fr, err = m.Forfeit(req.Player, time.Now())
		if err != nil {
			return err
		}
		snap = m.Snapshot()
		return nil
	})
	if err != nil {
		return nil, statusFromGame(err)
	}

	switch {
	case fr.Winner != "":
		s.log.Infof("match %s forfeited by %s, %s wins", req.MatchID, req.Player, fr.Winner)
		s.ntfns.publish(EventConcluded, snap)
		s.settle(ctx, req.MatchID, fr.Outcome)
	case fr.PreEscrow:
		s.log.Infof("match %s abandoned before escrow", req.MatchID)
		s.ntfns.publish(EventCancelled, snap)
		s.releaseEscrows(ctx, snap, 0)
	default:
		s.log.Infof("match %s cancelled by lobby exit of %s", req.MatchID, req.Player)
		s.ntfns.publish(EventCancelled, snap)
		split := wordduel.ComputeSplit(snap.Wager, fr.Outcome)
		s.releaseEscrows(ctx, snap, split.Penalty)
	}
	snap, _ = s.store.Get(req.MatchID)
	return &MatchResponse{Match: snap}, nil
}

// ReportTimeoutRequest flags one player's guess clock expiry.
type ReportTimeoutRequest struct {
	MatchID string
	Player  string
}

// ReportTimeout resolves the player as timed out, settling the match once
// every player is resolved.
func (s *Server) ReportTimeout(ctx context.Context, req ReportTimeoutRequest) (*MatchResponse, error) {
	var (
		concluded bool
		snap      wordgame.Snapshot
	)
	err := s.store.WithMatch(req.MatchID, func(m *wordgame.Match) error {
		var err error
		concluded, err = m.ReportTimeout(req.Player, time.Now())
		if err != nil {
			return err
		}
		snap = m.Snapshot()
		return nil
	})
	if err != nil {
		return nil, statusFromGame(err)
	}

	s.log.Infof("match %s: %s timed out", req.MatchID, req.Player)
	if concluded {
		s.ntfns.publish(EventConcluded, snap)
		s.settleConcluded(ctx, req.MatchID)
		snap, _ = s.store.Get(req.MatchID)
	}
	return &MatchResponse{Match: snap}, nil
}

// ListOpenMatches returns matches an opponent could still join.
func (s *Server) ListOpenMatches(ctx context.Context) []wordgame.Snapshot {
	return s.store.ListOpen()
}

// GetMatch returns one match view.
func (s *Server) GetMatch(ctx context.Context, matchID string) (wordgame.Snapshot, error) {
	snap, err := s.store.Get(matchID)
	if err != nil {
		return wordgame.Snapshot{}, statusFromGame(err)
	}
	return snap, nil
}

// SubscribeMatch streams events for one match until unsubscribed.
func (s *Server) SubscribeMatch(matchID string) (<-chan MatchEvent, func(), error) {
	if _, err := s.store.Get(matchID); err != nil {
		return nil, nil, statusFromGame(err)
	}
	ch, unsub := s.ntfns.Subscribe(matchID)
	return ch, unsub, nil
}

// statusFromGame maps store and match errors onto gRPC status codes.
func statusFromGame(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, wordgame.ErrMatchNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, wordgame.ErrInvalidWager),
		errors.Is(err, wordgame.ErrInvalidParticipant),
		errors.Is(err, wordgame.ErrInvalidGuessFormat):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, wordgame.ErrPlayerNotInMatch):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, wordgame.ErrMatchFull),
		errors.Is(err, wordgame.ErrSelfJoin),
		errors.Is(err, wordgame.ErrDuplicateActiveParticipant),
		errors.Is(err, wordgame.ErrGameNotActive),
		errors.Is(err, wordgame.ErrPlayerResolved),
		errors.Is(err, wordgame.ErrWrongLifecycle),
		errors.Is(err, wordgame.ErrEscrowAlreadySet),
		errors.Is(err, wordgame.ErrEscrowNotRequested),
		errors.Is(err, wordgame.ErrRemoveActiveMatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// statusFromLedger maps adapter failures onto gRPC status codes using their
// machine-readable reasons.
func statusFromLedger(err error) error {
	switch ledger.ReasonOf(err) {
	case ledger.ReasonUnknownHandle:
		return status.Error(codes.NotFound, err.Error())
	case ledger.ReasonBadProof:
		return status.Error(codes.InvalidArgument, err.Error())
	case ledger.ReasonNotFunded, ledger.ReasonAlreadySpent:
		return status.Error(codes.FailedPrecondition, err.Error())
	case ledger.ReasonUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	case ledger.ReasonRejected:
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
