package server

import (
	"context"
	"errors"

	"github.com/decred/dcrd/dcrutil/v4"

	wordduel "github.com/wordduel/wordduel"
	"github.com/wordduel/wordduel/ledger"
	"github.com/wordduel/wordduel/wordgame"
)

var errSettlementDone = errors.New("settlement already recorded")

// settleConcluded disburses a match that ended through play (correct guess,
// exhaustion or timeouts).
func (s *Server) settleConcluded(ctx context.Context, matchID string) {
	var outcome wordduel.Outcome
	err := s.store.WithMatch(matchID, func(m *wordgame.Match) error {
		outcome = m.FeeOutcome()
		return nil
	})
	if err != nil {
		s.log.Errorf("settle %s: %v", matchID, err)
		return
	}
	s.settle(ctx, matchID, outcome)
}

// settle runs the ledger disbursement for a completed match exactly once.
// The settlement receipt is cached on the match, so repeats are no-ops, and
// a failed settlement stays failed until an operator intervenes.
func (s *Server) settle(ctx context.Context, matchID string, outcome wordduel.Outcome) {
	var req ledger.SettleRequest
	err := s.store.WithMatch(matchID, func(m *wordgame.Match) error {
		if m.Lifecycle != wordgame.StateCompleted {
			return wordgame.ErrWrongLifecycle
		}
		if m.SettleTx != "" || m.Settlement == wordgame.SettlementFailed {
			return errSettlementDone
		}
		req = ledger.SettleRequest{
			MatchID: m.ID,
			Winner:  m.Winner,
			Wager:   m.Wager,
			Split:   wordduel.ComputeSplit(m.Wager, outcome),
		}
		for _, p := range m.Players {
			if ref := m.Escrows[p]; ref != nil && ref.Handle != "" {
				req.Handles = append(req.Handles, ref.Handle)
			}
		}
		return nil
	})
	if errors.Is(err, errSettlementDone) {
		return
	}
	if err != nil {
		s.log.Errorf("settle %s: %v", matchID, err)
		return
	}

	// The adapter call runs outside the match section; the result is
	// recorded in a second pass.
	res, serr := s.adapter.Settle(ctx, req)

	var snap wordgame.Snapshot
	err = s.store.WithMatch(matchID, func(m *wordgame.Match) error {
		if serr != nil {
			m.Settlement = wordgame.SettlementFailed
			m.SettleErr = serr.Error()
		} else {
			m.Settlement = wordgame.SettlementConfirmed
			m.SettleTx = res.TxHash
			m.SettleErr = ""
		}
		snap = m.Snapshot()
		return nil
	})
	if err != nil {
		s.log.Errorf("settle %s: record result: %v", matchID, err)
		return
	}

	if serr != nil {
		s.log.Errorf("settle %s failed: %v", matchID, serr)
		s.ntfns.publish(EventSettlementFailed, snap)
		return
	}
	s.log.Infof("match %s settled in %s", matchID, res.TxHash)
	s.ntfns.publish(EventSettled, snap)
}

// releaseEscrows cancels every escrow of a cancelled match, charging the
// penalty against the forfeiting side's refund. Escrows that never saw a
// deposit release without a ledger transaction.
func (s *Server) releaseEscrows(ctx context.Context, snap wordgame.Snapshot, penalty dcrutil.Amount) {
	for _, p := range snap.Players {
		ref, ok := snap.Escrows[p]
		if !ok || ref.Handle == "" {
			continue
		}
		if err := s.adapter.Cancel(ctx, ref.Handle, penalty); err != nil {
			s.log.Errorf("cancel escrow %s of match %s: %v", ref.Handle, snap.ID, err)
			continue
		}
	}
}
