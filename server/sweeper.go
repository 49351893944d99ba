package server

import (
	"context"
	"time"

	"github.com/wordduel/wordduel/wordgame"
)

// runSweeper periodically repairs and retires match records: stale lobbies
// are cancelled and refunded, overlong games are forced to completion, and
// structurally broken records are evicted.
func (s *Server) runSweeper(ctx context.Context) error {
	t := time.NewTicker(s.sweep)
	defer t.Stop()
	s.log.Debugf("sweeper: running every %s", s.sweep)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.sweepOnce(ctx, time.Now())
		}
	}
}

func (s *Server) sweepOnce(ctx context.Context, now time.Time) {
	for _, snap := range s.store.List(nil) {
		switch {
		case len(snap.Players) > 2:
			// A match can never legitimately hold more than two players;
			// evict the record and release whatever escrows it references.
			s.log.Warnf("sweeper: match %s has %d players, evicting", snap.ID, len(snap.Players))
			s.releaseEscrows(ctx, snap, 0)
			if err := s.store.Remove(snap.ID, true); err != nil {
				s.log.Errorf("sweeper: evict %s: %v", snap.ID, err)
				continue
			}
			s.ntfns.publish(EventRemoved, snap)

		case snap.Lifecycle == wordgame.StatePlaying &&
			!snap.StartedAt.IsZero() && now.Sub(snap.StartedAt) > maxMatchDuration:
			s.forceComplete(ctx, snap.ID)

		case !snap.Lifecycle.Terminal() && now.Sub(snap.CreatedAt) > staleAfter:
			s.expire(ctx, snap.ID)

		case snap.Lifecycle.Terminal() && !snap.CompletedAt.IsZero() &&
			now.Sub(snap.CompletedAt) > staleAfter:
			if err := s.store.Remove(snap.ID, false); err != nil {
				s.log.Errorf("sweeper: archive %s: %v", snap.ID, err)
				continue
			}
			s.ntfns.publish(EventRemoved, snap)
		}
	}
}

// expire cancels a match that never reached play and refunds its deposits
// in full.
func (s *Server) expire(ctx context.Context, matchID string) {
	var (
		expired bool
		snap    wordgame.Snapshot
	)
	err := s.store.WithMatch(matchID, func(m *wordgame.Match) error {
		expired = m.Expire(time.Now())
		snap = m.Snapshot()
		return nil
	})
	if err != nil || !expired {
		return
	}
	s.log.Infof("sweeper: match %s expired unstarted", matchID)
	s.ntfns.publish(EventCancelled, snap)
	s.releaseEscrows(ctx, snap, 0)
}

// forceComplete ends a match that exceeded the maximum duration. Every
// unresolved player times out; with nobody left winning, the pot goes to
// the house.
func (s *Server) forceComplete(ctx context.Context, matchID string) {
	var (
		done bool
		snap wordgame.Snapshot
	)
	err := s.store.WithMatch(matchID, func(m *wordgame.Match) error {
		done = m.ForceComplete(time.Now())
		snap = m.Snapshot()
		return nil
	})
	if err != nil || !done {
		return
	}
	s.log.Warnf("sweeper: match %s exceeded max duration, forced complete", matchID)
	s.ntfns.publish(EventConcluded, snap)
	s.settleConcluded(ctx, matchID)
}
