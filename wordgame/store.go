package wordgame

import (
	"sync"
	"time"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	wordduel "github.com/wordduel/wordduel"
)

// recentCap bounds the in-memory history of concluded matches.
const recentCap = 32

type entry struct {
	mu sync.Mutex
	m  *Match
}

// Store holds every live match and the bounded history of concluded ones.
// The outer RWMutex only guards the maps; each match has its own exclusive
// section so work on one match never blocks another.
type Store struct {
	mu      sync.RWMutex
	matches map[string]*entry
	recent  []Snapshot

	params stdaddr.AddressParams
	pick   func() string
	now    func() time.Time
}

// NewStore builds a store validating participant addresses against params.
func NewStore(params stdaddr.AddressParams) *Store {
	return &Store{
		matches: make(map[string]*entry),
		params:  params,
		pick:    PickTarget,
		now:     time.Now,
	}
}

// MatchSpec are the caller-supplied parameters for a new match.
type MatchSpec struct {
	Wager   dcrutil.Amount
	Creator string
}

// Create validates the spec, draws a secret target and registers the match
// in AwaitingEscrow. A participant may only hold one unconcluded match at a
// time.
func (s *Store) Create(spec MatchSpec) (Snapshot, error) {
	if !wordduel.ValidWager(spec.Wager) {
		return Snapshot{}, ErrInvalidWager
	}
	if err := wordduel.ValidateParticipant(spec.Creator, s.params); err != nil {
		return Snapshot{}, ErrInvalidParticipant
	}
	id, err := NewMatchID()
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.matches {
		e.mu.Lock()
		dup := e.m.HasPlayer(spec.Creator) && !e.m.Lifecycle.Terminal()
		e.mu.Unlock()
		if dup {
			return Snapshot{}, ErrDuplicateActiveParticipant
		}
	}

	m := &Match{
		ID:           id,
		Wager:        spec.Wager,
		Players:      []string{spec.Creator},
		SecretTarget: s.pick(),
		Outcomes:     map[string]PlayerOutcome{spec.Creator: OutcomeUnset},
		Lifecycle:    StateAwaitingEscrow,
		Escrows:      make(map[string]*EscrowRef),
		CreatedAt:    s.now(),
	}
	s.matches[id] = &entry{m: m}
	return m.Snapshot(), nil
}

// Join admits addr as the second participant of a waiting match, enforcing
// the same one-active-match rule as Create.
func (s *Store) Join(id, addr string) (Snapshot, error) {
	if err := wordduel.ValidateParticipant(addr, s.params); err != nil {
		return Snapshot{}, ErrInvalidParticipant
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.matches[id]
	if target == nil {
		return Snapshot{}, ErrMatchNotFound
	}
	for mid, e := range s.matches {
		if mid == id {
			continue
		}
		e.mu.Lock()
		dup := e.m.HasPlayer(addr) && !e.m.Lifecycle.Terminal()
		e.mu.Unlock()
		if dup {
			return Snapshot{}, ErrDuplicateActiveParticipant
		}
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if err := target.m.AddPlayer(addr); err != nil {
		return Snapshot{}, err
	}
	target.m.Outcomes[addr] = OutcomeUnset
	return target.m.Snapshot(), nil
}

// WithMatch runs fn inside the match's exclusive section. It is the sole
// mutation path after creation. fn must not call back into the store.
func (s *Store) WithMatch(id string, fn func(*Match) error) error {
	s.mu.RLock()
	e := s.matches[id]
	s.mu.RUnlock()
	if e == nil {
		return ErrMatchNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.m)
}

// Get returns a read-only snapshot of one match.
func (s *Store) Get(id string) (Snapshot, error) {
	var snap Snapshot
	err := s.WithMatch(id, func(m *Match) error {
		snap = m.Snapshot()
		return nil
	})
	return snap, err
}

// List snapshots every match the predicate admits. A nil predicate admits
// all of them.
func (s *Store) List(pred func(Snapshot) bool) []Snapshot {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.matches))
	for _, e := range s.matches {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		snap := e.m.Snapshot()
		e.mu.Unlock()
		if pred == nil || pred(snap) {
			out = append(out, snap)
		}
	}
	return out
}

// ListOpen snapshots matches a new participant could still join.
func (s *Store) ListOpen() []Snapshot {
	return s.List(func(snap Snapshot) bool {
		return snap.Lifecycle == StateWaiting && len(snap.Players) < 2
	})
}

// Remove drops a match from the live set, archiving a snapshot of it in the
// recent history. Unconcluded matches stay put unless force is set; the
// sweeper uses force to evict structurally broken or abandoned records.
func (s *Store) Remove(id string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.matches[id]
	if e == nil {
		return ErrMatchNotFound
	}
	e.mu.Lock()
	snap := e.m.Snapshot()
	e.mu.Unlock()
	if !snap.Lifecycle.Terminal() && !force {
		return ErrRemoveActiveMatch
	}
	delete(s.matches, id)
	s.recent = append(s.recent, snap)
	if len(s.recent) > recentCap {
		s.recent = s.recent[len(s.recent)-recentCap:]
	}
	return nil
}

// Recent returns the archived snapshots of removed matches, oldest first.
func (s *Store) Recent() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Snapshot(nil), s.recent...)
}

// Len reports how many live matches the store holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}
