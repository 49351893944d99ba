package server

import (
	"sync"
	"time"

	"github.com/wordduel/wordduel/wordgame"
)

// EventType labels a match notification.
type EventType string

const (
	EventCreated   EventType = "created"
	EventOpened    EventType = "opened"
	EventJoined    EventType = "joined"
	EventStarted   EventType = "started"
	EventGuess     EventType = "guess"
	EventConcluded EventType = "concluded"
	EventCancelled EventType = "cancelled"
	EventSettled   EventType = "settled"

	// EventSettlementFailed reports a ledger settlement attempt that
	// failed; the snapshot carries SettleErr and the match stays parked
	// for operator intervention.
	EventSettlementFailed EventType = "settlement_failed"

	// EventRemoved is the last event a match ever emits: the record has
	// been dropped from the store by the sweeper.
	EventRemoved EventType = "removed"
)

// MatchEvent is pushed to subscribers on every visible state change.
type MatchEvent struct {
	Type  EventType
	Match wordgame.Snapshot
	At    time.Time
}

// notifier fans match events out to per-match subscribers. Delivery is
// best effort: a subscriber whose buffer is full misses the event and is
// expected to re-read the match on its next turn.
type notifier struct {
	mu     sync.RWMutex
	subs   map[string]map[chan MatchEvent]struct{} // matchID -> set(chan)
	closed bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[chan MatchEvent]struct{})}
}

// Subscribe registers a listener for one match. The returned func removes
// the subscription; it is safe to call more than once.
func (n *notifier) Subscribe(matchID string) (<-chan MatchEvent, func()) {
	ch := make(chan MatchEvent, 8)
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if _, ok := n.subs[matchID]; !ok {
		n.subs[matchID] = make(map[chan MatchEvent]struct{})
	}
	n.subs[matchID][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			n.mu.Lock()
			if set := n.subs[matchID]; set != nil {
				delete(set, ch)
				if len(set) == 0 {
					delete(n.subs, matchID)
				}
			}
			n.mu.Unlock()
		})
	}
	return ch, unsub
}

func (n *notifier) publish(typ EventType, snap wordgame.Snapshot) {
	ev := MatchEvent{Type: typ, Match: snap, At: time.Now()}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for ch := range n.subs[snap.ID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for _, set := range n.subs {
		for ch := range set {
			close(ch)
		}
	}
	n.subs = make(map[string]map[chan MatchEvent]struct{})
}
