package wordgame

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrutil/v4"
	wordduel "github.com/wordduel/wordduel"
)

const (
	// WordLength is the fixed width of targets and guesses.
	WordLength = 5
	// MaxGuesses is the per-player guess budget.
	MaxGuesses = 6
)

// LifecycleState tracks a match through its life. AwaitingEscrow is the
// initial state; Completed and Cancelled are terminal.
type LifecycleState int

const (
	StateAwaitingEscrow LifecycleState = iota
	StateWaiting
	StatePlaying
	StateCompleted
	StateCancelled
)

func (s LifecycleState) String() string {
	switch s {
	case StateAwaitingEscrow:
		return "awaiting_escrow"
	case StateWaiting:
		return "waiting"
	case StatePlaying:
		return "playing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s LifecycleState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// SettlementState tracks the external ledger interaction independently of
// the lifecycle. It reaches Confirmed or Failed at most once.
type SettlementState int

const (
	SettlementNotStarted SettlementState = iota
	SettlementPending
	SettlementConfirmed
	SettlementFailed
)

func (s SettlementState) String() string {
	switch s {
	case SettlementNotStarted:
		return "not_started"
	case SettlementPending:
		return "pending_confirmation"
	case SettlementConfirmed:
		return "confirmed"
	case SettlementFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PlayerOutcome is a single player's resolution within a match.
type PlayerOutcome int

const (
	OutcomeUnset PlayerOutcome = iota
	OutcomeWin
	OutcomeExhausted
	OutcomeTimedOut
)

func (o PlayerOutcome) String() string {
	switch o {
	case OutcomeWin:
		return "win"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unset"
	}
}

// Guess is one accepted, normalized guess.
type Guess struct {
	Player string
	Word   string
	At     time.Time
}

// EscrowRef is the per-participant handle returned by the ledger adapter.
// The handle is write-once.
type EscrowRef struct {
	Handle      string
	Confirmed   bool
	ConfirmedAt time.Time
}

// Match is the central entity. All mutation happens under the store's
// per-match exclusive section; Match methods assume the caller holds it.
type Match struct {
	ID           string
	Wager        dcrutil.Amount
	Players      []string // index 0 is the creator
	SecretTarget string
	Guesses      []Guess
	Outcomes     map[string]PlayerOutcome
	Lifecycle    LifecycleState
	Settlement   SettlementState
	Escrows      map[string]*EscrowRef

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// Winner is a player address, wordduel.HouseWinner when both players
	// lost, or empty for a pre-start cancellation.
	Winner string

	// SettleTx caches the ledger signature of a completed settlement so a
	// second settle attempt is a no-op. SettleErr flags a failed settlement
	// for operator remediation; it is never retried automatically.
	SettleTx  string
	SettleErr string
}

// NewMatchID returns a fresh opaque match identifier.
func NewMatchID() (string, error) {
	var rnd [8]byte
	if _, err := crand.Read(rnd[:]); err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	return "m" + hex.EncodeToString(rnd[:]), nil
}

// NormalizeGuess upper-cases a raw guess and enforces the fixed-width
// alphabetic format.
func NormalizeGuess(raw string) (string, error) {
	w := strings.ToUpper(strings.TrimSpace(raw))
	if len(w) != WordLength {
		return "", ErrInvalidGuessFormat
	}
	for _, r := range w {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidGuessFormat
		}
	}
	return w, nil
}

// HasPlayer reports whether addr has joined this match.
func (m *Match) HasPlayer(addr string) bool {
	for _, p := range m.Players {
		if p == addr {
			return true
		}
	}
	return false
}

// Creator returns the participant at position 0.
func (m *Match) Creator() string {
	if len(m.Players) == 0 {
		return ""
	}
	return m.Players[0]
}

// Opponent returns the other joined participant, or "".
func (m *Match) Opponent(addr string) string {
	for _, p := range m.Players {
		if p != addr {
			return p
		}
	}
	return ""
}

// GuessCount returns how many guesses addr has submitted.
func (m *Match) GuessCount(addr string) int {
	n := 0
	for _, g := range m.Guesses {
		if g.Player == addr {
			n++
		}
	}
	return n
}

// AddPlayer admits a second participant to a waiting match. The joiner does
// not make the match Playing until their escrow confirms.
func (m *Match) AddPlayer(addr string) error {
	if m.Lifecycle != StateWaiting {
		return ErrWrongLifecycle
	}
	if len(m.Players) >= 2 {
		return ErrMatchFull
	}
	if m.HasPlayer(addr) {
		return ErrSelfJoin
	}
	m.Players = append(m.Players, addr)
	return nil
}

// SetEscrow records the write-once ledger handle for a participant and
// parks the settlement interaction in PendingConfirmation.
func (m *Match) SetEscrow(participant, handle string) error {
	if !m.HasPlayer(participant) {
		return ErrPlayerNotInMatch
	}
	if m.Escrows == nil {
		m.Escrows = make(map[string]*EscrowRef)
	}
	if ref := m.Escrows[participant]; ref != nil && ref.Handle != "" {
		return ErrEscrowAlreadySet
	}
	m.Escrows[participant] = &EscrowRef{Handle: handle}
	if m.Settlement == SettlementNotStarted {
		m.Settlement = SettlementPending
	}
	return nil
}

// ConfirmEscrowFor marks a participant's escrow confirmed and applies the
// resulting lifecycle transition: the creator's confirmation opens the
// match (AwaitingEscrow -> Waiting), the joiner's starts it
// (Waiting -> Playing once both escrows are in). Confirming twice is a
// no-op.
func (m *Match) ConfirmEscrowFor(participant string, now time.Time) error {
	if !m.HasPlayer(participant) {
		return ErrPlayerNotInMatch
	}
	ref := m.Escrows[participant]
	if ref == nil || ref.Handle == "" {
		return ErrEscrowNotRequested
	}
	if ref.Confirmed {
		return nil
	}
	ref.Confirmed = true
	ref.ConfirmedAt = now

	switch {
	case m.Lifecycle == StateAwaitingEscrow && participant == m.Creator():
		m.Lifecycle = StateWaiting
		m.Settlement = SettlementConfirmed
	case m.Lifecycle == StateWaiting && len(m.Players) == 2 && m.allEscrowsConfirmed():
		m.Lifecycle = StatePlaying
		if m.StartedAt.IsZero() {
			m.StartedAt = now
		}
	}
	return nil
}

func (m *Match) allEscrowsConfirmed() bool {
	for _, p := range m.Players {
		ref := m.Escrows[p]
		if ref == nil || !ref.Confirmed {
			return false
		}
	}
	return true
}

// GuessResult describes what one accepted guess did to the match.
type GuessResult struct {
	Word      string
	Correct   bool
	Exhausted bool
	Concluded bool
	Winner    string
}

// ApplyGuess validates, normalizes and appends one guess, resolving the
// guesser's outcome and concluding the match when every joined player is
// resolved. The first correct guess wins immediately; ties are impossible
// because all mutation for a match is serialized.
func (m *Match) ApplyGuess(player, raw string, now time.Time) (GuessResult, error) {
	word, err := NormalizeGuess(raw)
	if err != nil {
		return GuessResult{}, err
	}
	if m.Lifecycle != StatePlaying {
		return GuessResult{}, ErrGameNotActive
	}
	if !m.HasPlayer(player) {
		return GuessResult{}, ErrPlayerNotInMatch
	}
	if m.Outcomes[player] != OutcomeUnset {
		return GuessResult{}, ErrPlayerResolved
	}

	m.Guesses = append(m.Guesses, Guess{Player: player, Word: word, At: now})

	res := GuessResult{Word: word}
	if word == m.SecretTarget {
		m.Outcomes[player] = OutcomeWin
		res.Correct = true
	} else if m.GuessCount(player) >= MaxGuesses {
		m.Outcomes[player] = OutcomeExhausted
		res.Exhausted = true
	}
	if m.concludeIfResolved(now) {
		res.Concluded = true
		res.Winner = m.Winner
	}
	return res, nil
}

// ReportTimeout resolves a player's guess clock expiry, as observed by the
// clients. The match concludes once every joined player is resolved.
func (m *Match) ReportTimeout(player string, now time.Time) (bool, error) {
	if m.Lifecycle != StatePlaying {
		return false, ErrGameNotActive
	}
	if !m.HasPlayer(player) {
		return false, ErrPlayerNotInMatch
	}
	if m.Outcomes[player] != OutcomeUnset {
		return false, ErrPlayerResolved
	}
	m.Outcomes[player] = OutcomeTimedOut
	return m.concludeIfResolved(now), nil
}

// ForfeitResult tells the settlement orchestrator what the forfeit means.
type ForfeitResult struct {
	Outcome   wordduel.Outcome
	Winner    string // set for active forfeits
	Cancelled bool   // match moved to Cancelled
	PreEscrow bool   // never left AwaitingEscrow; no on-chain action needed
}

// Forfeit applies a voluntary exit. With an opponent already joined the
// forfeiter loses their entire wager to the opponent; alone in the lobby
// it is a cancellation with the small flat penalty; before the creator's
// escrow ever confirmed it is a plain cancellation.
func (m *Match) Forfeit(player string, now time.Time) (ForfeitResult, error) {
	if !m.HasPlayer(player) {
		return ForfeitResult{}, ErrPlayerNotInMatch
	}
	switch m.Lifecycle {
	case StatePlaying:
		opp := m.Opponent(player)
		m.Outcomes[opp] = OutcomeWin
		m.complete(opp, now)
		return ForfeitResult{Outcome: wordduel.OutcomeForfeitActive, Winner: opp}, nil
	case StateWaiting:
		if len(m.Players) == 2 {
			// An opponent was already disadvantaged even though play never
			// started; same penalty as an active forfeit.
			opp := m.Opponent(player)
			m.Outcomes[opp] = OutcomeWin
			m.complete(opp, now)
			return ForfeitResult{Outcome: wordduel.OutcomeForfeitActive, Winner: opp}, nil
		}
		m.cancel(now)
		return ForfeitResult{Outcome: wordduel.OutcomeForfeitWaiting, Cancelled: true}, nil
	case StateAwaitingEscrow:
		m.cancel(now)
		return ForfeitResult{Cancelled: true, PreEscrow: true}, nil
	default:
		return ForfeitResult{}, ErrWrongLifecycle
	}
}

// Expire cancels a match that never reached play. Playing and terminal
// matches are left alone.
func (m *Match) Expire(now time.Time) bool {
	switch m.Lifecycle {
	case StateAwaitingEscrow, StateWaiting:
		m.cancel(now)
		return true
	}
	return false
}

// ForceComplete is the sweeper's hammer for matches stuck in Playing past
// the maximum duration: every unresolved player times out and the pot is
// billed to the house.
func (m *Match) ForceComplete(now time.Time) bool {
	if m.Lifecycle != StatePlaying {
		return false
	}
	for _, p := range m.Players {
		if m.Outcomes[p] == OutcomeUnset {
			m.Outcomes[p] = OutcomeTimedOut
		}
	}
	return m.concludeIfResolved(now)
}

// concludeIfResolved completes the match once an outcome exists for it:
// any winning player ends it immediately, otherwise it ends when every
// joined player is resolved, with the house taking a both-lost pot.
func (m *Match) concludeIfResolved(now time.Time) bool {
	if m.Lifecycle != StatePlaying {
		return false
	}
	for _, p := range m.Players {
		if m.Outcomes[p] == OutcomeWin {
			m.complete(p, now)
			return true
		}
	}
	for _, p := range m.Players {
		if m.Outcomes[p] == OutcomeUnset {
			return false
		}
	}
	m.complete(wordduel.HouseWinner, now)
	return true
}

func (m *Match) complete(winner string, now time.Time) {
	m.Lifecycle = StateCompleted
	m.Winner = winner
	if m.CompletedAt.IsZero() {
		m.CompletedAt = now
	}
}

func (m *Match) cancel(now time.Time) {
	m.Lifecycle = StateCancelled
	if m.CompletedAt.IsZero() {
		m.CompletedAt = now
	}
}

// FeeOutcome maps a completed match onto the payout policy branch.
func (m *Match) FeeOutcome() wordduel.Outcome {
	if m.Winner == wordduel.HouseWinner {
		return wordduel.OutcomeBothLost
	}
	return wordduel.OutcomeNormalWin
}

// EscrowStatus is the snapshot view of one participant's escrow.
type EscrowStatus struct {
	Handle      string
	Confirmed   bool
	ConfirmedAt time.Time
}

// Snapshot is a read-only copy of a match safe to hand to clients. The
// secret target stays redacted until the match has concluded.
type Snapshot struct {
	ID          string
	Wager       dcrutil.Amount
	Players     []string
	Guesses     []Guess
	Outcomes    map[string]PlayerOutcome
	Lifecycle   LifecycleState
	Settlement  SettlementState
	Escrows     map[string]EscrowStatus
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Winner      string
	Target      string
	SettleTx    string
	SettleErr   string
}

// Snapshot copies the match for read-only consumption.
func (m *Match) Snapshot() Snapshot {
	snap := Snapshot{
		ID:          m.ID,
		Wager:       m.Wager,
		Players:     append([]string(nil), m.Players...),
		Guesses:     append([]Guess(nil), m.Guesses...),
		Outcomes:    make(map[string]PlayerOutcome, len(m.Outcomes)),
		Lifecycle:   m.Lifecycle,
		Settlement:  m.Settlement,
		Escrows:     make(map[string]EscrowStatus, len(m.Escrows)),
		CreatedAt:   m.CreatedAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		Winner:      m.Winner,
		SettleTx:    m.SettleTx,
		SettleErr:   m.SettleErr,
	}
	for p, o := range m.Outcomes {
		snap.Outcomes[p] = o
	}
	for p, ref := range m.Escrows {
		snap.Escrows[p] = EscrowStatus{
			Handle:      ref.Handle,
			Confirmed:   ref.Confirmed,
			ConfirmedAt: ref.ConfirmedAt,
		}
	}
	if m.Lifecycle.Terminal() {
		snap.Target = m.SecretTarget
	}
	return snap
}
