package wordgame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wordduel "github.com/wordduel/wordduel"
)

func testMatch(t *testing.T, players ...string) *Match {
	t.Helper()
	id, err := NewMatchID()
	require.NoError(t, err)
	m := &Match{
		ID:           id,
		Wager:        100_000_000,
		SecretTarget: "CRANE",
		Outcomes:     make(map[string]PlayerOutcome),
		Lifecycle:    StateAwaitingEscrow,
		Escrows:      make(map[string]*EscrowRef),
		CreatedAt:    time.Now(),
	}
	for _, p := range players {
		m.Players = append(m.Players, p)
		m.Outcomes[p] = OutcomeUnset
	}
	return m
}

// startPlaying walks the match through both escrow confirmations.
func startPlaying(t *testing.T, m *Match) {
	t.Helper()
	now := time.Now()
	for i, p := range m.Players {
		require.NoError(t, m.SetEscrow(p, "esc-"+p))
		if i == 0 {
			require.NoError(t, m.ConfirmEscrowFor(p, now))
		}
	}
	require.NoError(t, m.ConfirmEscrowFor(m.Players[1], now))
	require.Equal(t, StatePlaying, m.Lifecycle)
}

func TestNormalizeGuess(t *testing.T) {
	w, err := NormalizeGuess(" crane ")
	require.NoError(t, err)
	assert.Equal(t, "CRANE", w)

	for _, bad := range []string{"", "four", "sixsix", "cra1e", "cr-ne"} {
		_, err := NormalizeGuess(bad)
		assert.ErrorIs(t, err, ErrInvalidGuessFormat, "input %q", bad)
	}
}

func TestEscrowConfirmationsOpenAndStartMatch(t *testing.T) {
	m := testMatch(t, "alice")
	now := time.Now()

	// Confirming before a handle exists is rejected.
	assert.ErrorIs(t, m.ConfirmEscrowFor("alice", now), ErrEscrowNotRequested)

	require.NoError(t, m.SetEscrow("alice", "esc-a"))
	assert.Equal(t, SettlementPending, m.Settlement)
	assert.ErrorIs(t, m.SetEscrow("alice", "esc-other"), ErrEscrowAlreadySet)

	require.NoError(t, m.ConfirmEscrowFor("alice", now))
	assert.Equal(t, StateWaiting, m.Lifecycle)
	assert.Equal(t, SettlementConfirmed, m.Settlement)

	// A second confirmation is a no-op.
	require.NoError(t, m.ConfirmEscrowFor("alice", now))
	assert.Equal(t, StateWaiting, m.Lifecycle)

	require.NoError(t, m.AddPlayer("bob"))
	m.Outcomes["bob"] = OutcomeUnset
	require.NoError(t, m.SetEscrow("bob", "esc-b"))
	assert.Equal(t, StateWaiting, m.Lifecycle, "joiner escrow alone must not start play")

	require.NoError(t, m.ConfirmEscrowFor("bob", now))
	assert.Equal(t, StatePlaying, m.Lifecycle)
	assert.False(t, m.StartedAt.IsZero())
}

func TestAddPlayerRules(t *testing.T) {
	m := testMatch(t, "alice")
	assert.ErrorIs(t, m.AddPlayer("bob"), ErrWrongLifecycle)

	m.Lifecycle = StateWaiting
	assert.ErrorIs(t, m.AddPlayer("alice"), ErrSelfJoin)
	require.NoError(t, m.AddPlayer("bob"))
	assert.ErrorIs(t, m.AddPlayer("carol"), ErrMatchFull)
}

func TestApplyGuessWinsImmediately(t *testing.T) {
	m := testMatch(t, "alice", "bob")
	m.Lifecycle = StateWaiting
	startPlaying(t, m)

	res, err := m.ApplyGuess("alice", "wrong", time.Now())
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.False(t, res.Concluded)

	res, err = m.ApplyGuess("bob", "crane", time.Now())
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.True(t, res.Concluded)
	assert.Equal(t, "bob", res.Winner)
	assert.Equal(t, StateCompleted, m.Lifecycle)
	assert.Equal(t, wordduel.OutcomeNormalWin, m.FeeOutcome())

	// No further guesses once concluded.
	_, err = m.ApplyGuess("alice", "crane", time.Now())
	assert.ErrorIs(t, err, ErrGameNotActive)
}

func TestApplyGuessSixthGuessCanStillWin(t *testing.T) {
	m := testMatch(t, "alice", "bob")
	m.Lifecycle = StateWaiting
	startPlaying(t, m)
	now := time.Now()

	for i := 0; i < MaxGuesses-1; i++ {
		_, err := m.ApplyGuess("alice", "wrong", now)
		require.NoError(t, err)
	}
	res, err := m.ApplyGuess("alice", "crane", now)
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.False(t, res.Exhausted)
	assert.Equal(t, OutcomeWin, m.Outcomes["alice"])
	assert.Equal(t, "alice", m.Winner)
}

func TestApplyGuessExhaustionAndBothLost(t *testing.T) {
	m := testMatch(t, "alice", "bob")
	m.Lifecycle = StateWaiting
	startPlaying(t, m)
	now := time.Now()

	for i := 0; i < MaxGuesses; i++ {
		res, err := m.ApplyGuess("alice", "wrong", now)
		require.NoError(t, err)
		if i == MaxGuesses-1 {
			assert.True(t, res.Exhausted)
		}
	}
	_, err := m.ApplyGuess("alice", "crane", now)
	assert.ErrorIs(t, err, ErrPlayerResolved)
	assert.Equal(t, StatePlaying, m.Lifecycle, "bob is still unresolved")

	for i := 0; i < MaxGuesses; i++ {
		_, err := m.ApplyGuess("bob", "slate", now)
		require.NoError(t, err)
	}
	assert.Equal(t, StateCompleted, m.Lifecycle)
	assert.Equal(t, wordduel.HouseWinner, m.Winner)
	assert.Equal(t, wordduel.OutcomeBothLost, m.FeeOutcome())
}

func TestReportTimeout(t *testing.T) {
	m := testMatch(t, "alice", "bob")
	m.Lifecycle = StateWaiting
	startPlaying(t, m)
	now := time.Now()

	done, err := m.ReportTimeout("alice", now)
	require.NoError(t, err)
	assert.False(t, done)

	_, err = m.ReportTimeout("alice", now)
	assert.ErrorIs(t, err, ErrPlayerResolved)

	done, err = m.ReportTimeout("bob", now)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, wordduel.HouseWinner, m.Winner)
}

func TestForfeitVariants(t *testing.T) {
	now := time.Now()

	t.Run("active", func(t *testing.T) {
		m := testMatch(t, "alice", "bob")
		m.Lifecycle = StateWaiting
		startPlaying(t, m)
		res, err := m.Forfeit("alice", now)
		require.NoError(t, err)
		assert.Equal(t, wordduel.OutcomeForfeitActive, res.Outcome)
		assert.Equal(t, "bob", res.Winner)
		assert.Equal(t, StateCompleted, m.Lifecycle)
	})

	t.Run("waiting with opponent joined", func(t *testing.T) {
		m := testMatch(t, "alice", "bob")
		m.Lifecycle = StateWaiting
		res, err := m.Forfeit("alice", now)
		require.NoError(t, err)
		assert.Equal(t, wordduel.OutcomeForfeitActive, res.Outcome)
		assert.Equal(t, "bob", res.Winner)
	})

	t.Run("waiting alone", func(t *testing.T) {
		m := testMatch(t, "alice")
		m.Lifecycle = StateWaiting
		res, err := m.Forfeit("alice", now)
		require.NoError(t, err)
		assert.Equal(t, wordduel.OutcomeForfeitWaiting, res.Outcome)
		assert.True(t, res.Cancelled)
		assert.Equal(t, StateCancelled, m.Lifecycle)
	})

	t.Run("pre escrow", func(t *testing.T) {
		m := testMatch(t, "alice")
		res, err := m.Forfeit("alice", now)
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.True(t, res.PreEscrow)
	})

	t.Run("stranger", func(t *testing.T) {
		m := testMatch(t, "alice")
		_, err := m.Forfeit("mallory", now)
		assert.ErrorIs(t, err, ErrPlayerNotInMatch)
	})
}

func TestForceComplete(t *testing.T) {
	m := testMatch(t, "alice", "bob")
	m.Lifecycle = StateWaiting
	startPlaying(t, m)
	now := time.Now()

	_, err := m.ApplyGuess("alice", "wrong", now)
	require.NoError(t, err)

	assert.True(t, m.ForceComplete(now))
	assert.Equal(t, StateCompleted, m.Lifecycle)
	assert.Equal(t, wordduel.HouseWinner, m.Winner)
	assert.Equal(t, OutcomeTimedOut, m.Outcomes["alice"])
	assert.Equal(t, OutcomeTimedOut, m.Outcomes["bob"])

	assert.False(t, m.ForceComplete(now), "already terminal")
}

func TestSnapshotRedactsTargetUntilTerminal(t *testing.T) {
	m := testMatch(t, "alice", "bob")
	m.Lifecycle = StateWaiting
	startPlaying(t, m)

	snap := m.Snapshot()
	assert.Empty(t, snap.Target)

	_, err := m.ApplyGuess("alice", "crane", time.Now())
	require.NoError(t, err)
	snap = m.Snapshot()
	assert.Equal(t, "CRANE", snap.Target)

	// Mutating the snapshot must not leak back into the match.
	snap.Players[0] = "mallory"
	assert.Equal(t, "alice", m.Players[0])
}

func TestDictionary(t *testing.T) {
	require.NotEmpty(t, words)
	for _, w := range words {
		norm, err := NormalizeGuess(w)
		require.NoError(t, err, "word %q", w)
		assert.Equal(t, w, norm)
	}
	for i := 0; i < 50; i++ {
		assert.Len(t, PickTarget(), WordLength)
	}
}
