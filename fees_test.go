package wordduel

import (
	"testing"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidWager(t *testing.T) {
	assert.False(t, ValidWager(MinWager-1))
	assert.True(t, ValidWager(MinWager))
	assert.True(t, ValidWager(MaxWager))
	assert.False(t, ValidWager(MaxWager+1))
	assert.False(t, ValidWager(0))
	assert.False(t, ValidWager(-1))
}

func TestComputeSplitNormalWin(t *testing.T) {
	wager, err := dcrutil.NewAmount(1.0)
	require.NoError(t, err)

	split := ComputeSplit(wager, OutcomeNormalWin)
	assert.Equal(t, dcrutil.Amount(196_000_000), split.ToWinner)
	assert.Equal(t, dcrutil.Amount(4_000_000), split.ToHouse)
	assert.Zero(t, split.Refund)
	assert.Zero(t, split.Penalty)
	assert.Equal(t, wager*2, split.ToWinner+split.ToHouse)
}

func TestComputeSplitForfeitActive(t *testing.T) {
	wager := dcrutil.Amount(100_000_000)
	split := ComputeSplit(wager, OutcomeForfeitActive)
	assert.Equal(t, wager, split.Penalty)
	assert.Equal(t, wager*2, split.ToWinner)
	assert.Zero(t, split.ToHouse)
}

func TestComputeSplitForfeitWaiting(t *testing.T) {
	wager := dcrutil.Amount(100_000_000)
	split := ComputeSplit(wager, OutcomeForfeitWaiting)
	assert.Equal(t, dcrutil.Amount(95_000_000), split.Refund)
	assert.Equal(t, dcrutil.Amount(5_000_000), split.Penalty)
	assert.Equal(t, dcrutil.Amount(5_000_000), split.ToHouse)
	assert.Equal(t, wager, split.Refund+split.Penalty)
}

func TestComputeSplitBothLost(t *testing.T) {
	wager := dcrutil.Amount(100_000_000)
	split := ComputeSplit(wager, OutcomeBothLost)
	assert.Equal(t, wager*2, split.ToHouse)
	assert.Zero(t, split.ToWinner)
}

func TestComputeSplitSmallestWager(t *testing.T) {
	// Integer division must never pay out more than the pot.
	split := ComputeSplit(MinWager, OutcomeNormalWin)
	assert.Equal(t, MinWager*2, split.ToWinner+split.ToHouse)
	assert.True(t, split.ToHouse > 0)
}
