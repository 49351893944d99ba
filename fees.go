package wordduel

import (
	"github.com/decred/dcrd/dcrutil/v4"
)

// Wager bounds accepted at match creation.
const (
	MinWager = dcrutil.Amount(2_200_000)     // 0.022 DCR
	MaxWager = dcrutil.Amount(1_000_000_000) // 10 DCR
)

// Fee rates in basis points.
const (
	WinnerFeeBps      = 200 // 2% of the pot on a normal win
	WaitingForfeitBps = 500 // 5% of the wager when leaving an unmatched lobby
)

// ValidWager reports whether a wager is inside the accepted range.
func ValidWager(a dcrutil.Amount) bool {
	return a >= MinWager && a <= MaxWager
}

// Outcome classifies how a match concluded for payout purposes.
type Outcome int

const (
	// OutcomeNormalWin is a correct guess while the match was actively playing.
	OutcomeNormalWin Outcome = iota
	// OutcomeForfeitActive is a forfeit after an opponent had joined.
	OutcomeForfeitActive
	// OutcomeForfeitWaiting is the sole creator leaving before anyone joined.
	OutcomeForfeitWaiting
	// OutcomeBothLost means every player exhausted guesses or timed out.
	OutcomeBothLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNormalWin:
		return "normal_win"
	case OutcomeForfeitActive:
		return "forfeit_active"
	case OutcomeForfeitWaiting:
		return "forfeit_waiting"
	case OutcomeBothLost:
		return "both_lost"
	default:
		return "unknown"
	}
}

// Split is the payout distribution for one concluded match. All values are in
// atoms. Refund and Penalty describe the forfeiting/leaving player's side;
// ToWinner and ToHouse describe where the escrowed pot goes.
type Split struct {
	Refund   dcrutil.Amount
	Penalty  dcrutil.Amount
	ToWinner dcrutil.Amount
	ToHouse  dcrutil.Amount
}

// ComputeSplit maps a conclusion onto the payout distribution. Pure function,
// no side effects.
//
//   - Normal win: winner takes the pot minus the 2% house fee.
//   - Active forfeit: the forfeiter's entire wager goes to the opponent, who
//     also recovers their own stake.
//   - Waiting forfeit: 5% flat penalty to the house, remainder refunded; no
//     opponent was disadvantaged so no wager is lost.
//   - Both lost: the full pot goes to the house.
func ComputeSplit(wager dcrutil.Amount, outcome Outcome) Split {
	pot := wager * 2
	switch outcome {
	case OutcomeNormalWin:
		fee := pot * WinnerFeeBps / 10000
		return Split{ToWinner: pot - fee, ToHouse: fee}
	case OutcomeForfeitActive:
		return Split{Penalty: wager, ToWinner: pot}
	case OutcomeForfeitWaiting:
		penalty := wager * WaitingForfeitBps / 10000
		return Split{Refund: wager - penalty, Penalty: penalty, ToHouse: penalty}
	case OutcomeBothLost:
		return Split{ToHouse: pot}
	default:
		return Split{}
	}
}
