package wordduel

import (
	"fmt"

	"github.com/decred/dcrd/txscript/v4/stdaddr"
)

// HouseWinner is the sentinel winner value recorded when no player won and
// the pot is billed to the house.
const HouseWinner = "house"

// ValidateParticipant performs a format check on a participant wallet
// address for the given network. It deliberately verifies nothing beyond
// address encoding; ownership is the ledger's problem.
func ValidateParticipant(addr string, params stdaddr.AddressParams) error {
	if addr == "" {
		return fmt.Errorf("empty participant address")
	}
	if _, err := stdaddr.DecodeAddress(addr, params); err != nil {
		return fmt.Errorf("bad participant address %q: %w", addr, err)
	}
	return nil
}
