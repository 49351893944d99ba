// Package ledger abstracts the external asynchronous ledger the match
// orchestrator settles against. The orchestrator only ever sees the Adapter
// contract; the dcrd-backed implementation and the in-memory one used in
// tests live behind it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrutil/v4"
	wordduel "github.com/wordduel/wordduel"
)

// Reason is a machine-readable classification of an adapter failure.
// Callers branch on the reason, not on error text.
type Reason string

const (
	ReasonUnknownHandle Reason = "unknown_handle"
	ReasonNotFunded     Reason = "not_funded"
	ReasonBadProof      Reason = "bad_proof"
	ReasonAlreadySpent  Reason = "already_spent"
	ReasonRejected      Reason = "rejected"
	ReasonUnavailable   Reason = "unavailable"
)

// Error wraps an adapter failure with its reason code.
type Error struct {
	Reason Reason
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ledger: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("ledger: %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf extracts the reason code from err, or "" when err is not an
// adapter error.
func ReasonOf(err error) Reason {
	var le *Error
	if errors.As(err, &le) {
		return le.Reason
	}
	return ""
}

func failure(op string, reason Reason, err error) error {
	return &Error{Reason: reason, Op: op, Err: err}
}

// EscrowHandle identifies one participant's escrow on the ledger. The
// handle ID is the orchestrator's idempotency key for every later call.
type EscrowHandle struct {
	ID          string
	MatchID     string
	Participant string
	Amount      dcrutil.Amount

	// Address receives the participant's deposit. PkScript is the raw
	// script the watcher scans for.
	Address  string
	PkScript []byte

	CreatedAt time.Time
}

// FundingStatus reports what the ledger has seen for an escrow so far.
type FundingStatus struct {
	Funded   dcrutil.Amount
	UTXOs    int
	Acked    bool
	SpentTx  string
	Released bool
}

// SettleRequest carries everything needed to disburse one concluded match.
// Winner is a payout address, or wordduel.HouseWinner when the pot goes to
// the house.
type SettleRequest struct {
	MatchID string
	Winner  string
	Wager   dcrutil.Amount
	Split   wordduel.Split
	Handles []string
}

// SettlementResult is the ledger's receipt for a disbursement.
type SettlementResult struct {
	TxHash string
}

// Adapter is the orchestrator's door to the external ledger. Every method
// is idempotent with respect to its handle or match: repeating a call that
// already took effect returns the original result.
type Adapter interface {
	// RequestEscrow registers a deposit destination for one participant.
	// Calling it again for the same match and participant returns the
	// existing handle.
	RequestEscrow(ctx context.Context, matchID, participant string, amount dcrutil.Amount) (EscrowHandle, error)

	// ConfirmEscrow verifies the participant's signed acknowledgement and
	// checks the deposit is visible on the ledger. It fails with
	// ReasonNotFunded until enough value has confirmed.
	ConfirmEscrow(ctx context.Context, handleID string, proof wordduel.EscrowProof) error

	// Status reports the current funding view for a handle.
	Status(ctx context.Context, handleID string) (FundingStatus, error)

	// Settle disburses the pot per the request's split. At most one
	// settlement transaction exists per match; repeats return the cached
	// receipt.
	Settle(ctx context.Context, req SettleRequest) (SettlementResult, error)

	// Cancel releases an escrow back to its participant, minus any penalty
	// already accounted for in the caller's split. Cancelling an unfunded
	// or already-released handle is a no-op.
	Cancel(ctx context.Context, handleID string, penalty dcrutil.Amount) error
}
