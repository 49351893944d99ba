package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrutil/v4"
	wordduel "github.com/wordduel/wordduel"
)

type memEscrow struct {
	handle   EscrowHandle
	funded   dcrutil.Amount
	acked    bool
	released bool
	spentTx  string
}

// MemAdapter is an in-process Adapter used by tests and by the simulation
// run mode. Deposits are injected with Deposit instead of observed on a
// chain; proofs are verified for real.
type MemAdapter struct {
	mu      sync.Mutex
	escrows map[string]*memEscrow
	byPair  map[string]string
	settled map[string]SettlementResult
	seq     int

	// FailSettle forces Settle to fail with the given reason, for
	// exercising the orchestrator's failure paths.
	FailSettle Reason
}

// NewMemAdapter builds an empty in-memory adapter.
func NewMemAdapter() *MemAdapter {
	return &MemAdapter{
		escrows: make(map[string]*memEscrow),
		byPair:  make(map[string]string),
		settled: make(map[string]SettlementResult),
	}
}

// Deposit simulates a participant funding their escrow.
func (a *MemAdapter) Deposit(handleID string, amount dcrutil.Amount) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.escrows[handleID]
	if st == nil {
		return failure("deposit", ReasonUnknownHandle, fmt.Errorf("handle %s", handleID))
	}
	st.funded += amount
	return nil
}

func (a *MemAdapter) RequestEscrow(ctx context.Context, matchID, participant string, amount dcrutil.Amount) (EscrowHandle, error) {
	pair := matchID + "|" + participant
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.byPair[pair]; ok {
		return a.escrows[id].handle, nil
	}
	a.seq++
	h := EscrowHandle{
		ID:          fmt.Sprintf("mem-%d", a.seq),
		MatchID:     matchID,
		Participant: participant,
		Amount:      amount,
		Address:     fmt.Sprintf("mem-addr-%d", a.seq),
		CreatedAt:   time.Now(),
	}
	a.escrows[h.ID] = &memEscrow{handle: h}
	a.byPair[pair] = h.ID
	return h, nil
}

func (a *MemAdapter) ConfirmEscrow(ctx context.Context, handleID string, proof wordduel.EscrowProof) error {
	a.mu.Lock()
	st := a.escrows[handleID]
	a.mu.Unlock()
	if st == nil {
		return failure("confirm_escrow", ReasonUnknownHandle, fmt.Errorf("handle %s", handleID))
	}
	if st.acked {
		return nil
	}
	h := st.handle
	if err := wordduel.VerifyEscrowAck(proof, h.MatchID, h.Participant, h.ID); err != nil {
		return failure("confirm_escrow", ReasonBadProof, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if st.funded < h.Amount {
		return failure("confirm_escrow", ReasonNotFunded,
			fmt.Errorf("have %s, need %s", st.funded, h.Amount))
	}
	st.acked = true
	return nil
}

func (a *MemAdapter) Status(ctx context.Context, handleID string) (FundingStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.escrows[handleID]
	if st == nil {
		return FundingStatus{}, failure("status", ReasonUnknownHandle, fmt.Errorf("handle %s", handleID))
	}
	return FundingStatus{
		Funded:   st.funded,
		UTXOs:    1,
		Acked:    st.acked,
		SpentTx:  st.spentTx,
		Released: st.released,
	}, nil
}

func (a *MemAdapter) Settle(ctx context.Context, req SettleRequest) (SettlementResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if res, ok := a.settled[req.MatchID]; ok {
		return res, nil
	}
	if a.FailSettle != "" {
		return SettlementResult{}, failure("settle", a.FailSettle, fmt.Errorf("forced failure"))
	}
	for _, id := range req.Handles {
		st := a.escrows[id]
		if st == nil {
			return SettlementResult{}, failure("settle", ReasonUnknownHandle, fmt.Errorf("handle %s", id))
		}
		if st.released {
			return SettlementResult{}, failure("settle", ReasonAlreadySpent, fmt.Errorf("handle %s", id))
		}
	}
	a.seq++
	res := SettlementResult{TxHash: fmt.Sprintf("memtx-%d", a.seq)}
	a.settled[req.MatchID] = res
	for _, id := range req.Handles {
		st := a.escrows[id]
		st.released = true
		st.spentTx = res.TxHash
		st.funded = 0
	}
	return res, nil
}

func (a *MemAdapter) Cancel(ctx context.Context, handleID string, penalty dcrutil.Amount) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.escrows[handleID]
	if st == nil {
		return failure("cancel", ReasonUnknownHandle, fmt.Errorf("handle %s", handleID))
	}
	if st.released {
		return nil
	}
	st.released = true
	st.funded = 0
	a.seq++
	st.spentTx = fmt.Sprintf("memtx-%d", a.seq)
	return nil
}

var _ Adapter = (*MemAdapter)(nil)
var _ Adapter = (*DCRAdapter)(nil)
