package ledger

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/rpcclient/v8"
	"github.com/decred/dcrd/wire"
	"github.com/decred/slog"
	wordduel "github.com/wordduel/wordduel"
)

// txFee is the flat network fee deducted from the house side of every
// disbursement.
const txFee = dcrutil.Amount(10_000)

// DCRConfig wires a DCRAdapter to its chain backend.
type DCRConfig struct {
	Params       *chaincfg.Params
	Dcrd         *rpcclient.Client
	Watcher      *FundingWatcher
	Creds        CredentialProvider
	HouseAddress string
	Log          slog.Logger
}

type escrowState struct {
	handle EscrowHandle
	redeem []byte
	pkh    []byte

	acked    bool
	released bool
	spentTx  string
}

// DCRAdapter implements Adapter against dcrd. Deposits are P2SH escrows
// releasable by the house key, with a CSV refund branch for the depositor.
type DCRAdapter struct {
	cfg    DCRConfig
	sendTx func(context.Context, *wire.MsgTx) (*chainhash.Hash, error)

	mu       sync.Mutex
	escrows  map[string]*escrowState // handle ID -> state
	byPair   map[string]string       // matchID|participant -> handle ID
	settled  map[string]SettlementResult
	settling map[string]chan struct{} // matchID -> closed when attempt ends
}

// NewDCRAdapter validates the config and builds the adapter.
func NewDCRAdapter(cfg DCRConfig) (*DCRAdapter, error) {
	if cfg.Params == nil || cfg.Dcrd == nil || cfg.Watcher == nil || cfg.Creds == nil {
		return nil, fmt.Errorf("incomplete dcr adapter config")
	}
	if _, err := payoutScript(cfg.HouseAddress, cfg.Params); err != nil {
		return nil, fmt.Errorf("house address: %w", err)
	}
	return &DCRAdapter{
		cfg: cfg,
		sendTx: func(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
			return cfg.Dcrd.SendRawTransaction(ctx, tx, false)
		},
		escrows:  make(map[string]*escrowState),
		byPair:   make(map[string]string),
		settled:  make(map[string]SettlementResult),
		settling: make(map[string]chan struct{}),
	}, nil
}

func newHandleID() (string, error) {
	var rnd [8]byte
	if _, err := crand.Read(rnd[:]); err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	return "h" + hex.EncodeToString(rnd[:]), nil
}

// RequestEscrow issues (or re-issues) the deposit destination for one
// participant of a match.
func (a *DCRAdapter) RequestEscrow(ctx context.Context, matchID, participant string, amount dcrutil.Amount) (EscrowHandle, error) {
	pair := matchID + "|" + participant

	a.mu.Lock()
	if id, ok := a.byPair[pair]; ok {
		h := a.escrows[id].handle
		a.mu.Unlock()
		return h, nil
	}
	a.mu.Unlock()

	priv, err := a.cfg.Creds.SigningKey(ctx)
	if err != nil {
		return EscrowHandle{}, failure("request_escrow", ReasonUnavailable, err)
	}
	pkh, err := participantPKH(participant, a.cfg.Params)
	if err != nil {
		return EscrowHandle{}, failure("request_escrow", ReasonRejected, err)
	}
	redeem, err := buildEscrowRedeemScript(priv.PubKey().SerializeCompressed(), pkh)
	if err != nil {
		return EscrowHandle{}, failure("request_escrow", ReasonRejected, err)
	}
	addr, pkScript, err := escrowAddress(redeem, a.cfg.Params)
	if err != nil {
		return EscrowHandle{}, failure("request_escrow", ReasonRejected, err)
	}
	id, err := newHandleID()
	if err != nil {
		return EscrowHandle{}, failure("request_escrow", ReasonUnavailable, err)
	}

	h := EscrowHandle{
		ID:          id,
		MatchID:     matchID,
		Participant: participant,
		Amount:      amount,
		Address:     addr.String(),
		PkScript:    pkScript,
		CreatedAt:   time.Now(),
	}

	a.mu.Lock()
	// A concurrent request for the same pair may have won the race.
	if prior, ok := a.byPair[pair]; ok {
		h = a.escrows[prior].handle
		a.mu.Unlock()
		return h, nil
	}
	a.escrows[id] = &escrowState{handle: h, redeem: redeem, pkh: pkh}
	a.byPair[pair] = id
	a.mu.Unlock()

	a.cfg.Watcher.Watch(pkScript)
	a.cfg.Log.Infof("escrow %s open for %s (match %s) at %s", id, participant, matchID, h.Address)
	return h, nil
}

func (a *DCRAdapter) lookup(op, handleID string) (*escrowState, error) {
	st := a.escrows[handleID]
	if st == nil {
		return nil, failure(op, ReasonUnknownHandle, fmt.Errorf("handle %s", handleID))
	}
	return st, nil
}

// ConfirmEscrow checks the participant's signed acknowledgement against the
// escrow and requires the deposit to be visible for at least the escrow
// amount.
func (a *DCRAdapter) ConfirmEscrow(ctx context.Context, handleID string, proof wordduel.EscrowProof) error {
	a.mu.Lock()
	st, err := a.lookup("confirm_escrow", handleID)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	if st.acked {
		a.mu.Unlock()
		return nil
	}
	h := st.handle
	pkh := st.pkh
	a.mu.Unlock()

	// The acknowledging key must be the one the refund branch pays, so a
	// depositor cannot ack someone else's escrow.
	if !bytes.Equal(dcrutil.Hash160(proof.PubKey), pkh) {
		return failure("confirm_escrow", ReasonBadProof, fmt.Errorf("pubkey does not match participant"))
	}
	if err := wordduel.VerifyEscrowAck(proof, h.MatchID, h.Participant, h.ID); err != nil {
		return failure("confirm_escrow", ReasonBadProof, err)
	}

	funded, _ := a.cfg.Watcher.View(h.PkScript)
	if funded < h.Amount {
		return failure("confirm_escrow", ReasonNotFunded,
			fmt.Errorf("have %s, need %s", funded, h.Amount))
	}

	a.mu.Lock()
	st.acked = true
	a.mu.Unlock()
	a.cfg.Log.Infof("escrow %s confirmed with %s deposited", handleID, funded)
	return nil
}

// Status reports the adapter's funding view for one handle.
func (a *DCRAdapter) Status(ctx context.Context, handleID string) (FundingStatus, error) {
	a.mu.Lock()
	st, err := a.lookup("status", handleID)
	if err != nil {
		a.mu.Unlock()
		return FundingStatus{}, err
	}
	out := FundingStatus{Acked: st.acked, SpentTx: st.spentTx, Released: st.released}
	pkScript := st.handle.PkScript
	a.mu.Unlock()

	funded, utxos := a.cfg.Watcher.View(pkScript)
	out.Funded = funded
	out.UTXOs = len(utxos)
	return out, nil
}

// Settle spends every escrow of the match into the split's payouts. The
// first settlement per match wins; repeats return its receipt. A call that
// arrives while another attempt for the same match is still broadcasting
// waits for that attempt instead of building a second transaction.
func (a *DCRAdapter) Settle(ctx context.Context, req SettleRequest) (SettlementResult, error) {
	a.mu.Lock()
	for {
		if res, ok := a.settled[req.MatchID]; ok {
			a.mu.Unlock()
			return res, nil
		}
		gate, busy := a.settling[req.MatchID]
		if !busy {
			break
		}
		a.mu.Unlock()
		select {
		case <-gate:
		case <-ctx.Done():
			return SettlementResult{}, failure("settle", ReasonUnavailable, ctx.Err())
		}
		a.mu.Lock()
	}
	gate := make(chan struct{})
	a.settling[req.MatchID] = gate
	defer func() {
		a.mu.Lock()
		delete(a.settling, req.MatchID)
		a.mu.Unlock()
		close(gate)
	}()

	states := make([]*escrowState, 0, len(req.Handles))
	for _, id := range req.Handles {
		st, err := a.lookup("settle", id)
		if err != nil {
			a.mu.Unlock()
			return SettlementResult{}, err
		}
		if st.released {
			a.mu.Unlock()
			return SettlementResult{}, failure("settle", ReasonAlreadySpent,
				fmt.Errorf("handle %s already released", id))
		}
		states = append(states, st)
	}
	a.mu.Unlock()

	tx := wire.NewMsgTx()
	var inputTotal dcrutil.Amount
	redeems := make([][]byte, 0, len(states))
	for _, st := range states {
		_, utxos := a.cfg.Watcher.View(st.handle.PkScript)
		if len(utxos) == 0 {
			// A handle that never saw a deposit contributes nothing to the
			// pot; a forfeited match with an unfunded joiner still settles
			// from the funded side alone.
			a.cfg.Log.Debugf("settle %s: handle %s has no deposits, skipping",
				req.MatchID, st.handle.ID)
			continue
		}
		for _, u := range utxos {
			var h chainhash.Hash
			if err := chainhash.Decode(&h, u.TxID); err != nil {
				return SettlementResult{}, failure("settle", ReasonRejected, err)
			}
			tx.AddTxIn(&wire.TxIn{
				PreviousOutPoint: wire.OutPoint{Hash: h, Index: u.Vout, Tree: wire.TxTreeRegular},
				ValueIn:          int64(u.Value),
			})
			redeems = append(redeems, st.redeem)
			inputTotal += u.Value
		}
	}
	if inputTotal == 0 {
		return SettlementResult{}, failure("settle", ReasonNotFunded,
			fmt.Errorf("no deposits across %d handles", len(states)))
	}

	winnerOut := req.Split.ToWinner
	if req.Winner == wordduel.HouseWinner {
		winnerOut = 0
	}
	houseOut := inputTotal - winnerOut - txFee
	if houseOut < 0 {
		// The house share cannot cover the network fee; it comes out of
		// the winner's side instead.
		winnerOut += houseOut
		houseOut = 0
	}
	if winnerOut < 0 {
		return SettlementResult{}, failure("settle", ReasonNotFunded,
			fmt.Errorf("deposits %s do not cover payouts %s", inputTotal, req.Split.ToWinner))
	}
	if winnerOut > 0 {
		script, err := payoutScript(req.Winner, a.cfg.Params)
		if err != nil {
			return SettlementResult{}, failure("settle", ReasonRejected, err)
		}
		tx.AddTxOut(&wire.TxOut{Value: int64(winnerOut), PkScript: script})
	}
	if houseOut > 0 {
		script, err := payoutScript(a.cfg.HouseAddress, a.cfg.Params)
		if err != nil {
			return SettlementResult{}, failure("settle", ReasonRejected, err)
		}
		tx.AddTxOut(&wire.TxOut{Value: int64(houseOut), PkScript: script})
	}

	priv, err := a.cfg.Creds.SigningKey(ctx)
	if err != nil {
		return SettlementResult{}, failure("settle", ReasonUnavailable, err)
	}
	for i := range tx.TxIn {
		if err := signReleaseInput(tx, i, redeems[i], priv); err != nil {
			return SettlementResult{}, failure("settle", ReasonRejected, err)
		}
	}

	txHash, err := a.sendTx(ctx, tx)
	if err != nil {
		return SettlementResult{}, failure("settle", ReasonRejected, err)
	}
	res := SettlementResult{TxHash: txHash.String()}

	a.mu.Lock()
	a.settled[req.MatchID] = res
	for _, st := range states {
		st.released = true
		st.spentTx = res.TxHash
	}
	a.mu.Unlock()
	for _, st := range states {
		a.cfg.Watcher.Unwatch(st.handle.PkScript)
	}
	a.cfg.Log.Infof("match %s settled in %s (%s to %s)", req.MatchID, res.TxHash, winnerOut, req.Winner)
	return res, nil
}

// Cancel refunds a single escrow to its participant, routing any penalty
// to the house. Unfunded or already-released escrows are released quietly.
func (a *DCRAdapter) Cancel(ctx context.Context, handleID string, penalty dcrutil.Amount) error {
	a.mu.Lock()
	st, err := a.lookup("cancel", handleID)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	if st.released {
		a.mu.Unlock()
		return nil
	}
	h := st.handle
	redeem := st.redeem
	a.mu.Unlock()

	funded, utxos := a.cfg.Watcher.View(h.PkScript)
	if funded == 0 {
		a.mu.Lock()
		st.released = true
		a.mu.Unlock()
		a.cfg.Watcher.Unwatch(h.PkScript)
		return nil
	}

	tx := wire.NewMsgTx()
	for _, u := range utxos {
		var hash chainhash.Hash
		if err := chainhash.Decode(&hash, u.TxID); err != nil {
			return failure("cancel", ReasonRejected, err)
		}
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Hash: hash, Index: u.Vout, Tree: wire.TxTreeRegular},
			ValueIn:          int64(u.Value),
		})
	}
	refund := funded - penalty - txFee
	if refund < 0 {
		return failure("cancel", ReasonNotFunded,
			fmt.Errorf("deposit %s does not cover penalty %s", funded, penalty))
	}
	if refund > 0 {
		script, err := payoutScript(h.Participant, a.cfg.Params)
		if err != nil {
			return failure("cancel", ReasonRejected, err)
		}
		tx.AddTxOut(&wire.TxOut{Value: int64(refund), PkScript: script})
	}
	if penalty > 0 {
		script, err := payoutScript(a.cfg.HouseAddress, a.cfg.Params)
		if err != nil {
			return failure("cancel", ReasonRejected, err)
		}
		tx.AddTxOut(&wire.TxOut{Value: int64(penalty), PkScript: script})
	}

	priv, err := a.cfg.Creds.SigningKey(ctx)
	if err != nil {
		return failure("cancel", ReasonUnavailable, err)
	}
	for i := range tx.TxIn {
		if err := signReleaseInput(tx, i, redeem, priv); err != nil {
			return failure("cancel", ReasonRejected, err)
		}
	}
	txHash, err := a.sendTx(ctx, tx)
	if err != nil {
		return failure("cancel", ReasonRejected, err)
	}

	a.mu.Lock()
	st.released = true
	st.spentTx = txHash.String()
	a.mu.Unlock()
	a.cfg.Watcher.Unwatch(h.PkScript)
	a.cfg.Log.Infof("escrow %s cancelled, %s refunded to %s in %s", handleID, refund, h.Participant, txHash)
	return nil
}
