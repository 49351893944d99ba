package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/wire"
	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wordduel "github.com/wordduel/wordduel"
)

func testPayoutAddr(t *testing.T) string {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	hash := dcrutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := stdaddr.NewAddressPubKeyHashEcdsaSecp256k1V0(hash,
		chaincfg.SimNetParams())
	require.NoError(t, err)
	return addr.String()
}

// newTestDCRAdapter builds an adapter with no chain backend; tests seed the
// watcher directly and stub the broadcast step.
func newTestDCRAdapter(t *testing.T) (*DCRAdapter, *FundingWatcher) {
	t.Helper()
	housePriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	w := NewFundingWatcher(slog.Disabled, nil)
	return &DCRAdapter{
		cfg: DCRConfig{
			Params:       chaincfg.SimNetParams(),
			Watcher:      w,
			Creds:        StaticKey(housePriv),
			HouseAddress: testPayoutAddr(t),
			Log:          slog.Disabled,
		},
		escrows:  make(map[string]*escrowState),
		byPair:   make(map[string]string),
		settled:  make(map[string]SettlementResult),
		settling: make(map[string]chan struct{}),
	}, w
}

func seedDeposit(w *FundingWatcher, pkScript []byte, txNum int, amt dcrutil.Amount) {
	u := UTXO{TxID: fmt.Sprintf("%064x", txNum), Vout: 0, Value: amt}
	k := hex.EncodeToString(pkScript)
	w.mu.Lock()
	if w.known[k] == nil {
		w.known[k] = make(map[string]UTXO)
	}
	w.known[k][u.key()] = u
	w.mu.Unlock()
}

func TestDCRSettleSkipsUnfundedEscrow(t *testing.T) {
	ctx := context.Background()
	a, w := newTestDCRAdapter(t)
	const wager = dcrutil.Amount(100_000_000)
	alice := testPayoutAddr(t)
	bob := testPayoutAddr(t)

	hAlice, err := a.RequestEscrow(ctx, "m01", alice, wager)
	require.NoError(t, err)
	hBob, err := a.RequestEscrow(ctx, "m01", bob, wager)
	require.NoError(t, err)

	// Only the creator deposited; the joiner walked away before funding.
	seedDeposit(w, hAlice.PkScript, 1, wager)

	var sent []*wire.MsgTx
	a.sendTx = func(_ context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
		sent = append(sent, tx)
		h := tx.TxHash()
		return &h, nil
	}

	res, err := a.Settle(ctx, SettleRequest{
		MatchID: "m01",
		Winner:  alice,
		Wager:   wager,
		Split:   wordduel.ComputeSplit(wager, wordduel.OutcomeForfeitActive),
		Handles: []string{hAlice.ID, hBob.ID},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TxHash)

	require.Len(t, sent, 1)
	tx := sent[0]
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 1)
	// The winner takes the funded side minus the network fee; nothing is
	// left over for a house output.
	assert.EqualValues(t, int64(wager-txFee), tx.TxOut[0].Value)

	st, err := a.Status(ctx, hBob.ID)
	require.NoError(t, err)
	assert.True(t, st.Released)
	assert.Equal(t, res.TxHash, st.SpentTx)
}

func TestDCRSettleNeedsADeposit(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestDCRAdapter(t)
	alice := testPayoutAddr(t)
	h, err := a.RequestEscrow(ctx, "m02", alice, 100)
	require.NoError(t, err)

	_, err = a.Settle(ctx, SettleRequest{
		MatchID: "m02",
		Winner:  alice,
		Wager:   100,
		Split:   wordduel.ComputeSplit(100, wordduel.OutcomeNormalWin),
		Handles: []string{h.ID},
	})
	assert.Equal(t, ReasonNotFunded, ReasonOf(err))
}

func TestDCRSettleConcurrentCallsBroadcastOnce(t *testing.T) {
	ctx := context.Background()
	a, w := newTestDCRAdapter(t)
	const wager = dcrutil.Amount(100_000_000)
	alice := testPayoutAddr(t)
	bob := testPayoutAddr(t)

	hAlice, err := a.RequestEscrow(ctx, "m01", alice, wager)
	require.NoError(t, err)
	hBob, err := a.RequestEscrow(ctx, "m01", bob, wager)
	require.NoError(t, err)
	seedDeposit(w, hAlice.PkScript, 1, wager)
	seedDeposit(w, hBob.PkScript, 2, wager)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	a.sendTx = func(_ context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
		}
		h := tx.TxHash()
		return &h, nil
	}

	req := SettleRequest{
		MatchID: "m01",
		Winner:  alice,
		Wager:   wager,
		Split:   wordduel.ComputeSplit(wager, wordduel.OutcomeNormalWin),
		Handles: []string{hAlice.ID, hBob.ID},
	}

	type outcome struct {
		res SettlementResult
		err error
	}
	results := make(chan outcome, 2)
	go func() {
		res, err := a.Settle(ctx, req)
		results <- outcome{res, err}
	}()
	<-entered
	go func() {
		res, err := a.Settle(ctx, req)
		results <- outcome{res, err}
	}()
	// Give the second call time to reach the in-flight wait while the
	// first is still parked in the broadcast.
	time.Sleep(50 * time.Millisecond)
	close(release)

	first := <-results
	second := <-results
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Equal(t, first.res.TxHash, second.res.TxHash)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
