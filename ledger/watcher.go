package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/rpcclient/v8"
	"github.com/decred/slog"
)

// UTXO is one deposit output sitting on an escrow script.
type UTXO struct {
	TxID  string
	Vout  uint32
	Value dcrutil.Amount
}

func (u UTXO) key() string { return fmt.Sprintf("%s:%d", u.TxID, u.Vout) }

// FundingUpdate is pushed to subscribers whenever a watched escrow script
// is re-evaluated.
type FundingUpdate struct {
	PkScriptHex string
	Funded      dcrutil.Amount
	Confs       uint32
	UTXOs       []UTXO
	At          time.Time
}

// FundingWatcher scans the chain and mempool for deposits to watched escrow
// scripts. It keeps no per-match state; the adapter maps scripts back to
// escrow handles.
type FundingWatcher struct {
	log  slog.Logger
	dcrd *rpcclient.Client

	mu          sync.RWMutex
	tip         int64
	lastScanned int64
	watched     map[string][]byte          // pkScriptHex -> raw script
	known       map[string]map[string]UTXO // pkScriptHex -> outpoint key -> utxo
	subs        map[string]map[chan FundingUpdate]struct{}

	quit chan struct{}
}

// NewFundingWatcher builds a watcher polling via the given dcrd client.
func NewFundingWatcher(log slog.Logger, dcrd *rpcclient.Client) *FundingWatcher {
	return &FundingWatcher{
		log:         log,
		dcrd:        dcrd,
		lastScanned: -1,
		watched:     make(map[string][]byte),
		known:       make(map[string]map[string]UTXO),
		subs:        make(map[string]map[chan FundingUpdate]struct{}),
		quit:        make(chan struct{}),
	}
}

// Stop terminates Run.
func (w *FundingWatcher) Stop() { close(w.quit) }

// Run polls until the context is cancelled or Stop is called.
func (w *FundingWatcher) Run(ctx context.Context) {
	w.log.Infof("funding watcher: started")
	defer w.log.Infof("funding watcher: stopped")
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-t.C:
			w.pollOnce(ctx)
		}
	}
}

// Watch registers an escrow script for scanning.
func (w *FundingWatcher) Watch(pkScript []byte) {
	k := hex.EncodeToString(pkScript)
	w.mu.Lock()
	w.watched[k] = append([]byte(nil), pkScript...)
	w.mu.Unlock()
}

// Unwatch drops a script and its known deposits once the escrow is done.
func (w *FundingWatcher) Unwatch(pkScript []byte) {
	k := hex.EncodeToString(pkScript)
	w.mu.Lock()
	delete(w.watched, k)
	delete(w.known, k)
	w.mu.Unlock()
}

// View returns the currently known unspent deposits for a script.
func (w *FundingWatcher) View(pkScript []byte) (dcrutil.Amount, []UTXO) {
	k := hex.EncodeToString(pkScript)
	w.mu.RLock()
	defer w.mu.RUnlock()
	var total dcrutil.Amount
	utxos := make([]UTXO, 0, len(w.known[k]))
	for _, u := range w.known[k] {
		total += u.Value
		utxos = append(utxos, u)
	}
	return total, utxos
}

// Subscribe adds a listener for a script. No initial snapshot is sent; the
// first update arrives on the next tick.
func (w *FundingWatcher) Subscribe(pkScript []byte) (<-chan FundingUpdate, func()) {
	k := hex.EncodeToString(pkScript)
	ch := make(chan FundingUpdate, 8)
	w.mu.Lock()
	if _, ok := w.subs[k]; !ok {
		w.subs[k] = make(map[chan FundingUpdate]struct{})
	}
	w.subs[k][ch] = struct{}{}
	w.mu.Unlock()

	unsub := func() {
		w.mu.Lock()
		if set := w.subs[k]; set != nil {
			delete(set, ch)
			if len(set) == 0 {
				delete(w.subs, k)
			}
		}
		w.mu.Unlock()
	}
	return ch, unsub
}

// broadcast pushes an update to every subscriber of a script, dropping it
// for consumers whose buffer is full.
func (w *FundingWatcher) broadcast(k string, up FundingUpdate) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for ch := range w.subs[k] {
		select {
		case ch <- up:
		default:
		}
	}
}

func (w *FundingWatcher) pollOnce(ctx context.Context) {
	if _, h, err := w.dcrd.GetBestBlock(ctx); err == nil {
		w.mu.Lock()
		w.tip = h
		w.mu.Unlock()
	} else {
		w.log.Debugf("funding watcher: GetBestBlock: %v", err)
	}

	w.mu.RLock()
	if len(w.watched) == 0 {
		w.mu.RUnlock()
		return
	}
	scripts := make(map[string][]byte, len(w.watched))
	for k, b := range w.watched {
		scripts[k] = b
	}
	tip := w.tip
	last := w.lastScanned
	w.mu.RUnlock()

	discovered := make(map[string][]UTXO)

	// Scan blocks added since the previous tick. On first run or after a
	// reorg only the current tip is scanned.
	if tip >= 0 && tip != last {
		start := last + 1
		if last == -1 || start < 0 || start > tip {
			start = tip
		}
		for bh := start; bh <= tip; bh++ {
			hash, err := w.dcrd.GetBlockHash(ctx, bh)
			if err != nil {
				continue
			}
			blk, err := w.dcrd.GetBlock(ctx, hash)
			if err != nil || blk == nil {
				continue
			}
			for _, mtx := range blk.Transactions {
				for voutIdx, out := range mtx.TxOut {
					for k, script := range scripts {
						if bytes.Equal(out.PkScript, script) {
							discovered[k] = append(discovered[k], UTXO{
								TxID:  mtx.TxHash().String(),
								Vout:  uint32(voutIdx),
								Value: dcrutil.Amount(out.Value),
							})
						}
					}
				}
			}
		}
		w.mu.Lock()
		w.lastScanned = tip
		w.mu.Unlock()
	}

	// Mempool pass for scripts with nothing known yet, so deposits show up
	// before their first confirmation.
	needMempool := false
	w.mu.RLock()
	for k := range scripts {
		if len(discovered[k]) == 0 && len(w.known[k]) == 0 {
			needMempool = true
			break
		}
	}
	w.mu.RUnlock()
	if needMempool {
		if txids, err := w.dcrd.GetRawMempool(ctx, "all"); err == nil {
			for _, th := range txids {
				v, err := w.dcrd.GetRawTransactionVerbose(ctx, th)
				if err != nil || v == nil {
					continue
				}
				for voutIdx, vout := range v.Vout {
					spk, err := hex.DecodeString(vout.ScriptPubKey.Hex)
					if err != nil {
						continue
					}
					for k, script := range scripts {
						if bytes.Equal(spk, script) {
							amt, err := dcrutil.NewAmount(vout.Value)
							if err != nil {
								continue
							}
							discovered[k] = append(discovered[k], UTXO{
								TxID:  v.Txid,
								Vout:  uint32(voutIdx),
								Value: amt,
							})
						}
					}
				}
			}
		}
	}

	for k := range scripts {
		if list := discovered[k]; len(list) > 0 {
			w.mu.Lock()
			km := w.known[k]
			if km == nil {
				km = make(map[string]UTXO)
				w.known[k] = km
			}
			for _, u := range list {
				km[u.key()] = u
			}
			w.mu.Unlock()
		}

		w.mu.RLock()
		ids := make([]string, 0, len(w.known[k]))
		utxos := make([]UTXO, 0, len(w.known[k]))
		for id, u := range w.known[k] {
			ids = append(ids, id)
			utxos = append(utxos, u)
		}
		w.mu.RUnlock()

		// Drop entries that have been spent since discovery.
		var total dcrutil.Amount
		current := make([]UTXO, 0, len(utxos))
		minConfs := int64(-1)
		for i, id := range ids {
			u := utxos[i]
			var h chainhash.Hash
			if err := chainhash.Decode(&h, u.TxID); err != nil {
				continue
			}
			res, err := w.dcrd.GetTxOut(ctx, &h, u.Vout, 0, true)
			if err != nil || res == nil {
				w.mu.Lock()
				if set := w.known[k]; set != nil {
					delete(set, id)
				}
				w.mu.Unlock()
				continue
			}
			current = append(current, u)
			total += u.Value
			if minConfs == -1 || res.Confirmations < minConfs {
				minConfs = res.Confirmations
			}
		}

		var confs uint32
		if minConfs > 0 {
			confs = uint32(minConfs)
		}
		w.broadcast(k, FundingUpdate{
			PkScriptHex: k,
			Funded:      total,
			Confs:       confs,
			UTXOs:       current,
			At:          time.Now(),
		})
	}
}
