package ledger

import (
	"fmt"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/decred/dcrd/txscript/v4"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/wire"
)

// refundCSVBlocks is how long a deposit stays locked to the house before
// the depositor can unilaterally claw it back.
const refundCSVBlocks = 64

// buildEscrowRedeemScript commits a deposit to the house release key, with
// a CSV-delayed refund branch back to the depositor's pubkey hash.
//
// Release branch (house):  [sig] -> <housePub> 2 OP_CHECKSIGALTVERIFY TRUE
// Refund branch:           [sig pub] after csv -> standard p2pkh check
func buildEscrowRedeemScript(housePub, depositorPKH []byte) ([]byte, error) {
	if len(housePub) != 33 {
		return nil, fmt.Errorf("need 33-byte compressed house pubkey")
	}
	if len(depositorPKH) != 20 {
		return nil, fmt.Errorf("need 20-byte depositor pubkey hash")
	}
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_IF).
		AddData(housePub).
		AddInt64(2). // schnorr-secp256k1
		AddOp(txscript.OP_CHECKSIGALTVERIFY).
		AddOp(txscript.OP_TRUE).
		AddOp(txscript.OP_ELSE).
		AddInt64(refundCSVBlocks).
		AddOp(txscript.OP_CHECKSEQUENCEVERIFY).
		AddOp(txscript.OP_DROP).
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(depositorPKH).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		AddOp(txscript.OP_ENDIF)
	return b.Script()
}

// escrowAddress wraps a redeem script in a P2SH address.
func escrowAddress(redeem []byte, params *chaincfg.Params) (stdaddr.Address, []byte, error) {
	addr, err := stdaddr.NewAddressScriptHashV0(redeem, params)
	if err != nil {
		return nil, nil, err
	}
	_, pkScript := addr.PaymentScript()
	return addr, pkScript, nil
}

// participantPKH extracts the pubkey hash from a p2pkh participant address.
func participantPKH(addr string, params *chaincfg.Params) ([]byte, error) {
	a, err := stdaddr.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("participant address: %w", err)
	}
	h, ok := a.(stdaddr.Hash160er)
	if !ok {
		return nil, fmt.Errorf("participant address %s is not pay-to-pubkey-hash", addr)
	}
	return h.Hash160()[:], nil
}

// payoutScript resolves an address string to its payment script.
func payoutScript(addr string, params *chaincfg.Params) ([]byte, error) {
	a, err := stdaddr.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("payout address: %w", err)
	}
	_, script := a.PaymentScript()
	return script, nil
}

// signReleaseInput signs input idx of tx through the house release branch
// and installs the signature script [sig TRUE redeem].
func signReleaseInput(tx *wire.MsgTx, idx int, redeem []byte, priv *secp256k1.PrivateKey) error {
	digest, err := txscript.CalcSignatureHash(redeem, txscript.SigHashAll, tx, idx, nil)
	if err != nil {
		return fmt.Errorf("sighash input %d: %w", idx, err)
	}
	sig, err := schnorr.Sign(priv, digest)
	if err != nil {
		return fmt.Errorf("sign input %d: %w", idx, err)
	}
	sigPush := append(sig.Serialize(), byte(txscript.SigHashAll))
	sigScript, err := txscript.NewScriptBuilder().
		AddData(sigPush).
		AddOp(txscript.OP_TRUE).
		AddData(redeem).
		Script()
	if err != nil {
		return err
	}
	tx.TxIn[idx].SignatureScript = sigScript
	return nil
}
