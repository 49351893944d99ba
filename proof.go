package wordduel

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// EscrowProof is a participant's signed acknowledgment that they funded the
// escrow bound to a match. The server only checks the proof is well formed
// and signed over the expected digest; ledger finality is the external
// system's trust boundary.
type EscrowProof struct {
	PubKey []byte // 33-byte compressed secp256k1 pubkey
	Sig    []byte // 64-byte EC-Schnorr-DCRv0 signature
}

// EscrowAckDigest returns the digest a participant signs to acknowledge a
// funded escrow. Domain separated and bound to the exact match, participant
// and escrow handle so a proof cannot be replayed across matches.
func EscrowAckDigest(matchID, participant, handle string) [32]byte {
	h := blake256.New()
	h.Write([]byte("WordDuel/EscrowAck/v1"))
	h.Write([]byte(matchID))
	h.Write([]byte{'|'})
	h.Write([]byte(participant))
	h.Write([]byte{'|'})
	h.Write([]byte(handle))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyEscrowAck validates an escrow acknowledgment proof against the
// digest for (matchID, participant, handle).
func VerifyEscrowAck(proof EscrowProof, matchID, participant, handle string) error {
	if len(proof.PubKey) != 33 {
		return errors.New("proof pubkey must be 33 compressed bytes")
	}
	if len(proof.Sig) != 64 {
		return errors.New("proof signature must be 64 bytes")
	}
	pub, err := schnorr.ParsePubKey(proof.PubKey)
	if err != nil {
		return fmt.Errorf("parse proof pubkey: %w", err)
	}
	sig, err := schnorr.ParseSignature(proof.Sig)
	if err != nil {
		return fmt.Errorf("parse proof signature: %w", err)
	}
	m := EscrowAckDigest(matchID, participant, handle)
	if !sig.Verify(m[:], pub) {
		return errors.New("escrow acknowledgment signature invalid")
	}
	return nil
}

// SignEscrowAck produces the acknowledgment proof for a funded escrow.
// Used by clients and tests; the server never holds participant keys.
func SignEscrowAck(priv *secp256k1.PrivateKey, matchID, participant, handle string) (EscrowProof, error) {
	m := EscrowAckDigest(matchID, participant, handle)
	sig, err := schnorr.Sign(priv, m[:])
	if err != nil {
		return EscrowProof{}, fmt.Errorf("sign ack: %w", err)
	}
	return EscrowProof{
		PubKey: priv.PubKey().SerializeCompressed(),
		Sig:    sig.Serialize(),
	}, nil
}
