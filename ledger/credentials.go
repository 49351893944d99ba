package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// CredentialProvider supplies the house signing key. The adapter never
// caches the key itself; providers decide how long-lived the material is.
type CredentialProvider interface {
	SigningKey(ctx context.Context) (*secp256k1.PrivateKey, error)
}

type staticKey struct {
	priv *secp256k1.PrivateKey
}

// StaticKey wraps an already-parsed private key, for embedding credentials
// supplied through config.
func StaticKey(priv *secp256k1.PrivateKey) CredentialProvider {
	return &staticKey{priv: priv}
}

// StaticKeyHex parses a hex-encoded 32-byte private key.
func StaticKeyHex(keyHex string) (CredentialProvider, error) {
	priv, err := parseKeyHex(keyHex)
	if err != nil {
		return nil, err
	}
	return &staticKey{priv: priv}, nil
}

func (p *staticKey) SigningKey(ctx context.Context) (*secp256k1.PrivateKey, error) {
	return p.priv, nil
}

type fileKey struct {
	path string

	mu   sync.Mutex
	priv *secp256k1.PrivateKey
}

// KeyFile reads a hex-encoded private key from path on first use and keeps
// it for the process lifetime.
func KeyFile(path string) CredentialProvider {
	return &fileKey{path: path}
}

func (p *fileKey) SigningKey(ctx context.Context) (*secp256k1.PrivateKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.priv != nil {
		return p.priv, nil
	}
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	priv, err := parseKeyHex(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", p.path, err)
	}
	p.priv = priv
	return priv, nil
}

func parseKeyHex(keyHex string) (*secp256k1.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("decode key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(b))
	}
	return secp256k1.PrivKeyFromBytes(b), nil
}
