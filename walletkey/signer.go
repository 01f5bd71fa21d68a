package walletkey

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// Signer is the externally supplied wallet signing capability.
// Implementations wrap a browser wallet, hardware wallet, or local key.
// A user declining to sign must surface as ErrSignatureRejected, not a
// crash; deterministic key derivation requires the signer to produce the
// same signature for the same message (RFC 6979 or equivalent).
type Signer interface {
	Sign(message string) (string, error)
}

// LocalSigner signs derivation messages with an in-process EC private key.
// Used by tests and CLI embedding; production callers pass a wallet-backed
// Signer instead.
type LocalSigner struct {
	priv *ec.PrivateKey
}

// Compile-time interface check.
var _ Signer = (*LocalSigner)(nil)

// NewLocalSigner creates a LocalSigner with a fresh random keypair.
func NewLocalSigner() (*LocalSigner, error) {
	priv, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("walletkey: generate keypair: %w", err)
	}
	return &LocalSigner{priv: priv}, nil
}

// NewLocalSignerFromKey wraps an existing private key.
func NewLocalSignerFromKey(priv *ec.PrivateKey) (*LocalSigner, error) {
	if priv == nil {
		return nil, fmt.Errorf("walletkey: private key is nil")
	}
	return &LocalSigner{priv: priv}, nil
}

// Address returns the wallet address for this signer: the hex-encoded
// compressed public key.
func (s *LocalSigner) Address() string {
	return hex.EncodeToString(s.priv.PubKey().Compressed())
}

// Sign signs SHA256(message) with deterministic ECDSA and returns the
// base64-encoded DER signature. Identical messages always produce
// identical signatures, which is what makes wallet-derived keys
// reproducible.
func (s *LocalSigner) Sign(message string) (string, error) {
	digest := sha256.Sum256([]byte(message))
	sig, err := s.priv.Sign(digest[:])
	if err != nil {
		return "", fmt.Errorf("walletkey: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig.Serialize()), nil
}

// RejectingSigner is a Signer test double that always declines, modeling
// a user dismissing the wallet prompt.
type RejectingSigner struct{}

// Sign always returns ErrSignatureRejected.
func (RejectingSigner) Sign(string) (string, error) {
	return "", ErrSignatureRejected
}
