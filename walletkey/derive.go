// Package walletkey implements deterministic wallet-signature key derivation
// for SealFS.
//
// Derivation formula:
//
//	key = PBKDF2-SHA256(signature, SHA256(wallet_addr | context), 100000, 32)
//
// where signature is the wallet's deterministic signature over a canonical
// message embedding the wallet address, context, rotation number, and a
// day-granular UTC date. File sub-keys are derived from the wallet master
// key with HKDF-SHA256 salted by the file id, so one wallet signature
// covers any number of files.
package walletkey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/sealfsorg/libsealfs-go/crypt"
)

const (
	// MessagePrefix versions the canonical derivation message. Changing it
	// invalidates every previously derived key.
	MessagePrefix = "sealfs-key-derivation|v1"

	// PBKDF2Iterations is the fixed iteration count for signature
	// stretching.
	PBKDF2Iterations = 100_000

	// HKDFFileKeyInfo is the info string for file sub-key derivation.
	HKDFFileKeyInfo = "sealfs-file-key"

	// FileMasterContext is the derivation context used for the wallet
	// master key behind DeriveFileKey.
	FileMasterContext = "file-master"

	// DefaultCacheTTL bounds how long a derived key stays cached before the
	// wallet is re-prompted.
	DefaultCacheTTL = time.Hour
)

// DeriveOptions selects the derivation tuple.
type DeriveOptions struct {
	Context        string
	RotationNumber uint32
}

// DerivedKey is the result of a wallet key derivation.
type DerivedKey struct {
	Key            *crypt.Key
	KeyID          string
	WalletAddress  string
	Context        string
	RotationNumber uint32
	DerivedAt      time.Time
}

// CanonicalMessage builds the deterministic message the wallet signs.
//
// The trailing date is day-granular UTC: derivation is reproducible within
// a 24h window without re-prompting, and naturally refreshes across days.
// Day granularity is a deliberate middle ground. A per-call nonce would
// make the signature, and therefore the key, unreproducible; omitting the
// date entirely would leave a leaked signature usable to rebuild the key
// forever. Bounded freshness is the intended property.
func CanonicalMessage(walletAddr, derivationContext string, rotationNumber uint32, day time.Time) string {
	return fmt.Sprintf("%s|%s|%s|r%d|%s",
		MessagePrefix, walletAddr, derivationContext, rotationNumber,
		day.UTC().Format("2006-01-02"))
}

// DerivationKeyID computes the deterministic key id for a derivation tuple.
func DerivationKeyID(walletAddr, derivationContext string, rotationNumber uint32) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|r%d", walletAddr, derivationContext, rotationNumber)))
	return "wk-" + hex.EncodeToString(sum[:8])
}

// derivationSalt binds the PBKDF2 salt to (wallet address, context).
func derivationSalt(walletAddr, derivationContext string) []byte {
	sum := sha256.Sum256([]byte(walletAddr + "|" + derivationContext))
	return sum[:]
}

// DeriveKeyFromWallet derives a deterministic key for (wallet, context,
// rotation). The wallet is asked to sign the canonical message only on a
// cache miss; results are cached for the service TTL so repeated
// derivations within the window do not re-prompt.
func (s *Service) DeriveKeyFromWallet(ctx context.Context, walletAddr string, signer Signer, opts DeriveOptions) (*DerivedKey, error) {
	if walletAddr == "" {
		return nil, ErrEmptyWalletAddress
	}
	if opts.Context == "" {
		return nil, ErrEmptyContext
	}
	if signer == nil {
		return nil, ErrNilSigner
	}

	if cached := s.cache.get(walletAddr, opts.Context, opts.RotationNumber, s.now()); cached != nil {
		return cached, nil
	}

	// The signature request is a suspension point; honor cancellation
	// before prompting the wallet.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	message := CanonicalMessage(walletAddr, opts.Context, opts.RotationNumber, now)
	signature, err := signer.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("walletkey: signature request: %w", err)
	}
	if signature == "" {
		return nil, ErrEmptySignature
	}

	raw := pbkdf2.Key([]byte(signature), derivationSalt(walletAddr, opts.Context),
		PBKDF2Iterations, crypt.KeySize, sha256.New)
	key, err := crypt.KeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("walletkey: derive key: %w", err)
	}

	derived := &DerivedKey{
		Key:            key,
		KeyID:          DerivationKeyID(walletAddr, opts.Context, opts.RotationNumber),
		WalletAddress:  walletAddr,
		Context:        opts.Context,
		RotationNumber: opts.RotationNumber,
		DerivedAt:      now,
	}

	// Ensure the lineage has a record for this key so rotation history and
	// age policy work for base keys too.
	if err := s.recordLineageIfAbsent(derived); err != nil {
		return nil, err
	}

	s.cache.put(derived, s.cacheTTL, now)
	return derived, nil
}

// DeriveFileKey derives a file-specific sub-key without a second wallet
// signature: the wallet master key (context "file-master", current rotation)
// is stretched with HKDF-SHA256 using the file id as salt.
func (s *Service) DeriveFileKey(ctx context.Context, walletAddr string, signer Signer, fileID string) (*DerivedKey, error) {
	if fileID == "" {
		return nil, fmt.Errorf("walletkey: file id must not be empty")
	}

	rotation, err := s.currentRotation(walletAddr, FileMasterContext)
	if err != nil {
		return nil, err
	}

	master, err := s.DeriveKeyFromWallet(ctx, walletAddr, signer, DeriveOptions{
		Context:        FileMasterContext,
		RotationNumber: rotation,
	})
	if err != nil {
		return nil, err
	}

	reader := hkdf.New(sha256.New, master.Key.Bytes(), []byte(fileID), []byte(HKDFFileKeyInfo))
	raw := make([]byte, crypt.KeySize)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return nil, fmt.Errorf("walletkey: file key derivation: %w", err)
	}
	key, err := crypt.KeyFromBytes(raw)
	if err != nil {
		return nil, err
	}

	return &DerivedKey{
		Key:            key,
		KeyID:          DerivationKeyID(walletAddr, "file:"+fileID, rotation),
		WalletAddress:  walletAddr,
		Context:        "file:" + fileID,
		RotationNumber: rotation,
		DerivedAt:      master.DerivedAt,
	}, nil
}
