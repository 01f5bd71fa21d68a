// Package crypt implements the SealFS per-file encryption engine.
//
// Files are encrypted whole with AES-256-GCM under a fresh random key.
// Ciphertext layout: nonce(12B) || AES-256-GCM(plaintext, key) || tag(16B).
// Chunk boundaries are a storage-layer concern only; the cipher never
// sees them.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// KeySize is the length of an AES-256 key in bytes.
	KeySize = 32

	// NonceLen is the length of the AES-GCM nonce in bytes.
	NonceLen = 12

	// GCMTagLen is the length of the GCM authentication tag in bytes.
	GCMTagLen = 16

	// MinCiphertextLen is the minimum valid ciphertext length (nonce + tag).
	MinCiphertextLen = NonceLen + GCMTagLen
)

// Key is an opaque handle to a 256-bit symmetric key. Key material is
// never serialized in the clear; use ExportKey for a transportable form.
type Key struct {
	raw [KeySize]byte
}

// GenerateKey produces a fresh, cryptographically random 256-bit key.
// Every call returns an independent key; keys are never reused across files.
func GenerateKey() (*Key, error) {
	k := &Key{}
	if _, err := rand.Read(k.raw[:]); err != nil {
		return nil, fmt.Errorf("crypt: random key generation failed: %w", err)
	}
	return k, nil
}

// KeyFromBytes wraps existing 32-byte key material in a Key handle.
// The input slice is copied; the caller may discard it.
func KeyFromBytes(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(raw))
	}
	k := &Key{}
	copy(k.raw[:], raw)
	return k, nil
}

// Bytes returns the raw key material. Callers must not log or persist
// the result outside the key store's wrap path.
func (k *Key) Bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, k.raw[:])
	return out
}

// ExportKey returns a base64 representation of the key for controlled
// export paths (key store wrapping, backup). Round-trips losslessly
// through ImportKey.
func ExportKey(key *Key) (string, error) {
	if key == nil {
		return "", ErrNilKey
	}
	return base64.StdEncoding.EncodeToString(key.raw[:]), nil
}

// ImportKey reconstructs a Key from its exported representation.
func ImportKey(exported string) (*Key, error) {
	raw, err := base64.StdEncoding.DecodeString(exported)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExport, err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: decoded to %d bytes", ErrInvalidExport, len(raw))
	}
	return KeyFromBytes(raw)
}

// Encrypt encrypts plaintext with AES-256-GCM under key.
// A fresh random 12-byte nonce is generated per call and prepended to the
// output, so the same key never reuses a nonce.
// Output: nonce(12B) || ciphertext || tag(16B).
func Encrypt(plaintext []byte, key *Key) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}

	block, err := aes.NewCipher(key.raw[:])
	if err != nil {
		return nil, fmt.Errorf("crypt: AES cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypt: GCM creation failed: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypt: random nonce generation failed: %w", err)
	}

	// Result = nonce || ciphertext || tag.
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts AES-256-GCM ciphertext produced by Encrypt.
// Returns ErrIntegrity if the ciphertext or tag was tampered with or the
// wrong key is supplied. This is a hard failure: corrupted bytes are
// never returned.
func Decrypt(ciphertext []byte, key *Key) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	if len(ciphertext) < MinCiphertextLen {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(key.raw[:])
	if err != nil {
		return nil, fmt.Errorf("crypt: AES cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypt: GCM creation failed: %w", err)
	}

	nonce := ciphertext[:gcm.NonceSize()]
	encrypted := ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return nil, ErrIntegrity
	}

	// Normalize nil to empty slice for consistency.
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// ComputeContentHash computes the double-SHA256 whole-plaintext digest
// recorded in seal metadata and verified end-to-end after download.
func ComputeContentHash(plaintext []byte) []byte {
	first := sha256.Sum256(plaintext)
	second := sha256.Sum256(first[:])
	return second[:]
}
