package crypt

import "errors"

var (
	// ErrNilKey indicates a nil key handle was provided.
	ErrNilKey = errors.New("crypt: key is nil")

	// ErrInvalidKeySize indicates the key is not exactly 32 bytes.
	ErrInvalidKeySize = errors.New("crypt: key must be 32 bytes")

	// ErrInvalidCiphertext indicates the ciphertext is too short or malformed.
	// Minimum length: 12 (nonce) + 16 (GCM tag) = 28 bytes.
	ErrInvalidCiphertext = errors.New("crypt: invalid ciphertext")

	// ErrIntegrity indicates AES-GCM authentication failed during decryption.
	// The ciphertext, tag, key, or nonce do not match; no plaintext is returned.
	ErrIntegrity = errors.New("crypt: authentication failed")

	// ErrInvalidExport indicates an exported key string could not be decoded.
	ErrInvalidExport = errors.New("crypt: invalid exported key")
)
