package keystore

import "errors"

var (
	// ErrNotInitialized indicates the master key has not been initialized.
	// All store operations fail with this until InitializeMasterKey succeeds;
	// the store never degrades to plaintext key storage.
	ErrNotInitialized = errors.New("keystore: master key not initialized")

	// ErrKeyNotFound indicates no stored key exists for the given key id.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrEmptyKeyID indicates an empty key id was provided.
	ErrEmptyKeyID = errors.New("keystore: key id must not be empty")

	// ErrEmptySecret indicates an empty master secret was provided.
	ErrEmptySecret = errors.New("keystore: master secret must not be empty")

	// ErrUnwrapFailed indicates a stored key could not be unwrapped.
	// The master key is wrong or the record was corrupted.
	ErrUnwrapFailed = errors.New("keystore: key unwrap failed")

	// ErrInvalidBackup indicates a backup payload could not be decoded.
	ErrInvalidBackup = errors.New("keystore: invalid backup payload")
)
