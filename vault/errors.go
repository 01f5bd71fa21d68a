package vault

import "errors"

var (
	// ErrNotReady indicates the vault session is missing a required
	// collaborator (key store, transport, or state database).
	ErrNotReady = errors.New("vault: session not ready")

	// ErrInvalidMetadata indicates seal metadata failed structural
	// validation. Surfaced before any network activity.
	ErrInvalidMetadata = errors.New("vault: invalid seal metadata")

	// ErrMetadataNotFound indicates no seal metadata exists for the file id.
	ErrMetadataNotFound = errors.New("vault: seal metadata not found")

	// ErrStateNotFound indicates no partial upload state exists for the
	// file id; there is nothing to resume.
	ErrStateNotFound = errors.New("vault: partial upload state not found")

	// ErrStagingNotFound indicates the staged ciphertext for a resumable
	// upload is gone; the upload must start over.
	ErrStagingNotFound = errors.New("vault: staged ciphertext not found")

	// ErrMissingBlobs indicates verification found blobs absent from the
	// transport. Informational for verification; fatal for a download
	// running with verify-first enabled.
	ErrMissingBlobs = errors.New("vault: blobs missing from transport")

	// ErrContentHashMismatch indicates the decrypted plaintext does not
	// match the whole-file digest recorded at upload.
	ErrContentHashMismatch = errors.New("vault: content hash mismatch")

	// ErrTimeout indicates the caller-specified budget was exceeded.
	// Retryable by the caller; no cached state is left inconsistent.
	ErrTimeout = errors.New("vault: operation timed out")

	// ErrStateCorrupt indicates a persisted record violates its invariants.
	ErrStateCorrupt = errors.New("vault: persisted state corrupt")
)
