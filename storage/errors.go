package storage

import "errors"

var (
	// ErrInvalidChunkSize indicates the chunk size is not a positive integer.
	ErrInvalidChunkSize = errors.New("storage: chunk size must be positive")

	// ErrNilChunk indicates a nil chunk was passed to reassembly.
	ErrNilChunk = errors.New("storage: nil chunk in sequence")

	// ErrRecombinationHashMismatch indicates chunk recombination hash verification failed.
	ErrRecombinationHashMismatch = errors.New("storage: recombination hash mismatch")

	// ErrBlobNotFound indicates no blob exists for the given blob id.
	// Not retryable: the transport answered and the blob is absent.
	ErrBlobNotFound = errors.New("storage: blob not found")

	// ErrNetwork indicates a transient transport failure (connection refused,
	// 5xx, truncated body). Retryable; the client may fall back to an
	// alternate endpoint.
	ErrNetwork = errors.New("storage: network failure")

	// ErrInvalidResponse indicates the endpoint returned a malformed or
	// hash-mismatched response. Not retryable against the same endpoint.
	ErrInvalidResponse = errors.New("storage: invalid response")

	// ErrInvalidBlobID indicates the blob id is empty or malformed.
	ErrInvalidBlobID = errors.New("storage: invalid blob id")

	// ErrEmptyEndpoints indicates the transport has no endpoints configured.
	ErrEmptyEndpoints = errors.New("storage: no endpoints configured")

	// ErrInvalidBaseDir indicates the cache base directory path is invalid.
	ErrInvalidBaseDir = errors.New("storage: invalid base directory")

	// ErrIOFailure indicates a local cache read/write error.
	ErrIOFailure = errors.New("storage: I/O failure")
)

// IsRetryable reports whether err represents a transient transport failure
// that may succeed on retry or on a fallback endpoint. Classification is
// by sentinel identity, never by message text.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
