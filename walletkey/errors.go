package walletkey

import "errors"

var (
	// ErrNilSigner indicates no signing capability was provided.
	ErrNilSigner = errors.New("walletkey: signer is nil")

	// ErrEmptyWalletAddress indicates an empty wallet address was provided.
	ErrEmptyWalletAddress = errors.New("walletkey: wallet address must not be empty")

	// ErrEmptyContext indicates an empty derivation context was provided.
	ErrEmptyContext = errors.New("walletkey: derivation context must not be empty")

	// ErrSignatureRejected indicates the wallet declined to sign the
	// derivation message. Recoverable: the caller may re-prompt.
	ErrSignatureRejected = errors.New("walletkey: signature request rejected")

	// ErrEmptySignature indicates the wallet returned an empty signature.
	ErrEmptySignature = errors.New("walletkey: empty signature")

	// ErrKeyNotFound indicates no rotation record exists for the given key id.
	ErrKeyNotFound = errors.New("walletkey: key not found")

	// ErrLineageCorrupt indicates the rotation lineage contains a cycle or
	// a non-decreasing rotation number. Surfaced as a data-integrity error
	// instead of traversing forever.
	ErrLineageCorrupt = errors.New("walletkey: rotation lineage corrupt")

	// ErrInvalidReason indicates an unknown rotation reason.
	ErrInvalidReason = errors.New("walletkey: invalid rotation reason")
)
