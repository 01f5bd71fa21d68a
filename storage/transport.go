package storage

import "context"

// BlobTransport is the external content-addressed blob network boundary.
// The pipeline treats it purely as opaque byte storage: ordering is encoded
// only in seal metadata, never by the transport.
type BlobTransport interface {
	// PutChunk stores a chunk and returns its content-addressed blob id.
	PutChunk(ctx context.Context, chunk []byte) (string, error)

	// GetChunk retrieves a chunk by blob id.
	GetChunk(ctx context.Context, blobID string) ([]byte, error)

	// Exists checks whether a blob is still stored and intact.
	Exists(ctx context.Context, blobID string) (bool, error)
}
