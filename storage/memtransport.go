package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemTransport is an in-memory BlobTransport test double.
// The failure hooks, when set, are consulted before the default behavior so
// tests can inject transient errors or missing blobs per call.
type MemTransport struct {
	mu    sync.Mutex
	blobs map[string][]byte

	PutChunkFn func(ctx context.Context, chunk []byte) (string, error)
	GetChunkFn func(ctx context.Context, blobID string) ([]byte, error)
	ExistsFn   func(ctx context.Context, blobID string) (bool, error)
}

// Compile-time interface check.
var _ BlobTransport = (*MemTransport)(nil)

// NewMemTransport creates an empty in-memory transport.
func NewMemTransport() *MemTransport {
	return &MemTransport{blobs: make(map[string][]byte)}
}

// PutChunk stores the chunk under its content address.
func (m *MemTransport) PutChunk(ctx context.Context, chunk []byte) (string, error) {
	if m.PutChunkFn != nil {
		return m.PutChunkFn(ctx, chunk)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	id := BlobID(chunk)
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(chunk))
	copy(stored, chunk)
	m.blobs[id] = stored
	return id, nil
}

// GetChunk retrieves a chunk by blob id.
func (m *MemTransport) GetChunk(ctx context.Context, blobID string) ([]byte, error) {
	if m.GetChunkFn != nil {
		return m.GetChunkFn(ctx, blobID)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[blobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, blobID)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Exists reports whether a blob is stored.
func (m *MemTransport) Exists(ctx context.Context, blobID string) (bool, error) {
	if m.ExistsFn != nil {
		return m.ExistsFn(ctx, blobID)
	}
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[blobID]
	return ok, nil
}

// Remove deletes a blob directly, simulating storage-epoch expiry on the
// blob network.
func (m *MemTransport) Remove(blobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, blobID)
}

// Count returns the number of stored blobs.
func (m *MemTransport) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
