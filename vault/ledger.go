package vault

import (
	"context"
	"sync"
)

// LedgerClient is the external on-chain ledger boundary. The pipeline
// hands it the file id and a digest of the seal metadata; everything else
// about the ledger's object model is out of scope here. The signer either
// returns a transaction digest or an error; finality semantics are the
// ledger's problem.
type LedgerClient interface {
	RecordFile(ctx context.Context, fileID string, metadataDigest []byte) (txDigest string, err error)
}

// MockLedger is a LedgerClient test double recording every call.
type MockLedger struct {
	mu      sync.Mutex
	records map[string][]byte

	RecordFileFn func(ctx context.Context, fileID string, metadataDigest []byte) (string, error)
}

// Compile-time interface check.
var _ LedgerClient = (*MockLedger)(nil)

// NewMockLedger creates an empty mock ledger.
func NewMockLedger() *MockLedger {
	return &MockLedger{records: make(map[string][]byte)}
}

// RecordFile stores the digest and returns a synthetic transaction digest.
func (m *MockLedger) RecordFile(ctx context.Context, fileID string, metadataDigest []byte) (string, error) {
	if m.RecordFileFn != nil {
		return m.RecordFileFn(ctx, fileID, metadataDigest)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[fileID] = metadataDigest
	return "tx-" + fileID, nil
}

// Recorded returns the digest recorded for a file id, if any.
func (m *MockLedger) Recorded(fileID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.records[fileID]
	return d, ok
}
