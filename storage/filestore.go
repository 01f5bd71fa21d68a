package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is a local content-addressed blob cache on the filesystem.
// Blobs are stored at {baseDir}/{blobID[:2]}/{blobID}; the first two hex
// characters shard the directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a file-based blob cache rooted at baseDir.
// The directory is created if it does not exist.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, ErrInvalidBaseDir
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func validateBlobID(blobID string) error {
	if blobID == "" || len(blobID) < 2 {
		return ErrInvalidBlobID
	}
	// Reject anything that could escape the cache directory.
	if blobID != filepath.Base(blobID) {
		return ErrInvalidBlobID
	}
	return nil
}

func (fs *FileStore) blobPath(blobID string) string {
	return filepath.Join(fs.baseDir, blobID[:2], blobID)
}

// Put stores a blob under its id. Empty blobs are valid: an empty file's
// single chunk is zero bytes.
func (fs *FileStore) Put(blobID string, data []byte) error {
	if err := validateBlobID(blobID); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fs.blobPath(blobID)), 0700); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := os.WriteFile(fs.blobPath(blobID), data, 0600); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

// Get retrieves a blob by id. Returns ErrBlobNotFound if absent.
func (fs *FileStore) Get(blobID string) ([]byte, error) {
	if err := validateBlobID(blobID); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.blobPath(blobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, blobID)
		}
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return data, nil
}

// Has checks whether a blob exists in the cache.
func (fs *FileStore) Has(blobID string) (bool, error) {
	if err := validateBlobID(blobID); err != nil {
		return false, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	_, err := os.Stat(fs.blobPath(blobID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return true, nil
}

// Delete removes a blob from the cache. Deleting an absent blob is a no-op.
func (fs *FileStore) Delete(blobID string) error {
	if err := validateBlobID(blobID); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.blobPath(blobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}
