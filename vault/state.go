package vault

import (
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

// PartialUploadState is the durable record of an in-progress upload.
// It is persisted after every chunk attempt; interruption leaves it in
// place, which is exactly what makes resumption possible. It is deleted
// only on successful completion or explicit discard.
//
// Invariants: UploadedChunks and FailedChunks are disjoint, and both are
// subsets of [0, TotalChunks).
type PartialUploadState struct {
	FileID          string
	FileName        string
	MimeType        string
	FileSize        int64
	TotalChunks     int
	ChunkSize       int
	EncryptionKeyID string
	ContentHash     []byte
	UploadedChunks  []int          // sorted chunk indices confirmed stored
	FailedChunks    []int          // sorted chunk indices that errored
	BlobIDs         map[int]string // blob id per uploaded chunk index
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Uploaded reports whether chunk index i is confirmed stored.
func (s *PartialUploadState) Uploaded(i int) bool {
	for _, idx := range s.UploadedChunks {
		if idx == i {
			return true
		}
	}
	return false
}

// markUploaded moves index i into the uploaded set, clearing any earlier
// failure for it.
func (s *PartialUploadState) markUploaded(i int, blobID string) {
	if !s.Uploaded(i) {
		s.UploadedChunks = append(s.UploadedChunks, i)
		sort.Ints(s.UploadedChunks)
	}
	s.FailedChunks = removeIndex(s.FailedChunks, i)
	if s.BlobIDs == nil {
		s.BlobIDs = make(map[int]string)
	}
	s.BlobIDs[i] = blobID
	s.UpdatedAt = time.Now().UTC()
}

// markFailed records index i as failed unless it is already uploaded.
func (s *PartialUploadState) markFailed(i int) {
	if s.Uploaded(i) {
		return
	}
	for _, idx := range s.FailedChunks {
		if idx == i {
			return
		}
	}
	s.FailedChunks = append(s.FailedChunks, i)
	sort.Ints(s.FailedChunks)
	s.UpdatedAt = time.Now().UTC()
}

func removeIndex(list []int, i int) []int {
	out := list[:0]
	for _, idx := range list {
		if idx != i {
			out = append(out, idx)
		}
	}
	return out
}

// check validates the state invariants before persisting or resuming.
func (s *PartialUploadState) check() error {
	if s.FileID == "" {
		return fmt.Errorf("%w: empty file id", ErrStateCorrupt)
	}
	if s.TotalChunks <= 0 {
		return fmt.Errorf("%w: non-positive chunk total", ErrStateCorrupt)
	}
	uploaded := make(map[int]bool, len(s.UploadedChunks))
	for _, i := range s.UploadedChunks {
		if i < 0 || i >= s.TotalChunks {
			return fmt.Errorf("%w: uploaded index %d out of range", ErrStateCorrupt, i)
		}
		uploaded[i] = true
	}
	for _, i := range s.FailedChunks {
		if i < 0 || i >= s.TotalChunks {
			return fmt.Errorf("%w: failed index %d out of range", ErrStateCorrupt, i)
		}
		if uploaded[i] {
			return fmt.Errorf("%w: index %d both uploaded and failed", ErrStateCorrupt, i)
		}
	}
	return nil
}

// persistState writes the partial upload state inside the single-writer
// lock. Concurrent chunk completions for the same file must not race, so
// every mutation of the state goes through here.
func (v *Vault) persistState(state *PartialUploadState) error {
	if err := state.check(); err != nil {
		return err
	}
	data, err := encodeGob(state)
	if err != nil {
		return fmt.Errorf("vault: encode upload state: %w", err)
	}
	return v.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUploads).Put([]byte(state.FileID), data)
	})
}

// GetUploadState loads the partial upload state for a file id.
func (v *Vault) GetUploadState(fileID string) (*PartialUploadState, error) {
	var state PartialUploadState
	err := v.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUploads).Get([]byte(fileID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrStateNotFound, fileID)
		}
		if err := decodeGob(data, &state); err != nil {
			return fmt.Errorf("%w: decode upload state for %s: %w", ErrStateCorrupt, fileID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := state.check(); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListUploadStates returns every resumable upload.
func (v *Vault) ListUploadStates() ([]*PartialUploadState, error) {
	var states []*PartialUploadState
	err := v.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUploads).ForEach(func(k, data []byte) error {
			var state PartialUploadState
			if err := decodeGob(data, &state); err != nil {
				return fmt.Errorf("%w: decode upload state for %s: %w", ErrStateCorrupt, k, err)
			}
			states = append(states, &state)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (v *Vault) deleteState(fileID string) error {
	return v.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUploads).Delete([]byte(fileID))
	})
}
