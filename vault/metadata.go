package vault

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// SealMetadata describes how to locate and decrypt a file's chunks.
// Created once by the upload orchestrator when every chunk is confirmed
// stored; immutable thereafter. Visibility/ACL state lives on the ledger,
// not here.
//
// The file is encrypted whole under one key and one nonce; the nonce is
// embedded in the ciphertext (first 12 bytes of chunk 0), so no per-chunk
// nonce material is recorded. Chunk order is meaningful: BlobIDs[i] is
// chunk i of the ciphertext.
type SealMetadata struct {
	FileID          string
	BlobIDs         []string
	ChunkCount      int
	EncryptionKeyID string
	ContentHash     []byte // double-SHA256 of the plaintext
	FileName        string
	FileSize        int64
	MimeType        string
	UploadedAt      time.Time
}

// Validate checks the metadata structurally. It runs before any network
// activity so malformed records fail fast.
func (m *SealMetadata) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil metadata", ErrInvalidMetadata)
	}
	if m.FileID == "" {
		return fmt.Errorf("%w: empty file id", ErrInvalidMetadata)
	}
	if len(m.BlobIDs) == 0 {
		return fmt.Errorf("%w: no blob ids", ErrInvalidMetadata)
	}
	if m.ChunkCount != len(m.BlobIDs) {
		return fmt.Errorf("%w: chunk count %d does not match %d blob ids",
			ErrInvalidMetadata, m.ChunkCount, len(m.BlobIDs))
	}
	for i, id := range m.BlobIDs {
		if id == "" {
			return fmt.Errorf("%w: empty blob id at index %d", ErrInvalidMetadata, i)
		}
	}
	if m.EncryptionKeyID == "" {
		return fmt.Errorf("%w: empty encryption key id", ErrInvalidMetadata)
	}
	if len(m.ContentHash) != sha256.Size {
		return fmt.Errorf("%w: content hash must be %d bytes", ErrInvalidMetadata, sha256.Size)
	}
	if m.FileSize < 0 {
		return fmt.Errorf("%w: negative file size", ErrInvalidMetadata)
	}
	return nil
}

// Digest computes a stable digest over the metadata for the ledger record.
func (m *SealMetadata) Digest() []byte {
	h := sha256.New()
	h.Write([]byte(m.FileID))
	h.Write(m.ContentHash)
	h.Write([]byte(m.EncryptionKeyID))
	for _, id := range m.BlobIDs {
		h.Write([]byte(id))
	}
	return h.Sum(nil)
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// GetMetadata loads the seal metadata for a file id.
func (v *Vault) GetMetadata(fileID string) (*SealMetadata, error) {
	var meta SealMetadata
	err := v.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMetadata).Get([]byte(fileID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrMetadataNotFound, fileID)
		}
		if err := decodeGob(data, &meta); err != nil {
			return fmt.Errorf("%w: decode metadata for %s: %w", ErrStateCorrupt, fileID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// ListMetadata returns seal metadata for every sealed file.
func (v *Vault) ListMetadata() ([]*SealMetadata, error) {
	var metas []*SealMetadata
	err := v.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMetadata).ForEach(func(k, data []byte) error {
			var meta SealMetadata
			if err := decodeGob(data, &meta); err != nil {
				return fmt.Errorf("%w: decode metadata for %s: %w", ErrStateCorrupt, k, err)
			}
			metas = append(metas, &meta)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return metas, nil
}

// DeleteMetadata removes a file's seal metadata and drops any cached
// verification result. Called when the owning file record is deleted.
func (v *Vault) DeleteMetadata(fileID string) error {
	v.verifyCache.invalidate(fileID)
	return v.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMetadata).Delete([]byte(fileID))
	})
}

func (v *Vault) putMetadata(meta *SealMetadata) error {
	data, err := encodeGob(meta)
	if err != nil {
		return fmt.Errorf("vault: encode metadata: %w", err)
	}
	return v.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put([]byte(meta.FileID), data)
	})
}
