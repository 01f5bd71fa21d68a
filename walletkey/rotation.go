package walletkey

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// RotationReason classifies why a key was rotated.
type RotationReason string

const (
	ReasonScheduled  RotationReason = "scheduled"
	ReasonManual     RotationReason = "manual"
	ReasonCompromise RotationReason = "compromise"
)

func validReason(r RotationReason) bool {
	switch r {
	case ReasonScheduled, ReasonManual, ReasonCompromise:
		return true
	}
	return false
}

// MaxLineageDepth caps rotation history traversal. A lineage longer than
// this indicates corrupted state.
const MaxLineageDepth = 4096

// RotationMetadata is the durable lineage record for one derived key.
// PreviousKeyID forms a singly linked chain newest-to-oldest; rotation
// numbers strictly decrease along it.
type RotationMetadata struct {
	KeyID          string
	PreviousKeyID  string // empty for the lineage root
	WalletAddress  string
	Context        string
	RotationNumber uint32
	RotatedAt      time.Time
	Reason         RotationReason
}

func encodeRotation(m *RotationMetadata) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRotation(data []byte) (*RotationMetadata, error) {
	var m RotationMetadata
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// recordLineageIfAbsent writes a lineage record for a freshly derived key
// and advances the lineage head if this rotation is the newest.
func (s *Service) recordLineageIfAbsent(derived *DerivedKey) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		rotations := tx.Bucket(bucketRotations)
		if rotations.Get([]byte(derived.KeyID)) != nil {
			return nil
		}

		meta := &RotationMetadata{
			KeyID:          derived.KeyID,
			WalletAddress:  derived.WalletAddress,
			Context:        derived.Context,
			RotationNumber: derived.RotationNumber,
			RotatedAt:      derived.DerivedAt,
			Reason:         ReasonManual,
		}
		if derived.RotationNumber > 0 {
			meta.PreviousKeyID = DerivationKeyID(derived.WalletAddress, derived.Context, derived.RotationNumber-1)
		}

		data, err := encodeRotation(meta)
		if err != nil {
			return fmt.Errorf("walletkey: encode rotation record: %w", err)
		}
		if err := rotations.Put([]byte(derived.KeyID), data); err != nil {
			return fmt.Errorf("walletkey: put rotation record: %w", err)
		}
		return s.advanceHead(tx, derived.WalletAddress, derived.Context, derived.KeyID, derived.RotationNumber)
	})
}

// advanceHead moves the lineage head forward, never backward.
func (s *Service) advanceHead(tx *bbolt.Tx, walletAddr, derivationContext, keyID string, rotation uint32) error {
	heads := tx.Bucket(bucketHeads)
	lk := lineageKey(walletAddr, derivationContext)
	if current := heads.Get(lk); current != nil {
		data := tx.Bucket(bucketRotations).Get(current)
		if data != nil {
			meta, err := decodeRotation(data)
			if err == nil && meta.RotationNumber >= rotation {
				return nil
			}
		}
	}
	return heads.Put(lk, []byte(keyID))
}

// currentRotation returns the rotation number at the lineage head for
// (wallet, context), or 0 when the lineage does not exist yet.
func (s *Service) currentRotation(walletAddr, derivationContext string) (uint32, error) {
	var rotation uint32
	err := s.db.View(func(tx *bbolt.Tx) error {
		head := tx.Bucket(bucketHeads).Get(lineageKey(walletAddr, derivationContext))
		if head == nil {
			return nil
		}
		data := tx.Bucket(bucketRotations).Get(head)
		if data == nil {
			return nil
		}
		meta, err := decodeRotation(data)
		if err != nil {
			return fmt.Errorf("walletkey: decode head record: %w", err)
		}
		rotation = meta.RotationNumber
		return nil
	})
	return rotation, err
}

// GetRotationMetadata returns the lineage record for a key id.
func (s *Service) GetRotationMetadata(keyID string) (*RotationMetadata, error) {
	var meta *RotationMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRotations).Get([]byte(keyID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
		}
		var err error
		meta, err = decodeRotation(data)
		if err != nil {
			return fmt.Errorf("walletkey: decode rotation record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// RotateKey derives a replacement key at rotation N+1 and records the
// lineage link back to the current key. The previous key remains valid
// for decrypting data already written under it; rotation is forward-only
// for new writes. Cache entries for the lineage are purged so stale keys
// are not handed out.
func (s *Service) RotateKey(ctx context.Context, walletAddr string, signer Signer, currentKeyID string, reason RotationReason) (*DerivedKey, error) {
	if !validReason(reason) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	current, err := s.GetRotationMetadata(currentKeyID)
	if err != nil {
		return nil, err
	}
	if current.WalletAddress != walletAddr {
		return nil, fmt.Errorf("%w: key %s does not belong to wallet %s", ErrKeyNotFound, currentKeyID, walletAddr)
	}

	// Purge before deriving: the new derivation must not be satisfied by a
	// cached entry from the old lineage state.
	s.cache.purgeLineage(walletAddr, current.Context)

	derived, err := s.DeriveKeyFromWallet(ctx, walletAddr, signer, DeriveOptions{
		Context:        current.Context,
		RotationNumber: current.RotationNumber + 1,
	})
	if err != nil {
		return nil, err
	}

	// Rewrite the auto-created record with the requested reason and the
	// explicit back link.
	meta := &RotationMetadata{
		KeyID:          derived.KeyID,
		PreviousKeyID:  currentKeyID,
		WalletAddress:  walletAddr,
		Context:        current.Context,
		RotationNumber: derived.RotationNumber,
		RotatedAt:      derived.DerivedAt,
		Reason:         reason,
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		data, err := encodeRotation(meta)
		if err != nil {
			return fmt.Errorf("walletkey: encode rotation record: %w", err)
		}
		if err := tx.Bucket(bucketRotations).Put([]byte(derived.KeyID), data); err != nil {
			return fmt.Errorf("walletkey: put rotation record: %w", err)
		}
		return s.advanceHead(tx, walletAddr, current.Context, derived.KeyID, derived.RotationNumber)
	})
	if err != nil {
		return nil, err
	}

	return derived, nil
}

// GetRotationHistory returns the lineage containing keyID, ordered
// oldest to newest. Traversal follows PreviousKeyID pointers and fails
// with ErrLineageCorrupt on a cycle, a non-decreasing rotation number,
// or a chain longer than MaxLineageDepth.
func (s *Service) GetRotationHistory(keyID string) ([]*RotationMetadata, error) {
	var chain []*RotationMetadata
	seen := make(map[string]bool)

	current := keyID
	for current != "" {
		if seen[current] || len(chain) >= MaxLineageDepth {
			return nil, fmt.Errorf("%w: cycle at %s", ErrLineageCorrupt, current)
		}
		seen[current] = true

		meta, err := s.GetRotationMetadata(current)
		if err != nil {
			return nil, err
		}
		if len(chain) > 0 && meta.RotationNumber >= chain[len(chain)-1].RotationNumber {
			return nil, fmt.Errorf("%w: rotation number not decreasing at %s", ErrLineageCorrupt, current)
		}
		chain = append(chain, meta)
		current = meta.PreviousKeyID
	}

	// Reverse newest→oldest walk into oldest→newest order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// ShouldRotateKey reports whether the key is older than maxAgeDays.
// Unknown keys report (true, nil): with no recorded lineage the age cannot
// be bounded, and rotating is the safe answer.
func (s *Service) ShouldRotateKey(keyID string, maxAgeDays int) (bool, error) {
	meta, err := s.GetRotationMetadata(keyID)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return true, nil
		}
		return false, err
	}
	age := s.now().Sub(meta.RotatedAt)
	return age > time.Duration(maxAgeDays)*24*time.Hour, nil
}
