package keystore

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Backup is an exported snapshot of the wrapped-key store.
// Records stay wrapped under the master key; exporting a backup never
// exposes plaintext key material. The salt is included so the same user
// secret can rebuild the master key on a fresh machine.
type Backup struct {
	Version    int
	ExportedAt time.Time
	MasterSalt []byte
	Keys       []*StoredKey
}

// BackupVersion is the current backup payload version.
const BackupVersion = 1

// ExportBackup serializes all wrapped key records plus the master salt.
func (s *Store) ExportBackup() ([]byte, error) {
	records, err := s.ListKeys()
	if err != nil {
		return nil, err
	}

	var salt []byte
	err = s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(metaSaltKey); v != nil {
			salt = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := &Backup{
		Version:    BackupVersion,
		ExportedAt: time.Now().UTC(),
		MasterSalt: salt,
		Keys:       records,
	}
	data, err := encodeGob(payload)
	if err != nil {
		return nil, fmt.Errorf("keystore: encode backup: %w", err)
	}
	return data, nil
}

// ImportBackup restores wrapped key records from an exported backup.
// Existing records win: an imported record never overwrites a live key.
// The master salt is restored only when the store has none yet, so on a
// fresh machine ImportBackup must run before InitializeMasterKey for the
// original secret to reproduce the original master key. No master key is
// required: only wrapped records are written.
func (s *Store) ImportBackup(data []byte) error {
	var payload Backup
	if err := decodeGob(data, &payload); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBackup, err)
	}
	if payload.Version != BackupVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidBackup, payload.Version)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta.Get(metaSaltKey) == nil && len(payload.MasterSalt) > 0 {
			if err := meta.Put(metaSaltKey, payload.MasterSalt); err != nil {
				return fmt.Errorf("keystore: restore salt: %w", err)
			}
		}

		keys := tx.Bucket(bucketKeys)
		contexts := tx.Bucket(bucketContexts)
		for _, record := range payload.Keys {
			if record == nil || record.KeyID == "" {
				return fmt.Errorf("%w: record missing key id", ErrInvalidBackup)
			}
			if keys.Get([]byte(record.KeyID)) != nil {
				continue // first writer wins
			}
			encoded, err := encodeGob(record)
			if err != nil {
				return fmt.Errorf("keystore: encode imported record: %w", err)
			}
			if err := keys.Put([]byte(record.KeyID), encoded); err != nil {
				return fmt.Errorf("keystore: import key: %w", err)
			}
			for _, label := range record.Contexts {
				if err := contexts.Put([]byte(label), []byte(record.KeyID)); err != nil {
					return fmt.Errorf("keystore: import context index: %w", err)
				}
			}
		}
		return nil
	})
}
