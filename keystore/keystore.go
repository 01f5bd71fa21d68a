// Package keystore implements the SealFS key management service.
//
// Per-file encryption keys are persisted wrapped under a master key derived
// once per session from a user-supplied secret with Argon2id. The master key
// is held in memory only; the salt is the only derivation material on disk.
package keystore

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/argon2"

	"github.com/sealfsorg/libsealfs-go/crypt"
)

const (
	// Argon2id parameters for master key derivation.
	Argon2Time        = 3
	Argon2Memory      = 64 * 1024 // 64 MB
	Argon2Parallelism = 4
	Argon2KeyLen      = 32

	// SaltLen is the length of the persisted Argon2 salt.
	SaltLen = 16

	// DefaultAlgorithm is the cipher recorded for stored keys.
	DefaultAlgorithm = "AES-256-GCM"
)

var (
	bucketMeta     = []byte("meta")
	bucketKeys     = []byte("keys")
	bucketContexts = []byte("contexts")

	metaSaltKey = []byte("master_salt")
)

// StoredKey is the durable record for a wrapped encryption key.
// Wrapped holds crypt.Encrypt(raw key, master key); the raw key never
// touches disk.
type StoredKey struct {
	KeyID     string
	Wrapped   []byte
	Algorithm string
	KeySize   int
	Contexts  []string // associated file/context labels, for audit
	CreatedAt time.Time
}

// Store is a bbolt-backed wrapped-key store.
type Store struct {
	db *bbolt.DB

	mu     sync.RWMutex
	master *crypt.Key // nil until InitializeMasterKey
}

// OpenStore opens or creates the key store database at dbPath.
// The parent directory is created if it does not exist. The store is
// locked until InitializeMasterKey is called.
func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("keystore: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketKeys, bucketContexts} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("keystore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database and drops the in-memory master key.
func (s *Store) Close() error {
	s.mu.Lock()
	s.master = nil
	s.mu.Unlock()
	return s.db.Close()
}

// InitializeMasterKey derives the session master key from the user secret
// with Argon2id. The salt is generated on first use and persisted in the
// meta bucket, so the same secret reproduces the same master key across
// sessions. A wrong secret is only detected when unwrapping a stored key.
func (s *Store) InitializeMasterKey(secret string) error {
	if secret == "" {
		return ErrEmptySecret
	}

	var salt []byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if existing := meta.Get(metaSaltKey); existing != nil {
			salt = append([]byte{}, existing...)
			return nil
		}
		salt = make([]byte, SaltLen)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("keystore: generate salt: %w", err)
		}
		return meta.Put(metaSaltKey, salt)
	})
	if err != nil {
		return err
	}

	raw := argon2.IDKey([]byte(secret), salt, Argon2Time, Argon2Memory, Argon2Parallelism, Argon2KeyLen)
	master, err := crypt.KeyFromBytes(raw)
	if err != nil {
		return fmt.Errorf("keystore: derive master key: %w", err)
	}

	s.mu.Lock()
	s.master = master
	s.mu.Unlock()
	return nil
}

// Initialized reports whether the master key is available this session.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.master != nil
}

func (s *Store) masterKey() (*crypt.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.master == nil {
		return nil, ErrNotInitialized
	}
	return s.master, nil
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

// StoreKey wraps key under the master key and persists it under keyID.
// Idempotent: storing under an existing id is a no-op (first writer wins),
// so a live key is never clobbered by a duplicate upload path.
func (s *Store) StoreKey(keyID string, key *crypt.Key, contexts ...string) error {
	if keyID == "" {
		return ErrEmptyKeyID
	}
	if key == nil {
		return crypt.ErrNilKey
	}
	master, err := s.masterKey()
	if err != nil {
		return err
	}

	wrapped, err := crypt.Encrypt(key.Bytes(), master)
	if err != nil {
		return fmt.Errorf("keystore: wrap key: %w", err)
	}

	record := &StoredKey{
		KeyID:     keyID,
		Wrapped:   wrapped,
		Algorithm: DefaultAlgorithm,
		KeySize:   crypt.KeySize * 8,
		Contexts:  contexts,
		CreatedAt: time.Now().UTC(),
	}
	data, err := encodeGob(record)
	if err != nil {
		return fmt.Errorf("keystore: encode record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKeys)
		if b.Get([]byte(keyID)) != nil {
			return nil // first writer wins
		}
		if err := b.Put([]byte(keyID), data); err != nil {
			return fmt.Errorf("keystore: put key: %w", err)
		}
		return nil
	})
}

// GetKey unwraps and returns the key stored under keyID.
func (s *Store) GetKey(keyID string) (*crypt.Key, error) {
	record, err := s.GetStoredKey(keyID)
	if err != nil {
		return nil, err
	}
	master, err := s.masterKey()
	if err != nil {
		return nil, err
	}

	raw, err := crypt.Decrypt(record.Wrapped, master)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnwrapFailed, keyID)
	}
	return crypt.KeyFromBytes(raw)
}

// GetStoredKey returns the wrapped record without unwrapping it.
func (s *Store) GetStoredKey(keyID string) (*StoredKey, error) {
	if keyID == "" {
		return nil, ErrEmptyKeyID
	}
	if _, err := s.masterKey(); err != nil {
		return nil, err
	}

	var record StoredKey
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketKeys).Get([]byte(keyID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
		}
		return decodeGob(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteKey removes the wrapped record for keyID. Ciphertext already
// decrypted with the key is unaffected. Deleting an absent key is a no-op.
func (s *Store) DeleteKey(keyID string) error {
	if keyID == "" {
		return ErrEmptyKeyID
	}
	if _, err := s.masterKey(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketKeys).Delete([]byte(keyID)); err != nil {
			return fmt.Errorf("keystore: delete key: %w", err)
		}
		// Drop context index entries pointing at this key.
		ctxBucket := tx.Bucket(bucketContexts)
		var stale [][]byte
		c := ctxBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == keyID {
				kc := make([]byte, len(k))
				copy(kc, k)
				stale = append(stale, kc)
			}
		}
		for _, k := range stale {
			if err := ctxBucket.Delete(k); err != nil {
				return fmt.Errorf("keystore: delete context index: %w", err)
			}
		}
		return nil
	})
}

// AssociateFileWithKey records a many-to-one mapping from a file/context
// label to a key id, and appends the label to the stored record for audit.
func (s *Store) AssociateFileWithKey(keyID, context string) error {
	if keyID == "" {
		return ErrEmptyKeyID
	}
	if _, err := s.masterKey(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		keys := tx.Bucket(bucketKeys)
		data := keys.Get([]byte(keyID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
		}

		var record StoredKey
		if err := decodeGob(data, &record); err != nil {
			return fmt.Errorf("keystore: decode record: %w", err)
		}
		record.Contexts = appendUnique(record.Contexts, context)
		updated, err := encodeGob(&record)
		if err != nil {
			return fmt.Errorf("keystore: encode record: %w", err)
		}
		if err := keys.Put([]byte(keyID), updated); err != nil {
			return fmt.Errorf("keystore: update record: %w", err)
		}
		return tx.Bucket(bucketContexts).Put([]byte(context), []byte(keyID))
	})
}

// GetKeyForContext looks up the key id associated with a file/context label.
func (s *Store) GetKeyForContext(context string) (string, error) {
	if _, err := s.masterKey(); err != nil {
		return "", err
	}

	var keyID string
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketContexts).Get([]byte(context))
		if v == nil {
			return fmt.Errorf("%w: context %q", ErrKeyNotFound, context)
		}
		keyID = string(v)
		return nil
	})
	if err != nil {
		return "", err
	}
	return keyID, nil
}

// ListKeys returns all stored key records (wrapped, for backup/export).
func (s *Store) ListKeys() ([]*StoredKey, error) {
	if _, err := s.masterKey(); err != nil {
		return nil, err
	}

	var records []*StoredKey
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKeys).ForEach(func(k, v []byte) error {
			var record StoredKey
			if err := decodeGob(v, &record); err != nil {
				return fmt.Errorf("keystore: decode record %q: %w", k, err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
