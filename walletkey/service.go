package walletkey

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketRotations = []byte("rotations")
	bucketHeads     = []byte("lineage_heads")
)

// Service is the wallet key derivation service. It owns the derivation
// cache and the durable rotation-lineage store. Construct one per session
// and pass it explicitly; there is no process-wide instance.
type Service struct {
	db       *bbolt.DB
	cache    *keyCache
	cacheTTL time.Duration

	// now is the clock; tests may override before first use.
	now func() time.Time
}

// OpenService opens or creates the rotation-lineage database at dbPath.
func OpenService(dbPath string) (*Service, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("walletkey: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("walletkey: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRotations, bucketHeads} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("walletkey: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Service{
		db:       db,
		cache:    newKeyCache(),
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
	}, nil
}

// SetCacheTTL overrides the derived-key cache lifetime.
func (s *Service) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		s.cacheTTL = ttl
	}
}

// Close closes the lineage database and drops all cached key material.
func (s *Service) Close() error {
	s.cache.purgeAll()
	return s.db.Close()
}

// lineageKey identifies a rotation lineage: one per (wallet, context).
func lineageKey(walletAddr, derivationContext string) []byte {
	return []byte(walletAddr + "|" + derivationContext)
}

// ---------------------------------------------------------------------------
// keyCache: TTL-bounded derived-key cache.
// ---------------------------------------------------------------------------

// keyCache holds derived keys for a bounded TTL, keyed by the derivation
// tuple, so repeated derivations within the window do not re-prompt the
// wallet. Time-bounded rather than invalidated per use: a small staleness
// window is the accepted trade for fewer signature prompts.
type keyCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	derived   *DerivedKey
	expiresAt time.Time
}

func newKeyCache() *keyCache {
	return &keyCache{entries: make(map[string]cacheEntry)}
}

func cacheKey(walletAddr, derivationContext string, rotation uint32) string {
	return fmt.Sprintf("%s|%s|r%d", walletAddr, derivationContext, rotation)
}

// get returns the cached key for the tuple, expiring entries against the
// caller-supplied clock so the owning service's clock governs throughout.
func (c *keyCache) get(walletAddr, derivationContext string, rotation uint32, now time.Time) *DerivedKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(walletAddr, derivationContext, rotation)]
	if !ok {
		return nil
	}
	if now.After(entry.expiresAt) {
		delete(c.entries, cacheKey(walletAddr, derivationContext, rotation))
		return nil
	}
	return entry.derived
}

func (c *keyCache) put(derived *DerivedKey, ttl time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(derived.WalletAddress, derived.Context, derived.RotationNumber)] = cacheEntry{
		derived:   derived,
		expiresAt: now.Add(ttl),
	}
}

// purgeLineage drops every cached rotation of (wallet, context).
func (c *keyCache) purgeLineage(walletAddr, derivationContext string) {
	prefix := walletAddr + "|" + derivationContext + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

func (c *keyCache) purgeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
