// Package vault implements the SealFS upload, verification, and download
// orchestrators over the encryption, chunking, key management, and blob
// transport layers.
package vault

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/sealfsorg/libsealfs-go/config"
	"github.com/sealfsorg/libsealfs-go/keystore"
	"github.com/sealfsorg/libsealfs-go/storage"
)

var (
	bucketMetadata = []byte("seal_metadata")
	bucketUploads  = []byte("partial_uploads")
)

// Options configures a vault session.
type Options struct {
	DataDir    string                // root for the state database and staging area
	Keys       *keystore.Store       // wrapped-key store; required
	Transport  storage.BlobTransport // blob network client; required
	Ledger     LedgerClient          // optional; nil skips ledger records
	Logger     *logrus.Logger        // optional; nil uses the standard logger
	ChunkSize  int                   // 0 uses storage.DefaultChunkSize
	MaxRetries int                   // per-chunk transient retry budget; 0 uses 3
	VerifyTTL  time.Duration         // verification cache lifetime; 0 uses 5m
}

// Vault is one user session of the pipeline. All collaborators are
// explicit; there is no process-wide instance. Operations on different
// files are independent and may run concurrently; per-file progress
// persistence is serialized by stateMu.
type Vault struct {
	keys      *keystore.Store
	transport storage.BlobTransport
	ledger    LedgerClient
	log       *logrus.Logger

	db      *bbolt.DB
	staging *storage.FileStore

	chunkSize  int
	maxRetries int

	node *snowflake.Node

	stateMu sync.Mutex // single-writer discipline for partial upload state

	verifyCache *verifyCache
}

// New opens a vault session rooted at opts.DataDir.
func New(opts Options) (*Vault, error) {
	if opts.DataDir == "" || opts.Keys == nil || opts.Transport == nil {
		return nil, ErrNotReady
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = storage.DefaultChunkSize
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	verifyTTL := opts.VerifyTTL
	if verifyTTL <= 0 {
		verifyTTL = 5 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	db, err := bbolt.Open(filepath.Join(opts.DataDir, "vault.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: open state db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMetadata, bucketUploads} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("vault: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	staging, err := storage.NewFileStore(filepath.Join(opts.DataDir, "staging"))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vault: init staging area: %w", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vault: init id generator: %w", err)
	}

	return &Vault{
		keys:        opts.Keys,
		transport:   opts.Transport,
		ledger:      opts.Ledger,
		log:         log,
		db:          db,
		staging:     staging,
		chunkSize:   chunkSize,
		maxRetries:  maxRetries,
		node:        node,
		verifyCache: newVerifyCache(verifyTTL),
	}, nil
}

// NewFromConfig opens a vault session from a validated configuration:
// an HTTP blob transport over the configured gateway endpoints, backed by
// a local blob cache under the data directory, with log level, chunk size,
// retry budget, and verification TTL taken from the config.
func NewFromConfig(cfg config.Config, keys *keystore.Store, ledger LedgerClient) (*Vault, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidLogLevel, cfg.LogLevel)
	}
	log.SetLevel(level)

	transport := storage.NewHTTPTransport(cfg.BlobEndpoints)
	cache, err := storage.NewFileStore(filepath.Join(cfg.DataDir, "blobcache"))
	if err != nil {
		return nil, fmt.Errorf("vault: init blob cache: %w", err)
	}
	transport.Cache = cache

	return New(Options{
		DataDir:    cfg.DataDir,
		Keys:       keys,
		Transport:  transport,
		Ledger:     ledger,
		Logger:     log,
		ChunkSize:  cfg.ChunkSize,
		MaxRetries: cfg.MaxRetries,
		VerifyTTL:  cfg.VerifyTTL,
	})
}

// Close closes the session's state database.
func (v *Vault) Close() error {
	return v.db.Close()
}

// NewFileID mints a unique file id.
func (v *Vault) NewFileID() string {
	return "file-" + v.node.Generate().String()
}

// NewKeyID mints a unique key id for freshly generated (non-wallet) keys.
func (v *Vault) NewKeyID() string {
	return "key-" + v.node.Generate().String()
}
