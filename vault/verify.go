package vault

import (
	"context"
	"sync"
	"time"
)

// verifyConcurrency bounds how many existence probes run at once.
const verifyConcurrency = 4

// ChunkVerification is the outcome of one blob's existence check.
type ChunkVerification struct {
	Index    int
	BlobID   string
	Verified bool
	Error    string // empty unless the probe itself failed
}

// VerificationResult reports whether every blob referenced by a file's
// seal metadata still exists on the transport. Ephemeral and recomputed
// on demand; a failure here is informational, never destructive.
//
// MissingBlobs holds only definitive not-found answers. A blob whose
// existence probe itself failed (transport error) lands in FailedProbes
// instead: the transport did not answer, so absence was not established.
type VerificationResult struct {
	FileID        string
	AllBlobsExist bool
	VerifiedBlobs []string
	MissingBlobs  []string
	FailedProbes  []string
	Chunks        []ChunkVerification
	VerifiedAt    time.Time
	CacheExpiry   time.Time
}

// NearExpiry reports whether the cached result is inside the final
// quarter of its lifetime. Callers should treat this as a prompt to
// re-verify, not as an error.
func (r *VerificationResult) NearExpiry(now time.Time) bool {
	if r.CacheExpiry.IsZero() {
		return false
	}
	lifetime := r.CacheExpiry.Sub(r.VerifiedAt)
	return now.After(r.CacheExpiry.Add(-lifetime / 4))
}

// VerifyBlobs checks existence of every blob in the metadata. Probes are
// independent per blob and run with bounded concurrency. Results are
// cached per file id until the cache TTL; pass force to bypass the cache.
func (v *Vault) VerifyBlobs(ctx context.Context, meta *SealMetadata, force bool) (*VerificationResult, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	if !force {
		if cached := v.verifyCache.get(meta.FileID); cached != nil {
			return cached, nil
		}
	}

	chunks := make([]ChunkVerification, len(meta.BlobIDs))
	sem := make(chan struct{}, verifyConcurrency)
	var wg sync.WaitGroup

	for i, blobID := range meta.BlobIDs {
		wg.Add(1)
		go func(i int, blobID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			exists, err := v.transport.Exists(ctx, blobID)
			cv := ChunkVerification{Index: i, BlobID: blobID, Verified: exists}
			if err != nil {
				cv.Verified = false
				cv.Error = err.Error()
			}
			chunks[i] = cv
		}(i, blobID)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// A cancelled verification must not poison the cache.
		return nil, wrapCtxErr(err)
	}

	now := time.Now().UTC()
	result := &VerificationResult{
		FileID:     meta.FileID,
		VerifiedAt: now,
	}
	for _, cv := range chunks {
		result.Chunks = append(result.Chunks, cv)
		switch {
		case cv.Verified:
			result.VerifiedBlobs = append(result.VerifiedBlobs, cv.BlobID)
		case cv.Error != "":
			result.FailedProbes = append(result.FailedProbes, cv.BlobID)
		default:
			result.MissingBlobs = append(result.MissingBlobs, cv.BlobID)
		}
	}
	result.AllBlobsExist = len(result.MissingBlobs) == 0 && len(result.FailedProbes) == 0

	// Only definitive results are cached. A transient probe failure must
	// not be served as a negative answer after the transport recovers.
	if len(result.FailedProbes) == 0 {
		v.verifyCache.put(result)
	}

	v.log.WithField("file_id", meta.FileID).
		WithField("missing", len(result.MissingBlobs)).
		WithField("probe_failures", len(result.FailedProbes)).
		Debug("blob verification finished")
	return result, nil
}

// ---------------------------------------------------------------------------
// verifyCache: per-file verification results with expiry.
// ---------------------------------------------------------------------------

type verifyCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	results map[string]*VerificationResult
}

func newVerifyCache(ttl time.Duration) *verifyCache {
	return &verifyCache{ttl: ttl, results: make(map[string]*VerificationResult)}
}

func (c *verifyCache) get(fileID string) *VerificationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[fileID]
	if !ok {
		return nil
	}
	if time.Now().After(r.CacheExpiry) {
		delete(c.results, fileID)
		return nil
	}
	return r
}

func (c *verifyCache) put(r *VerificationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.CacheExpiry = r.VerifiedAt.Add(c.ttl)
	c.results[r.FileID] = r
}

func (c *verifyCache) invalidate(fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, fileID)
}
