package vault

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sealfsorg/libsealfs-go/crypt"
	"github.com/sealfsorg/libsealfs-go/storage"
)

// DownloadOpts configures a single file download.
type DownloadOpts struct {
	VerifyFirst      bool          // probe blob existence before fetching, to fail fast
	CheckContentHash bool          // compare decrypted plaintext against the sealed digest
	Timeout          time.Duration // 0 means no budget beyond the caller's ctx
	OnProgress       ProgressFunc
}

// DownloadResult holds the decrypted file and its seal metadata.
type DownloadResult struct {
	Data     []byte
	Metadata *SealMetadata
}

// Download runs the upload pipeline in reverse: load metadata, validate,
// optionally verify, fetch chunks in order, reassemble, decrypt, and
// optionally check the whole-plaintext digest.
//
// A non-zero Timeout races the whole pipeline; exceeding it surfaces
// ErrTimeout and aborts in-flight fetches without corrupting any cached
// state.
func (v *Vault) Download(ctx context.Context, fileID string, opts DownloadOpts) (*DownloadResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	report(opts.OnProgress, Progress{FileID: fileID, Stage: StageLoadingMetadata, Percent: 0})

	meta, err := v.GetMetadata(fileID)
	if err != nil {
		report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
		return nil, err
	}

	report(opts.OnProgress, Progress{FileID: fileID, Stage: StageValidating, Percent: 5})

	// Structural validation before any network activity.
	if err := meta.Validate(); err != nil {
		report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
		return nil, err
	}

	if opts.VerifyFirst {
		report(opts.OnProgress, Progress{FileID: fileID, Stage: StageVerifying, Percent: 10})
		result, err := v.VerifyBlobs(ctx, meta, false)
		if err != nil {
			report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
			return nil, err
		}
		if len(result.MissingBlobs) > 0 {
			report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
			return nil, fmt.Errorf("%w: file %s: %v", ErrMissingBlobs, fileID, result.MissingBlobs)
		}
		if len(result.FailedProbes) > 0 {
			// The transport did not answer; this is a transient failure,
			// not established absence.
			report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
			return nil, fmt.Errorf("%w: file %s: existence probes failed for %v",
				storage.ErrNetwork, fileID, result.FailedProbes)
		}
	}

	// Chunks must be fetched and reassembled in the metadata's order.
	chunks := make([][]byte, len(meta.BlobIDs))
	for i, blobID := range meta.BlobIDs {
		if err := ctx.Err(); err != nil {
			report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
			return nil, wrapCtxErr(err)
		}

		chunk, err := v.getChunkWithRetry(ctx, blobID)
		if err != nil {
			v.log.WithFields(logrus.Fields{"file_id": fileID, "chunk": i, "blob_id": blobID}).
				WithError(err).Warn("chunk download failed")
			report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
			return nil, fmt.Errorf("vault: download chunk %d of %s: %w", i, fileID, err)
		}
		chunks[i] = chunk

		report(opts.OnProgress, Progress{
			FileID:       fileID,
			Stage:        StageDownloading,
			Percent:      10 + 65*float64(i+1)/float64(len(meta.BlobIDs)),
			CurrentChunk: i + 1,
			TotalChunks:  len(meta.BlobIDs),
		})
	}

	report(opts.OnProgress, Progress{FileID: fileID, Stage: StageReassembling, Percent: 80})

	ciphertext, err := storage.RecombineChunks(chunks)
	if err != nil {
		report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
		return nil, err
	}

	report(opts.OnProgress, Progress{FileID: fileID, Stage: StageDecrypting, Percent: 90})

	key, err := v.keys.GetKey(meta.EncryptionKeyID)
	if err != nil {
		report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
		return nil, fmt.Errorf("vault: resolve key %s: %w", meta.EncryptionKeyID, err)
	}

	plaintext, err := crypt.Decrypt(ciphertext, key)
	if err != nil {
		report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
		return nil, err
	}

	if opts.CheckContentHash {
		if !bytes.Equal(crypt.ComputeContentHash(plaintext), meta.ContentHash) {
			report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
			return nil, fmt.Errorf("%w: file %s", ErrContentHashMismatch, fileID)
		}
	}

	v.log.WithFields(logrus.Fields{"file_id": fileID, "bytes": len(plaintext)}).
		Info("download complete")
	report(opts.OnProgress, Progress{FileID: fileID, Stage: StageComplete, Percent: 100})

	return &DownloadResult{Data: plaintext, Metadata: meta}, nil
}

// getChunkWithRetry mirrors putChunkWithRetry for fetches.
func (v *Vault) getChunkWithRetry(ctx context.Context, blobID string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < v.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, wrapCtxErr(ctx.Err())
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}
		chunk, err := v.transport.GetChunk(ctx, blobID)
		if err == nil {
			return chunk, nil
		}
		lastErr = err
		if !storage.IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}
