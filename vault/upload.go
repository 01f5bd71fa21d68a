package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sealfsorg/libsealfs-go/crypt"
	"github.com/sealfsorg/libsealfs-go/storage"
)

// retryDelay is the base backoff between transient chunk retry attempts.
const retryDelay = 100 * time.Millisecond

// UploadOpts configures a single file upload.
type UploadOpts struct {
	FileID     string     // minted when empty
	FileName   string
	MimeType   string
	Key        *crypt.Key // freshly generated or wallet-derived; required
	KeyID      string     // minted when empty
	OnProgress ProgressFunc
}

// UploadError is returned when an upload stops partway. The partial state
// is already persisted, so the caller's next move is ResumeUpload, not
// starting over.
type UploadError struct {
	FileID     string
	ChunkIndex int
	State      *PartialUploadState
	Err        error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("vault: upload of %s failed at chunk %d: %v (resume available)", e.FileID, e.ChunkIndex, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Upload drives encrypt, chunk, and per-chunk store for one file.
//
// The whole file is encrypted once; chunk boundaries are storage-layer
// only. After every chunk attempt the partial upload state is persisted
// before the next chunk is touched, which is the durability point that
// makes interruption recoverable. On full success the seal metadata is
// stored, the partial state is cleared, and the ledger is notified.
func (v *Vault) Upload(ctx context.Context, data []byte, opts UploadOpts) (*SealMetadata, error) {
	if opts.Key == nil {
		return nil, crypt.ErrNilKey
	}

	fileID := opts.FileID
	if fileID == "" {
		fileID = v.NewFileID()
	}
	keyID := opts.KeyID
	if keyID == "" {
		keyID = v.NewKeyID()
	}

	log := v.log.WithFields(logrus.Fields{"file_id": fileID, "key_id": keyID})

	// The key must be durable before any chunk leaves the machine.
	if err := v.keys.StoreKey(keyID, opts.Key); err != nil {
		return nil, fmt.Errorf("vault: persist key: %w", err)
	}
	if err := v.keys.AssociateFileWithKey(keyID, fileID); err != nil {
		return nil, fmt.Errorf("vault: associate key: %w", err)
	}

	report(opts.OnProgress, Progress{FileID: fileID, Stage: StageEncrypting, Percent: 0})
	log.Debug("encrypting")

	ciphertext, err := crypt.Encrypt(data, opts.Key)
	if err != nil {
		report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
		return nil, err
	}
	contentHash := crypt.ComputeContentHash(data)

	report(opts.OnProgress, Progress{FileID: fileID, Stage: StageChunking, Percent: 10})

	chunks, err := storage.SplitIntoChunks(ciphertext, v.chunkSize)
	if err != nil {
		report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
		return nil, err
	}

	// Stage the ciphertext so a resumed upload reuses the exact same bytes
	// (re-encrypting would change the nonce and orphan stored chunks).
	if err := v.staging.Put(fileID, ciphertext); err != nil {
		return nil, fmt.Errorf("vault: stage ciphertext: %w", err)
	}

	now := time.Now().UTC()
	state := &PartialUploadState{
		FileID:          fileID,
		FileName:        opts.FileName,
		MimeType:        opts.MimeType,
		FileSize:        int64(len(data)),
		TotalChunks:     len(chunks),
		ChunkSize:       v.chunkSize,
		EncryptionKeyID: keyID,
		ContentHash:     contentHash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	v.stateMu.Lock()
	err = v.persistState(state)
	v.stateMu.Unlock()
	if err != nil {
		return nil, err
	}

	log.WithField("chunks", len(chunks)).Info("upload started")

	if err := v.uploadChunks(ctx, state, chunks, opts.OnProgress); err != nil {
		report(opts.OnProgress, Progress{FileID: fileID, Stage: StageError})
		return nil, err
	}

	return v.finalizeUpload(ctx, state, opts.OnProgress)
}

// ResumeUpload re-enters the uploading phase at the first chunk not yet
// confirmed stored. Confirmed chunks are never re-uploaded; previously
// failed chunks are retried.
func (v *Vault) ResumeUpload(ctx context.Context, fileID string, onProgress ProgressFunc) (*SealMetadata, error) {
	state, err := v.GetUploadState(fileID)
	if err != nil {
		return nil, err
	}

	ciphertext, err := v.staging.Get(fileID)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStagingNotFound, fileID)
		}
		return nil, err
	}

	chunks, err := storage.SplitIntoChunks(ciphertext, state.ChunkSize)
	if err != nil {
		return nil, err
	}
	if len(chunks) != state.TotalChunks {
		return nil, fmt.Errorf("%w: staged ciphertext yields %d chunks, state expects %d",
			ErrStateCorrupt, len(chunks), state.TotalChunks)
	}

	v.log.WithFields(logrus.Fields{
		"file_id":  fileID,
		"uploaded": len(state.UploadedChunks),
		"total":    state.TotalChunks,
	}).Info("resuming upload")

	if err := v.uploadChunks(ctx, state, chunks, onProgress); err != nil {
		report(onProgress, Progress{FileID: fileID, Stage: StageError})
		return nil, err
	}

	return v.finalizeUpload(ctx, state, onProgress)
}

// DiscardUpload drops the partial state and staged ciphertext for an
// abandoned upload. Blobs already stored on the network are left to the
// transport's own expiry.
func (v *Vault) DiscardUpload(fileID string) error {
	if err := v.staging.Delete(fileID); err != nil {
		return err
	}
	return v.deleteState(fileID)
}

// uploadChunks stores every not-yet-uploaded chunk in order, persisting
// state after each attempt. Chunk transfer is sequential; the persisted
// progress updates are serialized under stateMu either way, so a future
// bounded-concurrency window cannot race the durability point.
func (v *Vault) uploadChunks(ctx context.Context, state *PartialUploadState, chunks [][]byte, onProgress ProgressFunc) error {
	total := len(chunks)
	for i, chunk := range chunks {
		if state.Uploaded(i) {
			continue
		}

		if err := ctx.Err(); err != nil {
			// Abandoned in-flight work is never marked uploaded; the
			// persisted state stays consistent for a later resume.
			return wrapCtxErr(err)
		}

		blobID, err := v.putChunkWithRetry(ctx, chunk)

		v.stateMu.Lock()
		if err != nil {
			state.markFailed(i)
		} else {
			state.markUploaded(i, blobID)
		}
		persistErr := v.persistState(state)
		v.stateMu.Unlock()

		if err != nil {
			v.log.WithFields(logrus.Fields{"file_id": state.FileID, "chunk": i}).
				WithError(err).Warn("chunk upload failed")
			return &UploadError{FileID: state.FileID, ChunkIndex: i, State: state, Err: err}
		}
		if persistErr != nil {
			return persistErr
		}

		done := len(state.UploadedChunks)
		report(onProgress, Progress{
			FileID:       state.FileID,
			Stage:        StageUploading,
			Percent:      15 + 75*float64(done)/float64(total),
			CurrentChunk: done,
			TotalChunks:  total,
		})
	}
	return nil
}

// putChunkWithRetry retries transient transport failures up to the
// session budget. Non-retryable errors surface immediately.
func (v *Vault) putChunkWithRetry(ctx context.Context, chunk []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt < v.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", wrapCtxErr(ctx.Err())
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}
		blobID, err := v.transport.PutChunk(ctx, chunk)
		if err == nil {
			return blobID, nil
		}
		lastErr = err
		if !storage.IsRetryable(err) {
			break
		}
	}
	return "", lastErr
}

// finalizeUpload emits the seal metadata and clears the resumable state.
func (v *Vault) finalizeUpload(ctx context.Context, state *PartialUploadState, onProgress ProgressFunc) (*SealMetadata, error) {
	report(onProgress, Progress{FileID: state.FileID, Stage: StageFinalizing, Percent: 90})

	blobIDs := make([]string, state.TotalChunks)
	for i := 0; i < state.TotalChunks; i++ {
		id, ok := state.BlobIDs[i]
		if !ok {
			return nil, fmt.Errorf("%w: missing blob id for chunk %d", ErrStateCorrupt, i)
		}
		blobIDs[i] = id
	}

	meta := &SealMetadata{
		FileID:          state.FileID,
		BlobIDs:         blobIDs,
		ChunkCount:      state.TotalChunks,
		EncryptionKeyID: state.EncryptionKeyID,
		ContentHash:     state.ContentHash,
		FileName:        state.FileName,
		FileSize:        state.FileSize,
		MimeType:        state.MimeType,
		UploadedAt:      time.Now().UTC(),
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if err := v.putMetadata(meta); err != nil {
		return nil, err
	}

	if err := v.staging.Delete(state.FileID); err != nil {
		v.log.WithField("file_id", state.FileID).WithError(err).Warn("staging cleanup failed")
	}
	if err := v.deleteState(state.FileID); err != nil {
		return nil, err
	}

	// Ledger failures do not unwind the upload: the seal record is already
	// durable and the caller can re-submit the ledger entry.
	if v.ledger != nil {
		if _, err := v.ledger.RecordFile(ctx, meta.FileID, meta.Digest()); err != nil {
			v.log.WithField("file_id", meta.FileID).WithError(err).Warn("ledger record failed")
		}
	}

	v.log.WithFields(logrus.Fields{"file_id": meta.FileID, "chunks": meta.ChunkCount}).
		Info("upload complete")
	report(onProgress, Progress{FileID: state.FileID, Stage: StageComplete, Percent: 100})
	return meta, nil
}

// wrapCtxErr maps a context deadline to the pipeline's timeout error.
func wrapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
