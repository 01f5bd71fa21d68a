package vault

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealfsorg/libsealfs-go/crypt"
	"github.com/sealfsorg/libsealfs-go/storage"
)

func TestDownload_MetadataNotFound(t *testing.T) {
	v := newTestVault(t, storage.NewMemTransport())
	_, err := v.Download(context.Background(), "file-unknown", DownloadOpts{})
	assert.ErrorIs(t, err, ErrMetadataNotFound)
}

func TestDownload_MissingBlobWithVerifyFirst(t *testing.T) {
	mem := storage.NewMemTransport()
	v := newTestVault(t, mem)
	ctx := context.Background()

	meta, err := v.Upload(ctx, []byte("twenty bytes of data"), UploadOpts{Key: testKey(t)})
	require.NoError(t, err)
	require.Len(t, meta.BlobIDs, 3)

	// Simulate storage-epoch expiry of the middle blob.
	mem.Remove(meta.BlobIDs[1])

	_, err = v.Download(ctx, meta.FileID, DownloadOpts{VerifyFirst: true})
	assert.ErrorIs(t, err, ErrMissingBlobs)
}

func TestDownload_MissingBlobWithoutVerify(t *testing.T) {
	mem := storage.NewMemTransport()
	v := newTestVault(t, mem)
	ctx := context.Background()

	meta, err := v.Upload(ctx, []byte("twenty bytes of data"), UploadOpts{Key: testKey(t)})
	require.NoError(t, err)
	mem.Remove(meta.BlobIDs[1])

	// Without verify-first the failure surfaces at the fetch instead.
	_, err = v.Download(ctx, meta.FileID, DownloadOpts{})
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
}

func TestDownload_VerifyFirstRecoversAfterOutage(t *testing.T) {
	mem := storage.NewMemTransport()
	v := newTestVault(t, mem)
	ctx := context.Background()

	data := []byte("twenty bytes of data")
	meta, err := v.Upload(ctx, data, UploadOpts{Key: testKey(t)})
	require.NoError(t, err)

	// One round of failing existence probes during a verify-first download.
	mem.ExistsFn = func(context.Context, string) (bool, error) {
		return false, fmt.Errorf("%w: gateway unreachable", storage.ErrNetwork)
	}
	_, err = v.Download(ctx, meta.FileID, DownloadOpts{VerifyFirst: true})
	require.Error(t, err)
	// The outage surfaces as a retryable transport failure, not as missing
	// blobs: nothing established that the blobs are gone.
	assert.True(t, storage.IsRetryable(err))
	assert.NotErrorIs(t, err, ErrMissingBlobs)

	// The transport heals; the very same download must now succeed rather
	// than serve a cached negative for the rest of the verify TTL.
	mem.ExistsFn = nil
	result, err := v.Download(ctx, meta.FileID, DownloadOpts{VerifyFirst: true})
	require.NoError(t, err)
	assert.Equal(t, data, result.Data)
}

func TestDownload_TamperedChunk(t *testing.T) {
	mem := storage.NewMemTransport()
	v := newTestVault(t, mem)
	ctx := context.Background()

	meta, err := v.Upload(ctx, []byte("twenty bytes of data"), UploadOpts{Key: testKey(t)})
	require.NoError(t, err)

	// Serve a flipped byte in the first chunk: reassembly succeeds but
	// AEAD authentication must reject the ciphertext.
	served := make(map[string][]byte, len(meta.BlobIDs))
	for _, id := range meta.BlobIDs {
		chunk, err := mem.GetChunk(ctx, id)
		require.NoError(t, err)
		served[id] = chunk
	}
	served[meta.BlobIDs[0]][0] ^= 0x01
	mem.GetChunkFn = func(_ context.Context, blobID string) ([]byte, error) {
		return served[blobID], nil
	}

	_, err = v.Download(ctx, meta.FileID, DownloadOpts{})
	assert.ErrorIs(t, err, crypt.ErrIntegrity)
}

func TestDownload_WrongKeyRecord(t *testing.T) {
	mem := storage.NewMemTransport()
	v := newTestVault(t, mem)
	ctx := context.Background()

	meta, err := v.Upload(ctx, []byte("twenty bytes of data"), UploadOpts{Key: testKey(t)})
	require.NoError(t, err)

	// Point the metadata at a different stored key.
	require.NoError(t, v.keys.StoreKey("key-other", testKey(t)))
	meta.EncryptionKeyID = "key-other"
	require.NoError(t, v.putMetadata(meta))

	_, err = v.Download(ctx, meta.FileID, DownloadOpts{})
	assert.ErrorIs(t, err, crypt.ErrIntegrity)
}

func TestDownload_ContentHashMismatch(t *testing.T) {
	mem := storage.NewMemTransport()
	v := newTestVault(t, mem)
	ctx := context.Background()

	meta, err := v.Upload(ctx, []byte("twenty bytes of data"), UploadOpts{Key: testKey(t)})
	require.NoError(t, err)

	// Corrupt the sealed digest; decryption still succeeds, the final
	// whole-plaintext check does not.
	meta.ContentHash = crypt.ComputeContentHash([]byte("different content"))
	require.NoError(t, v.putMetadata(meta))

	_, err = v.Download(ctx, meta.FileID, DownloadOpts{CheckContentHash: true})
	assert.ErrorIs(t, err, ErrContentHashMismatch)

	// Without the optional check the download passes.
	result, err := v.Download(ctx, meta.FileID, DownloadOpts{})
	require.NoError(t, err)
	assert.Equal(t, []byte("twenty bytes of data"), result.Data)
}

func TestDownload_Timeout(t *testing.T) {
	mem := storage.NewMemTransport()
	v := newTestVault(t, mem)
	ctx := context.Background()

	meta, err := v.Upload(ctx, []byte("twenty bytes of data"), UploadOpts{Key: testKey(t)})
	require.NoError(t, err)

	// Fetches hang until the deadline fires.
	mem.GetChunkFn = func(ctx context.Context, blobID string) ([]byte, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", storage.ErrNetwork, ctx.Err())
	}

	_, err = v.Download(ctx, meta.FileID, DownloadOpts{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDownload_CancelledContext(t *testing.T) {
	v := newTestVault(t, storage.NewMemTransport())

	meta, err := v.Upload(context.Background(), []byte("twenty bytes of data"), UploadOpts{Key: testKey(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.Download(ctx, meta.FileID, DownloadOpts{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownload_ProgressStages(t *testing.T) {
	v := newTestVault(t, storage.NewMemTransport())
	ctx := context.Background()

	meta, err := v.Upload(ctx, []byte("twenty bytes of data"), UploadOpts{Key: testKey(t)})
	require.NoError(t, err)

	var stages []Stage
	_, err = v.Download(ctx, meta.FileID, DownloadOpts{
		VerifyFirst: true,
		OnProgress:  func(p Progress) { stages = append(stages, p.Stage) },
	})
	require.NoError(t, err)

	require.NotEmpty(t, stages)
	assert.Equal(t, StageLoadingMetadata, stages[0])
	assert.Equal(t, StageComplete, stages[len(stages)-1])
	assert.Contains(t, stages, StageVerifying)
	assert.Contains(t, stages, StageDownloading)
	assert.Contains(t, stages, StageDecrypting)
}
