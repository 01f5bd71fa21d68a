package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealfsorg/libsealfs-go/config"
	"github.com/sealfsorg/libsealfs-go/crypt"
	"github.com/sealfsorg/libsealfs-go/keystore"
	"github.com/sealfsorg/libsealfs-go/storage"
)

// testChunkSize keeps ciphertexts multi-chunk with tiny test files.
const testChunkSize = 16

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// keystoreOpen opens an initialized key store under dir.
func keystoreOpen(dir string) (*keystore.Store, error) {
	ks, err := keystore.OpenStore(filepath.Join(dir, "keys.db"))
	if err != nil {
		return nil, err
	}
	if err := ks.InitializeMasterKey("test secret"); err != nil {
		_ = ks.Close()
		return nil, err
	}
	return ks, nil
}

func newTestVault(t *testing.T, transport storage.BlobTransport) *Vault {
	t.Helper()
	dir := t.TempDir()

	ks, err := keystoreOpen(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })

	v, err := New(Options{
		DataDir:    dir,
		Keys:       ks,
		Transport:  transport,
		Ledger:     NewMockLedger(),
		Logger:     quietLogger(),
		ChunkSize:  testChunkSize,
		MaxRetries: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func testKey(t *testing.T) *crypt.Key {
	t.Helper()
	key, err := crypt.GenerateKey()
	require.NoError(t, err)
	return key
}

// flakyTransport wraps a transport and fails selected PutChunk calls, for
// interruption and resume tests. failPut receives the 0-based sequence
// number of the put attempt.
type flakyTransport struct {
	inner storage.BlobTransport

	mu      sync.Mutex
	puts    int
	failPut func(n int) error
}

var _ storage.BlobTransport = (*flakyTransport)(nil)

func (f *flakyTransport) PutChunk(ctx context.Context, chunk []byte) (string, error) {
	f.mu.Lock()
	n := f.puts
	f.puts++
	fail := f.failPut
	f.mu.Unlock()
	if fail != nil {
		if err := fail(n); err != nil {
			return "", err
		}
	}
	return f.inner.PutChunk(ctx, chunk)
}

func (f *flakyTransport) GetChunk(ctx context.Context, blobID string) ([]byte, error) {
	return f.inner.GetChunk(ctx, blobID)
}

func (f *flakyTransport) Exists(ctx context.Context, blobID string) (bool, error) {
	return f.inner.Exists(ctx, blobID)
}

func (f *flakyTransport) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func TestUploadDownload_RoundTrip(t *testing.T) {
	mem := storage.NewMemTransport()
	v := newTestVault(t, mem)
	ctx := context.Background()

	// 20 plaintext bytes become 48 ciphertext bytes (12B nonce + 16B tag),
	// which is exactly 3 chunks at the test chunk size.
	data := []byte("twenty bytes of data")
	meta, err := v.Upload(ctx, data, UploadOpts{
		FileName: "notes.txt",
		MimeType: "text/plain",
		Key:      testKey(t),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, meta.ChunkCount)
	assert.Len(t, meta.BlobIDs, 3)
	assert.Equal(t, int64(len(data)), meta.FileSize)
	assert.Equal(t, crypt.ComputeContentHash(data), meta.ContentHash)
	assert.Equal(t, 3, mem.Count())

	result, err := v.Download(ctx, meta.FileID, DownloadOpts{CheckContentHash: true})
	require.NoError(t, err)
	assert.Equal(t, data, result.Data)
	assert.Equal(t, meta.FileID, result.Metadata.FileID)

	// Completed uploads leave no resumable state or staged ciphertext.
	_, err = v.GetUploadState(meta.FileID)
	assert.ErrorIs(t, err, ErrStateNotFound)
	ok, err := v.staging.Has(meta.FileID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpload_EmptyFile(t *testing.T) {
	v := newTestVault(t, storage.NewMemTransport())
	ctx := context.Background()

	meta, err := v.Upload(ctx, []byte{}, UploadOpts{Key: testKey(t)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), meta.FileSize)
	// Even an empty file has ciphertext (nonce + tag), so at least one blob.
	assert.GreaterOrEqual(t, meta.ChunkCount, 1)

	result, err := v.Download(ctx, meta.FileID, DownloadOpts{CheckContentHash: true})
	require.NoError(t, err)
	assert.Empty(t, result.Data)
}

func TestUpload_NilKey(t *testing.T) {
	v := newTestVault(t, storage.NewMemTransport())
	_, err := v.Upload(context.Background(), []byte("data"), UploadOpts{})
	assert.ErrorIs(t, err, crypt.ErrNilKey)
}

func TestUpload_KeyDurableBeforeChunks(t *testing.T) {
	mem := storage.NewMemTransport()
	flaky := &flakyTransport{
		inner: mem,
		failPut: func(int) error {
			return fmt.Errorf("%w: gateway down", storage.ErrNetwork)
		},
	}
	v := newTestVault(t, flaky)

	key := testKey(t)
	_, err := v.Upload(context.Background(), []byte("twenty bytes of data"), UploadOpts{
		FileID: "file-durable",
		KeyID:  "key-durable",
		Key:    key,
	})
	require.Error(t, err)

	// Nothing reached the network, but the key is already persisted and
	// associated: a later resume can still decrypt.
	got, err := v.keys.GetKey("key-durable")
	require.NoError(t, err)
	assert.Equal(t, key.Bytes(), got.Bytes())
	keyID, err := v.keys.GetKeyForContext("file-durable")
	require.NoError(t, err)
	assert.Equal(t, "key-durable", keyID)
}

func TestUpload_InterruptAndResume(t *testing.T) {
	mem := storage.NewMemTransport()
	flaky := &flakyTransport{inner: mem}
	v := newTestVault(t, flaky)
	ctx := context.Background()

	// Chunk 0 stores, then every put fails (including retries).
	var allow sync.Once
	flaky.failPut = func(n int) error {
		var err error = fmt.Errorf("%w: connection reset", storage.ErrNetwork)
		allow.Do(func() { err = nil })
		return err
	}

	data := []byte("twenty bytes of data") // 3 ciphertext chunks
	_, err := v.Upload(ctx, data, UploadOpts{FileID: "file-resume", Key: testKey(t)})
	require.Error(t, err)

	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, "file-resume", uploadErr.FileID)
	assert.Equal(t, 1, uploadErr.ChunkIndex)
	assert.True(t, storage.IsRetryable(uploadErr))

	// The persisted state shows exactly chunk 0 confirmed.
	state, err := v.GetUploadState("file-resume")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, state.UploadedChunks)
	assert.Equal(t, []int{1}, state.FailedChunks)
	assert.Equal(t, 3, state.TotalChunks)
	assert.Equal(t, 1, mem.Count())

	// Heal the transport and resume. Only chunks 1 and 2 may be re-sent.
	flaky.mu.Lock()
	flaky.failPut = nil
	putsBefore := flaky.puts
	flaky.mu.Unlock()

	meta, err := v.ResumeUpload(ctx, "file-resume", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.putCount()-putsBefore)
	assert.Equal(t, 3, mem.Count())

	// The resumed upload reused the staged ciphertext, so the blob stored
	// before the interruption is chunk 0 of the final metadata.
	require.Len(t, meta.BlobIDs, 3)
	ok, err := mem.Exists(ctx, meta.BlobIDs[0])
	require.NoError(t, err)
	assert.True(t, ok)

	result, err := v.Download(ctx, "file-resume", DownloadOpts{CheckContentHash: true})
	require.NoError(t, err)
	assert.Equal(t, data, result.Data)
}

func TestResumeUpload_NoState(t *testing.T) {
	v := newTestVault(t, storage.NewMemTransport())
	_, err := v.ResumeUpload(context.Background(), "file-unknown", nil)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestResumeUpload_StagingGone(t *testing.T) {
	mem := storage.NewMemTransport()
	flaky := &flakyTransport{
		inner:   mem,
		failPut: func(int) error { return fmt.Errorf("%w: down", storage.ErrNetwork) },
	}
	v := newTestVault(t, flaky)
	ctx := context.Background()

	_, err := v.Upload(ctx, []byte("twenty bytes of data"), UploadOpts{FileID: "file-gone", Key: testKey(t)})
	require.Error(t, err)

	require.NoError(t, v.staging.Delete("file-gone"))
	_, err = v.ResumeUpload(ctx, "file-gone", nil)
	assert.ErrorIs(t, err, ErrStagingNotFound)
}

func TestDiscardUpload(t *testing.T) {
	mem := storage.NewMemTransport()
	flaky := &flakyTransport{
		inner:   mem,
		failPut: func(int) error { return fmt.Errorf("%w: down", storage.ErrNetwork) },
	}
	v := newTestVault(t, flaky)
	ctx := context.Background()

	_, err := v.Upload(ctx, []byte("twenty bytes of data"), UploadOpts{FileID: "file-discard", Key: testKey(t)})
	require.Error(t, err)

	states, err := v.ListUploadStates()
	require.NoError(t, err)
	require.Len(t, states, 1)

	require.NoError(t, v.DiscardUpload("file-discard"))

	_, err = v.ResumeUpload(ctx, "file-discard", nil)
	assert.ErrorIs(t, err, ErrStateNotFound)
	states, err = v.ListUploadStates()
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestUpload_CancelledContext(t *testing.T) {
	v := newTestVault(t, storage.NewMemTransport())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.Upload(ctx, []byte("twenty bytes of data"), UploadOpts{Key: testKey(t)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpload_LedgerRecorded(t *testing.T) {
	ledger := NewMockLedger()
	dir := t.TempDir()
	ks, err := keystoreOpen(dir)
	require.NoError(t, err)
	defer ks.Close()

	v, err := New(Options{
		DataDir:   dir,
		Keys:      ks,
		Transport: storage.NewMemTransport(),
		Ledger:    ledger,
		Logger:    quietLogger(),
		ChunkSize: testChunkSize,
	})
	require.NoError(t, err)
	defer v.Close()

	meta, err := v.Upload(context.Background(), []byte("ledger test payload!"), UploadOpts{Key: testKey(t)})
	require.NoError(t, err)

	digest, ok := ledger.Recorded(meta.FileID)
	require.True(t, ok)
	assert.Equal(t, meta.Digest(), digest)
}

func TestUpload_LedgerFailureNonFatal(t *testing.T) {
	ledger := NewMockLedger()
	ledger.RecordFileFn = func(context.Context, string, []byte) (string, error) {
		return "", errors.New("chain unavailable")
	}

	dir := t.TempDir()
	ks, err := keystoreOpen(dir)
	require.NoError(t, err)
	defer ks.Close()

	v, err := New(Options{
		DataDir:   dir,
		Keys:      ks,
		Transport: storage.NewMemTransport(),
		Ledger:    ledger,
		Logger:    quietLogger(),
		ChunkSize: testChunkSize,
	})
	require.NoError(t, err)
	defer v.Close()

	// The upload is durable before the ledger call; a ledger outage must
	// not unwind it.
	meta, err := v.Upload(context.Background(), []byte("survives outage okay"), UploadOpts{Key: testKey(t)})
	require.NoError(t, err)

	result, err := v.Download(context.Background(), meta.FileID, DownloadOpts{})
	require.NoError(t, err)
	assert.Equal(t, []byte("survives outage okay"), result.Data)
}

func TestUpload_ProgressStages(t *testing.T) {
	v := newTestVault(t, storage.NewMemTransport())

	var stages []Stage
	var lastPercent float64
	meta, err := v.Upload(context.Background(), []byte("twenty bytes of data"), UploadOpts{
		Key: testKey(t),
		OnProgress: func(p Progress) {
			stages = append(stages, p.Stage)
			lastPercent = p.Percent
		},
	})
	require.NoError(t, err)
	require.NotNil(t, meta)

	require.NotEmpty(t, stages)
	assert.Equal(t, StageEncrypting, stages[0])
	assert.Equal(t, StageComplete, stages[len(stages)-1])
	assert.Equal(t, float64(100), lastPercent)
	assert.Contains(t, stages, StageChunking)
	assert.Contains(t, stages, StageUploading)
	assert.Contains(t, stages, StageFinalizing)
}

func TestNewFromConfig(t *testing.T) {
	var mu sync.Mutex
	blobs := make(map[string][]byte)

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v1/blobs", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		id := storage.BlobID(body)
		mu.Lock()
		blobs[id] = body
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"blob_id": id})
	})
	mux.HandleFunc("GET /v1/blobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		data, ok := blobs[r.PathValue("id")]
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	})
	mux.HandleFunc("HEAD /v1/blobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_, ok := blobs[r.PathValue("id")]
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	ks, err := keystoreOpen(dir)
	require.NoError(t, err)
	defer ks.Close()

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.BlobEndpoints = []string{srv.URL}
	cfg.ChunkSize = testChunkSize
	cfg.LogLevel = "error"

	v, err := NewFromConfig(cfg, ks, NewMockLedger())
	require.NoError(t, err)
	defer v.Close()

	data := []byte("twenty bytes of data")
	meta, err := v.Upload(context.Background(), data, UploadOpts{Key: testKey(t)})
	require.NoError(t, err)
	assert.Equal(t, 3, meta.ChunkCount)

	result, err := v.Download(context.Background(), meta.FileID, DownloadOpts{
		VerifyFirst:      true,
		CheckContentHash: true,
	})
	require.NoError(t, err)
	assert.Equal(t, data, result.Data)
}

func TestNewFromConfig_InvalidConfig(t *testing.T) {
	ks, err := keystoreOpen(t.TempDir())
	require.NoError(t, err)
	defer ks.Close()

	cfg := config.Default()
	cfg.DataDir = "" // never validates
	_, err = NewFromConfig(cfg, ks, nil)
	assert.ErrorIs(t, err, config.ErrEmptyDataDir)
}

func TestNew_MissingCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = New(Options{DataDir: t.TempDir(), Transport: storage.NewMemTransport()})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestNewFileID_Unique(t *testing.T) {
	v := newTestVault(t, storage.NewMemTransport())

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := v.NewFileID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
