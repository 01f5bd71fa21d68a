package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxBlobResponseSize is the maximum allowed response body size for blob
// fetches (1 GB). Prevents memory exhaustion from malicious endpoints.
const MaxBlobResponseSize = 1 << 30

// HTTPTransport is a BlobTransport over HTTP blob gateways.
// Blob ids are hex(SHA256(chunk)); the transport verifies content hashes
// on fetch before trusting remote data.
//
// Endpoints are tried in priority order. Transient failures (connection
// errors, 5xx) fall through to the next endpoint; a successful fetch is
// cached in the optional local store.
type HTTPTransport struct {
	Endpoints []string     // gateway base URLs, e.g. "http://localhost:8080"
	Cache     *FileStore   // optional local blob cache; nil disables caching
	Client    *http.Client // nil uses a 30s-timeout default
}

// Compile-time interface check.
var _ BlobTransport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an HTTPTransport with the given gateway endpoints.
func NewHTTPTransport(endpoints []string) *HTTPTransport {
	return &HTTPTransport{
		Endpoints: endpoints,
		Client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// BlobID computes the content address for a chunk: hex(SHA256(chunk)).
func BlobID(chunk []byte) string {
	sum := sha256.Sum256(chunk)
	return hex.EncodeToString(sum[:])
}

type putResponse struct {
	BlobID string `json:"blob_id"`
}

// PutChunk stores a chunk on the first endpoint that accepts it.
// Endpoint: PUT {base}/v1/blobs with the chunk as request body.
// The gateway's returned blob id must match the locally computed content
// address; a mismatch is ErrInvalidResponse for that endpoint.
func (t *HTTPTransport) PutChunk(ctx context.Context, chunk []byte) (string, error) {
	if len(t.Endpoints) == 0 {
		return "", ErrEmptyEndpoints
	}

	want := BlobID(chunk)
	var lastErr error
	for _, ep := range t.Endpoints {
		id, err := t.putToEndpoint(ctx, ep, chunk)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if id != want {
			lastErr = fmt.Errorf("%w: endpoint %s returned blob id %s, want %s", ErrInvalidResponse, ep, id, want)
			continue
		}
		if t.Cache != nil {
			_ = t.Cache.Put(id, chunk) // best-effort cache
		}
		return id, nil
	}
	return "", lastErr
}

func (t *HTTPTransport) putToEndpoint(ctx context.Context, baseURL string, chunk []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, baseURL+"/v1/blobs", bytes.NewReader(chunk))
	if err != nil {
		return "", fmt.Errorf("storage: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: endpoint %s: %w", ErrNetwork, baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: endpoint %s: HTTP %d", ErrNetwork, baseURL, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: endpoint %s: HTTP %d", ErrInvalidResponse, baseURL, resp.StatusCode)
	}

	var pr putResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&pr); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrInvalidResponse, err)
	}
	if pr.BlobID == "" {
		return "", fmt.Errorf("%w: empty blob id", ErrInvalidResponse)
	}
	return pr.BlobID, nil
}

// GetChunk retrieves a chunk by blob id, trying sources in order:
//  1. Local cache (if configured)
//  2. Gateway endpoints (GET {base}/v1/blobs/{blobID})
//
// Remote data is verified against the content address before being
// returned or cached.
func (t *HTTPTransport) GetChunk(ctx context.Context, blobID string) ([]byte, error) {
	if blobID == "" {
		return nil, ErrInvalidBlobID
	}

	if t.Cache != nil {
		data, err := t.Cache.Get(blobID)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrBlobNotFound) {
			return nil, fmt.Errorf("storage: local cache: %w", err)
		}
	}

	if len(t.Endpoints) == 0 {
		return nil, ErrEmptyEndpoints
	}

	var lastErr error
	for _, ep := range t.Endpoints {
		data, err := t.fetchFromEndpoint(ctx, ep, blobID)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		// Verify content hash before trusting remote data.
		if BlobID(data) != blobID {
			lastErr = fmt.Errorf("%w: endpoint %s: content hash mismatch for %s", ErrInvalidResponse, ep, blobID)
			continue
		}
		if t.Cache != nil {
			_ = t.Cache.Put(blobID, data) // best-effort cache
		}
		return data, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, blobID)
}

func (t *HTTPTransport) fetchFromEndpoint(ctx context.Context, baseURL, blobID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/blobs/"+blobID, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: create request: %w", err)
	}

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint %s: %w", ErrNetwork, baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, blobID)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: endpoint %s: HTTP %d", ErrNetwork, baseURL, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: endpoint %s: HTTP %d", ErrInvalidResponse, baseURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBlobResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint %s: read body: %w", ErrNetwork, baseURL, err)
	}
	return data, nil
}

// Exists checks whether a blob is stored on any endpoint.
// Endpoint: HEAD {base}/v1/blobs/{blobID}. A local cache hit counts as
// existing; a definitive 404 from an endpoint is final for that endpoint.
func (t *HTTPTransport) Exists(ctx context.Context, blobID string) (bool, error) {
	if blobID == "" {
		return false, ErrInvalidBlobID
	}

	if t.Cache != nil {
		if ok, err := t.Cache.Has(blobID); err == nil && ok {
			return true, nil
		}
	}

	if len(t.Endpoints) == 0 {
		return false, ErrEmptyEndpoints
	}

	var lastErr error
	sawNotFound := false
	for _, ep := range t.Endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, ep+"/v1/blobs/"+blobID, nil)
		if err != nil {
			return false, fmt.Errorf("storage: create request: %w", err)
		}
		resp, err := t.client().Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: endpoint %s: %w", ErrNetwork, ep, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		_ = resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusOK:
			return true, nil
		case resp.StatusCode == http.StatusNotFound:
			sawNotFound = true
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: endpoint %s: HTTP %d", ErrNetwork, ep, resp.StatusCode)
		default:
			lastErr = fmt.Errorf("%w: endpoint %s: HTTP %d", ErrInvalidResponse, ep, resp.StatusCode)
		}
	}
	if sawNotFound {
		return false, nil
	}
	return false, lastErr
}
