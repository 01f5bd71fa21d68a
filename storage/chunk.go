package storage

import (
	"bytes"
	"crypto/sha256"
)

// DefaultChunkSize is the default chunk size for ciphertext splitting (1MB).
const DefaultChunkSize = 1 << 20

// SplitIntoChunks splits ciphertext into fixed-size chunks for distributed
// storage. The last chunk may be smaller than chunkSize. Zero-length input
// yields a single empty chunk, so empty files still produce one stored blob
// and round-trip through upload and download.
// Returns ErrInvalidChunkSize if chunkSize is not positive.
func SplitIntoChunks(data []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if len(data) == 0 {
		return [][]byte{{}}, nil
	}
	var chunks [][]byte
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, end-i)
		copy(chunk, data[i:end])
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// RecombineChunks concatenates chunks in input order. For any sequence
// produced by SplitIntoChunks the output is byte-identical to the original
// ciphertext. Returns ErrNilChunk if any chunk in the sequence is nil;
// empty chunks are valid.
func RecombineChunks(chunks [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	for _, chunk := range chunks {
		if chunk == nil {
			return nil, ErrNilChunk
		}
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}

// ComputeRecombinationHash computes SHA256(chunk0 || chunk1 || ...).
func ComputeRecombinationHash(chunks [][]byte) []byte {
	h := sha256.New()
	for _, chunk := range chunks {
		h.Write(chunk)
	}
	return h.Sum(nil)
}

// VerifyRecombination concatenates chunks and checks the recombination hash
// in one pass. Returns ErrRecombinationHashMismatch if the hash differs.
func VerifyRecombination(chunks [][]byte, expectedHash []byte) ([]byte, error) {
	var buf bytes.Buffer
	h := sha256.New()
	for _, chunk := range chunks {
		if chunk == nil {
			return nil, ErrNilChunk
		}
		buf.Write(chunk)
		h.Write(chunk)
	}
	if !bytes.Equal(h.Sum(nil), expectedHash) {
		return nil, ErrRecombinationHashMismatch
	}
	return buf.Bytes(), nil
}
