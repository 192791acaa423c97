// Package hash implements the content hasher: SHA-256 over file and chunk
// bytes, with optional CRLF normalization for file hashing.
package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// File computes the content hash of file bytes. When normalizeEOL is true,
// CRLF sequences are canonicalized to LF before hashing, so a file that
// round-trips through a CRLF-preserving checkout doesn't appear changed.
func File(content []byte, normalizeEOL bool) string {
	if normalizeEOL {
		content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Chunk computes the fingerprint of a chunk's text, taken post-chunking
// with no EOL normalization (the chunker already operates on normalized
// line boundaries).
func Chunk(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
