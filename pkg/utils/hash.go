package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// URLDigest computes the SHA-256 hex digest of a normalized URL string.
// Used as the key in visited sets and as PageEntry.URLHash.
func URLDigest(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// ContentDigest computes the SHA-256 hex digest of fetched bytes.
// Used as the Content Store key, so byte-identical pages share one object.
func ContentDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
