// Package checksum fingerprints document content. The vault uses it to
// recognise its own writes when the watcher reports them, and the API hands
// it out as an ETag for optimistic updates.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Matches reports whether data hashes to sum. A quoted sum, as sent in an
// If-Match header, is accepted; comparison is case-insensitive.
func Matches(data []byte, sum string) bool {
	sum = strings.Trim(strings.TrimSpace(sum), `"`)
	return sum != "" && strings.EqualFold(Sum(data), sum)
}
