// Package tokenhash digests secrets (one-time codes, refresh tokens) before they hit storage
package tokenhash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns lowercase hex SHA-256 of s
func Sum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
