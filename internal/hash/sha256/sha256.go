// Package sha256 provides SHA-256 fingerprints for cache keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the hex SHA-256 digest of the exact URL string,
// query included, so distinct listing pages and records never share a key.
func Fingerprint(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}
