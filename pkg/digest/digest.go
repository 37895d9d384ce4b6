// Package digest computes stable content identifiers for pipeline
// representations. The digest is used as the primary key for pipeline
// identity in the result store: two pipelines with identical canonical
// representations map to the same storage group.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of the UTF-8 encoding of repr.
// The output is always 64 characters. Collision resistance here guards
// against accidental collisions only; the representation is the sole
// identity signal.
func Sum(repr string) string {
	hash := sha256.Sum256([]byte(repr))

	return hex.EncodeToString(hash[:])
}
