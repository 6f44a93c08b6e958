// Package checksum computes content digests used as entity tags.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Of returns the digest of v's JSON encoding, or "" if v cannot be encoded.
func Of(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return Sum(data)
}
