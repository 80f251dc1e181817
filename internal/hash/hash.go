// Package hash provides content hashing for raw blob dedup keys.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher computes a stable digest for raw fetched bytes.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes data and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
