package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// RowHash fingerprints a row's exact cell sequence. Unit separators keep
// ["a b"] and ["a", "b"] distinct.
func RowHash(cells []string) Hash {
	return NewHash([]byte(strings.Join(cells, "\x1f") + "\x1e"))
}

// LockKey derives a stable 64-bit advisory lock key from a resource name.
func LockKey(resource string) int64 {
	sum := sha256.Sum256([]byte("sheetarchiver:" + resource))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
