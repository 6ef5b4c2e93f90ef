// Package digest holds the checksum and content-digest helpers shared by the
// verifier and the preview analyzer.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"hash/crc32"
)

// CRC32 is the IEEE 802.3 CRC-32 (reflected polynomial 0xEDB88320).
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Hasher accumulates a SHA-256 content digest over several buffers.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns an empty SHA-256 hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Write adds data to the digest.
func (d *Hasher) Write(data []byte) {
	_, _ = d.h.Write(data) // hash.Hash.Write never fails
}

// Hex returns the lowercase hex digest.
func (d *Hasher) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// SHA256Hex digests the concatenation of parts.
func SHA256Hex(parts ...[]byte) string {
	d := NewHasher()
	for _, p := range parts {
		d.Write(p)
	}
	return d.Hex()
}
