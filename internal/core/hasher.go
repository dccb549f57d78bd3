package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
)

const GenesisHashSeed = "TradeLedger:genesis:v1"

// StateHasher chains per-block state hashes
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	h := &StateHasher{}
	h.Reset()
	return h
}

// Reset returns the chain to the genesis hash.
func (h *StateHasher) Reset() {
	h.prevHash = sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || height || state_digest)
func (h *StateHasher) ComputeHash(height int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var heightBuf [8]byte
	binary.LittleEndian.PutUint64(heightBuf[:], uint64(height))
	hasher.Write(heightBuf[:])

	hasher.Write(stateDigest)

	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	h.prevHash = out
	return out
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip from its hex form.
func (h *StateHasher) SetPrevHash(hexHash string) error {
	raw, err := hex.DecodeString(hexHash)
	if err != nil {
		return fmt.Errorf("state hash: %w", err)
	}
	if len(raw) != len(h.prevHash) {
		return fmt.Errorf("state hash: expected %d bytes, got %d", len(h.prevHash), len(raw))
	}
	copy(h.prevHash[:], raw)
	return nil
}

// DigestWriter accumulates the canonical state digest: every snapshot
// line of every hashed subsystem, prefixed by the subsystem name.
type DigestWriter struct {
	h hash.Hash
}

func NewDigestWriter() *DigestWriter {
	return &DigestWriter{h: sha256.New()}
}

// Section starts a subsystem.
func (d *DigestWriter) Section(prefix string) {
	d.h.Write([]byte{byte(len(prefix))})
	d.h.Write([]byte(prefix))
}

// Line adds one snapshot line. Never fails.
func (d *DigestWriter) Line(line string) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(line)))
	d.h.Write(lenBuf[:])
	d.h.Write([]byte(line))
	return nil
}

// Sum returns the digest.
func (d *DigestWriter) Sum() []byte {
	return d.h.Sum(nil)
}
