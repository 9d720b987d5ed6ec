package engine

import (
	"crypto/sha256"
	"encoding/binary"

	"PayLedger/internal/ledger"
)

const genesisHashSeed = "PayLedger:genesis:v1"

// StateHasher computes the deterministic state hash chain. Each applied
// event produces state_hash[N] = SHA-256(prev_hash || sequence || digest of
// the touched accounts), so two runs over the same stream end at the same
// chain tip.
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(genesisHashSeed)),
	}
}

// ComputeHash advances the chain and returns the new tip.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// accountDigest builds the canonical byte encoding of one account snapshot
// for hashing: client id, available, held as little-endian, locked as a
// single byte.
func accountDigest(snap ledger.Snapshot) []byte {
	buf := make([]byte, 0, 19)

	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], snap.Client)
	buf = append(buf, u16[:]...)

	buf = appendInt64LE(buf, snap.Available)
	buf = appendInt64LE(buf, snap.Held)

	if snap.Locked {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
