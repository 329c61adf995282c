package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

const GenesisHashSeed = "SpotLedger:journal:v1"

// JournalHasher chains journal entries into a tamper-evident fingerprint:
// hash[N] = SHA-256(hash[N-1] || sequence || entry_digest).
type JournalHasher struct {
	prevHash [32]byte
	sequence int64
}

// NewJournalHasher starts a chain at the genesis hash.
func NewJournalHasher() *JournalHasher {
	return &JournalHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// Add extends the chain with e and returns the new tip.
func (h *JournalHasher) Add(e JournalEntry) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(e.Sequence))
	hasher.Write(seqBuf[:])

	digest := entryDigest(e)
	hasher.Write(digest[:])

	copy(h.prevHash[:], hasher.Sum(nil))
	h.sequence = e.Sequence
	return h.prevHash
}

// Tip returns the current chain head and the last sequence hashed.
func (h *JournalHasher) Tip() ([32]byte, int64) {
	return h.prevHash, h.sequence
}

func (h *JournalHasher) Hex() string {
	return hex.EncodeToString(h.prevHash[:])
}

// entryDigest hashes the fields that define a mutation. Decimals use their
// canonical string so 1.50 and 1.5 digest alike.
func entryDigest(e JournalEntry) [32]byte {
	hasher := sha256.New()
	for _, part := range []string{
		e.ID.String(),
		e.UserID.String(),
		e.Asset,
		string(e.Kind),
		e.AvailableDelta.String(),
		e.LockedDelta.String(),
		e.Ref.Type,
		e.Ref.ID.String(),
	} {
		hasher.Write([]byte(part))
		hasher.Write([]byte{0})
	}
	var ver [8]byte
	binary.LittleEndian.PutUint64(ver[:], uint64(e.BalanceVersion))
	hasher.Write(ver[:])

	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

// HashJournal returns the chain tip over entries in order.
func HashJournal(entries []JournalEntry) [32]byte {
	h := NewJournalHasher()
	for i := range entries {
		h.Add(entries[i])
	}
	tip, _ := h.Tip()
	return tip
}
