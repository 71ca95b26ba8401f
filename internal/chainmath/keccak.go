// Package chainmath implements the ledger-facing primitives the orchestrator
// needs without a full ABI/RLP library: Keccak-256 hashing, the job
// registry's packed-metadata bit layout, Merkle-root anchoring, and the
// commit-hash encoding used by the validator protocol.
package chainmath

import "golang.org/x/crypto/sha3"

// Keccak256 returns the Ethereum-flavored (pre-NIST, "Legacy") Keccak-256
// digest of the concatenation of data.
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
