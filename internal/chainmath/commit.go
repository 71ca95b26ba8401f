package chainmath

import "math/big"

// word32 left-pads v into a 32-byte big-endian word, ABI style for static
// value types.
func word32(v *big.Int) [32]byte {
	var out [32]byte
	b := v.Bytes()
	copy(out[32-len(b):], b)
	return out
}

func boolWord(b bool) [32]byte {
	if b {
		return word32(big.NewInt(1))
	}
	return word32(big.NewInt(0))
}

// EncodeCommitPreimage ABI-encodes (uint256 jobId, uint256 nonce, bool
// approve, bytes32 salt) as four concatenated 32-byte words — the exact
// preimage the validation contract hashes for commitValidation.
func EncodeCommitPreimage(jobID, nonce *big.Int, approve bool, salt [32]byte) []byte {
	out := make([]byte, 0, 128)
	jw := word32(jobID)
	nw := word32(nonce)
	aw := boolWord(approve)
	out = append(out, jw[:]...)
	out = append(out, nw[:]...)
	out = append(out, aw[:]...)
	out = append(out, salt[:]...)
	return out
}

// CommitHash is keccak256(abi.encode(jobId, nonce, approve, salt)), the
// commit-reveal protocol's commitment value.
func CommitHash(jobID, nonce *big.Int, approve bool, salt [32]byte) [32]byte {
	return Keccak256(EncodeCommitPreimage(jobID, nonce, approve, salt))
}
