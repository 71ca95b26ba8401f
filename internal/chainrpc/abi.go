package chainrpc

import (
	"encoding/hex"
	"math/big"

	"github.com/marcus-qen/agia-orchestrator/internal/chainmath"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// selector returns the first 4 bytes of keccak256(signature), the standard
// Solidity function selector (spec §6 names each call by its Solidity
// signature, e.g. "applyForJob(uint256,string,bytes[])").
func selector(signature string) [4]byte {
	h := chainmath.Keccak256([]byte(signature))
	var sel [4]byte
	copy(sel[:], h[:4])
	return sel
}

// topic returns the event-signature hash used as topics[0] (spec §6 names
// each event by its Solidity signature, e.g. "JobCreated(uint256,...)").
func topic(signature string) [32]byte {
	return chainmath.Keccak256([]byte(signature))
}

func word(n *big.Int) [32]byte {
	var w [32]byte
	if n == nil {
		return w
	}
	b := n.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(w[32-len(b):], b)
	return w
}

func boolWord(b bool) [32]byte {
	if b {
		return word(big.NewInt(1))
	}
	return word(big.NewInt(0))
}

func addressWord(addr ledger.Address) [32]byte {
	var w [32]byte
	raw, err := hex.DecodeString(trimHexPrefix(string(addr)))
	if err == nil && len(raw) <= 32 {
		copy(w[32-len(raw):], raw)
	}
	return w
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// encodeBytes ABI-encodes a dynamic bytes value: a length word followed by
// the value, right-padded to a multiple of 32 bytes.
func encodeBytes(b []byte) []byte {
	out := make([]byte, 0, 64+len(b))
	out = append(out, word(big.NewInt(int64(len(b))))[:]...)
	padded := make([]byte, (len(b)+31)/32*32)
	copy(padded, b)
	return append(out, padded...)
}

func encodeString(s string) []byte { return encodeBytes([]byte(s)) }

// call assembles Solidity ABI calldata: one head word per argument (a static
// arg inline, a dynamic arg an offset patched by data()) plus a tail holding
// the dynamic argument bodies in registration order.
type call struct {
	sel       [4]byte
	head      [][32]byte
	isDynamic []bool
	tail      [][]byte
}

func newCall(signature string) *call {
	return &call{sel: selector(signature)}
}

func (c *call) staticWord(w [32]byte) *call {
	c.head = append(c.head, w)
	c.isDynamic = append(c.isDynamic, false)
	return c
}

func (c *call) dynamic(encoded []byte) *call {
	c.head = append(c.head, [32]byte{})
	c.isDynamic = append(c.isDynamic, true)
	c.tail = append(c.tail, encoded)
	return c
}

// data renders the full calldata: selector, then head with dynamic offsets
// patched to point past the head, then the tail in registration order.
func (c *call) data() []byte {
	headLen := len(c.head) * 32
	tailOffset := headLen
	tailIdx := 0

	out := make([]byte, 4, 4+headLen+tailLen(c.tail))
	copy(out, c.sel[:])

	for i, w := range c.head {
		if c.isDynamic[i] {
			w = word(big.NewInt(int64(tailOffset)))
			tailOffset += len(c.tail[tailIdx])
			tailIdx++
		}
		out = append(out, w[:]...)
	}
	for _, t := range c.tail {
		out = append(out, t...)
	}
	return out
}

func tailLen(tail [][]byte) int {
	n := 0
	for _, t := range tail {
		n += len(t)
	}
	return n
}
