package chainrpc

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

func TestCallDataStaticArgsOnly(t *testing.T) {
	data := newCall("stakeOf(address,uint8)").
		staticWord(addressWord(ledger.Address("0x00000000000000000000000000000000000000aa"))).
		staticWord(word(big.NewInt(0))).
		data()

	if len(data) != 4+2*32 {
		t.Fatalf("data length = %d, want %d", len(data), 4+2*32)
	}
	sel := selector("stakeOf(address,uint8)")
	if !bytesEqual(data[:4], sel[:]) {
		t.Fatalf("selector mismatch: got %x want %x", data[:4], sel)
	}
	addrWord := data[4:36]
	for _, b := range addrWord[:11] {
		if b != 0 {
			t.Fatalf("expected left-padding zeros in address word, got %x", addrWord)
		}
	}
	if hex.EncodeToString(addrWord[12:]) != "00000000000000000000000000000000000000aa" {
		t.Fatalf("address word tail = %x", addrWord[12:])
	}
}

func TestCallDataDynamicArgOffsetAndTail(t *testing.T) {
	data := newCall("finalizeJob(uint256,string)").
		staticWord(word(big.NewInt(7))).
		dynamic(encodeString("hello")).
		data()

	// selector(4) + head(2 words: jobId, offset) = 68 bytes before tail.
	headEnd := 4 + 2*32
	offset := new(big.Int).SetBytes(data[4+32 : 4+64]).Int64()
	if offset != 64 {
		t.Fatalf("dynamic offset = %d, want 64 (relative to start of head, i.e. end of head)", offset)
	}

	tail := data[headEnd:]
	length := new(big.Int).SetBytes(tail[:32]).Int64()
	if length != 5 {
		t.Fatalf("encoded string length = %d, want 5", length)
	}
	body := tail[32:37]
	if string(body) != "hello" {
		t.Fatalf("encoded string body = %q, want %q", body, "hello")
	}
	// body is right-padded to a 32-byte multiple.
	if len(tail) != 32+32 {
		t.Fatalf("tail length = %d, want %d", len(tail), 64)
	}
}

func TestCallDataMultipleDynamicArgsOrderTailSequentially(t *testing.T) {
	data := newCall("applyForJob(uint256,string,bytes[])").
		staticWord(word(big.NewInt(1))).
		dynamic(encodeString("sub")).
		dynamic(encodeBytesArray([][]byte{{0x01, 0x02}})).
		data()

	offset1 := new(big.Int).SetBytes(data[4+32 : 4+64]).Int64()
	offset2 := new(big.Int).SetBytes(data[4+64 : 4+96]).Int64()
	if offset1 != 96 {
		t.Fatalf("first dynamic offset = %d, want 96 (3 head words)", offset1)
	}
	firstTailLen := int64(len(encodeString("sub")))
	if offset2 != 96+firstTailLen {
		t.Fatalf("second dynamic offset = %d, want %d", offset2, 96+firstTailLen)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
