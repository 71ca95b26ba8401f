package chainmath

import "math/big"

// PackedMetadata is the decoded form of the job registry's 256-bit
// packedMetadata field returned by jobs(jobId). Bit layout (inclusive lower
// bound, exclusive upper bound):
//
//	state@0:3         burnConfirmed@4:5    feePct@13:45       deadline@77:141
//	success@3:4       agentTypes@5:13      agentPct@45:77     assignedAt@141:205
type PackedMetadata struct {
	State         uint8
	Success       bool
	BurnConfirmed bool
	AgentTypes    uint16
	FeePct        uint64
	AgentPct      uint64
	Deadline      uint64
	AssignedAt    uint64
}

type bitField struct {
	offset, width uint
}

var (
	fieldState         = bitField{0, 3}
	fieldSuccess       = bitField{3, 1}
	fieldBurnConfirmed = bitField{4, 1}
	fieldAgentTypes    = bitField{5, 8}
	fieldFeePct        = bitField{13, 32}
	fieldAgentPct      = bitField{45, 32}
	fieldDeadline      = bitField{77, 64}
	fieldAssignedAt    = bitField{141, 64}
)

func extract(packed *big.Int, f bitField) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), f.width)
	mask.Sub(mask, big.NewInt(1))
	shifted := new(big.Int).Rsh(packed, f.offset)
	return shifted.And(shifted, mask)
}

func place(into *big.Int, f bitField, value *big.Int) {
	mask := new(big.Int).Lsh(big.NewInt(1), f.width)
	mask.Sub(mask, big.NewInt(1))
	masked := new(big.Int).And(value, mask)
	masked.Lsh(masked, f.offset)
	into.Or(into, masked)
}

// DecodePackedMetadata decodes a 256-bit packedMetadata integer into its
// named fields, per the job registry's bit layout.
func DecodePackedMetadata(packed *big.Int) PackedMetadata {
	return PackedMetadata{
		State:         uint8(extract(packed, fieldState).Uint64()),
		Success:       extract(packed, fieldSuccess).Sign() != 0,
		BurnConfirmed: extract(packed, fieldBurnConfirmed).Sign() != 0,
		AgentTypes:    uint16(extract(packed, fieldAgentTypes).Uint64()),
		FeePct:        extract(packed, fieldFeePct).Uint64(),
		AgentPct:      extract(packed, fieldAgentPct).Uint64(),
		Deadline:      extract(packed, fieldDeadline).Uint64(),
		AssignedAt:    extract(packed, fieldAssignedAt).Uint64(),
	}
}

// EncodePackedMetadata packs the named fields back into a 256-bit integer
// using the same bit layout DecodePackedMetadata reads. Values wider than
// their field are truncated to the field's low bits, matching how the
// on-chain packer would overflow.
func EncodePackedMetadata(m PackedMetadata) *big.Int {
	packed := new(big.Int)
	boolBig := func(b bool) *big.Int {
		if b {
			return big.NewInt(1)
		}
		return big.NewInt(0)
	}
	place(packed, fieldState, big.NewInt(int64(m.State)))
	place(packed, fieldSuccess, boolBig(m.Success))
	place(packed, fieldBurnConfirmed, boolBig(m.BurnConfirmed))
	place(packed, fieldAgentTypes, big.NewInt(int64(m.AgentTypes)))
	place(packed, fieldFeePct, new(big.Int).SetUint64(m.FeePct))
	place(packed, fieldAgentPct, new(big.Int).SetUint64(m.AgentPct))
	place(packed, fieldDeadline, new(big.Int).SetUint64(m.Deadline))
	place(packed, fieldAssignedAt, new(big.Int).SetUint64(m.AssignedAt))
	return packed
}
