package core

import (
	"math"

	"github.com/Riffe007/nanocore/isa"
)

// VectorUnit evaluates the packed float64 operations. Each vector
// register holds four lanes; lanes carry raw bit patterns so integer
// data survives a round trip untouched.
type VectorUnit struct{}

// Arith computes a lane-wise arithmetic op. For VFMA, acc carries
// the accumulator (the destination register's old lanes). When
// masked, only lanes whose bit is set in the low nibble of the mask
// register's first lane are written; the rest keep acc's values.
func (VectorUnit) Arith(op isa.Opcode, vs1, vs2, acc, mask [isa.VectorLanes]uint64, masked bool) [isa.VectorLanes]uint64 {
	var out [isa.VectorLanes]uint64
	gate := uint64(0xF)
	if masked {
		gate = mask[0] & 0xF
	}
	for i := 0; i < isa.VectorLanes; i++ {
		if gate&(1<<i) == 0 {
			out[i] = acc[i]
			continue
		}
		a := math.Float64frombits(vs1[i])
		b := math.Float64frombits(vs2[i])
		var v float64
		switch op {
		case isa.OpVADD:
			v = a + b
		case isa.OpVSUB:
			v = a - b
		case isa.OpVMUL:
			v = a * b
		case isa.OpVFMA:
			v = math.FMA(a, b, math.Float64frombits(acc[i]))
		}
		out[i] = math.Float64bits(v)
	}
	return out
}

// Broadcast replicates a scalar bit pattern into all four lanes.
func (VectorUnit) Broadcast(v uint64) [isa.VectorLanes]uint64 {
	return [isa.VectorLanes]uint64{v, v, v, v}
}
