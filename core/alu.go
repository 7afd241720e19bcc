package core

import (
	"math/bits"

	"github.com/Riffe007/nanocore/isa"
)

// ALU evaluates scalar integer operations. It is stateless; the
// caller owns the flags word and commits the returned copy at
// writeback so a fault in an older instruction never leaves stale
// condition codes behind.
type ALU struct{}

// Execute computes op over a and b and returns the result together
// with the updated flags.
//
// Flag policy: add and subtract set C, V, N, Z; multiplies, divides
// and the bitwise group set N and Z and clear C and V; shifts and
// rotates set N and Z only.
func (ALU) Execute(op isa.Opcode, a, b uint64, f isa.Flags) (uint64, isa.Flags) {
	var res uint64

	switch op {
	case isa.OpADD:
		var carry uint64
		res, carry = bits.Add64(a, b, 0)
		f.SetC(carry != 0)
		f.SetV((^(a ^ b) & (a ^ res) >> 63) != 0)
		f.SetNZ(res)

	case isa.OpSUB:
		var borrow uint64
		res, borrow = bits.Sub64(a, b, 0)
		f.SetC(borrow != 0)
		f.SetV(((a ^ b) & (a ^ res) >> 63) != 0)
		f.SetNZ(res)

	case isa.OpMUL:
		res = a * b
		f.SetC(false)
		f.SetV(false)
		f.SetNZ(res)

	case isa.OpMULH:
		hi, _ := bits.Mul64(a, b)
		// adjust the unsigned product for signed operands
		if int64(a) < 0 {
			hi -= b
		}
		if int64(b) < 0 {
			hi -= a
		}
		res = hi
		f.SetC(false)
		f.SetV(false)
		f.SetNZ(res)

	case isa.OpDIV:
		res = divide(a, b, false)
		f.SetC(false)
		f.SetV(a == 1<<63 && int64(b) == -1)
		f.SetNZ(res)

	case isa.OpMOD:
		res = divide(a, b, true)
		f.SetC(false)
		f.SetV(false)
		f.SetNZ(res)

	case isa.OpAND:
		res = a & b
		f.SetC(false)
		f.SetV(false)
		f.SetNZ(res)

	case isa.OpOR:
		res = a | b
		f.SetC(false)
		f.SetV(false)
		f.SetNZ(res)

	case isa.OpXOR:
		res = a ^ b
		f.SetC(false)
		f.SetV(false)
		f.SetNZ(res)

	case isa.OpNOT:
		res = ^a
		f.SetC(false)
		f.SetV(false)
		f.SetNZ(res)

	case isa.OpSHL:
		res = a << (b & 63)
		f.SetNZ(res)

	case isa.OpSHR:
		res = a >> (b & 63)
		f.SetNZ(res)

	case isa.OpSAR:
		res = uint64(int64(a) >> (b & 63))
		f.SetNZ(res)

	case isa.OpROL:
		res = bits.RotateLeft64(a, int(b&63))
		f.SetNZ(res)

	case isa.OpROR:
		res = bits.RotateLeft64(a, -int(b&63))
		f.SetNZ(res)

	default:
		res = a
	}
	return res, f
}

// divide is signed, truncating toward zero; the remainder takes the
// sign of the dividend. Neither case traps: dividing by zero yields
// all ones, mod by zero returns the dividend, and the MinInt64/-1
// overflow wraps like the hardware it models.
func divide(a, b uint64, rem bool) uint64 {
	if b == 0 {
		if rem {
			return a
		}
		return ^uint64(0)
	}
	sa, sb := int64(a), int64(b)
	if sa == -1<<63 && sb == -1 {
		if rem {
			return 0
		}
		return a
	}
	if rem {
		return uint64(sa % sb)
	}
	return uint64(sa / sb)
}
