package core

import (
	"testing"

	"github.com/Riffe007/nanocore/isa"
)

func TestALU_execute(t *testing.T) {
	tests := []struct {
		name       string
		op         isa.Opcode
		a, b       uint64
		want       uint64
		c, v, n, z bool
	}{
		{"add", isa.OpADD, 2, 3, 5, false, false, false, false},
		{"add carry", isa.OpADD, ^uint64(0), 1, 0, true, false, false, true},
		{"add overflow", isa.OpADD, 1<<63 - 1, 1, 1 << 63, false, true, true, false},
		{"add min plus min", isa.OpADD, 1 << 63, 1 << 63, 0, true, true, false, true},
		{"sub", isa.OpSUB, 5, 3, 2, false, false, false, false},
		{"sub borrow", isa.OpSUB, 3, 5, ^uint64(1), true, false, true, false},
		{"sub equal", isa.OpSUB, 7, 7, 0, false, false, false, true},
		{"sub overflow", isa.OpSUB, 1 << 63, 1, 1<<63 - 1, false, true, false, false},
		{"mul", isa.OpMUL, 7, 6, 42, false, false, false, false},
		{"mul wraps", isa.OpMUL, 1 << 32, 1 << 32, 0, false, false, false, true},
		{"mulh positive", isa.OpMULH, 1 << 62, 4, 1, false, false, false, false},
		{"mulh negative", isa.OpMULH, ^uint64(0), 2, ^uint64(0), false, false, true, false},
		{"mulh both negative", isa.OpMULH, ^uint64(1), ^uint64(2), 0, false, false, false, true},
		{"div", isa.OpDIV, 42, 5, 8, false, false, false, false},
		{"div negative", isa.OpDIV, ^uint64(6), 2, ^uint64(2), false, false, true, false},
		{"div by zero", isa.OpDIV, 9, 0, ^uint64(0), false, false, true, false},
		{"div min by minus one", isa.OpDIV, 1 << 63, ^uint64(0), 1 << 63, false, true, true, false},
		{"mod", isa.OpMOD, 42, 5, 2, false, false, false, false},
		{"mod negative dividend", isa.OpMOD, ^uint64(6), 2, ^uint64(0), false, false, true, false},
		{"mod by zero", isa.OpMOD, 9, 0, 9, false, false, false, false},
		{"mod min by minus one", isa.OpMOD, 1 << 63, ^uint64(0), 0, false, false, false, true},
		{"and", isa.OpAND, 0xF0, 0x3C, 0x30, false, false, false, false},
		{"or", isa.OpOR, 0xF0, 0x0F, 0xFF, false, false, false, false},
		{"xor", isa.OpXOR, 0xFF, 0x0F, 0xF0, false, false, false, false},
		{"xor to zero", isa.OpXOR, 0xAA, 0xAA, 0, false, false, false, true},
		{"not", isa.OpNOT, 0, 0, ^uint64(0), false, false, true, false},
		{"shl", isa.OpSHL, 1, 4, 16, false, false, false, false},
		{"shl out the top", isa.OpSHL, 1 << 63, 1, 0, false, false, false, true},
		{"shl count wraps", isa.OpSHL, 1, 64, 1, false, false, false, false},
		{"shr", isa.OpSHR, 0x80, 4, 8, false, false, false, false},
		{"shr zero fills", isa.OpSHR, 1 << 63, 63, 1, false, false, false, false},
		{"sar sign extends", isa.OpSAR, 1 << 63, 63, ^uint64(0), false, false, true, false},
		{"rol", isa.OpROL, 1 << 63, 1, 1, false, false, false, false},
		{"ror", isa.OpROR, 1, 1, 1 << 63, false, false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, f := ALU{}.Execute(tt.op, tt.a, tt.b, 0)
			if res != tt.want {
				t.Errorf("Execute(%v, %#x, %#x) = %#x, want %#x", tt.op, tt.a, tt.b, res, tt.want)
			}
			if f.C() != tt.c || f.V() != tt.v || f.N() != tt.n || f.Z() != tt.z {
				t.Errorf("flags = %s, want c=%v v=%v n=%v z=%v",
					f.String(), tt.c, tt.v, tt.n, tt.z)
			}
		})
	}
}

func TestALU_flagPolicy(t *testing.T) {
	var base isa.Flags
	base.SetC(true)
	base.SetV(true)
	base.SetIE(true)

	// shifts leave carry and overflow alone
	_, f := ALU{}.Execute(isa.OpSHL, 1, 1, base)
	if !f.C() || !f.V() {
		t.Errorf("shift clobbered c/v: %s", f.String())
	}

	// the bitwise group clears them
	_, f = ALU{}.Execute(isa.OpAND, 1, 1, base)
	if f.C() || f.V() {
		t.Errorf("bitwise kept c/v: %s", f.String())
	}

	// control bits are never condition codes
	for _, op := range []isa.Opcode{isa.OpADD, isa.OpMUL, isa.OpSHR, isa.OpXOR} {
		if _, f := (ALU{}).Execute(op, 1, 2, base); !f.IE() {
			t.Errorf("%v dropped the interrupt enable bit", op)
		}
	}
}
