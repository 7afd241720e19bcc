package isa

// Flags is the processor status word. The low bits hold the ALU
// condition codes; the control bits follow.
type Flags uint64

const (
	// FlagZ - zero
	FlagZ = 1 << 0
	// FlagC - carry / borrow
	FlagC = 1 << 1
	// FlagV - signed overflow
	FlagV = 1 << 2
	// FlagN - negative
	FlagN = 1 << 3
	// FlagIE - interrupts enabled
	FlagIE = 1 << 4
	// FlagUser - user mode
	FlagUser = 1 << 5
	// FlagHalted - machine has executed HALT
	FlagHalted = 1 << 7
)

func (f *Flags) getFlag(mask Flags) bool {
	return *f&mask != 0
}

func (f *Flags) setFlag(mask Flags, b bool) {
	if b {
		*f |= mask
	} else {
		*f &^= mask
	}
}

// Z returns the zero flag.
func (f *Flags) Z() bool { return f.getFlag(FlagZ) }

// SetZ sets the zero flag.
func (f *Flags) SetZ(b bool) { f.setFlag(FlagZ, b) }

// C returns the carry flag.
func (f *Flags) C() bool { return f.getFlag(FlagC) }

// SetC sets the carry flag.
func (f *Flags) SetC(b bool) { f.setFlag(FlagC, b) }

// V returns the overflow flag.
func (f *Flags) V() bool { return f.getFlag(FlagV) }

// SetV sets the overflow flag.
func (f *Flags) SetV(b bool) { f.setFlag(FlagV, b) }

// N returns the negative flag.
func (f *Flags) N() bool { return f.getFlag(FlagN) }

// SetN sets the negative flag.
func (f *Flags) SetN(b bool) { f.setFlag(FlagN, b) }

// IE returns the interrupt enable flag.
func (f *Flags) IE() bool { return f.getFlag(FlagIE) }

// SetIE sets the interrupt enable flag.
func (f *Flags) SetIE(b bool) { f.setFlag(FlagIE, b) }

// User returns the user mode flag.
func (f *Flags) User() bool { return f.getFlag(FlagUser) }

// SetUser sets the user mode flag.
func (f *Flags) SetUser(b bool) { f.setFlag(FlagUser, b) }

// Halted returns the halted flag.
func (f *Flags) Halted() bool { return f.getFlag(FlagHalted) }

// SetHalted sets the halted flag.
func (f *Flags) SetHalted(b bool) { f.setFlag(FlagHalted, b) }

// SetNZ derives the negative and zero flags from a 64-bit result.
func (f *Flags) SetNZ(result uint64) {
	f.setFlag(FlagZ, result == 0)
	f.setFlag(FlagN, result>>63 != 0)
}

// String renders the flags for the status view, set bits uppercase.
func (f *Flags) String() string {
	out := make([]byte, 0, 8)
	put := func(set bool, c byte) {
		if set {
			out = append(out, c)
		} else {
			out = append(out, c|0x20)
		}
	}
	put(f.Halted(), 'H')
	put(f.User(), 'U')
	put(f.IE(), 'I')
	put(f.N(), 'N')
	put(f.V(), 'V')
	put(f.C(), 'C')
	put(f.Z(), 'Z')
	return string(out)
}
