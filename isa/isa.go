// Package isa defines the nanocore instruction set: opcode numbers,
// encoding formats, the decoder, and the flags word. The machine is a
// 64-bit little-endian RISC with 32-bit instruction words.
package isa

import "fmt"

// Opcode is the primary opcode, bits [31:26] of the instruction word.
type Opcode uint8

const (
	OpADD  Opcode = 0x00
	OpSUB  Opcode = 0x01
	OpMUL  Opcode = 0x02
	OpMULH Opcode = 0x03
	OpDIV  Opcode = 0x04
	OpMOD  Opcode = 0x05
	OpAND  Opcode = 0x06
	OpOR   Opcode = 0x07
	OpXOR  Opcode = 0x08
	OpNOT  Opcode = 0x09
	OpSHL  Opcode = 0x0A
	OpSHR  Opcode = 0x0B
	OpSAR  Opcode = 0x0C
	OpROL  Opcode = 0x0D
	OpROR  Opcode = 0x0E

	OpLD Opcode = 0x0F
	OpLW Opcode = 0x10
	OpLH Opcode = 0x11
	OpLB Opcode = 0x12
	OpST Opcode = 0x13
	OpSW Opcode = 0x14
	OpSH Opcode = 0x15
	OpSB Opcode = 0x16

	OpBEQ  Opcode = 0x17
	OpBNE  Opcode = 0x18
	OpBLT  Opcode = 0x19
	OpBGE  Opcode = 0x1A
	OpBLTU Opcode = 0x1B
	OpBGEU Opcode = 0x1C

	OpJMP     Opcode = 0x1D
	OpCALL    Opcode = 0x1E
	OpRET     Opcode = 0x1F
	OpSYSCALL Opcode = 0x20
	OpHALT    Opcode = 0x21
	OpNOP     Opcode = 0x22

	OpCPUID    Opcode = 0x23
	OpRDCYCLE  Opcode = 0x24
	OpRDPERF   Opcode = 0x25
	OpPREFETCH Opcode = 0x26
	OpCLFLUSH  Opcode = 0x27
	OpFENCE    Opcode = 0x28

	OpLR      Opcode = 0x29
	OpSC      Opcode = 0x2A
	OpAMOSWAP Opcode = 0x2B
	OpAMOADD  Opcode = 0x2C
	OpAMOAND  Opcode = 0x2D
	OpAMOOR   Opcode = 0x2E
	OpAMOXOR  Opcode = 0x2F

	OpVADD Opcode = 0x30
	OpVSUB Opcode = 0x31
	OpVMUL Opcode = 0x32
	OpVFMA Opcode = 0x33

	OpVLOAD      Opcode = 0x34
	OpVSTORE     Opcode = 0x35
	OpVBROADCAST Opcode = 0x36

	OpLDI  Opcode = 0x37
	OpLUI  Opcode = 0x38
	OpIRET Opcode = 0x39

	// opcodes 0x3A..0x3F are unassigned and decode to an invalid
	// instruction.
	numOpcodes = 0x3A
)

// Format is the instruction encoding format.
type Format uint8

const (
	// FormatR : opcode rd rs1 rs2 shamt funct
	FormatR Format = iota
	// FormatI : opcode rd rs1 imm16 (sign-extended)
	FormatI
	// FormatJ : opcode imm26 (sign-extended)
	FormatJ
	// FormatV : opcode vd vs1 vs2 vmask vfunct
	FormatV
)

// Register aliases. SP and LR are ordinary GPRs by encoding; the
// calling convention gives them their roles.
const (
	RegZero = 0
	RegSP   = 30
	RegLR   = 31

	NumGPR  = 32
	NumVReg = 16

	// NoReg marks an absent operand in the normalized view.
	NoReg = 0xFF
)

// VectorLanes is the SIMD width: 4 lanes of 64 bits.
const VectorLanes = 4

// CPUIDValue is returned by the CPUID instruction: 'n' 'c' and the
// ISA revision.
const CPUIDValue uint64 = 0x6E63_0001

var formats = [numOpcodes]Format{
	OpADD: FormatR, OpSUB: FormatR, OpMUL: FormatR, OpMULH: FormatR,
	OpDIV: FormatR, OpMOD: FormatR, OpAND: FormatR, OpOR: FormatR,
	OpXOR: FormatR, OpNOT: FormatR, OpSHL: FormatR, OpSHR: FormatR,
	OpSAR: FormatR, OpROL: FormatR, OpROR: FormatR,

	OpLD: FormatI, OpLW: FormatI, OpLH: FormatI, OpLB: FormatI,
	OpST: FormatI, OpSW: FormatI, OpSH: FormatI, OpSB: FormatI,
	OpBEQ: FormatI, OpBNE: FormatI, OpBLT: FormatI, OpBGE: FormatI,
	OpBLTU: FormatI, OpBGEU: FormatI, OpJMP: FormatI,

	OpCALL: FormatJ, OpRET: FormatJ, OpSYSCALL: FormatJ,
	OpHALT: FormatJ, OpNOP: FormatJ, OpFENCE: FormatJ, OpIRET: FormatJ,

	OpCPUID: FormatR, OpRDCYCLE: FormatR, OpRDPERF: FormatR,
	OpPREFETCH: FormatI, OpCLFLUSH: FormatI,

	OpLR: FormatI, OpSC: FormatI,
	OpAMOSWAP: FormatR, OpAMOADD: FormatR, OpAMOAND: FormatR,
	OpAMOOR: FormatR, OpAMOXOR: FormatR,

	OpVADD: FormatV, OpVSUB: FormatV, OpVMUL: FormatV, OpVFMA: FormatV,
	OpVLOAD: FormatV, OpVSTORE: FormatV, OpVBROADCAST: FormatV,

	OpLDI: FormatI, OpLUI: FormatI,
}

// FormatOf returns the encoding format of op. Unassigned opcodes
// report FormatJ; Decode rejects them before the format matters.
func FormatOf(op Opcode) Format {
	if int(op) < len(formats) {
		return formats[op]
	}
	return FormatJ
}

// MemWidth returns the access width in bytes of a load/store opcode,
// or 0 for everything else.
func MemWidth(op Opcode) int {
	switch op {
	case OpLD, OpST, OpLR, OpSC,
		OpAMOSWAP, OpAMOADD, OpAMOAND, OpAMOOR, OpAMOXOR:
		return 8
	case OpLW, OpSW:
		return 4
	case OpLH, OpSH:
		return 2
	case OpLB, OpSB:
		return 1
	case OpVLOAD, OpVSTORE:
		return 8 * VectorLanes
	}
	return 0
}

// Instruction is a decoded instruction word.
//
// The raw fields mirror the encoding. The normalized view
// (Dest/Src1/Src2 and the V* equivalents) undoes the assembler's
// field shuffling (stores carry the value register in the rd field,
// branches carry rs1 in rd and rs2 in rs1) so the pipeline's hazard
// logic can treat every instruction uniformly.
type Instruction struct {
	Word uint32
	Op   Opcode
	Fmt  Format

	Rd, Rs1, Rs2 uint8
	Shamt, Funct uint8

	Vd, Vs1, Vs2 uint8
	Vmask        uint8
	Vfunct       uint8

	// Imm is the sign-extended imm16 (I-type) or imm26 (J-type).
	Imm int64

	Dest, Src1, Src2    uint8
	VDest, VSrc1, VSrc2 uint8

	MemRead  bool
	MemWrite bool
	Branch   bool
	Vector   bool
	// Serial instructions (SYSCALL, IRET, HALT) drain the pipeline
	// before dispatch and block fetch until they retire.
	Serial bool
}

// SignExtend16 sign-extends the low 16 bits of v.
func SignExtend16(v uint32) int64 {
	return int64(int16(uint16(v)))
}

// SignExtend26 sign-extends the low 26 bits of v.
func SignExtend26(v uint32) int64 {
	v &= 0x03FF_FFFF
	if v&0x0200_0000 != 0 {
		v |= 0xFC00_0000
	}
	return int64(int32(v))
}

// Decode splits a 32-bit instruction word. An unassigned opcode is
// the only decode error; field values are always in range by
// construction.
func Decode(word uint32) (Instruction, error) {
	op := Opcode(word >> 26)
	if op >= numOpcodes {
		return Instruction{}, fmt.Errorf("invalid opcode %#02x in word %#08x", uint8(op), word)
	}

	inst := Instruction{
		Word:  word,
		Op:    op,
		Fmt:   FormatOf(op),
		Dest:  NoReg,
		Src1:  NoReg,
		Src2:  NoReg,
		VDest: NoReg,
		VSrc1: NoReg,
		VSrc2: NoReg,
	}

	switch inst.Fmt {
	case FormatR:
		inst.Rd = uint8(word >> 21 & 0x1F)
		inst.Rs1 = uint8(word >> 16 & 0x1F)
		inst.Rs2 = uint8(word >> 11 & 0x1F)
		inst.Shamt = uint8(word >> 6 & 0x1F)
		inst.Funct = uint8(word & 0x3F)
	case FormatI:
		inst.Rd = uint8(word >> 21 & 0x1F)
		inst.Rs1 = uint8(word >> 16 & 0x1F)
		inst.Imm = SignExtend16(word)
	case FormatJ:
		inst.Imm = SignExtend26(word)
	case FormatV:
		inst.Vd = uint8(word >> 21 & 0x1F)
		inst.Vs1 = uint8(word >> 16 & 0x1F)
		inst.Vs2 = uint8(word >> 11 & 0x1F)
		inst.Vmask = uint8(word >> 8 & 0x07)
		inst.Vfunct = uint8(word & 0xFF)
	}

	normalize(&inst)
	return inst, nil
}

// normalize fills the semantic operand view and the control bits.
func normalize(inst *Instruction) {
	switch inst.Op {
	case OpADD, OpSUB, OpMUL, OpMULH, OpDIV, OpMOD,
		OpAND, OpOR, OpXOR, OpSHL, OpSHR, OpSAR, OpROL, OpROR:
		inst.Dest, inst.Src1, inst.Src2 = inst.Rd, inst.Rs1, inst.Rs2

	case OpNOT:
		inst.Dest, inst.Src1 = inst.Rd, inst.Rs1

	case OpLD, OpLW, OpLH, OpLB:
		inst.Dest, inst.Src1 = inst.Rd, inst.Rs1
		inst.MemRead = true

	case OpST, OpSW, OpSH, OpSB:
		// value to store travels in the rd field
		inst.Src1, inst.Src2 = inst.Rs1, inst.Rd
		inst.MemWrite = true

	case OpBEQ, OpBNE, OpBLT, OpBGE, OpBLTU, OpBGEU:
		// compared registers travel in the rd and rs1 fields
		inst.Src1, inst.Src2 = inst.Rd, inst.Rs1
		inst.Branch = true

	case OpJMP:
		inst.Src1 = inst.Rs1
		if inst.Rd != RegZero {
			inst.Dest = inst.Rd
		}
		inst.Branch = true

	case OpCALL:
		inst.Dest = RegLR
		inst.Branch = true

	case OpRET:
		inst.Src1 = RegLR
		inst.Branch = true

	case OpSYSCALL, OpIRET, OpHALT:
		inst.Serial = true

	case OpNOP, OpFENCE:
		// nothing

	case OpCPUID, OpRDCYCLE:
		inst.Dest = inst.Rd

	case OpRDPERF:
		inst.Dest, inst.Src1 = inst.Rd, inst.Rs1

	case OpPREFETCH, OpCLFLUSH:
		inst.Src1 = inst.Rs1

	case OpLR:
		inst.Dest, inst.Src1 = inst.Rd, inst.Rs1
		inst.MemRead = true

	case OpSC:
		// reads rd as the store value, writes rd with the outcome
		inst.Dest, inst.Src1, inst.Src2 = inst.Rd, inst.Rs1, inst.Rd
		inst.MemWrite = true

	case OpAMOSWAP, OpAMOADD, OpAMOAND, OpAMOOR, OpAMOXOR:
		inst.Dest, inst.Src1, inst.Src2 = inst.Rd, inst.Rs1, inst.Rs2
		inst.MemRead = true
		inst.MemWrite = true

	case OpVADD, OpVSUB, OpVMUL:
		inst.VDest, inst.VSrc1, inst.VSrc2 = inst.Vd, inst.Vs1, inst.Vs2
		inst.Vector = true

	case OpVFMA:
		// accumulates into vd, so vd is both source and destination
		inst.VDest, inst.VSrc1, inst.VSrc2 = inst.Vd, inst.Vs1, inst.Vs2
		inst.Vector = true

	case OpVLOAD:
		// address comes from the GPR named by the vs1 field
		inst.VDest, inst.Src1 = inst.Vd, inst.Vs1
		inst.MemRead = true
		inst.Vector = true

	case OpVSTORE:
		inst.VSrc1, inst.Src1 = inst.Vd, inst.Vs1
		inst.MemWrite = true
		inst.Vector = true

	case OpVBROADCAST:
		inst.VDest, inst.Src1 = inst.Vd, inst.Vs1
		inst.Vector = true

	case OpLDI, OpLUI:
		inst.Dest = inst.Rd
	}

	if inst.Dest == RegZero {
		inst.Dest = NoReg
	}
}

// WritesGPR reports whether the instruction commits a scalar result.
func (inst *Instruction) WritesGPR() bool {
	return inst.Dest != NoReg
}

// Encode helpers, used by the assembler and by tests that build
// programs by hand.

// EncodeR builds an R-type word.
func EncodeR(op Opcode, rd, rs1, rs2, shamt, funct uint8) uint32 {
	return uint32(op)<<26 | uint32(rd&0x1F)<<21 | uint32(rs1&0x1F)<<16 |
		uint32(rs2&0x1F)<<11 | uint32(shamt&0x1F)<<6 | uint32(funct&0x3F)
}

// EncodeI builds an I-type word. The immediate is truncated to 16
// bits; callers range-check.
func EncodeI(op Opcode, rd, rs1 uint8, imm int64) uint32 {
	return uint32(op)<<26 | uint32(rd&0x1F)<<21 | uint32(rs1&0x1F)<<16 |
		uint32(uint16(imm))
}

// EncodeJ builds a J-type word from a 26-bit signed immediate.
func EncodeJ(op Opcode, imm int64) uint32 {
	return uint32(op)<<26 | uint32(imm)&0x03FF_FFFF
}

// EncodeV builds a V-type word.
func EncodeV(op Opcode, vd, vs1, vs2, vmask, vfunct uint8) uint32 {
	return uint32(op)<<26 | uint32(vd&0x1F)<<21 | uint32(vs1&0x1F)<<16 |
		uint32(vs2&0x1F)<<11 | uint32(vmask&0x07)<<8 | uint32(vfunct)
}

// EncodeBranch builds a conditional branch, hiding the field
// shuffling: a and b are the compared registers, off the byte offset
// from the branch's own PC.
func EncodeBranch(op Opcode, a, b uint8, off int64) uint32 {
	return EncodeI(op, a, b, off)
}

// EncodeStore builds a store word: value register v, base register
// base, byte offset off.
func EncodeStore(op Opcode, v, base uint8, off int64) uint32 {
	return EncodeI(op, v, base, off)
}
