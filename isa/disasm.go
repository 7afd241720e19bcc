package isa

import "fmt"

// operand layouts for the disassembler
const (
	argsNone = iota
	argsR3   // rd, rs1, rs2
	argsR2   // rd, rs1
	argsLoad // rd, imm(rs1)
	argsStore
	argsBranch // a, b, offset
	argsJmp    // rd, imm(rs1)
	argsJ26    // signed imm26
	argsSys    // unsigned imm26
	argsRD     // rd
	argsRDRS   // rd, rs1
	argsMemOp  // imm(rs1)
	argsAMO    // rd, rs2, (rs1)
	argsLRSC
	argsImm   // rd, imm
	argsV3    // vd, vs1, vs2
	argsVMem  // vd, (r)
	argsVBcst // vd, r
)

type disasmEntry struct {
	name string
	args int
}

var disasmtable = [numOpcodes]disasmEntry{
	OpADD:  {"add", argsR3},
	OpSUB:  {"sub", argsR3},
	OpMUL:  {"mul", argsR3},
	OpMULH: {"mulh", argsR3},
	OpDIV:  {"div", argsR3},
	OpMOD:  {"mod", argsR3},
	OpAND:  {"and", argsR3},
	OpOR:   {"or", argsR3},
	OpXOR:  {"xor", argsR3},
	OpNOT:  {"not", argsR2},
	OpSHL:  {"shl", argsR3},
	OpSHR:  {"shr", argsR3},
	OpSAR:  {"sar", argsR3},
	OpROL:  {"rol", argsR3},
	OpROR:  {"ror", argsR3},

	OpLD: {"ld", argsLoad},
	OpLW: {"lw", argsLoad},
	OpLH: {"lh", argsLoad},
	OpLB: {"lb", argsLoad},
	OpST: {"st", argsStore},
	OpSW: {"sw", argsStore},
	OpSH: {"sh", argsStore},
	OpSB: {"sb", argsStore},

	OpBEQ:  {"beq", argsBranch},
	OpBNE:  {"bne", argsBranch},
	OpBLT:  {"blt", argsBranch},
	OpBGE:  {"bge", argsBranch},
	OpBLTU: {"bltu", argsBranch},
	OpBGEU: {"bgeu", argsBranch},

	OpJMP:     {"jmp", argsJmp},
	OpCALL:    {"call", argsJ26},
	OpRET:     {"ret", argsNone},
	OpSYSCALL: {"syscall", argsSys},
	OpHALT:    {"halt", argsNone},
	OpNOP:     {"nop", argsNone},

	OpCPUID:    {"cpuid", argsRD},
	OpRDCYCLE:  {"rdcycle", argsRD},
	OpRDPERF:   {"rdperf", argsRDRS},
	OpPREFETCH: {"prefetch", argsMemOp},
	OpCLFLUSH:  {"clflush", argsMemOp},
	OpFENCE:    {"fence", argsNone},

	OpLR:      {"lr", argsLRSC},
	OpSC:      {"sc", argsLRSC},
	OpAMOSWAP: {"amoswap", argsAMO},
	OpAMOADD:  {"amoadd", argsAMO},
	OpAMOAND:  {"amoand", argsAMO},
	OpAMOOR:   {"amoor", argsAMO},
	OpAMOXOR:  {"amoxor", argsAMO},

	OpVADD: {"vadd.f64", argsV3},
	OpVSUB: {"vsub.f64", argsV3},
	OpVMUL: {"vmul.f64", argsV3},
	OpVFMA: {"vfma.f64", argsV3},

	OpVLOAD:      {"vload", argsVMem},
	OpVSTORE:     {"vstore", argsVMem},
	OpVBROADCAST: {"vbroadcast", argsVBcst},

	OpLDI:  {"ldi", argsImm},
	OpLUI:  {"lui", argsImm},
	OpIRET: {"iret", argsNone},
}

func reg(n uint8) string { return fmt.Sprintf("r%d", n) }

func vreg(n uint8) string { return fmt.Sprintf("v%d", n) }

// Disasm renders one instruction word. Unassigned opcodes come back
// as a .word directive so a listing never aborts on bad memory.
func Disasm(word uint32) string {
	inst, err := Decode(word)
	if err != nil {
		return fmt.Sprintf(".word %#08x", word)
	}
	e := disasmtable[inst.Op]

	switch e.args {
	case argsR3:
		return fmt.Sprintf("%s %s, %s, %s", e.name, reg(inst.Rd), reg(inst.Rs1), reg(inst.Rs2))
	case argsR2:
		return fmt.Sprintf("%s %s, %s", e.name, reg(inst.Rd), reg(inst.Rs1))
	case argsLoad, argsStore, argsLRSC:
		return fmt.Sprintf("%s %s, %d(%s)", e.name, reg(inst.Rd), inst.Imm, reg(inst.Rs1))
	case argsBranch:
		return fmt.Sprintf("%s %s, %s, %+d", e.name, reg(inst.Rd), reg(inst.Rs1), inst.Imm)
	case argsJmp:
		if inst.Rd == RegZero && inst.Imm == 0 {
			return fmt.Sprintf("%s %s", e.name, reg(inst.Rs1))
		}
		return fmt.Sprintf("%s %s, %d(%s)", e.name, reg(inst.Rd), inst.Imm, reg(inst.Rs1))
	case argsJ26:
		return fmt.Sprintf("%s %+d", e.name, inst.Imm*4)
	case argsSys:
		return fmt.Sprintf("%s %d", e.name, uint32(inst.Word)&0x03FF_FFFF)
	case argsRD:
		return fmt.Sprintf("%s %s", e.name, reg(inst.Rd))
	case argsRDRS:
		return fmt.Sprintf("%s %s, %s", e.name, reg(inst.Rd), reg(inst.Rs1))
	case argsMemOp:
		return fmt.Sprintf("%s %d(%s)", e.name, inst.Imm, reg(inst.Rs1))
	case argsAMO:
		return fmt.Sprintf("%s %s, %s, (%s)", e.name, reg(inst.Rd), reg(inst.Rs2), reg(inst.Rs1))
	case argsImm:
		return fmt.Sprintf("%s %s, %d", e.name, reg(inst.Rd), inst.Imm)
	case argsV3:
		if inst.Vmask != 0 {
			return fmt.Sprintf("%s %s, %s, %s, %s", e.name,
				vreg(inst.Vd), vreg(inst.Vs1), vreg(inst.Vs2), vreg(inst.Vmask))
		}
		return fmt.Sprintf("%s %s, %s, %s", e.name, vreg(inst.Vd), vreg(inst.Vs1), vreg(inst.Vs2))
	case argsVMem:
		return fmt.Sprintf("%s %s, (%s)", e.name, vreg(inst.Vd), reg(inst.Vs1))
	case argsVBcst:
		return fmt.Sprintf("%s %s, %s", e.name, vreg(inst.Vd), reg(inst.Vs1))
	default:
		return e.name
	}
}

// Mnemonic returns the assembler name of op, or "" for unassigned
// opcodes.
func Mnemonic(op Opcode) string {
	if int(op) < len(disasmtable) {
		return disasmtable[op].name
	}
	return ""
}
