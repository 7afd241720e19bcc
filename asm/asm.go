// Package asm contains the nanocore assembler.
//
// The assembler is two-pass: the first pass walks the source to
// place labels, the second encodes instructions with every label
// already known. Comments start with ';'. Labels end with ':' and
// may share a line with an instruction. Directives: .org, .word,
// .byte, .string.
//
// Pseudo-instructions: LOAD (immediate into register), LA (label
// address), MOVE, ZERO, CMP, TEST, PUSH, POP. R29 is the assembler
// temporary: LA, PUSH and POP expand to sequences that clobber it.
package asm

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/Riffe007/nanocore/isa"
)

// DefaultOrigin is where a program assembles to when no .org
// directive says otherwise. It matches the loader's entry point.
const DefaultOrigin = 0x10000

// TempReg is clobbered by multi-instruction pseudo-op expansions.
const TempReg = 29

// Program is the output of the assembler.
type Program struct {
	Origin uint64
	Words  []uint32
	Labels map[string]uint64
}

// Bytes renders the program little-endian, ready for the loader.
func (p *Program) Bytes() []byte {
	out := make([]byte, 4*len(p.Words))
	for i, w := range p.Words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

var opcodeByName = map[string]isa.Opcode{}

func init() {
	for op := isa.Opcode(0); op < 64; op++ {
		if name := isa.Mnemonic(op); name != "" {
			opcodeByName[name] = op
		}
	}
}

type assembler struct {
	origin uint64
	addr   uint64
	words  []uint32
	labels map[string]uint64
}

// Assemble turns source text into a Program.
func Assemble(src string) (*Program, error) {
	a := &assembler{
		origin: DefaultOrigin,
		labels: make(map[string]uint64),
	}
	lines := strings.Split(src, "\n")
	if err := a.firstPass(lines); err != nil {
		return nil, err
	}
	if err := a.secondPass(lines); err != nil {
		return nil, err
	}
	return &Program{Origin: a.origin, Words: a.words, Labels: a.labels}, nil
}

// splitLine strips the comment and the optional leading label.
func splitLine(raw string) (label, rest string) {
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = raw[:i]
	}
	rest = strings.TrimSpace(raw)
	if rest == "" || strings.HasPrefix(rest, ".") {
		return "", rest
	}
	fields := strings.Fields(rest)
	if strings.HasSuffix(fields[0], ":") {
		label = strings.TrimSuffix(fields[0], ":")
		rest = strings.TrimSpace(rest[strings.Index(rest, ":")+1:])
	}
	return label, rest
}

func (a *assembler) firstPass(lines []string) error {
	a.addr = a.origin
	placed := false
	for n, raw := range lines {
		label, rest := splitLine(raw)
		if label != "" {
			if _, dup := a.labels[label]; dup {
				return fmt.Errorf("line %d: duplicate label %q", n+1, label)
			}
			a.labels[label] = a.addr
		}
		if rest == "" {
			continue
		}
		if strings.HasPrefix(rest, ".") {
			size, org, err := directiveSize(rest, n+1)
			if err != nil {
				return err
			}
			if org != nil {
				if placed {
					return fmt.Errorf("line %d: .org after code", n+1)
				}
				a.origin = *org
				a.addr = *org
				continue
			}
			a.addr += size
			placed = placed || size > 0
			continue
		}
		mnemonic := strings.ToLower(strings.Fields(rest)[0])
		a.addr += pseudoSize(mnemonic)
		placed = true
	}
	return nil
}

// pseudoSize is the emitted size in bytes of one source instruction.
func pseudoSize(mnemonic string) uint64 {
	switch mnemonic {
	case "push", "pop", "la":
		return 12
	default:
		return 4
	}
}

func directiveSize(rest string, line int) (uint64, *uint64, error) {
	name, arg := splitDirective(rest)
	switch name {
	case ".org":
		v, err := parseImm(arg, 48)
		if err != nil || v < 0 {
			return 0, nil, fmt.Errorf("line %d: bad .org address %q", line, arg)
		}
		org := uint64(v)
		return 0, &org, nil
	case ".word":
		n := uint64(len(splitOperands(arg)))
		return 4 * n, nil, nil
	case ".byte":
		n := uint64(len(splitOperands(arg)))
		return (n + 3) &^ 3, nil, nil
	case ".string":
		s, err := parseString(arg)
		if err != nil {
			return 0, nil, fmt.Errorf("line %d: %v", line, err)
		}
		n := uint64(len(s)) + 1
		return (n + 3) &^ 3, nil, nil
	default:
		return 0, nil, fmt.Errorf("line %d: unknown directive %s", line, name)
	}
}

func splitDirective(rest string) (name, arg string) {
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		return rest[:i], strings.TrimSpace(rest[i:])
	}
	return rest, ""
}

func splitOperands(arg string) []string {
	if strings.TrimSpace(arg) == "" {
		return nil
	}
	parts := strings.Split(arg, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (a *assembler) secondPass(lines []string) error {
	a.addr = a.origin
	a.words = a.words[:0]
	for n, raw := range lines {
		_, rest := splitLine(raw)
		if rest == "" {
			continue
		}
		var err error
		if strings.HasPrefix(rest, ".") {
			err = a.emitDirective(rest, n+1)
		} else {
			err = a.emitInstruction(rest, n+1)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *assembler) emit(word uint32) {
	a.words = append(a.words, word)
	a.addr += 4
}

func (a *assembler) emitDirective(rest string, line int) error {
	name, arg := splitDirective(rest)
	switch name {
	case ".org":
		a.addr = a.origin
		return nil
	case ".word":
		for _, op := range splitOperands(arg) {
			if addr, ok := a.labels[op]; ok {
				if addr > 0xFFFF_FFFF {
					return fmt.Errorf("line %d: label %q does not fit in a word", line, op)
				}
				a.emit(uint32(addr))
				continue
			}
			v, err := parseImm(op, 32)
			if err != nil {
				return fmt.Errorf("line %d: %v", line, err)
			}
			a.emit(uint32(v))
		}
	case ".byte":
		ops := splitOperands(arg)
		buf := make([]byte, 0, len(ops))
		for _, op := range ops {
			v, err := parseImm(op, 8)
			if err != nil {
				return fmt.Errorf("line %d: %v", line, err)
			}
			buf = append(buf, byte(v))
		}
		a.emitBytes(buf)
	case ".string":
		s, err := parseString(arg)
		if err != nil {
			return fmt.Errorf("line %d: %v", line, err)
		}
		a.emitBytes(append([]byte(s), 0))
	}
	return nil
}

// emitBytes packs bytes little-endian into words, zero padded.
func (a *assembler) emitBytes(buf []byte) {
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	for i := 0; i < len(buf); i += 4 {
		a.emit(binary.LittleEndian.Uint32(buf[i:]))
	}
}

func (a *assembler) emitInstruction(rest string, line int) error {
	parts := strings.Fields(strings.ReplaceAll(rest, ",", " "))
	mnemonic := strings.ToLower(parts[0])
	ops := parts[1:]

	switch mnemonic {
	case "load":
		return a.emitLoadImm(isa.OpLDI, ops, line)
	case "la":
		return a.emitLoadAddr(ops, line)
	case "move":
		return a.encode("add", []string{at(ops, 0), at(ops, 1), "r0"}, line)
	case "zero":
		return a.encode("xor", []string{at(ops, 0), at(ops, 0), at(ops, 0)}, line)
	case "cmp":
		// flags only: the r0 destination discards the difference
		return a.encode("sub", []string{"r0", at(ops, 0), at(ops, 1)}, line)
	case "test":
		return a.encode("and", []string{"r0", at(ops, 0), at(ops, 1)}, line)
	case "push":
		tmp := fmt.Sprintf("r%d", TempReg)
		if err := a.encode("ldi", []string{tmp, "8"}, line); err != nil {
			return err
		}
		if err := a.encode("sub", []string{"sp", "sp", tmp}, line); err != nil {
			return err
		}
		return a.encode("st", []string{at(ops, 0), "0(sp)"}, line)
	case "pop":
		tmp := fmt.Sprintf("r%d", TempReg)
		if err := a.encode("ld", []string{at(ops, 0), "0(sp)"}, line); err != nil {
			return err
		}
		if err := a.encode("ldi", []string{tmp, "8"}, line); err != nil {
			return err
		}
		return a.encode("add", []string{"sp", "sp", tmp}, line)
	}
	return a.encode(mnemonic, ops, line)
}

// at is a bounds-safe operand accessor; encode reports the arity
// error with the line number.
func at(ops []string, i int) string {
	if i < len(ops) {
		return ops[i]
	}
	return ""
}

func (a *assembler) encode(mnemonic string, ops []string, line int) error {
	op, ok := opcodeByName[mnemonic]
	if !ok {
		return fmt.Errorf("line %d: unknown instruction %q", line, mnemonic)
	}

	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("line %d: %s: %s", line, mnemonic, fmt.Sprintf(format, args...))
	}
	need := func(n int) error {
		if len(ops) != n {
			return fail("expects %d operands, got %d", n, len(ops))
		}
		return nil
	}

	switch op {
	case isa.OpADD, isa.OpSUB, isa.OpMUL, isa.OpMULH, isa.OpDIV, isa.OpMOD,
		isa.OpAND, isa.OpOR, isa.OpXOR, isa.OpSHL, isa.OpSHR, isa.OpSAR,
		isa.OpROL, isa.OpROR:
		if err := need(3); err != nil {
			return err
		}
		rd, err1 := parseReg(ops[0])
		rs1, err2 := parseReg(ops[1])
		rs2, err3 := parseReg(ops[2])
		if err := firstErr(err1, err2, err3); err != nil {
			return fail("%v", err)
		}
		a.emit(isa.EncodeR(op, rd, rs1, rs2, 0, 0))

	case isa.OpNOT:
		if err := need(2); err != nil {
			return err
		}
		rd, err1 := parseReg(ops[0])
		rs1, err2 := parseReg(ops[1])
		if err := firstErr(err1, err2); err != nil {
			return fail("%v", err)
		}
		a.emit(isa.EncodeR(op, rd, rs1, 0, 0, 0))

	case isa.OpAMOSWAP, isa.OpAMOADD, isa.OpAMOAND, isa.OpAMOOR, isa.OpAMOXOR:
		if err := need(3); err != nil {
			return err
		}
		rd, err1 := parseReg(ops[0])
		rs2, err2 := parseReg(ops[1])
		off, base, hasBase, err3 := parseMem(ops[2])
		if err := firstErr(err1, err2, err3); err != nil {
			return fail("%v", err)
		}
		if !hasBase || off != 0 {
			return fail("address operand must be (reg)")
		}
		a.emit(isa.EncodeR(op, rd, base, rs2, 0, 0))

	case isa.OpLD, isa.OpLW, isa.OpLH, isa.OpLB, isa.OpLR:
		if err := need(2); err != nil {
			return err
		}
		rd, err := parseReg(ops[0])
		if err != nil {
			return fail("%v", err)
		}
		off, base, hasBase, err := parseMem(ops[1])
		if err != nil {
			return fail("%v", err)
		}
		if op == isa.OpLD && !hasBase {
			// bare immediate form loads the constant itself
			return a.emitLoadImm(isa.OpLDI, ops, line)
		}
		if err := checkImm(off, 16); err != nil {
			return fail("%v", err)
		}
		a.emit(isa.EncodeI(op, rd, base, off))

	case isa.OpST, isa.OpSW, isa.OpSH, isa.OpSB, isa.OpSC:
		if err := need(2); err != nil {
			return err
		}
		rv, err := parseReg(ops[0])
		if err != nil {
			return fail("%v", err)
		}
		off, base, _, err := parseMem(ops[1])
		if err != nil {
			return fail("%v", err)
		}
		if err := checkImm(off, 16); err != nil {
			return fail("%v", err)
		}
		a.emit(isa.EncodeStore(op, rv, base, off))

	case isa.OpBEQ, isa.OpBNE, isa.OpBLT, isa.OpBGE, isa.OpBLTU, isa.OpBGEU:
		if err := need(3); err != nil {
			return err
		}
		ra, err1 := parseReg(ops[0])
		rb, err2 := parseReg(ops[1])
		if err := firstErr(err1, err2); err != nil {
			return fail("%v", err)
		}
		off, err := a.branchOffset(ops[2])
		if err != nil {
			return fail("%v", err)
		}
		a.emit(isa.EncodeBranch(op, ra, rb, off))

	case isa.OpJMP:
		switch len(ops) {
		case 1:
			rs1, err := parseReg(ops[0])
			if err != nil {
				return fail("%v", err)
			}
			a.emit(isa.EncodeI(op, 0, rs1, 0))
		case 2:
			rd, err := parseReg(ops[0])
			if err != nil {
				return fail("%v", err)
			}
			off, base, hasBase, err := parseMem(ops[1])
			if err != nil || !hasBase {
				return fail("want rd, offset(reg)")
			}
			if err := checkImm(off, 16); err != nil {
				return fail("%v", err)
			}
			a.emit(isa.EncodeI(op, rd, base, off))
		default:
			return fail("expects 1 or 2 operands")
		}

	case isa.OpCALL:
		if err := need(1); err != nil {
			return err
		}
		if target, ok := a.labels[ops[0]]; ok {
			delta := int64(target) - int64(a.addr)
			if delta%4 != 0 {
				return fail("target %q not word aligned", ops[0])
			}
			if err := checkSigned(delta/4, 26); err != nil {
				return fail("%v", err)
			}
			a.emit(isa.EncodeJ(op, delta/4))
			return nil
		}
		off, err := parseImm(ops[0], 26)
		if err != nil {
			return fail("%v", err)
		}
		a.emit(isa.EncodeJ(op, off))

	case isa.OpSYSCALL:
		var num int64
		if len(ops) > 0 {
			v, err := parseImm(ops[0], 26)
			if err != nil {
				return fail("%v", err)
			}
			num = v
		}
		a.emit(isa.EncodeJ(op, num))

	case isa.OpRET, isa.OpHALT, isa.OpNOP, isa.OpFENCE, isa.OpIRET:
		if err := need(0); err != nil {
			return err
		}
		a.emit(isa.EncodeJ(op, 0))

	case isa.OpCPUID, isa.OpRDCYCLE:
		if err := need(1); err != nil {
			return err
		}
		rd, err := parseReg(ops[0])
		if err != nil {
			return fail("%v", err)
		}
		a.emit(isa.EncodeR(op, rd, 0, 0, 0, 0))

	case isa.OpRDPERF:
		if err := need(2); err != nil {
			return err
		}
		rd, err1 := parseReg(ops[0])
		rs1, err2 := parseReg(ops[1])
		if err := firstErr(err1, err2); err != nil {
			return fail("%v", err)
		}
		a.emit(isa.EncodeR(op, rd, rs1, 0, 0, 0))

	case isa.OpPREFETCH, isa.OpCLFLUSH:
		if err := need(1); err != nil {
			return err
		}
		off, base, _, err := parseMem(ops[0])
		if err != nil {
			return fail("%v", err)
		}
		if err := checkImm(off, 16); err != nil {
			return fail("%v", err)
		}
		a.emit(isa.EncodeI(op, 0, base, off))

	case isa.OpVADD, isa.OpVSUB, isa.OpVMUL, isa.OpVFMA:
		if len(ops) != 3 && len(ops) != 4 {
			return fail("expects 3 operands and an optional mask")
		}
		vd, err1 := parseVReg(ops[0])
		vs1, err2 := parseVReg(ops[1])
		vs2, err3 := parseVReg(ops[2])
		var vmask uint8
		var err4 error
		if len(ops) == 4 {
			vmask, err4 = parseVReg(ops[3])
			if err4 == nil && (vmask == 0 || vmask > 7) {
				return fail("mask register must be v1..v7")
			}
		}
		if err := firstErr(err1, err2, err3, err4); err != nil {
			return fail("%v", err)
		}
		a.emit(isa.EncodeV(op, vd, vs1, vs2, vmask, 0))

	case isa.OpVLOAD, isa.OpVSTORE:
		if err := need(2); err != nil {
			return err
		}
		vd, err := parseVReg(ops[0])
		if err != nil {
			return fail("%v", err)
		}
		off, base, hasBase, err := parseMem(ops[1])
		if err != nil || !hasBase || off != 0 {
			return fail("address operand must be (reg)")
		}
		a.emit(isa.EncodeV(op, vd, base, 0, 0, 0))

	case isa.OpVBROADCAST:
		if err := need(2); err != nil {
			return err
		}
		vd, err1 := parseVReg(ops[0])
		rs, err2 := parseReg(ops[1])
		if err := firstErr(err1, err2); err != nil {
			return fail("%v", err)
		}
		a.emit(isa.EncodeV(op, vd, rs, 0, 0, 0))

	case isa.OpLDI, isa.OpLUI:
		return a.emitLoadImm(op, ops, line)

	default:
		return fail("cannot be used directly")
	}
	return nil
}

func (a *assembler) emitLoadImm(op isa.Opcode, ops []string, line int) error {
	if len(ops) != 2 {
		return fmt.Errorf("line %d: load immediate expects 2 operands", line)
	}
	rd, err := parseReg(ops[0])
	if err != nil {
		return fmt.Errorf("line %d: %v", line, err)
	}
	var imm int64
	if addr, ok := a.labels[ops[1]]; ok {
		imm = int64(addr)
		if op == isa.OpLUI {
			imm >>= 16
		}
		if err := checkImm(imm, 16); err != nil {
			return fmt.Errorf("line %d: label %q: %v (use la)", line, ops[1], err)
		}
	} else {
		imm, err = parseImm(ops[1], 16)
		if err != nil {
			return fmt.Errorf("line %d: %v", line, err)
		}
	}
	a.emit(isa.EncodeI(op, rd, 0, imm))
	return nil
}

// emitLoadAddr synthesizes a full label address. The high half is
// biased so that adding the sign-extended low half lands exactly.
func (a *assembler) emitLoadAddr(ops []string, line int) error {
	if len(ops) != 2 {
		return fmt.Errorf("line %d: la expects 2 operands", line)
	}
	addr, ok := a.labels[ops[1]]
	if !ok {
		v, err := parseImm(ops[1], 32)
		if err != nil {
			return fmt.Errorf("line %d: la: unknown label or bad address %q", line, ops[1])
		}
		addr = uint64(v)
	}
	if addr > 0x7FFF_FFFF {
		return fmt.Errorf("line %d: la: address %#x out of range", line, addr)
	}
	lo := int64(int16(addr))
	hi := (int64(addr) - lo) >> 16
	tmp := fmt.Sprintf("r%d", TempReg)
	if err := a.encode("lui", []string{ops[0], strconv.FormatInt(hi, 10)}, line); err != nil {
		return err
	}
	if err := a.encode("ldi", []string{tmp, strconv.FormatInt(lo, 10)}, line); err != nil {
		return err
	}
	return a.encode("add", []string{ops[0], ops[0], tmp}, line)
}

// branchOffset resolves a label or a numeric byte offset, relative
// to the branch instruction itself.
func (a *assembler) branchOffset(op string) (int64, error) {
	if target, ok := a.labels[op]; ok {
		delta := int64(target) - int64(a.addr)
		if err := checkSigned(delta, 16); err != nil {
			return 0, fmt.Errorf("branch to %q out of range: %v", op, err)
		}
		return delta, nil
	}
	off, err := parseImm(op, 16)
	if err != nil {
		return 0, fmt.Errorf("bad branch target %q", op)
	}
	return off, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func parseReg(s string) (uint8, error) {
	r := strings.ToUpper(strings.TrimSpace(s))
	switch r {
	case "ZERO":
		return isa.RegZero, nil
	case "SP":
		return isa.RegSP, nil
	case "LR", "RA":
		return isa.RegLR, nil
	}
	if strings.HasPrefix(r, "R") {
		if n, err := strconv.Atoi(r[1:]); err == nil && n >= 0 && n < isa.NumGPR {
			return uint8(n), nil
		}
	}
	return 0, fmt.Errorf("invalid register %q", s)
}

func parseVReg(s string) (uint8, error) {
	r := strings.ToUpper(strings.TrimSpace(s))
	if strings.HasPrefix(r, "V") {
		if n, err := strconv.Atoi(r[1:]); err == nil && n >= 0 && n < isa.NumVReg {
			return uint8(n), nil
		}
	}
	return 0, fmt.Errorf("invalid vector register %q", s)
}

// parseMem understands "offset(base)", "(base)" and bare immediates.
func parseMem(s string) (off int64, base uint8, hasBase bool, err error) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, '(')
	if i < 0 {
		off, err = parseImm(s, 16)
		return off, 0, false, err
	}
	if !strings.HasSuffix(s, ")") {
		return 0, 0, false, fmt.Errorf("malformed address %q", s)
	}
	if i > 0 {
		off, err = parseImm(s[:i], 16)
		if err != nil {
			return 0, 0, false, err
		}
	}
	base, err = parseReg(s[i+1 : len(s)-1])
	return off, base, true, err
}

func parseImm(s string, bits int) (int64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")
	var v uint64
	var err error
	switch {
	case strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X"):
		v, err = strconv.ParseUint(body[2:], 16, 64)
	case strings.HasPrefix(body, "0b") || strings.HasPrefix(body, "0B"):
		v, err = strconv.ParseUint(body[2:], 2, 64)
	default:
		v, err = strconv.ParseUint(body, 10, 64)
	}
	if err != nil || v > 1<<62 {
		return 0, fmt.Errorf("bad immediate %q", s)
	}
	value := int64(v)
	if neg {
		value = -value
	}
	if err := checkImm(value, bits); err != nil {
		return 0, err
	}
	return value, nil
}

// checkImm accepts both the signed and the unsigned spelling of a
// bits-wide immediate.
func checkImm(v int64, bits int) error {
	min := int64(-1) << (bits - 1)
	max := int64(1)<<bits - 1
	if v < min || v > max {
		return fmt.Errorf("immediate %d does not fit in %d bits", v, bits)
	}
	return nil
}

// checkSigned is the strict variant for PC-relative offsets.
func checkSigned(v int64, bits int) error {
	min := int64(-1) << (bits - 1)
	max := int64(1)<<(bits-1) - 1
	if v < min || v > max {
		return fmt.Errorf("offset %d does not fit in %d signed bits", v, bits)
	}
	return nil
}

func parseString(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if len(arg) < 2 || arg[0] != '"' || arg[len(arg)-1] != '"' {
		return "", fmt.Errorf("string literal must be quoted")
	}
	return arg[1 : len(arg)-1], nil
}
