package asm

import (
	"testing"

	"github.com/Riffe007/nanocore/isa"
)

func TestAssemble_single(t *testing.T) {
	type args struct {
		src string
	}
	tests := []struct {
		name    string
		args    args
		want    uint32
		wantErr bool
	}{
		{"add", args{"ADD R3, R1, R2"}, isa.EncodeR(isa.OpADD, 3, 1, 2, 0, 0), false},
		{"lowercase", args{"add r3, r1, r2"}, isa.EncodeR(isa.OpADD, 3, 1, 2, 0, 0), false},
		{"not", args{"NOT R1, R2"}, isa.EncodeR(isa.OpNOT, 1, 2, 0, 0, 0), false},
		{"load with base", args{"LD R1, 16(R2)"}, isa.EncodeI(isa.OpLD, 1, 2, 16), false},
		{"bare ld becomes ldi", args{"LD R1, 42"}, isa.EncodeI(isa.OpLDI, 1, 0, 42), false},
		{"ldi negative", args{"LDI R1, -1"}, isa.EncodeI(isa.OpLDI, 1, 0, -1), false},
		{"lui", args{"LUI R1, 0x10"}, isa.EncodeI(isa.OpLUI, 1, 0, 0x10), false},
		{"store", args{"ST R5, -8(SP)"}, isa.EncodeStore(isa.OpST, 5, 30, -8), false},
		{"store aliases", args{"SW LR, 0(SP)"}, isa.EncodeStore(isa.OpSW, 31, 30, 0), false},
		{"branch numeric", args{"BEQ R1, R2, -8"}, isa.EncodeBranch(isa.OpBEQ, 1, 2, -8), false},
		{"jmp register", args{"JMP R7"}, isa.EncodeI(isa.OpJMP, 0, 7, 0), false},
		{"jmp linked", args{"JMP R1, 0(R7)"}, isa.EncodeI(isa.OpJMP, 1, 7, 0), false},
		{"syscall", args{"SYSCALL 1"}, isa.EncodeJ(isa.OpSYSCALL, 1), false},
		{"syscall bare", args{"SYSCALL"}, isa.EncodeJ(isa.OpSYSCALL, 0), false},
		{"halt", args{"HALT"}, isa.EncodeJ(isa.OpHALT, 0), false},
		{"ret", args{"RET"}, isa.EncodeJ(isa.OpRET, 0), false},
		{"iret", args{"IRET"}, isa.EncodeJ(isa.OpIRET, 0), false},
		{"cpuid", args{"CPUID R1"}, isa.EncodeR(isa.OpCPUID, 1, 0, 0, 0, 0), false},
		{"rdperf", args{"RDPERF R2, R3"}, isa.EncodeR(isa.OpRDPERF, 2, 3, 0, 0, 0), false},
		{"prefetch", args{"PREFETCH 64(R4)"}, isa.EncodeI(isa.OpPREFETCH, 0, 4, 64), false},
		{"clflush", args{"CLFLUSH 0(R4)"}, isa.EncodeI(isa.OpCLFLUSH, 0, 4, 0), false},
		{"lr", args{"LR R1, (R2)"}, isa.EncodeI(isa.OpLR, 1, 2, 0), false},
		{"sc", args{"SC R1, (R2)"}, isa.EncodeStore(isa.OpSC, 1, 2, 0), false},
		{"amoadd", args{"AMOADD R1, R2, (R3)"}, isa.EncodeR(isa.OpAMOADD, 1, 3, 2, 0, 0), false},
		{"vadd", args{"VADD.F64 V1, V2, V3"}, isa.EncodeV(isa.OpVADD, 1, 2, 3, 0, 0), false},
		{"vadd masked", args{"VADD.F64 V1, V2, V3, V4"}, isa.EncodeV(isa.OpVADD, 1, 2, 3, 4, 0), false},
		{"vload", args{"VLOAD V2, (R7)"}, isa.EncodeV(isa.OpVLOAD, 2, 7, 0, 0, 0), false},
		{"vbroadcast", args{"VBROADCAST V1, R3"}, isa.EncodeV(isa.OpVBROADCAST, 1, 3, 0, 0, 0), false},
		{"move expands to add", args{"MOVE R2, R1"}, isa.EncodeR(isa.OpADD, 2, 1, 0, 0, 0), false},
		{"zero expands to xor", args{"ZERO R5"}, isa.EncodeR(isa.OpXOR, 5, 5, 5, 0, 0), false},
		{"unknown mnemonic", args{"FROB R1"}, 0, true},
		{"bad register", args{"ADD R1, R2, R99"}, 0, true},
		{"immediate overflow", args{"LDI R1, 100000"}, 0, true},
		{"wrong arity", args{"ADD R1, R2"}, 0, true},
		{"mask out of range", args{"VADD.F64 V1, V2, V3, V9"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Assemble(tt.args.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Assemble() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(p.Words) != 1 {
				t.Fatalf("got %d words, want 1", len(p.Words))
			}
			if p.Words[0] != tt.want {
				t.Errorf("Assemble() = %#08x (%s), want %#08x (%s)",
					p.Words[0], isa.Disasm(p.Words[0]), tt.want, isa.Disasm(tt.want))
			}
		})
	}
}

func TestAssemble_labels(t *testing.T) {
	src := `
; count down from five
        LDI R1, 5
        LDI R2, 1
loop:   SUB R1, R1, R2
        BNE R1, R0, loop
        HALT
`
	p, err := Assemble(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Words) != 5 {
		t.Fatalf("got %d words, want 5", len(p.Words))
	}
	if got, want := p.Labels["loop"], uint64(DefaultOrigin+8); got != want {
		t.Errorf("loop = %#x, want %#x", got, want)
	}
	// branch sits at origin+12, targets origin+8: offset -4
	if got, want := p.Words[3], isa.EncodeBranch(isa.OpBNE, 1, 0, -4); got != want {
		t.Errorf("branch = %#08x (%s), want %#08x", got, isa.Disasm(got), want)
	}
}

func TestAssemble_callLabel(t *testing.T) {
	src := `
        CALL fn
        HALT
fn:     RET
`
	p, err := Assemble(src)
	if err != nil {
		t.Fatal(err)
	}
	// call at origin, fn at origin+8: word offset +2
	if got, want := p.Words[0], isa.EncodeJ(isa.OpCALL, 2); got != want {
		t.Errorf("call = %#08x (%s), want %#08x", got, isa.Disasm(got), want)
	}
}

func TestAssemble_forwardBranch(t *testing.T) {
	src := `
        BEQ R0, R0, done
        NOP
done:   HALT
`
	p, err := Assemble(src)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := p.Words[0], isa.EncodeBranch(isa.OpBEQ, 0, 0, 8); got != want {
		t.Errorf("branch = %#08x (%s), want %#08x", got, isa.Disasm(got), want)
	}
}

func TestAssemble_directives(t *testing.T) {
	src := `
.org 0x20000
        LDI R1, 7
        HALT
data:   .word 0xDEADBEEF, 2
bytes:  .byte 1, 2, 3
msg:    .string "ok"
`
	p, err := Assemble(src)
	if err != nil {
		t.Fatal(err)
	}
	if p.Origin != 0x20000 {
		t.Errorf("origin = %#x, want 0x20000", p.Origin)
	}
	if got := p.Labels["data"]; got != 0x20008 {
		t.Errorf("data = %#x, want 0x20008", got)
	}
	if p.Words[2] != 0xDEADBEEF || p.Words[3] != 2 {
		t.Errorf("words = %#x %#x", p.Words[2], p.Words[3])
	}
	// bytes pack little-endian, zero padded
	if p.Words[4] != 0x00030201 {
		t.Errorf("bytes = %#08x", p.Words[4])
	}
	// "ok\0" padded to a word
	if p.Words[5] != 0x00006B6F {
		t.Errorf("string = %#08x", p.Words[5])
	}
	if got := p.Labels["msg"]; got != 0x20014 {
		t.Errorf("msg = %#x, want 0x20014", got)
	}
}

func TestAssemble_loadAddress(t *testing.T) {
	src := `
        LA R1, target
        HALT
target: .word 0
`
	p, err := Assemble(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Words) != 5 {
		t.Fatalf("got %d words, want 5", len(p.Words))
	}
	// target = 0x10010: lui r1, 1; ldi r29, 16; add r1, r1, r29
	if got, want := p.Words[0], isa.EncodeI(isa.OpLUI, 1, 0, 1); got != want {
		t.Errorf("lui = %#08x (%s)", got, isa.Disasm(got))
	}
	if got, want := p.Words[1], isa.EncodeI(isa.OpLDI, TempReg, 0, 16); got != want {
		t.Errorf("ldi = %#08x (%s)", got, isa.Disasm(got))
	}
	if got, want := p.Words[2], isa.EncodeR(isa.OpADD, 1, 1, TempReg, 0, 0); got != want {
		t.Errorf("add = %#08x (%s)", got, isa.Disasm(got))
	}
}

func TestAssemble_pushPop(t *testing.T) {
	p, err := Assemble("PUSH R5\nPOP R6")
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{
		isa.EncodeI(isa.OpLDI, TempReg, 0, 8),
		isa.EncodeR(isa.OpSUB, isa.RegSP, isa.RegSP, TempReg, 0, 0),
		isa.EncodeStore(isa.OpST, 5, isa.RegSP, 0),
		isa.EncodeI(isa.OpLD, 6, isa.RegSP, 0),
		isa.EncodeI(isa.OpLDI, TempReg, 0, 8),
		isa.EncodeR(isa.OpADD, isa.RegSP, isa.RegSP, TempReg, 0, 0),
	}
	if len(p.Words) != len(want) {
		t.Fatalf("got %d words, want %d", len(p.Words), len(want))
	}
	for i := range want {
		if p.Words[i] != want[i] {
			t.Errorf("word %d = %#08x (%s), want %#08x", i, p.Words[i], isa.Disasm(p.Words[i]), want[i])
		}
	}
}

func TestAssemble_errorsCarryLineNumbers(t *testing.T) {
	_, err := Assemble("NOP\nNOP\nADD R1\n")
	if err == nil {
		t.Fatal("want error")
	}
	if got := err.Error(); got[:6] != "line 3" {
		t.Errorf("error = %q, want line 3 prefix", got)
	}
}

func TestAssemble_duplicateLabel(t *testing.T) {
	_, err := Assemble("x:\nNOP\nx:\nNOP\n")
	if err == nil {
		t.Fatal("want duplicate label error")
	}
}

func TestProgram_Bytes(t *testing.T) {
	p := &Program{Words: []uint32{0x11223344}}
	b := p.Bytes()
	if len(b) != 4 || b[0] != 0x44 || b[1] != 0x33 || b[2] != 0x22 || b[3] != 0x11 {
		t.Errorf("Bytes() = % x", b)
	}
}
