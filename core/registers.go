// Package core implements the nanocore machine: register file, ALU,
// vector unit, memory management, cache hierarchy, five-stage
// pipeline and interrupt controller. The vm package wires these into
// the public API.
package core

import (
	"fmt"

	"github.com/Riffe007/nanocore/isa"
)

// RegisterFile owns the architectural state: 32 scalar registers, 16
// vector registers, the program counter and the flags word. R0 reads
// as zero and swallows writes. R30 is the stack pointer by
// convention, R31 the link register.
type RegisterFile struct {
	gpr   [isa.NumGPR]uint64
	vreg  [isa.NumVReg][isa.VectorLanes]uint64
	pc    uint64
	flags isa.Flags
}

// Read returns the value of scalar register n.
func (r *RegisterFile) Read(n uint8) uint64 {
	if n == isa.RegZero {
		return 0
	}
	return r.gpr[n&0x1F]
}

// Write sets scalar register n. Writes to R0 are dropped.
func (r *RegisterFile) Write(n uint8, v uint64) {
	if n == isa.RegZero || n >= isa.NumGPR {
		return
	}
	r.gpr[n] = v
}

// ReadV returns the lanes of vector register n.
func (r *RegisterFile) ReadV(n uint8) [isa.VectorLanes]uint64 {
	return r.vreg[n&0x0F]
}

// WriteV sets the lanes of vector register n.
func (r *RegisterFile) WriteV(n uint8, v [isa.VectorLanes]uint64) {
	r.vreg[n&0x0F] = v
}

// PC returns the program counter.
func (r *RegisterFile) PC() uint64 { return r.pc }

// SetPC sets the program counter.
func (r *RegisterFile) SetPC(pc uint64) { r.pc = pc }

// SP returns the stack pointer, an alias for R30.
func (r *RegisterFile) SP() uint64 { return r.gpr[isa.RegSP] }

// SetSP sets the stack pointer.
func (r *RegisterFile) SetSP(sp uint64) { r.gpr[isa.RegSP] = sp }

// Flags exposes the flags word for in-place updates.
func (r *RegisterFile) Flags() *isa.Flags { return &r.flags }

// Reset clears every register and reinitializes the PC and the stack
// pointer.
func (r *RegisterFile) Reset(pc, sp uint64) {
	*r = RegisterFile{pc: pc}
	r.gpr[isa.RegSP] = sp
}

// Dump renders the scalar registers for the status view, four per
// line.
func (r *RegisterFile) Dump() string {
	out := ""
	for i := 0; i < isa.NumGPR; i += 4 {
		out += fmt.Sprintf("R%-2d %016x  R%-2d %016x  R%-2d %016x  R%-2d %016x\n",
			i, r.Read(uint8(i)), i+1, r.Read(uint8(i+1)),
			i+2, r.Read(uint8(i+2)), i+3, r.Read(uint8(i+3)))
	}
	return out
}
