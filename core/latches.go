package core

import (
	"github.com/Riffe007/nanocore/interrupts"
	"github.com/Riffe007/nanocore/isa"
)

// Pipeline registers. Each latch carries what one stage hands the
// next; Valid distinguishes work from a bubble.

// IFIDLatch sits between fetch and decode.
type IFIDLatch struct {
	Valid bool
	PC    uint64
	Word  uint32

	// what fetch guessed, for verification at execute
	PredTaken  bool
	PredTarget uint64

	// a fetch fault travels with the slot and is raised only if the
	// instruction turns out to be on the true path
	Fault *interrupts.Trap
}

// Clear turns the latch into a bubble.
func (l *IFIDLatch) Clear() { *l = IFIDLatch{} }

// IDEXLatch sits between decode and execute. A and B are the scalar
// operands as read at decode; the execute stage replaces them with
// forwarded values when a newer in-flight result exists.
type IDEXLatch struct {
	Valid bool
	PC    uint64
	Inst  isa.Instruction

	A, B uint64
	// vector operands: sources, accumulator/store data, mask lanes
	VA, VB, VD, VM [isa.VectorLanes]uint64

	PredTaken  bool
	PredTarget uint64
}

// Clear turns the latch into a bubble.
func (l *IDEXLatch) Clear() { *l = IDEXLatch{} }

// EXMEMLatch sits between execute and memory access.
type EXMEMLatch struct {
	Valid bool
	PC    uint64
	Inst  isa.Instruction

	// PC of the next instruction in program order, branch outcome
	// included; committed to the architectural PC at writeback
	NextPC uint64

	// ALU holds the result or the effective address; StoreVal the
	// value a store carries.
	ALU      uint64
	StoreVal uint64
	VResult  [isa.VectorLanes]uint64

	// flags as this instruction leaves them, committed at writeback
	Flags      isa.Flags
	FlagsValid bool
}

// Clear turns the latch into a bubble.
func (l *EXMEMLatch) Clear() { *l = EXMEMLatch{} }

// MEMWBLatch sits between memory access and writeback.
type MEMWBLatch struct {
	Valid  bool
	PC     uint64
	Inst   isa.Instruction
	NextPC uint64

	Value  uint64
	VValue [isa.VectorLanes]uint64

	Flags      isa.Flags
	FlagsValid bool
}

// Clear turns the latch into a bubble.
func (l *MEMWBLatch) Clear() { *l = MEMWBLatch{} }
