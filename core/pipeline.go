package core

import (
	"encoding/binary"
	"log"
	"sort"

	"github.com/Riffe007/nanocore/interrupts"
	"github.com/Riffe007/nanocore/isa"
)

// Pipeline is the five-stage in-order core: fetch, decode, execute,
// memory, writeback. One Tick advances every stage one cycle.
//
// Results forward from the EX/MEM and MEM/WB latches into execute, so
// only a load (or anything else that produces its value in the memory
// stage) followed immediately by a consumer costs a bubble. Branches
// resolve in execute against the fetch-time prediction; a mispredict
// squashes the fetched wrong-path instruction and refetches.
//
// Serializing instructions, traps and host breakpoints drain: decode
// stops dispatching, the older instructions retire, and the action
// runs on an empty pipe so architectural state is always precise.
// Device interrupts enter the same way at the next instruction
// boundary.
type Pipeline struct {
	regs   *RegisterFile
	mem    *MemoryManager
	caches *Hierarchy
	pred   *Predictor
	ic     *InterruptController
	sys    *Syscalls
	timer  *Timer
	alu    ALU
	vec    VectorUnit

	counters Counters
	trace    *Trace
	log      *log.Logger
	events   func(Event)

	fetchPC uint64

	ifid  IFIDLatch
	idex  IDEXLatch
	exmem EXMEMLatch
	memwb MEMWBLatch

	// stall machinery: memStall freezes the whole pipe while a data
	// access completes, fetchStall holds fetch while the L1I fills
	memStall   uint64
	fetchStall uint64
	fetchWait  struct {
		valid bool
		pc    uint64
		word  uint32
	}

	// at most one drain reason is armed at a time
	pendingTrap   *interrupts.Trap
	trapPC        uint64
	pendingSerial *isa.Instruction
	serialPC      uint64
	pendingBreak  bool
	breakPC       uint64
	pendingInt    uint8
	pendingIntSet bool

	breakpoints map[uint64]struct{}
	resumePC    uint64
	resumeSet   bool

	// LR/SC reservation
	resAddr  uint64
	resValid bool

	halted bool
}

// NewPipeline wires a core together. timer may be nil when the
// machine runs without devices.
func NewPipeline(regs *RegisterFile, mem *MemoryManager, caches *Hierarchy,
	pred *Predictor, ic *InterruptController, sys *Syscalls, timer *Timer,
	logger *log.Logger) *Pipeline {
	return &Pipeline{
		regs:        regs,
		mem:         mem,
		caches:      caches,
		pred:        pred,
		ic:          ic,
		sys:         sys,
		timer:       timer,
		trace:       NewTrace(TraceDepth),
		log:         logger,
		fetchPC:     regs.PC(),
		breakpoints: make(map[uint64]struct{}),
	}
}

// OnEvent installs the host event sink.
func (p *Pipeline) OnEvent(fn func(Event)) { p.events = fn }

func (p *Pipeline) emit(e Event) {
	if p.events != nil {
		p.events(e)
	}
}

// Halted reports whether the core has stopped for good.
func (p *Pipeline) Halted() bool { return p.halted }

// Trace returns the retirement trace ring.
func (p *Pipeline) Trace() *Trace { return p.trace }

// Counters returns the counter bank with the cache miss slots filled
// in from the hierarchy.
func (p *Pipeline) Counters() Counters {
	c := p.counters
	c[CounterL1Miss] = p.caches.L1Misses()
	c[CounterL2Miss] = p.caches.L2Misses()
	return c
}

// PerfValue reads one performance counter.
func (p *Pipeline) PerfValue(id CounterID) uint64 {
	switch id {
	case CounterL1Miss:
		return p.caches.L1Misses()
	case CounterL2Miss:
		return p.caches.L2Misses()
	}
	if id < 0 || id >= NumCounters {
		return 0
	}
	return p.counters.Get(id)
}

// AddBreakpoint arms a breakpoint at pc.
func (p *Pipeline) AddBreakpoint(pc uint64) { p.breakpoints[pc] = struct{}{} }

// RemoveBreakpoint disarms the breakpoint at pc.
func (p *Pipeline) RemoveBreakpoint(pc uint64) { delete(p.breakpoints, pc) }

// HasBreakpoint reports whether pc is armed.
func (p *Pipeline) HasBreakpoint(pc uint64) bool {
	_, ok := p.breakpoints[pc]
	return ok
}

// Breakpoints returns the armed addresses in order.
func (p *Pipeline) Breakpoints() []uint64 {
	out := make([]uint64, 0, len(p.breakpoints))
	for pc := range p.breakpoints {
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NumBreakpoints returns how many breakpoints are armed.
func (p *Pipeline) NumBreakpoints() int { return len(p.breakpoints) }

// SetFetchPC redirects execution to pc, squashing everything in
// flight. This is the debugger's jump, not an architectural branch.
func (p *Pipeline) SetFetchPC(pc uint64) {
	p.squash()
	p.regs.SetPC(pc)
	p.fetchPC = pc
	p.resumeSet = false
	p.halted = false
	p.regs.Flags().SetHalted(false)
}

// Reset returns the core to the cold state with the program counter
// at pc.
func (p *Pipeline) Reset(pc uint64) {
	p.squash()
	p.counters.Reset()
	p.trace.Reset()
	p.breakpoints = make(map[uint64]struct{})
	p.fetchPC = pc
	p.resumeSet = false
	p.resValid = false
	p.halted = false
}

func (p *Pipeline) squash() {
	p.ifid.Clear()
	p.idex.Clear()
	p.exmem.Clear()
	p.memwb.Clear()
	p.memStall = 0
	p.clearFetch()
	p.pendingTrap = nil
	p.pendingSerial = nil
	p.pendingBreak = false
	p.pendingIntSet = false
}

func (p *Pipeline) clearFetch() {
	p.fetchStall = 0
	p.fetchWait.valid = false
}

func (p *Pipeline) draining() bool {
	return p.pendingTrap != nil || p.pendingSerial != nil ||
		p.pendingBreak || p.pendingIntSet
}

// Tick advances the machine one clock cycle.
func (p *Pipeline) Tick() {
	if p.halted {
		return
	}
	p.counters.Inc(CounterCycle)
	if p.timer != nil {
		p.timer.Advance(p.counters.Get(CounterCycle))
	}

	if p.memStall > 0 {
		p.memStall--
		p.counters.Inc(CounterStall)
		return
	}

	// accept a device interrupt at the next instruction boundary:
	// stop dispatching, drain what is in flight, then vector
	if !p.draining() && p.regs.Flags().IE() && p.ic.Pending() {
		if vec, ok := p.ic.Claim(); ok {
			p.pendingInt = vec
			p.pendingIntSet = true
		}
	}

	// start-of-cycle latch values; stages read these and write the
	// real latches, so every stage sees last cycle's state
	memwbIn, exmemIn, idexIn, ifidIn := p.memwb, p.exmem, p.idex, p.ifid
	p.memwb.Clear()
	p.exmem.Clear()
	p.idex.Clear()
	p.ifid.Clear()

	if memwbIn.Valid {
		p.writeback(memwbIn)
	}

	if exmemIn.Valid {
		if t := p.guard(func() { p.memStage(exmemIn) }); t != nil {
			// younger work in decode and execute dies with the fault
			p.beginTrap(*t, exmemIn.PC)
			return
		}
	}

	wrongPath := false
	if idexIn.Valid {
		t := p.guard(func() { wrongPath = p.exStage(idexIn, exmemIn, memwbIn) })
		if t != nil {
			// the memory stage output survives: it is older
			p.beginTrap(*t, idexIn.PC)
			return
		}
	}

	if wrongPath {
		// the resolved branch proves everything younger wrong-path;
		// decode-side drain reasons raised by those instructions are
		// void (an asynchronous interrupt claim is not)
		p.clearFetch()
		ifidIn.Clear()
		p.pendingTrap = nil
		p.pendingSerial = nil
		p.pendingBreak = false
	}

	if p.draining() {
		p.counters.Inc(CounterStall)
		if !p.memwb.Valid && !p.exmem.Valid {
			p.finishDrain()
		}
		return
	}

	if ifidIn.Valid {
		stalled := p.decodeStage(ifidIn, idexIn)
		if p.draining() {
			return
		}
		if stalled {
			// hold the instruction in decode and keep fetch still
			p.ifid = ifidIn
			p.counters.Inc(CounterStall)
			return
		}
	}

	p.fetchStage()
}

// guard runs fn and converts a trap panic into a return value. Other
// panics pass through.
func (p *Pipeline) guard(fn func()) (t *interrupts.Trap) {
	defer func() {
		if r := recover(); r != nil {
			tr, ok := r.(interrupts.Trap)
			if !ok {
				panic(r)
			}
			t = &tr
		}
	}()
	fn()
	return nil
}

func (p *Pipeline) beginTrap(t interrupts.Trap, pc uint64) {
	p.pendingTrap = &t
	p.trapPC = pc
}

// ---- writeback ------------------------------------------------------------

func (p *Pipeline) writeback(in MEMWBLatch) {
	inst := &in.Inst
	if inst.WritesGPR() {
		p.regs.Write(inst.Dest, in.Value)
	}
	if inst.VDest != isa.NoReg {
		p.regs.WriteV(inst.VDest, in.VValue)
	}
	if in.FlagsValid {
		*p.regs.Flags() = in.Flags
	}
	p.regs.SetPC(in.NextPC)

	p.counters.Inc(CounterInst)
	if inst.Vector {
		p.counters.Inc(CounterSIMDOps)
	}
	if inst.MemRead || inst.MemWrite {
		p.counters.Inc(CounterMemOps)
	}
	p.trace.Append(TraceEntry{Cycle: p.counters.Get(CounterCycle), PC: in.PC, Word: inst.Word})
}

// ---- memory stage ----------------------------------------------------------

// producesAtMem reports whether the value the instruction writes back
// only exists after the memory stage, so it cannot forward out of
// EX/MEM.
func producesAtMem(inst *isa.Instruction) bool {
	return inst.MemRead || inst.Op == isa.OpSC
}

func (p *Pipeline) memStage(in EXMEMLatch) {
	inst := &in.Inst
	out := MEMWBLatch{
		Valid:      true,
		PC:         in.PC,
		Inst:       in.Inst,
		NextPC:     in.NextPC,
		Flags:      in.Flags,
		FlagsValid: in.FlagsValid,
	}
	var cost uint64

	switch {
	case inst.Op == isa.OpPREFETCH:
		p.prefetchHint(in.ALU)

	case inst.Op == isa.OpCLFLUSH:
		pa := p.mem.Translate(in.ALU, AccRead, p.regs.Flags().User())
		p.caches.FlushLine(pa)

	case inst.Op == isa.OpLR:
		var data []byte
		data, cost = p.busRead(in.ALU, 8)
		out.Value = binary.LittleEndian.Uint64(data)
		p.resAddr, p.resValid = in.ALU, true

	case inst.Op == isa.OpSC:
		if p.resValid && p.resAddr == in.ALU {
			cost = p.busWrite(in.ALU, leBytes(in.StoreVal, 8))
			out.Value = 0
		} else {
			out.Value = 1
		}
		p.resValid = false

	case inst.Op == isa.OpVLOAD:
		var data []byte
		data, cost = p.busRead(in.ALU, 8*isa.VectorLanes)
		for i := 0; i < isa.VectorLanes; i++ {
			out.VValue[i] = binary.LittleEndian.Uint64(data[8*i:])
		}

	case inst.Op == isa.OpVSTORE:
		buf := make([]byte, 8*isa.VectorLanes)
		for i := 0; i < isa.VectorLanes; i++ {
			binary.LittleEndian.PutUint64(buf[8*i:], in.VResult[i])
		}
		cost = p.busWrite(in.ALU, buf)
		p.resValid = false

	case inst.MemRead && inst.MemWrite: // atomics
		var data []byte
		data, cost = p.busRead(in.ALU, 8)
		old := binary.LittleEndian.Uint64(data)
		cost += p.busWrite(in.ALU, leBytes(amoApply(inst.Op, old, in.StoreVal), 8))
		out.Value = old
		p.resValid = false

	case inst.MemRead:
		w := isa.MemWidth(inst.Op)
		var data []byte
		data, cost = p.busRead(in.ALU, w)
		out.Value = leUint(data)

	case inst.MemWrite:
		w := isa.MemWidth(inst.Op)
		cost = p.busWrite(in.ALU, leBytes(in.StoreVal, w))
		p.resValid = false

	default:
		out.Value = in.ALU
		out.VValue = in.VResult
	}

	if cost > 1 {
		p.memStall = cost - 1
	}
	p.memwb = out
}

// prefetchHint translates and touches the line but never faults; a
// bad hint is simply dropped.
func (p *Pipeline) prefetchHint(va uint64) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(interrupts.Trap); !ok {
				panic(r)
			}
		}
	}()
	if IsMMIO(va) {
		return
	}
	pa := p.mem.Translate(va, AccRead, p.regs.Flags().User())
	p.caches.Prefetch(pa)
}

func amoApply(op isa.Opcode, old, v uint64) uint64 {
	switch op {
	case isa.OpAMOSWAP:
		return v
	case isa.OpAMOADD:
		return old + v
	case isa.OpAMOAND:
		return old & v
	case isa.OpAMOOR:
		return old | v
	case isa.OpAMOXOR:
		return old ^ v
	}
	return old
}

// ---- execute stage ---------------------------------------------------------

func (p *Pipeline) exStage(in IDEXLatch, exmemIn EXMEMLatch, memwbIn MEMWBLatch) bool {
	inst := &in.Inst
	a := forwardReg(inst.Src1, in.A, exmemIn, memwbIn)
	b := forwardReg(inst.Src2, in.B, exmemIn, memwbIn)

	out := EXMEMLatch{Valid: true, PC: in.PC, Inst: in.Inst, NextPC: in.PC + 4}
	wrong := false

	switch {
	case inst.Branch:
		taken := true
		var target uint64
		switch inst.Op {
		case isa.OpJMP:
			target = a + uint64(inst.Imm)
			out.ALU = in.PC + 4 // link when rd names a register
		case isa.OpCALL:
			target = in.PC + uint64(inst.Imm*4)
			out.ALU = in.PC + 4
		case isa.OpRET:
			target = a
		default:
			taken = branchTaken(inst.Op, a, b)
			target = in.PC + uint64(inst.Imm)
		}
		next := in.PC + 4
		if taken {
			next = target
		}
		out.NextPC = next
		p.pred.Update(in.PC, taken, target, in.PredTaken, in.PredTarget)
		predicted := in.PC + 4
		if in.PredTaken {
			predicted = in.PredTarget
		}
		if next != predicted {
			p.counters.Inc(CounterBranchMiss)
			p.fetchPC = next
			wrong = true
		}

	case inst.MemRead || inst.MemWrite:
		switch inst.Op {
		case isa.OpVLOAD:
			out.ALU = a
		case isa.OpVSTORE:
			out.ALU = a
			out.VResult = forwardVec(inst.VSrc1, in.VA, exmemIn, memwbIn)
		case isa.OpAMOSWAP, isa.OpAMOADD, isa.OpAMOAND, isa.OpAMOOR, isa.OpAMOXOR:
			out.ALU = a
			out.StoreVal = b
		default:
			out.ALU = a + uint64(inst.Imm)
			out.StoreVal = b
		}

	case inst.Vector:
		if inst.Op == isa.OpVBROADCAST {
			out.VResult = p.vec.Broadcast(a)
			break
		}
		va := forwardVec(inst.VSrc1, in.VA, exmemIn, memwbIn)
		vb := forwardVec(inst.VSrc2, in.VB, exmemIn, memwbIn)
		vd := forwardVec(inst.VDest, in.VD, exmemIn, memwbIn)
		vm := in.VM
		if inst.Vmask != 0 {
			vm = forwardVec(inst.Vmask, in.VM, exmemIn, memwbIn)
		}
		out.VResult = p.vec.Arith(inst.Op, va, vb, vd, vm, inst.Vmask != 0)

	default:
		switch inst.Op {
		case isa.OpLDI:
			out.ALU = uint64(inst.Imm)
		case isa.OpLUI:
			out.ALU = uint64(uint16(inst.Imm)) << 16
		case isa.OpCPUID:
			out.ALU = isa.CPUIDValue
		case isa.OpRDCYCLE:
			out.ALU = p.counters.Get(CounterCycle)
		case isa.OpRDPERF:
			out.ALU = p.PerfValue(CounterID(a % uint64(NumCounters)))
		case isa.OpPREFETCH, isa.OpCLFLUSH:
			out.ALU = a + uint64(inst.Imm)
		case isa.OpNOP, isa.OpFENCE:
			// retires with no effect
		default:
			res, fl := p.alu.Execute(inst.Op, a, b, p.flagBase(exmemIn, memwbIn))
			out.ALU = res
			out.Flags = fl
			out.FlagsValid = true
		}
	}

	p.exmem = out
	return wrong
}

func branchTaken(op isa.Opcode, a, b uint64) bool {
	switch op {
	case isa.OpBEQ:
		return a == b
	case isa.OpBNE:
		return a != b
	case isa.OpBLT:
		return int64(a) < int64(b)
	case isa.OpBGE:
		return int64(a) >= int64(b)
	case isa.OpBLTU:
		return a < b
	case isa.OpBGEU:
		return a >= b
	}
	return false
}

// forwardReg picks the newest in-flight value of reg: the EX/MEM
// result first, the MEM/WB value second, the decode-time read last.
func forwardReg(reg uint8, cur uint64, exmemIn EXMEMLatch, memwbIn MEMWBLatch) uint64 {
	if reg == isa.NoReg {
		return cur
	}
	if exmemIn.Valid && exmemIn.Inst.Dest == reg && !producesAtMem(&exmemIn.Inst) {
		return exmemIn.ALU
	}
	if memwbIn.Valid && memwbIn.Inst.Dest == reg {
		return memwbIn.Value
	}
	return cur
}

func forwardVec(reg uint8, cur [isa.VectorLanes]uint64, exmemIn EXMEMLatch, memwbIn MEMWBLatch) [isa.VectorLanes]uint64 {
	if reg == isa.NoReg {
		return cur
	}
	if exmemIn.Valid && exmemIn.Inst.VDest == reg && !exmemIn.Inst.MemRead {
		return exmemIn.VResult
	}
	if memwbIn.Valid && memwbIn.Inst.VDest == reg {
		return memwbIn.VValue
	}
	return cur
}

// flagBase is the flags an instruction in execute starts from: the
// youngest in-flight update wins over the architectural word.
func (p *Pipeline) flagBase(exmemIn EXMEMLatch, memwbIn MEMWBLatch) isa.Flags {
	if exmemIn.Valid && exmemIn.FlagsValid {
		return exmemIn.Flags
	}
	if memwbIn.Valid && memwbIn.FlagsValid {
		return memwbIn.Flags
	}
	return *p.regs.Flags()
}

// ---- decode stage ----------------------------------------------------------

// decodeStage dispatches the fetched instruction into ID/EX. It
// reports true when a load-use hazard holds the instruction back for
// a cycle. Serializing instructions, breakpoints and decode faults
// arm a drain instead of dispatching.
func (p *Pipeline) decodeStage(in IFIDLatch, prev IDEXLatch) bool {
	if in.Fault != nil {
		p.beginTrap(*in.Fault, in.PC)
		return false
	}

	if _, armed := p.breakpoints[in.PC]; armed {
		if p.resumeSet && p.resumePC == in.PC {
			p.resumeSet = false // stepping off the breakpoint
		} else {
			p.pendingBreak = true
			p.breakPC = in.PC
			return false
		}
	}

	inst, err := isa.Decode(in.Word)
	if err != nil {
		p.beginTrap(interrupts.Trap{
			Vector: interrupts.INTInval,
			Addr:   in.PC,
			Msg:    err.Error(),
		}, in.PC)
		return false
	}

	if inst.Serial {
		p.pendingSerial = &inst
		p.serialPC = in.PC
		return false
	}

	if loadUseHazard(&inst, prev) {
		return true
	}

	lat := IDEXLatch{
		Valid:      true,
		PC:         in.PC,
		Inst:       inst,
		PredTaken:  in.PredTaken,
		PredTarget: in.PredTarget,
	}
	lat.A = p.readGPR(inst.Src1)
	lat.B = p.readGPR(inst.Src2)
	if inst.Vector {
		lat.VA = p.readVReg(inst.VSrc1)
		lat.VB = p.readVReg(inst.VSrc2)
		lat.VD = p.readVReg(inst.VDest)
		if inst.Vmask != 0 {
			lat.VM = p.regs.ReadV(inst.Vmask)
		}
	}
	p.idex = lat
	return false
}

// loadUseHazard reports whether inst consumes a register the
// instruction now entering execute only produces in its memory
// stage.
func loadUseHazard(inst *isa.Instruction, prev IDEXLatch) bool {
	if !prev.Valid || !producesAtMem(&prev.Inst) {
		return false
	}
	if d := prev.Inst.Dest; d != isa.NoReg && (inst.Src1 == d || inst.Src2 == d) {
		return true
	}
	vd := prev.Inst.VDest
	if vd == isa.NoReg {
		return false
	}
	if inst.VSrc1 == vd || inst.VSrc2 == vd {
		return true
	}
	// VFMA and masked ops read their own destination
	if inst.VDest == vd && (inst.Op == isa.OpVFMA || (inst.Vector && inst.Vmask != 0)) {
		return true
	}
	return inst.Vector && inst.Vmask != 0 && inst.Vmask == vd
}

func (p *Pipeline) readGPR(n uint8) uint64 {
	if n == isa.NoReg {
		return 0
	}
	return p.regs.Read(n)
}

func (p *Pipeline) readVReg(n uint8) [isa.VectorLanes]uint64 {
	if n == isa.NoReg {
		return [isa.VectorLanes]uint64{}
	}
	return p.regs.ReadV(n)
}

// ---- fetch stage -----------------------------------------------------------

func (p *Pipeline) fetchStage() {
	if p.fetchStall > 0 {
		p.fetchStall--
		p.counters.Inc(CounterStall)
		if p.fetchStall == 0 && p.fetchWait.valid {
			pc, word := p.fetchWait.pc, p.fetchWait.word
			p.fetchWait.valid = false
			p.deliver(pc, word)
		}
		return
	}

	pc := p.fetchPC
	var (
		word      uint32
		delivered bool
	)
	t := p.guard(func() {
		if pc%4 != 0 {
			panic(interrupts.Trap{Vector: interrupts.INTProt, Addr: pc, Msg: "misaligned instruction fetch"})
		}
		if IsMMIO(pc) {
			panic(interrupts.Trap{Vector: interrupts.INTProt, Addr: pc, Msg: "execute from device space"})
		}
		pa := p.mem.Translate(pc, AccExec, p.regs.Flags().User())
		data, cost := p.caches.Fetch(pa, 4)
		word = binary.LittleEndian.Uint32(data)
		if cost > p.caches.Config().L1Cost {
			p.fetchStall = cost - 1
			return
		}
		delivered = true
	})
	if t != nil {
		// the fault rides along and is only raised if this slot
		// turns out to be on the true path
		p.ifid = IFIDLatch{Valid: true, PC: pc, Fault: t}
		return
	}
	if !delivered {
		p.fetchWait.valid = true
		p.fetchWait.pc = pc
		p.fetchWait.word = word
		return
	}
	p.deliver(pc, word)
}

func (p *Pipeline) deliver(pc uint64, word uint32) {
	taken, target := p.pred.Predict(pc)
	p.ifid = IFIDLatch{Valid: true, PC: pc, Word: word, PredTaken: taken, PredTarget: target}
	if taken {
		p.fetchPC = target
	} else {
		p.fetchPC = pc + 4
	}
}

// ---- drains: traps, serializing instructions, interrupts, breakpoints ------

func (p *Pipeline) finishDrain() {
	p.clearFetch()
	switch {
	case p.pendingTrap != nil:
		t := *p.pendingTrap
		p.pendingTrap = nil
		p.dispatchTrap(t)
	case p.pendingSerial != nil:
		inst := *p.pendingSerial
		p.pendingSerial = nil
		p.execSerial(inst, p.serialPC)
	case p.pendingBreak:
		p.pendingBreak = false
		p.resumePC, p.resumeSet = p.breakPC, true
		p.fetchPC = p.breakPC
		p.emit(Event{Kind: EventBreakpoint, PC: p.breakPC})
	case p.pendingIntSet:
		p.pendingIntSet = false
		p.dispatchInterrupt(p.pendingInt)
	}
}

// dispatchTrap vectors a synchronous fault. With no guest handler the
// machine stops and the host sees an exception event.
func (p *Pipeline) dispatchTrap(t interrupts.Trap) {
	pc := p.trapPC
	handler := p.ic.HandlerAddr(p.mem.Phys(), t.Vector)
	if handler == 0 {
		p.log.Printf("unhandled trap at %08x: %v", pc, t)
		if p.trace.Len() > 0 {
			p.log.Printf("last retired instructions:\n%s", p.trace)
		}
		p.emit(Event{Kind: EventException, PC: pc, Vector: t.Vector, Code: t.Addr})
		p.halted = true
		return
	}
	if err := p.guard(func() { p.enterHandler(handler, pc) }); err != nil {
		p.log.Printf("double fault at %08x: %v", pc, err)
		p.emit(Event{Kind: EventException, PC: pc, Vector: err.Vector, Code: err.Addr})
		p.halted = true
	}
}

// dispatchInterrupt vectors a device interrupt. With no guest handler
// the host just sees the event and execution continues.
func (p *Pipeline) dispatchInterrupt(vec uint8) {
	pc := p.regs.PC()
	handler := p.ic.HandlerAddr(p.mem.Phys(), vec)
	if handler == 0 {
		p.emit(Event{Kind: EventDeviceInterrupt, PC: pc, Vector: vec})
		p.fetchPC = pc
		return
	}
	if err := p.guard(func() { p.enterHandler(handler, pc) }); err != nil {
		p.log.Printf("fault entering interrupt handler: %v", err)
		p.emit(Event{Kind: EventException, PC: pc, Vector: err.Vector, Code: err.Addr})
		p.halted = true
	}
}

// enterHandler pushes the return PC and flags, enters supervisor mode
// with interrupts off, and jumps.
func (p *Pipeline) enterHandler(handler, ret uint64) {
	f := p.regs.Flags()
	sp := p.regs.SP() - 16
	p.busWrite64(sp, ret)
	p.busWrite64(sp+8, uint64(*f))
	p.regs.SetSP(sp)
	f.SetIE(false)
	f.SetUser(false)
	p.ic.EnterService()
	p.regs.SetPC(handler)
	p.fetchPC = handler
}

// execSerial runs a serializing instruction on the empty pipe.
func (p *Pipeline) execSerial(inst isa.Instruction, pc uint64) {
	switch inst.Op {
	case isa.OpHALT:
		p.serialRetire(pc, inst.Word, pc+4)
		p.regs.Flags().SetHalted(true)
		p.halted = true
		p.log.Printf("halt at %08x", pc)
		p.emit(Event{Kind: EventHalted, PC: pc})

	case isa.OpSYSCALL:
		p.serialRetire(pc, inst.Word, pc+4)
		num := uint64(inst.Word & 0x03FF_FFFF)
		if num == 0 {
			num = p.regs.Read(1)
		}
		if handler := p.ic.HandlerAddr(p.mem.Phys(), interrupts.INTSyscall); handler != 0 {
			p.regs.Write(1, num)
			if err := p.guard(func() { p.enterHandler(handler, pc+4) }); err != nil {
				p.beginTrap(*err, pc)
			}
			return
		}
		var exited bool
		if err := p.guard(func() { exited = p.sys.Invoke(num, p.regs, p) }); err != nil {
			p.beginTrap(*err, pc)
			return
		}
		if exited {
			p.regs.Flags().SetHalted(true)
			p.halted = true
			p.emit(Event{Kind: EventHalted, PC: pc, Code: p.sys.ExitCode()})
			return
		}
		p.fetchPC = pc + 4

	case isa.OpIRET:
		if p.ic.Nesting() == 0 {
			p.beginTrap(interrupts.Trap{
				Vector: interrupts.INTInval,
				Addr:   pc,
				Msg:    "iret outside a handler",
			}, pc)
			return
		}
		err := p.guard(func() {
			sp := p.regs.SP()
			ret := p.busRead64(sp)
			saved := p.busRead64(sp + 8)
			p.regs.SetSP(sp + 16)
			*p.regs.Flags() = isa.Flags(saved)
			p.ic.ExitService()
			p.serialRetire(pc, inst.Word, ret)
			p.fetchPC = ret
		})
		if err != nil {
			p.beginTrap(*err, pc)
		}
	}
}

func (p *Pipeline) serialRetire(pc uint64, word uint32, next uint64) {
	p.counters.Inc(CounterInst)
	p.trace.Append(TraceEntry{Cycle: p.counters.Get(CounterCycle), PC: pc, Word: word})
	p.regs.SetPC(next)
}

// ---- the data path to memory ----------------------------------------------

// busRead reads n bytes at virtual address va through translation and
// the data cache, or from a device register. Faults panic as traps.
func (p *Pipeline) busRead(va uint64, n int) ([]byte, uint64) {
	if IsMMIO(va) {
		if n > 8 {
			panic(interrupts.Trap{Vector: interrupts.INTProt, Addr: va, Msg: "wide access to device space"})
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], p.mem.DeviceRead(va, n))
		return buf[:n], 1
	}
	user := p.regs.Flags().User()
	out := make([]byte, 0, n)
	var cost uint64
	for got := 0; got < n; {
		cur := va + uint64(got)
		chunk := n - got
		if rem := int(PageSize - cur%PageSize); chunk > rem {
			chunk = rem
		}
		pa := p.mem.Translate(cur, AccRead, user)
		data, c := p.caches.ReadData(pa, chunk)
		out = append(out, data...)
		cost += c
		got += chunk
	}
	return out, cost
}

// busWrite is the store-side counterpart of busRead.
func (p *Pipeline) busWrite(va uint64, data []byte) uint64 {
	if IsMMIO(va) {
		if len(data) > 8 {
			panic(interrupts.Trap{Vector: interrupts.INTProt, Addr: va, Msg: "wide access to device space"})
		}
		var buf [8]byte
		copy(buf[:], data)
		p.mem.DeviceWrite(va, len(data), binary.LittleEndian.Uint64(buf[:]))
		return 1
	}
	user := p.regs.Flags().User()
	var cost uint64
	for done := 0; done < len(data); {
		cur := va + uint64(done)
		chunk := len(data) - done
		if rem := int(PageSize - cur%PageSize); chunk > rem {
			chunk = rem
		}
		pa := p.mem.Translate(cur, AccWrite, user)
		cost += p.caches.WriteData(pa, data[done:done+chunk])
		done += chunk
	}
	return cost
}

func (p *Pipeline) busRead64(va uint64) uint64 {
	data, _ := p.busRead(va, 8)
	return binary.LittleEndian.Uint64(data)
}

func (p *Pipeline) busWrite64(va, v uint64) {
	p.busWrite(va, leBytes(v, 8))
}

// BusRead implements MemBus for syscall emulation.
func (p *Pipeline) BusRead(va uint64, n int) []byte {
	data, _ := p.busRead(va, n)
	return data
}

// BusWrite implements MemBus for syscall emulation.
func (p *Pipeline) BusWrite(va uint64, data []byte) {
	p.busWrite(va, data)
}

func leBytes(v uint64, n int) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:n]
}

func leUint(data []byte) uint64 {
	var buf [8]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint64(buf[:])
}
