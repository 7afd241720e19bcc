// Package vm is the stable embedding surface of the nanocore
// machine: create, load, step or run, inspect, and poll events. The
// debugger and any other host tooling consume only this package.
package vm

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/Riffe007/nanocore/core"
	"github.com/Riffe007/nanocore/interrupts"
	"github.com/Riffe007/nanocore/isa"
	"github.com/Riffe007/nanocore/logger"
)

// Errors returned by the API. Faults inside the guest never surface
// here; they become events.
var (
	ErrInvalidParameter   = errors.New("vm: invalid parameter")
	ErrOutOfMemory        = errors.New("vm: out of memory")
	ErrOutOfRange         = errors.New("vm: out of range")
	ErrTooManyBreakpoints = errors.New("vm: too many breakpoints")
)

// MaxBreakpoints is the breakpoint table capacity.
const MaxBreakpoints = 64

// maxMemory bounds what New will try to allocate.
const maxMemory = 1 << 40

// Device space layout: page-sized slots in the bit-63 half of the
// address space.
const (
	UARTBase  = core.MMIOBit | 0x0000
	DiskBase  = core.MMIOBit | 0x1000
	TimerBase = core.MMIOBit | 0x2000
	CtlBase   = core.MMIOBit | 0x3000
)

// Event and its kinds, re-exported so embedders need only this
// package.
type (
	Event     = core.Event
	EventKind = core.EventKind
)

const (
	EventHalted          = core.EventHalted
	EventBreakpoint      = core.EventBreakpoint
	EventException       = core.EventException
	EventDeviceInterrupt = core.EventDeviceInterrupt
)

// Status is what Step and Run report.
type Status uint8

const (
	StatusOk Status = iota
	StatusHalted
	StatusBreakpoint
	StatusIllegalInstruction
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusHalted:
		return "halted"
	case StatusBreakpoint:
		return "breakpoint"
	case StatusIllegalInstruction:
		return "illegal instruction"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// State is a point-in-time copy of the architectural machine state.
type State struct {
	PC    uint64
	SP    uint64
	Flags uint64

	GPR  [isa.NumGPR]uint64
	VReg [isa.NumVReg][isa.VectorLanes]uint64

	Perf      [core.NumCounters]uint64
	CacheCtrl uint64
	VBase     uint64
}

type config struct {
	out      io.Writer
	errOut   io.Writer
	in       io.Reader
	log      *log.Logger
	caches   core.CacheConfig
	devices  bool
	diskPath string
}

// Option configures New.
type Option func(*config)

// WithOutput routes guest console output (UART transmit and the
// write syscall's fd 1).
func WithOutput(w io.Writer) Option { return func(c *config) { c.out = w } }

// WithErrorOutput routes the write syscall's fd 2.
func WithErrorOutput(w io.Writer) Option { return func(c *config) { c.errOut = w } }

// WithInput queues r's entire contents as console input.
func WithInput(r io.Reader) Option { return func(c *config) { c.in = r } }

// WithLogger routes machine diagnostics. The default discards them.
func WithLogger(l *log.Logger) Option { return func(c *config) { c.log = l } }

// WithCacheConfig overrides the cache geometry.
func WithCacheConfig(cc core.CacheConfig) Option { return func(c *config) { c.caches = cc } }

// WithoutDevices builds a bare core: no UART, disk, timer or control
// page. Syscall console I/O still works through the writers.
func WithoutDevices() Option { return func(c *config) { c.devices = false } }

// WithDiskImage attaches the named image file to the block device.
func WithDiskImage(path string) Option { return func(c *config) { c.diskPath = path } }

// VM is one machine instance. Instances share nothing; a single
// instance is not safe for concurrent calls.
type VM struct {
	regs   *core.RegisterFile
	phys   *core.Memory
	mem    *core.MemoryManager
	caches *core.Hierarchy
	pred   *core.Predictor
	ic     *core.InterruptController
	pipe   *core.Pipeline
	uart   *core.UART
	timer  *core.Timer
	disk   *core.Disk
	log    *log.Logger

	loadAddr  uint64
	events    []Event
	destroyed bool
}

// New builds a machine with memorySize bytes of physical memory
// (rounded up to a whole page).
func New(memorySize uint64, opts ...Option) (*VM, error) {
	cfg := config{
		out:     os.Stdout,
		errOut:  os.Stderr,
		log:     logger.Discard(),
		caches:  core.DefaultCacheConfig(),
		devices: true,
	}
	for _, o := range opts {
		o(&cfg)
	}

	if memorySize == 0 {
		return nil, ErrInvalidParameter
	}
	if memorySize > maxMemory {
		return nil, ErrOutOfMemory
	}
	phys, err := core.NewMemory(memorySize)
	if err != nil {
		return nil, ErrInvalidParameter
	}

	v := &VM{
		regs:   &core.RegisterFile{},
		phys:   phys,
		mem:    core.NewMemoryManager(phys),
		caches: core.NewHierarchy(cfg.caches, phys, phys.Size()),
		pred:   &core.Predictor{},
		ic:     core.NewInterruptController(),
		log:    cfg.log,
	}
	v.regs.Reset(0, phys.Size())

	if cfg.devices {
		v.uart = core.NewUART(cfg.out, v.ic)
		v.disk = core.NewDisk(phys, v.ic, v.caches)
		v.timer = core.NewTimer(v.ic)
		v.mem.MapDevice(UARTBase&^core.MMIOBit, v.uart)
		v.mem.MapDevice(DiskBase&^core.MMIOBit, v.disk)
		v.mem.MapDevice(TimerBase&^core.MMIOBit, v.timer)
		v.mem.MapDevice(CtlBase&^core.MMIOBit, &core.ControlPage{
			IC:     v.ic,
			MM:     v.mem,
			Caches: v.caches,
		})
		if cfg.diskPath != "" {
			if err := v.disk.Attach(cfg.diskPath); err != nil {
				return nil, err
			}
		}
	}

	sys := core.NewSyscalls(cfg.out, cfg.errOut, v.uart, cfg.log)
	v.pipe = core.NewPipeline(v.regs, v.mem, v.caches, v.pred, v.ic, sys, v.timer, cfg.log)
	v.pipe.OnEvent(func(e Event) { v.events = append(v.events, e) })

	if cfg.in != nil && v.uart != nil {
		data, err := io.ReadAll(cfg.in)
		if err != nil {
			return nil, err
		}
		v.uart.QueueInput(data)
	}
	return v, nil
}

// Destroy releases the machine. Every later call fails or reports
// StatusError.
func (v *VM) Destroy() {
	v.destroyed = true
	v.phys = nil
	v.mem = nil
	v.caches = nil
	v.pipe = nil
	v.events = nil
}

// Reset returns the machine to its cold state: registers, flags,
// TLB, caches, predictor, pipeline, counters, events and breakpoints
// all cleared, memory contents preserved. The PC returns to the last
// load address.
func (v *VM) Reset() {
	if v.destroyed {
		return
	}
	v.regs.Reset(v.loadAddr, v.phys.Size())
	v.mem.SetRoot(0)
	v.caches.Reset()
	v.pred.Reset()
	v.ic.Reset()
	if v.uart != nil {
		v.uart.Reset()
	}
	if v.timer != nil {
		v.timer.Reset()
	}
	if v.disk != nil {
		v.disk.Reset()
	}
	v.pipe.Reset(v.loadAddr)
	v.events = nil
}

// LoadProgram copies image into physical memory at addr and points
// the machine there.
func (v *VM) LoadProgram(image []byte, addr uint64) error {
	if v.destroyed {
		return ErrInvalidParameter
	}
	if core.IsMMIO(addr) {
		return ErrOutOfRange
	}
	if addr+uint64(len(image)) > v.phys.Size() {
		return ErrOutOfRange
	}
	v.caches.SyncRange(addr, uint64(len(image)))
	v.phys.Write(addr, image)
	v.loadAddr = addr
	v.pipe.SetFetchPC(addr)
	v.log.Printf("loaded %d bytes at %08x", len(image), addr)
	return nil
}

// Step runs one clock cycle.
func (v *VM) Step() Status {
	if v.destroyed {
		return StatusError
	}
	if v.pipe.Halted() {
		return StatusHalted
	}
	mark := len(v.events)
	v.pipe.Tick()
	return v.statusSince(mark)
}

// Run executes until halt, breakpoint, exception, or until
// maxInstructions have retired. Zero means no instruction budget.
func (v *VM) Run(maxInstructions uint64) Status {
	if v.destroyed {
		return StatusError
	}
	start := v.pipe.PerfValue(core.CounterInst)
	for {
		if st := v.Step(); st != StatusOk {
			return st
		}
		if maxInstructions > 0 &&
			v.pipe.PerfValue(core.CounterInst)-start >= maxInstructions {
			return StatusOk
		}
	}
}

func (v *VM) statusSince(mark int) Status {
	for _, e := range v.events[mark:] {
		switch e.Kind {
		case EventHalted:
			return StatusHalted
		case EventBreakpoint:
			return StatusBreakpoint
		case EventException:
			if e.Vector == interrupts.INTInval {
				return StatusIllegalInstruction
			}
			return StatusError
		}
	}
	return StatusOk
}

// State snapshots the architectural state.
func (v *VM) State() State {
	s := State{
		PC:    v.regs.PC(),
		SP:    v.regs.SP(),
		Flags: uint64(*v.regs.Flags()),
		Perf:  [core.NumCounters]uint64(v.pipe.Counters()),
		VBase: v.ic.VBase(),
	}
	for i := range s.GPR {
		s.GPR[i] = v.regs.Read(uint8(i))
	}
	for i := range s.VReg {
		s.VReg[i] = v.regs.ReadV(uint8(i))
	}
	if v.caches.Bypassed() {
		s.CacheCtrl = 1
	}
	return s
}

// Register reads GPR i. R0 is always zero.
func (v *VM) Register(i int) (uint64, error) {
	if v.destroyed || i < 0 || i >= isa.NumGPR {
		return 0, ErrOutOfRange
	}
	return v.regs.Read(uint8(i)), nil
}

// SetRegister writes GPR i. Writes to R0 are dropped.
func (v *VM) SetRegister(i int, val uint64) error {
	if v.destroyed || i < 0 || i >= isa.NumGPR {
		return ErrOutOfRange
	}
	v.regs.Write(uint8(i), val)
	return nil
}

// ReadMemory copies n bytes of physical memory at addr, untranslated
// and without disturbing cache statistics. Dirty cache lines are
// synced first so the copy is current.
func (v *VM) ReadMemory(addr uint64, n int) ([]byte, error) {
	if v.destroyed || n < 0 {
		return nil, ErrInvalidParameter
	}
	if core.IsMMIO(addr) || addr+uint64(n) > v.phys.Size() {
		return nil, ErrOutOfRange
	}
	v.caches.SyncRange(addr, uint64(n))
	return append([]byte(nil), v.phys.Read(addr, n)...), nil
}

// WriteMemory stores b at physical addr, bypassing translation. The
// covering cache lines (instruction side included) are dropped so the
// pipeline sees the new bytes.
func (v *VM) WriteMemory(addr uint64, b []byte) error {
	if v.destroyed {
		return ErrInvalidParameter
	}
	if core.IsMMIO(addr) || addr+uint64(len(b)) > v.phys.Size() {
		return ErrOutOfRange
	}
	v.caches.SyncRange(addr, uint64(len(b)))
	v.phys.Write(addr, b)
	return nil
}

// SetBreakpoint arms a breakpoint at a word-aligned address.
func (v *VM) SetBreakpoint(addr uint64) error {
	if v.destroyed || addr%4 != 0 {
		return ErrInvalidParameter
	}
	if v.pipe.HasBreakpoint(addr) {
		return nil
	}
	if v.pipe.NumBreakpoints() >= MaxBreakpoints {
		return ErrTooManyBreakpoints
	}
	v.pipe.AddBreakpoint(addr)
	return nil
}

// ClearBreakpoint disarms the breakpoint at addr.
func (v *VM) ClearBreakpoint(addr uint64) error {
	if v.destroyed || !v.pipe.HasBreakpoint(addr) {
		return ErrInvalidParameter
	}
	v.pipe.RemoveBreakpoint(addr)
	return nil
}

// Breakpoints lists the armed addresses in order.
func (v *VM) Breakpoints() []uint64 {
	if v.destroyed {
		return nil
	}
	return v.pipe.Breakpoints()
}

// PerfCounter reads performance counter i (0..7).
func (v *VM) PerfCounter(i int) (uint64, error) {
	if v.destroyed || i < 0 || i >= int(core.NumCounters) {
		return 0, ErrOutOfRange
	}
	return v.pipe.PerfValue(core.CounterID(i)), nil
}

// PollEvent pops the oldest queued event.
func (v *VM) PollEvent() (Event, bool) {
	if len(v.events) == 0 {
		return Event{}, false
	}
	e := v.events[0]
	v.events = v.events[1:]
	return e, true
}

// QueueInput feeds bytes to the console device.
func (v *VM) QueueInput(data []byte) {
	if v.destroyed || v.uart == nil {
		return
	}
	v.uart.QueueInput(data)
}

// Trace returns the recent retirement history, oldest first.
func (v *VM) Trace() []core.TraceEntry {
	if v.destroyed {
		return nil
	}
	return v.pipe.Trace().Entries()
}
