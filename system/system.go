// Package system assembles a complete machine: the virtual machine,
// a boot program and the status console. The debugger in main wires
// it to a gocui surface; the -nogui path runs it headless.
package system

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/Riffe007/nanocore/asm"
	"github.com/Riffe007/nanocore/console"
	"github.com/Riffe007/nanocore/core"
	"github.com/Riffe007/nanocore/isa"
	"github.com/Riffe007/nanocore/logger"
	"github.com/Riffe007/nanocore/vm"
)

// DefaultMemSize is the physical memory installed when the
// configuration leaves the size at zero.
const DefaultMemSize = 1 << 24

// RunChunk bounds how many instructions one Continue call retires
// before handing control back to the frontend.
const RunChunk = 2_000_000

// Config selects what the system boots.
type Config struct {
	MemSize     uint64
	ProgramPath string    // assembly source; empty boots a built-in program
	DiskImage   string    // optional disk image to attach
	Output      io.Writer // guest console output
	Log         *log.Logger
}

// System is one assembled machine: the virtual machine, the program
// it boots and the status console it reports to.
type System struct {
	VM *vm.VM

	con console.Console
	log *log.Logger

	program *asm.Program
}

// InitializeSystem builds the machine, assembles the boot program
// and loads it. With no program path it boots the disk bootstrap
// when an image is attached, and the built-in demo otherwise.
func InitializeSystem(cfg Config, con console.Console) (*System, error) {
	if cfg.MemSize == 0 {
		cfg.MemSize = DefaultMemSize
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}

	opts := []vm.Option{vm.WithLogger(cfg.Log)}
	if cfg.Output != nil {
		opts = append(opts, vm.WithOutput(cfg.Output))
	}
	if cfg.DiskImage != "" {
		opts = append(opts, vm.WithDiskImage(cfg.DiskImage))
	}
	machine, err := vm.New(cfg.MemSize, opts...)
	if err != nil {
		return nil, err
	}

	src := demoSource
	switch {
	case cfg.ProgramPath != "":
		buf, err := os.ReadFile(cfg.ProgramPath)
		if err != nil {
			machine.Destroy()
			return nil, err
		}
		src = string(buf)
	case cfg.DiskImage != "":
		src = bootSource
	}

	prog, err := asm.Assemble(src)
	if err != nil {
		machine.Destroy()
		return nil, fmt.Errorf("assemble: %w", err)
	}
	if err := machine.LoadProgram(prog.Bytes(), prog.Origin); err != nil {
		machine.Destroy()
		return nil, err
	}

	sys := &System{VM: machine, con: con, log: cfg.Log, program: prog}
	_ = con.WriteConsole(fmt.Sprintf("loaded %d words at %08x\n", len(prog.Words), prog.Origin))
	return sys, nil
}

// Step retires work for one cycle and reports the machine status.
func (sys *System) Step() vm.Status {
	st := sys.VM.Step()
	sys.drainEvents()
	return st
}

// Continue runs one chunk. The second result is true when the budget
// ran out with the machine still willing, so the caller should come
// back for more.
func (sys *System) Continue() (vm.Status, bool) {
	st := sys.VM.Run(RunChunk)
	sys.drainEvents()
	return st, st == vm.StatusOk
}

// Boot runs the loaded program until it stops. A nonzero maxInst
// bounds the run; zero means run to completion.
func (sys *System) Boot(maxInst uint64) vm.Status {
	for {
		chunk := uint64(RunChunk)
		if maxInst != 0 && maxInst < chunk {
			chunk = maxInst
		}
		st := sys.VM.Run(chunk)
		sys.drainEvents()
		if st != vm.StatusOk {
			return st
		}
		if maxInst != 0 {
			if maxInst <= chunk {
				return st
			}
			maxInst -= chunk
		}
	}
}

// Reset rewinds the machine and reloads the boot image.
func (sys *System) Reset() error {
	sys.VM.Reset()
	if sys.program != nil {
		if err := sys.VM.LoadProgram(sys.program.Bytes(), sys.program.Origin); err != nil {
			return err
		}
	}
	_ = sys.con.WriteConsole("machine reset\n")
	return nil
}

// ToggleBreakpoint arms the address, or disarms it when already set.
func (sys *System) ToggleBreakpoint(addr uint64) error {
	for _, b := range sys.VM.Breakpoints() {
		if b == addr {
			_ = sys.con.WriteConsole(fmt.Sprintf("breakpoint cleared at %08x\n", addr))
			return sys.VM.ClearBreakpoint(addr)
		}
	}
	if err := sys.VM.SetBreakpoint(addr); err != nil {
		return err
	}
	_ = sys.con.WriteConsole(fmt.Sprintf("breakpoint set at %08x\n", addr))
	return nil
}

// drainEvents forwards queued machine events to the console.
func (sys *System) drainEvents() {
	for {
		e, ok := sys.VM.PollEvent()
		if !ok {
			return
		}
		_ = sys.con.WriteConsole(e.String() + "\n")
	}
}

// Where renders the current program counter with its instruction.
func (sys *System) Where() string {
	pc := sys.VM.State().PC
	buf, err := sys.VM.ReadMemory(pc, 4)
	if err != nil {
		return fmt.Sprintf("%08x  ??", pc)
	}
	return fmt.Sprintf("%08x  %s", pc, isa.Disasm(binary.LittleEndian.Uint32(buf)))
}

// StatusText renders the scalar registers for the register view.
func (sys *System) StatusText() string {
	st := sys.VM.State()
	var b strings.Builder
	for i := 0; i < len(st.GPR); i += 4 {
		fmt.Fprintf(&b, "R%-2d %016x  R%-2d %016x  R%-2d %016x  R%-2d %016x\n",
			i, st.GPR[i], i+1, st.GPR[i+1], i+2, st.GPR[i+2], i+3, st.GPR[i+3])
	}
	f := isa.Flags(st.Flags)
	fmt.Fprintf(&b, "PC  %016x  SP  %016x  flags %s\n", st.PC, st.SP, f.String())
	return b.String()
}

// PerfText renders the performance counters, one per line.
func (sys *System) PerfText() string {
	var b strings.Builder
	for id := core.CounterID(0); id < core.NumCounters; id++ {
		n, err := sys.VM.PerfCounter(int(id))
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%-14s %12d\n", core.CounterName(id), n)
	}
	return b.String()
}
