package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Riffe007/nanocore/asm"
	"github.com/Riffe007/nanocore/core"
)

// assemble builds a test program, failing the test on bad source.
func assemble(t *testing.T, src string) (*asm.Program, []byte) {
	t.Helper()
	prog, err := asm.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	return prog, prog.Bytes()
}

// boot creates a 1 MiB machine with the program loaded at its origin.
func boot(t *testing.T, src string, opts ...Option) *VM {
	t.Helper()
	v, err := New(1<<20, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	prog, image := assemble(t, src)
	if err := v.LoadProgram(image, prog.Origin); err != nil {
		t.Fatalf("LoadProgram() error = %v", err)
	}
	return v
}

func TestNew_errors(t *testing.T) {
	tests := []struct {
		name    string
		size    uint64
		wantErr error
	}{
		{"zero size", 0, ErrInvalidParameter},
		{"too large", 1 << 50, ErrOutOfMemory},
		{"one page", 4096, nil},
		{"odd size rounds up", 5000, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := New(tt.size)
			if err != tt.wantErr {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
			if v != nil {
				v.Destroy()
			}
		})
	}
}

func TestRun_arithmetic(t *testing.T) {
	v := boot(t, `
		load r1, 42
		load r2, 58
		add  r3, r1, r2
		halt
	`)
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("Run() = %v, want %v", got, StatusHalted)
	}
	s := v.State()
	if s.GPR[1] != 42 || s.GPR[2] != 58 || s.GPR[3] != 100 {
		t.Errorf("GPR1..3 = %d, %d, %d, want 42, 58, 100",
			s.GPR[1], s.GPR[2], s.GPR[3])
	}
	if s.PC != 0x10010 {
		t.Errorf("PC = %#x, want %#x", s.PC, 0x10010)
	}
	if s.Perf[core.CounterInst] != 4 {
		t.Errorf("retired = %d, want 4", s.Perf[core.CounterInst])
	}
}

func TestRun_smallSum(t *testing.T) {
	v := boot(t, `
		load r1, 10
		load r2, 5
		add  r3, r1, r2
		halt
	`)
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("Run() = %v, want %v", got, StatusHalted)
	}
	if got := v.State().GPR[3]; got != 15 {
		t.Errorf("GPR3 = %d, want 15", got)
	}
}

func TestRun_loop(t *testing.T) {
	v := boot(t, `
		zero r1
		load r2, 5
		load r4, 1
	loop:	add  r1, r1, r2
		sub  r2, r2, r4
		bne  r2, r0, loop
		halt
	`)
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("Run() = %v, want %v", got, StatusHalted)
	}
	s := v.State()
	if s.GPR[1] != 15 {
		t.Errorf("sum = %d, want 15", s.GPR[1])
	}
	if s.GPR[2] != 0 {
		t.Errorf("counter = %d, want 0", s.GPR[2])
	}
	// cold predictor: misses on the first two iterations, trains,
	// then misses the final fall-through
	if got := s.Perf[core.CounterBranchMiss]; got != 3 {
		t.Errorf("branch misses = %d, want 3", got)
	}
}

func TestRun_instructionBudget(t *testing.T) {
	v := boot(t, `
	loop:	beq r0, r0, loop
	`)
	if got := v.Run(100); got != StatusOk {
		t.Fatalf("Run(100) = %v, want %v", got, StatusOk)
	}
	retired, err := v.PerfCounter(int(core.CounterInst))
	if err != nil {
		t.Fatalf("PerfCounter() error = %v", err)
	}
	if retired < 100 {
		t.Errorf("retired = %d, want >= 100", retired)
	}
}

func TestStep_afterHalt(t *testing.T) {
	v := boot(t, "halt")
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("Run() = %v, want %v", got, StatusHalted)
	}
	if got := v.Step(); got != StatusHalted {
		t.Errorf("Step() after halt = %v, want %v", got, StatusHalted)
	}
}

func TestRun_illegalInstruction(t *testing.T) {
	v, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := v.LoadProgram([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 0x10000); err != nil {
		t.Fatalf("LoadProgram() error = %v", err)
	}
	if got := v.Run(0); got != StatusIllegalInstruction {
		t.Errorf("Run() = %v, want %v", got, StatusIllegalInstruction)
	}
}

func TestBreakpoints(t *testing.T) {
	v := boot(t, `
		load r1, 1
		load r2, 2
		add  r3, r1, r2
		halt
	`)
	if err := v.SetBreakpoint(0x10008); err != nil {
		t.Fatalf("SetBreakpoint() error = %v", err)
	}

	if got := v.Run(0); got != StatusBreakpoint {
		t.Fatalf("Run() = %v, want %v", got, StatusBreakpoint)
	}
	s := v.State()
	if s.PC != 0x10008 {
		t.Errorf("PC at break = %#x, want %#x", s.PC, 0x10008)
	}
	if s.GPR[3] != 0 {
		t.Errorf("GPR3 = %d before the add retires, want 0", s.GPR[3])
	}

	// resuming steps over the armed address without re-firing
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("resumed Run() = %v, want %v", got, StatusHalted)
	}
	if got := v.State().GPR[3]; got != 3 {
		t.Errorf("GPR3 = %d, want 3", got)
	}
}

func TestBreakpoints_errors(t *testing.T) {
	v, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := v.SetBreakpoint(0x10002); err != ErrInvalidParameter {
		t.Errorf("SetBreakpoint(unaligned) error = %v, want %v", err, ErrInvalidParameter)
	}
	if err := v.ClearBreakpoint(0x10000); err != ErrInvalidParameter {
		t.Errorf("ClearBreakpoint(unset) error = %v, want %v", err, ErrInvalidParameter)
	}

	for i := 0; i < MaxBreakpoints; i++ {
		if err := v.SetBreakpoint(uint64(0x1000 + 4*i)); err != nil {
			t.Fatalf("SetBreakpoint(%d) error = %v", i, err)
		}
	}
	if err := v.SetBreakpoint(0x8000); err != ErrTooManyBreakpoints {
		t.Errorf("SetBreakpoint(overflow) error = %v, want %v", err, ErrTooManyBreakpoints)
	}
	// re-arming an armed address is not an error and takes no slot
	if err := v.SetBreakpoint(0x1000); err != nil {
		t.Errorf("SetBreakpoint(rearm) error = %v", err)
	}
	if got := len(v.Breakpoints()); got != MaxBreakpoints {
		t.Errorf("len(Breakpoints()) = %d, want %d", got, MaxBreakpoints)
	}
}

func TestRegisters(t *testing.T) {
	v, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := v.SetRegister(5, 777); err != nil {
		t.Fatalf("SetRegister() error = %v", err)
	}
	if got, _ := v.Register(5); got != 777 {
		t.Errorf("Register(5) = %d, want 777", got)
	}

	// R0 swallows writes
	if err := v.SetRegister(0, 123); err != nil {
		t.Fatalf("SetRegister(0) error = %v", err)
	}
	if got, _ := v.Register(0); got != 0 {
		t.Errorf("Register(0) = %d, want 0", got)
	}

	if _, err := v.Register(32); err != ErrOutOfRange {
		t.Errorf("Register(32) error = %v, want %v", err, ErrOutOfRange)
	}
	if err := v.SetRegister(-1, 0); err != ErrOutOfRange {
		t.Errorf("SetRegister(-1) error = %v, want %v", err, ErrOutOfRange)
	}
}

func TestMemoryAccess(t *testing.T) {
	v, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := v.WriteMemory(0x2000, data); err != nil {
		t.Fatalf("WriteMemory() error = %v", err)
	}
	got, err := v.ReadMemory(0x2000, 4)
	if err != nil {
		t.Fatalf("ReadMemory() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadMemory() = %x, want %x", got, data)
	}

	if _, err := v.ReadMemory(1<<20, 1); err != ErrOutOfRange {
		t.Errorf("ReadMemory(end) error = %v, want %v", err, ErrOutOfRange)
	}
	if err := v.WriteMemory(core.MMIOBit, data); err != ErrOutOfRange {
		t.Errorf("WriteMemory(device) error = %v, want %v", err, ErrOutOfRange)
	}
}

func TestLoadProgram_bounds(t *testing.T) {
	v, err := New(4096)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := v.LoadProgram(make([]byte, 8), 4092); err != ErrOutOfRange {
		t.Errorf("LoadProgram(past end) error = %v, want %v", err, ErrOutOfRange)
	}
	if err := v.LoadProgram([]byte{0, 0, 0, 0}, core.MMIOBit); err != ErrOutOfRange {
		t.Errorf("LoadProgram(device) error = %v, want %v", err, ErrOutOfRange)
	}
}

func TestReset(t *testing.T) {
	v := boot(t, `
		load r1, 42
		load r2, 58
		add  r3, r1, r2
		halt
	`)
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("Run() = %v, want %v", got, StatusHalted)
	}
	v.SetBreakpoint(0x10004)

	v.Reset()
	s := v.State()
	if s.PC != 0x10000 {
		t.Errorf("PC after reset = %#x, want %#x", s.PC, 0x10000)
	}
	if s.GPR[3] != 0 {
		t.Errorf("GPR3 after reset = %d, want 0", s.GPR[3])
	}
	if got := len(v.Breakpoints()); got != 0 {
		t.Errorf("breakpoints after reset = %d, want 0", got)
	}

	// memory survives: the loaded program runs again unchanged
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("Run() after reset = %v, want %v", got, StatusHalted)
	}
	if got := v.State().GPR[3]; got != 100 {
		t.Errorf("GPR3 = %d, want 100", got)
	}
}

func TestSyscall_write(t *testing.T) {
	var out bytes.Buffer
	v := boot(t, `
		load r2, 1
		la   r3, msg
		load r4, 3
		syscall 1
		halt
	msg:	.string "Hi!"
	`, WithOutput(&out))
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("Run() = %v, want %v", got, StatusHalted)
	}
	if got := out.String(); got != "Hi!" {
		t.Errorf("output = %q, want %q", got, "Hi!")
	}
	if got := v.State().GPR[1]; got != 3 {
		t.Errorf("GPR1 = %d, want write result 3", got)
	}
}

func TestSyscall_exit(t *testing.T) {
	v := boot(t, `
		load r2, 7
		syscall 60
	`)
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("Run() = %v, want %v", got, StatusHalted)
	}
	e, ok := v.PollEvent()
	if !ok || e.Kind != EventHalted {
		t.Fatalf("PollEvent() = %v, %v, want halt event", e, ok)
	}
	if e.Code != 7 {
		t.Errorf("exit code = %d, want 7", e.Code)
	}
}

func TestSyscall_read(t *testing.T) {
	v := boot(t, `
		zero r1
		load r2, 0
		la   r3, buf
		load r4, 5
		syscall
		halt
	buf:	.word 0, 0
	`, WithInput(strings.NewReader("abc")))
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("Run() = %v, want %v", got, StatusHalted)
	}
	if got := v.State().GPR[1]; got != 3 {
		t.Errorf("GPR1 = %d, want read result 3", got)
	}
	buf, err := v.ReadMemory(0x10020, 3)
	if err != nil {
		t.Fatalf("ReadMemory() error = %v", err)
	}
	if string(buf) != "abc" {
		t.Errorf("buffer = %q, want %q", buf, "abc")
	}
}

func TestUART_storeTransmits(t *testing.T) {
	var out bytes.Buffer
	v := boot(t, `
		load r1, 72
		load r2, 1
		load r3, 63
		shl  r2, r2, r3
		st   r1, 0(r2)
		halt
	`, WithOutput(&out))
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("Run() = %v, want %v", got, StatusHalted)
	}
	if got := out.String(); got != "H" {
		t.Errorf("uart output = %q, want %q", got, "H")
	}
}

func TestDeterminism(t *testing.T) {
	src := `
		zero r1
		load r2, 5
		load r4, 1
	loop:	add  r1, r1, r2
		sub  r2, r2, r4
		bne  r2, r0, loop
		halt
	`
	a := boot(t, src)
	b := boot(t, src)
	if got := a.Run(0); got != StatusHalted {
		t.Fatalf("first Run() = %v", got)
	}
	if got := b.Run(0); got != StatusHalted {
		t.Fatalf("second Run() = %v", got)
	}
	if a.State() != b.State() {
		t.Errorf("states diverge:\n%+v\n%+v", a.State(), b.State())
	}
}

func TestPerfCounter_range(t *testing.T) {
	v, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	tests := []struct {
		name    string
		counter int
		wantErr error
	}{
		{"first", 0, nil},
		{"last", int(core.NumCounters) - 1, nil},
		{"past end", int(core.NumCounters), ErrOutOfRange},
		{"negative", -1, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.PerfCounter(tt.counter); err != tt.wantErr {
				t.Errorf("PerfCounter(%d) error = %v, want %v", tt.counter, err, tt.wantErr)
			}
		})
	}
}

func TestPollEvent_drains(t *testing.T) {
	v := boot(t, "halt")
	if got := v.Run(0); got != StatusHalted {
		t.Fatalf("Run() = %v", got)
	}
	e, ok := v.PollEvent()
	if !ok || e.Kind != EventHalted {
		t.Fatalf("PollEvent() = %v, %v, want halt event", e, ok)
	}
	if e.PC != 0x10000 {
		t.Errorf("event PC = %#x, want %#x", e.PC, 0x10000)
	}
	if _, ok := v.PollEvent(); ok {
		t.Error("PollEvent() on empty queue reported an event")
	}
}

func TestDestroy(t *testing.T) {
	v, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	v.Destroy()
	if got := v.Step(); got != StatusError {
		t.Errorf("Step() after destroy = %v, want %v", got, StatusError)
	}
	if _, err := v.Register(1); err == nil {
		t.Error("Register() after destroy succeeded")
	}
	if err := v.LoadProgram([]byte{0, 0, 0, 0}, 0); err == nil {
		t.Error("LoadProgram() after destroy succeeded")
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusOk, "ok"},
		{StatusHalted, "halted"},
		{StatusBreakpoint, "breakpoint"},
		{StatusIllegalInstruction, "illegal instruction"},
		{StatusError, "error"},
		{Status(99), "status(99)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
