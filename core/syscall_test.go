package core

import (
	"bytes"
	"io"
	"log"
	"strings"
	"testing"
)

// busStub is a flat, fault-free memory for syscall buffer traffic.
type busStub struct {
	mem [4096]byte
}

func (b *busStub) BusRead(va uint64, n int) []byte {
	out := make([]byte, n)
	copy(out, b.mem[va:])
	return out
}

func (b *busStub) BusWrite(va uint64, data []byte) {
	copy(b.mem[va:], data)
}

func discardLog() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSyscalls_write(t *testing.T) {
	var out, errOut bytes.Buffer
	s := NewSyscalls(&out, &errOut, nil, discardLog())
	bus := &busStub{}
	copy(bus.mem[0x100:], "hello")

	regs := &RegisterFile{}
	regs.Write(2, 1)     // fd
	regs.Write(3, 0x100) // buf
	regs.Write(4, 5)     // len

	if s.Invoke(SysWrite, regs, bus) {
		t.Fatal("write syscall reported exit")
	}
	if got := out.String(); got != "hello" {
		t.Errorf("stdout = %q, want %q", got, "hello")
	}
	if got := regs.Read(1); got != 5 {
		t.Errorf("result = %d, want 5", got)
	}

	// fd 2 goes to the error writer
	regs.Write(2, 2)
	s.Invoke(SysWrite, regs, bus)
	if got := errOut.String(); got != "hello" {
		t.Errorf("stderr = %q, want %q", got, "hello")
	}

	// other fds fail
	regs.Write(2, 7)
	s.Invoke(SysWrite, regs, bus)
	if got := regs.Read(1); got != ^uint64(0) {
		t.Errorf("result for bad fd = %#x, want all ones", got)
	}
}

func TestSyscalls_writeEmpty(t *testing.T) {
	var out bytes.Buffer
	s := NewSyscalls(&out, nil, nil, discardLog())

	regs := &RegisterFile{}
	regs.Write(2, 1)
	s.Invoke(SysWrite, regs, &busStub{})

	if out.Len() != 0 {
		t.Errorf("stdout = %q, want empty", out.String())
	}
	if got := regs.Read(1); got != 0 {
		t.Errorf("result = %d, want 0", got)
	}
}

func TestSyscalls_read(t *testing.T) {
	uart := NewUART(nil, NewInterruptController())
	uart.QueueInput([]byte("hi"))
	s := NewSyscalls(nil, nil, uart, discardLog())
	bus := &busStub{}

	regs := &RegisterFile{}
	regs.Write(2, 0)     // fd
	regs.Write(3, 0x200) // buf
	regs.Write(4, 8)     // capacity

	s.Invoke(SysRead, regs, bus)
	if got := regs.Read(1); got != 2 {
		t.Errorf("result = %d, want 2", got)
	}
	if got := string(bus.mem[0x200:0x202]); got != "hi" {
		t.Errorf("buffer = %q, want %q", got, "hi")
	}

	// drained fifo reads zero bytes
	s.Invoke(SysRead, regs, bus)
	if got := regs.Read(1); got != 0 {
		t.Errorf("result on empty fifo = %d, want 0", got)
	}

	// only fd 0 is readable
	regs.Write(2, 1)
	s.Invoke(SysRead, regs, bus)
	if got := regs.Read(1); got != ^uint64(0) {
		t.Errorf("result for bad fd = %#x, want all ones", got)
	}
}

func TestSyscalls_openClose(t *testing.T) {
	s := NewSyscalls(nil, nil, nil, discardLog())
	regs := &RegisterFile{}

	regs.Write(2, 0x100)
	s.Invoke(SysOpen, regs, &busStub{})
	if got := regs.Read(1); got != ^uint64(0) {
		t.Errorf("open = %#x, want all ones", got)
	}

	// console fds refuse to close, others pretend to
	tests := []struct {
		fd   uint64
		want uint64
	}{
		{0, ^uint64(0)},
		{1, ^uint64(0)},
		{2, ^uint64(0)},
		{3, 0},
		{100, 0},
	}
	for _, tt := range tests {
		regs.Write(2, tt.fd)
		s.Invoke(SysClose, regs, &busStub{})
		if got := regs.Read(1); got != tt.want {
			t.Errorf("close(%d) = %#x, want %#x", tt.fd, got, tt.want)
		}
	}
}

func TestSyscalls_exit(t *testing.T) {
	s := NewSyscalls(nil, nil, nil, discardLog())
	regs := &RegisterFile{}
	regs.Write(2, 42)

	if !s.Invoke(SysExit, regs, &busStub{}) {
		t.Fatal("exit syscall did not report exit")
	}
	if got := s.ExitCode(); got != 42 {
		t.Errorf("ExitCode() = %d, want 42", got)
	}
	// exit leaves no result behind
	if got := regs.Read(1); got != 0 {
		t.Errorf("r1 = %d, want 0", got)
	}
}

func TestSyscalls_unknown(t *testing.T) {
	var logged bytes.Buffer
	s := NewSyscalls(nil, nil, nil, log.New(&logged, "", 0))
	regs := &RegisterFile{}

	s.Invoke(99, regs, &busStub{})
	if got := regs.Read(1); got != ^uint64(0) {
		t.Errorf("result = %#x, want all ones", got)
	}
	if !strings.Contains(logged.String(), "unknown syscall 99") {
		t.Errorf("log = %q, want a note about syscall 99", logged.String())
	}
}
