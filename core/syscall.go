package core

import (
	"io"
	"log"
)

// Syscall numbers the host emulates when the guest installs no
// handler for the syscall vector.
const (
	SysRead  = 0
	SysWrite = 1
	SysOpen  = 2
	SysClose = 3
	SysExit  = 60
)

// MemBus is the translated, cache-coherent path used for syscall
// buffer arguments. Faults surface as traps.
type MemBus interface {
	BusRead(va uint64, n int) []byte
	BusWrite(va uint64, data []byte)
}

// Syscalls is the host side of the syscall instruction: a minimal
// console OS. Fd 0 reads from the UART fifo, fd 1 and 2 write to the
// configured outputs. open always fails; exit stops the machine.
type Syscalls struct {
	out    io.Writer
	errOut io.Writer
	uart   *UART
	log    *log.Logger

	exitCode uint64
}

func NewSyscalls(out, errOut io.Writer, uart *UART, logger *log.Logger) *Syscalls {
	return &Syscalls{out: out, errOut: errOut, uart: uart, log: logger}
}

// Invoke runs syscall num with arguments in R2..R4 and leaves the
// result in R1. It reports whether the program exited.
func (s *Syscalls) Invoke(num uint64, regs *RegisterFile, bus MemBus) bool {
	a1, a2, a3 := regs.Read(2), regs.Read(3), regs.Read(4)
	var res uint64
	switch num {
	case SysRead:
		res = s.read(a1, a2, a3, bus)
	case SysWrite:
		res = s.write(a1, a2, a3, bus)
	case SysOpen:
		res = ^uint64(0) // no filesystem
	case SysClose:
		if a1 > 2 {
			res = 0
		} else {
			res = ^uint64(0) // the console fds stay open
		}
	case SysExit:
		s.exitCode = a1
		return true
	default:
		s.log.Printf("unknown syscall %d", num)
		res = ^uint64(0)
	}
	regs.Write(1, res)
	return false
}

func (s *Syscalls) read(fd, buf, n uint64, bus MemBus) uint64 {
	if fd != 0 || s.uart == nil {
		return ^uint64(0)
	}
	data := make([]byte, 0, n)
	for uint64(len(data)) < n {
		b, ok := s.uart.ReadByte()
		if !ok {
			break
		}
		data = append(data, b)
	}
	if len(data) > 0 {
		bus.BusWrite(buf, data)
	}
	return uint64(len(data))
}

func (s *Syscalls) write(fd, buf, n uint64, bus MemBus) uint64 {
	var w io.Writer
	switch fd {
	case 1:
		w = s.out
	case 2:
		w = s.errOut
	default:
		return ^uint64(0)
	}
	if n == 0 {
		return 0
	}
	data := bus.BusRead(buf, int(n))
	if w != nil {
		w.Write(data)
	}
	return n
}

// ExitCode returns the argument of the last exit syscall.
func (s *Syscalls) ExitCode() uint64 { return s.exitCode }
