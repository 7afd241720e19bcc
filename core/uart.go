package core

import (
	"io"

	"github.com/Riffe007/nanocore/interrupts"
)

// UART register offsets within its device page.
const (
	UARTData   = 0x00 // write transmits a byte, read pops the rx fifo
	UARTStatus = 0x08 // bit 0 rx ready, bit 1 tx ready
	UARTCtrl   = 0x10 // bit 0 enables the rx interrupt
)

// UART is the console device. Transmit goes straight to the output
// writer; receive is a fifo the host feeds with QueueInput. With the
// rx interrupt enabled, queued input raises INTTtyIn.
type UART struct {
	out io.Writer
	ic  *InterruptController

	rx    []byte
	rxInt bool

	txCount uint64
}

// NewUART wires a console device to out. A nil writer discards
// transmitted bytes.
func NewUART(out io.Writer, ic *InterruptController) *UART {
	return &UART{out: out, ic: ic}
}

// Name implements MMIOHandler.
func (u *UART) Name() string { return "uart" }

// QueueInput appends bytes to the receive fifo.
func (u *UART) QueueInput(data []byte) {
	if len(data) == 0 {
		return
	}
	u.rx = append(u.rx, data...)
	if u.rxInt {
		u.ic.Raise(interrupts.INTTtyIn)
	}
}

// ReadByte pops one byte from the receive fifo. It backs both the
// data register and the host read syscall.
func (u *UART) ReadByte() (byte, bool) {
	if len(u.rx) == 0 {
		return 0, false
	}
	b := u.rx[0]
	u.rx = u.rx[1:]
	return b, true
}

// Buffered returns how many rx bytes are waiting.
func (u *UART) Buffered() int { return len(u.rx) }

// MMIORead implements MMIOHandler.
func (u *UART) MMIORead(off uint64, size int) uint64 {
	switch off {
	case UARTData:
		b, _ := u.ReadByte()
		return uint64(b)
	case UARTStatus:
		s := uint64(2) // tx always ready
		if len(u.rx) > 0 {
			s |= 1
		}
		return s
	case UARTCtrl:
		if u.rxInt {
			return 1
		}
	}
	return 0
}

// MMIOWrite implements MMIOHandler.
func (u *UART) MMIOWrite(off uint64, size int, v uint64) {
	switch off {
	case UARTData:
		u.txCount++
		if u.out != nil {
			u.out.Write([]byte{byte(v)})
		}
	case UARTCtrl:
		u.rxInt = v&1 != 0
		if u.rxInt && len(u.rx) > 0 {
			u.ic.Raise(interrupts.INTTtyIn)
		}
	}
}

// Transmitted returns the lifetime tx byte count.
func (u *UART) Transmitted() uint64 { return u.txCount }

// Reset drops buffered input and disables the rx interrupt.
func (u *UART) Reset() {
	u.rx = nil
	u.rxInt = false
	u.txCount = 0
}
