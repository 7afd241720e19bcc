package core

import "fmt"

// EventKind classifies what the core reported to the host.
type EventKind uint8

const (
	// EventHalted means a HALT instruction or an exit syscall ran.
	EventHalted EventKind = iota

	// EventBreakpoint means execution paused on a host breakpoint.
	EventBreakpoint

	// EventException means a trap had no guest handler installed and
	// the machine stopped.
	EventException

	// EventDeviceInterrupt means a device interrupt fired with no
	// guest handler; the machine keeps running.
	EventDeviceInterrupt
)

func (k EventKind) String() string {
	switch k {
	case EventHalted:
		return "halted"
	case EventBreakpoint:
		return "breakpoint"
	case EventException:
		return "exception"
	case EventDeviceInterrupt:
		return "interrupt"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Event is one host-visible occurrence, queued for PollEvent.
type Event struct {
	Kind   EventKind
	PC     uint64
	Vector uint8
	Code   uint64 // exit code or faulting address, depending on Kind
}

func (e Event) String() string {
	switch e.Kind {
	case EventHalted:
		return fmt.Sprintf("halted at %08x (code %d)", e.PC, e.Code)
	case EventBreakpoint:
		return fmt.Sprintf("breakpoint at %08x", e.PC)
	case EventException:
		return fmt.Sprintf("exception vector %d at %08x", e.Vector, e.PC)
	case EventDeviceInterrupt:
		return fmt.Sprintf("interrupt vector %d", e.Vector)
	}
	return fmt.Sprintf("event %d at %08x", e.Kind, e.PC)
}
