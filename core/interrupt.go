package core

import "github.com/Riffe007/nanocore/interrupts"

// InterruptController tracks the 256 interrupt lines as a pending
// bitmap. Lower vector numbers win when several are pending. The
// vector base register points at a table of 256 handler addresses in
// physical memory; a zero base, or a zero slot, means the host
// handles that vector.
type InterruptController struct {
	pending [4]uint64
	vbase   uint64
	nesting int

	counts     [interrupts.NumVectors]uint64
	raised     uint64
	dispatched uint64
}

// NewInterruptController returns an empty controller.
func NewInterruptController() *InterruptController {
	return &InterruptController{}
}

// Raise marks a vector pending. Devices call this; software can too,
// through the control page.
func (ic *InterruptController) Raise(vec uint8) {
	ic.pending[vec/64] |= 1 << (vec % 64)
	ic.counts[vec]++
	ic.raised++
}

// Count returns how many times a vector has been raised.
func (ic *InterruptController) Count(vec uint8) uint64 { return ic.counts[vec] }

// Pending reports whether any vector is waiting.
func (ic *InterruptController) Pending() bool {
	return ic.pending[0]|ic.pending[1]|ic.pending[2]|ic.pending[3] != 0
}

// Claim removes and returns the highest-priority pending vector.
func (ic *InterruptController) Claim() (uint8, bool) {
	for w, bits := range ic.pending {
		if bits == 0 {
			continue
		}
		for b := 0; b < 64; b++ {
			if bits&(1<<b) != 0 {
				ic.pending[w] &^= 1 << b
				ic.dispatched++
				return uint8(w*64 + b), true
			}
		}
	}
	return 0, false
}

// PendingWord returns one quarter of the pending bitmap.
func (ic *InterruptController) PendingWord(i int) uint64 {
	return ic.pending[i&3]
}

// VBase returns the handler table base.
func (ic *InterruptController) VBase() uint64 { return ic.vbase }

// SetVBase installs the handler table base.
func (ic *InterruptController) SetVBase(v uint64) { ic.vbase = v }

// HandlerAddr reads the handler slot for vec from the in-memory
// table. Zero means unhandled. A base pointing outside physical
// memory reads as unhandled rather than faulting mid-dispatch.
func (ic *InterruptController) HandlerAddr(phys *Memory, vec uint8) uint64 {
	if ic.vbase == 0 {
		return 0
	}
	slot := ic.vbase + uint64(vec)*8
	if slot+8 > phys.Size() {
		return 0
	}
	return phys.Read64(slot)
}

// EnterService notes that a handler is now running.
func (ic *InterruptController) EnterService() { ic.nesting++ }

// ExitService unwinds one handler level.
func (ic *InterruptController) ExitService() {
	if ic.nesting > 0 {
		ic.nesting--
	}
}

// Nesting returns how deep the handler stack currently is.
func (ic *InterruptController) Nesting() int { return ic.nesting }

// Raised returns the lifetime count of raised interrupts.
func (ic *InterruptController) Raised() uint64 { return ic.raised }

// Reset clears all pending state.
func (ic *InterruptController) Reset() {
	*ic = InterruptController{}
}

// Control page register offsets. The top half of the page exposes
// the per-vector raise counts, eight bytes per vector.
const (
	CtlVBase    = 0x00
	CtlPending0 = 0x08
	CtlPending1 = 0x10
	CtlPending2 = 0x18
	CtlPending3 = 0x20
	CtlRaise    = 0x28
	CtlPTRoot   = 0x30
	CtlTLBFlush = 0x38
	CtlCache    = 0x40
	CtlCounts   = 0x800
)

// ControlPage is the system control device: it mirrors the interrupt
// controller, the page table root and the cache control bit into the
// device space so guest code can reach them with plain stores.
type ControlPage struct {
	IC     *InterruptController
	MM     *MemoryManager
	Caches *Hierarchy
}

// Name implements MMIOHandler.
func (c *ControlPage) Name() string { return "sysctl" }

// MMIORead implements MMIOHandler.
func (c *ControlPage) MMIORead(off uint64, size int) uint64 {
	if off >= CtlCounts {
		return c.IC.Count(uint8((off - CtlCounts) / 8))
	}
	switch off {
	case CtlVBase:
		return c.IC.VBase()
	case CtlPending0, CtlPending1, CtlPending2, CtlPending3:
		return c.IC.PendingWord(int(off-CtlPending0) / 8)
	case CtlPTRoot:
		return c.MM.Root()
	case CtlCache:
		if c.Caches.Bypassed() {
			return 1
		}
		return 0
	}
	return 0
}

// MMIOWrite implements MMIOHandler.
func (c *ControlPage) MMIOWrite(off uint64, size int, v uint64) {
	switch off {
	case CtlVBase:
		c.IC.SetVBase(v)
	case CtlRaise:
		c.IC.Raise(uint8(v))
	case CtlPTRoot:
		c.MM.SetRoot(v)
	case CtlTLBFlush:
		if v == 0 {
			c.MM.TLB().Flush()
		} else {
			c.MM.TLB().Invalidate(v)
		}
	case CtlCache:
		c.Caches.SetBypass(v&1 != 0)
	}
}
