package core

import "github.com/Riffe007/nanocore/interrupts"

// Timer register offsets within its device page.
const (
	TimerCycles   = 0x00 // current cycle count, read only
	TimerCompare  = 0x08 // cycle at which the timer fires
	TimerCtrl     = 0x10 // bit 0 enable, bit 1 periodic
	TimerInterval = 0x18 // reload distance for periodic mode
)

// Timer raises INTClock when the cycle counter passes the compare
// register. In periodic mode it rearms itself every interval cycles;
// one-shot mode disables after firing.
type Timer struct {
	ic *InterruptController

	now      uint64
	compare  uint64
	interval uint64
	enabled  bool
	periodic bool
}

func NewTimer(ic *InterruptController) *Timer {
	return &Timer{ic: ic}
}

// Name implements MMIOHandler.
func (t *Timer) Name() string { return "timer" }

// Advance runs the timer up to the given cycle count. The pipeline
// calls this once per tick.
func (t *Timer) Advance(cycle uint64) {
	t.now = cycle
	if !t.enabled || cycle < t.compare {
		return
	}
	t.ic.Raise(interrupts.INTClock)
	if t.periodic && t.interval > 0 {
		t.compare = cycle + t.interval
	} else {
		t.enabled = false
	}
}

// MMIORead implements MMIOHandler.
func (t *Timer) MMIORead(off uint64, size int) uint64 {
	switch off {
	case TimerCycles:
		return t.now
	case TimerCompare:
		return t.compare
	case TimerCtrl:
		var v uint64
		if t.enabled {
			v |= 1
		}
		if t.periodic {
			v |= 2
		}
		return v
	case TimerInterval:
		return t.interval
	}
	return 0
}

// MMIOWrite implements MMIOHandler.
func (t *Timer) MMIOWrite(off uint64, size int, v uint64) {
	switch off {
	case TimerCompare:
		t.compare = v
	case TimerCtrl:
		t.enabled = v&1 != 0
		t.periodic = v&2 != 0
	case TimerInterval:
		t.interval = v
	}
}

// Reset disables the timer and clears its registers.
func (t *Timer) Reset() {
	ic := t.ic
	*t = Timer{ic: ic}
}
