package core

import "github.com/Riffe007/nanocore/interrupts"

// TLB geometry.
const (
	TLBEntries = 1024
	TLBWays    = 4
)

// TLBEntry caches one leaf translation together with the flattened
// permission bits and the leaf PTE address for dirty tracking.
type TLBEntry struct {
	Valid    bool
	VPN      uint64
	PFN      uint64
	PTEAddr  uint64
	Writable bool
	User     bool
	NoExec   bool
	Dirty    bool

	stamp uint64
}

// Check raises the protection trap when the cached permissions
// disallow the access.
func (e *TLBEntry) Check(va uint64, acc Access, user bool) {
	switch {
	case user && !e.User:
		panic(interrupts.Trap{Vector: interrupts.INTProt, Addr: va,
			Msg: "user access to supervisor page"})
	case acc == AccWrite && !e.Writable:
		panic(interrupts.Trap{Vector: interrupts.INTProt, Addr: va,
			Msg: "write to read-only page"})
	case acc == AccExec && e.NoExec:
		panic(interrupts.Trap{Vector: interrupts.INTProt, Addr: va,
			Msg: "fetch from no-execute page"})
	}
}

// MarkDirty sets the dirty bit in the entry and in the in-memory
// leaf PTE.
func (e *TLBEntry) MarkDirty(phys *Memory) {
	e.Dirty = true
	pte := phys.Read64(e.PTEAddr)
	if pte&PTEDirty == 0 {
		phys.Write64(e.PTEAddr, pte|PTEDirty)
	}
}

// TLB is a set-associative translation cache with LRU replacement
// per set.
type TLB struct {
	sets  [][]TLBEntry
	ways  int
	clock uint64

	hits   uint64
	misses uint64
}

// NewTLB builds a TLB with the given total entry count and
// associativity.
func NewTLB(entries, ways int) *TLB {
	n := entries / ways
	sets := make([][]TLBEntry, n)
	for i := range sets {
		sets[i] = make([]TLBEntry, ways)
	}
	return &TLB{sets: sets, ways: ways}
}

func (t *TLB) set(vpn uint64) []TLBEntry {
	return t.sets[vpn%uint64(len(t.sets))]
}

// Lookup finds the entry for vpn, refreshing its LRU stamp.
func (t *TLB) Lookup(vpn uint64) (*TLBEntry, bool) {
	t.clock++
	set := t.set(vpn)
	for i := range set {
		if e := &set[i]; e.Valid && e.VPN == vpn {
			e.stamp = t.clock
			t.hits++
			return e, true
		}
	}
	t.misses++
	return nil, false
}

// Insert places e, evicting the least recently used way of its set.
func (t *TLB) Insert(e TLBEntry) {
	t.clock++
	e.stamp = t.clock
	set := t.set(e.VPN)
	victim := 0
	for i := range set {
		if !set[i].Valid {
			victim = i
			break
		}
		if set[i].stamp < set[victim].stamp {
			victim = i
		}
	}
	set[victim] = e
}

// Invalidate drops the entry covering va, if present.
func (t *TLB) Invalidate(va uint64) {
	vpn := va / PageSize
	set := t.set(vpn)
	for i := range set {
		if e := &set[i]; e.Valid && e.VPN == vpn {
			e.Valid = false
		}
	}
}

// Flush drops every entry.
func (t *TLB) Flush() {
	for _, set := range t.sets {
		for i := range set {
			set[i].Valid = false
		}
	}
}

// Hits returns the lookup hit count.
func (t *TLB) Hits() uint64 { return t.hits }

// Misses returns the lookup miss count.
func (t *TLB) Misses() uint64 { return t.misses }
