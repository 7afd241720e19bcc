package core

import "github.com/Riffe007/nanocore/interrupts"

// Page table entry bits. Frames live in bits 12..51; the walker
// maintains the accessed and dirty bits.
const (
	PTEPresent  = uint64(1) << 0
	PTEWrite    = uint64(1) << 1
	PTEUser     = uint64(1) << 2
	PTEAccessed = uint64(1) << 5
	PTEDirty    = uint64(1) << 6
	PTENoExec   = uint64(1) << 63

	pteFrameMask = uint64(0x000F_FFFF_FFFF_F000)

	pageLevels = 4
)

// PageWalker resolves virtual addresses through the four-level tree
// rooted in physical memory. Nine index bits per level, 4KiB leaves.
type PageWalker struct {
	phys  *Memory
	walks uint64
}

// Walks returns how many full table walks have run, for the status
// view.
func (w *PageWalker) Walks() uint64 { return w.walks }

func levelIndex(va uint64, level int) uint64 {
	return va >> (12 + 9*(pageLevels-1-level)) & 0x1FF
}

// Walk resolves va or raises a trap. Write and user permissions are
// the AND across levels, no-execute the OR, like the hardware this
// models. The accessed bit is set on every level touched, the dirty
// bit on the leaf for writes.
func (w *PageWalker) Walk(root, va uint64, acc Access, user bool) TLBEntry {
	w.walks++
	base := root
	writable, userOK := true, true
	var noExec bool
	var pteAddr uint64

	for level := 0; level < pageLevels; level++ {
		pteAddr = base + levelIndex(va, level)*8
		pte := w.read(pteAddr, va)
		if pte&PTEPresent == 0 {
			panic(interrupts.Trap{Vector: interrupts.INTFault, Addr: va,
				Msg: "page not present"})
		}
		writable = writable && pte&PTEWrite != 0
		userOK = userOK && pte&PTEUser != 0
		noExec = noExec || pte&PTENoExec != 0
		if pte&PTEAccessed == 0 {
			w.phys.Write64(pteAddr, pte|PTEAccessed)
		}
		base = pte & pteFrameMask
	}

	e := TLBEntry{
		Valid:    true,
		VPN:      va / PageSize,
		PFN:      base / PageSize,
		PTEAddr:  pteAddr,
		Writable: writable,
		User:     userOK,
		NoExec:   noExec,
	}
	e.Check(va, acc, user)
	if acc == AccWrite {
		e.MarkDirty(w.phys)
	}
	return e
}

// read loads a table entry, converting a physical overrun into a
// fault blamed on the virtual address being resolved.
func (w *PageWalker) read(pteAddr, va uint64) uint64 {
	if pteAddr+8 > w.phys.Size() {
		panic(interrupts.Trap{Vector: interrupts.INTFault, Addr: va,
			Msg: "page table entry out of range"})
	}
	return w.phys.Read64(pteAddr)
}
