package core

import (
	"encoding/binary"
	"fmt"

	"github.com/Riffe007/nanocore/interrupts"
)

const (
	// PageSize is the only translation granule.
	PageSize = 4096

	// MMIOBit marks the device half of the address space. Device
	// addresses bypass translation and the caches entirely.
	MMIOBit = uint64(1) << 63

	// vaBits is the virtual address width when paging is on.
	vaBits = 48
)

// Memory is the flat physical backing store. Loads and stores out of
// range raise a fault trap; the debug API catches it and turns it
// into an error.
type Memory struct {
	data []byte
}

// NewMemory allocates size bytes of physical memory, rounded up to a
// whole page.
func NewMemory(size uint64) (*Memory, error) {
	if size == 0 {
		return nil, fmt.Errorf("memory size must be positive")
	}
	size = (size + PageSize - 1) &^ uint64(PageSize-1)
	return &Memory{data: make([]byte, size)}, nil
}

// Size returns the physical memory size in bytes.
func (m *Memory) Size() uint64 { return uint64(len(m.data)) }

func (m *Memory) check(addr uint64, n int) {
	if addr >= m.Size() || m.Size()-addr < uint64(n) {
		panic(interrupts.Trap{Vector: interrupts.INTFault, Addr: addr,
			Msg: "physical address out of range"})
	}
}

// Read copies size bytes starting at address.
func (m *Memory) Read(address uint64, size int) []byte {
	m.check(address, size)
	out := make([]byte, size)
	copy(out, m.data[address:])
	return out
}

// Write stores data at address.
func (m *Memory) Write(address uint64, data []byte) {
	m.check(address, len(data))
	copy(m.data[address:], data)
}

// Read64 loads a little-endian doubleword.
func (m *Memory) Read64(addr uint64) uint64 {
	m.check(addr, 8)
	return binary.LittleEndian.Uint64(m.data[addr:])
}

// Write64 stores a little-endian doubleword.
func (m *Memory) Write64(addr uint64, v uint64) {
	m.check(addr, 8)
	binary.LittleEndian.PutUint64(m.data[addr:], v)
}

// Access describes what an address is about to be used for.
type Access uint8

const (
	AccRead Access = iota
	AccWrite
	AccExec
)

// MMIOHandler is a device mapped into a 4KiB slot of the device
// space. Offsets are relative to the slot base; sizes are 1, 2, 4
// or 8.
type MMIOHandler interface {
	Name() string
	MMIORead(off uint64, size int) uint64
	MMIOWrite(off uint64, size int, v uint64)
}

// MemoryManager performs address translation and routes device-space
// accesses. With a zero page table root the mapping is the identity
// and only the physical bounds are checked.
type MemoryManager struct {
	phys    *Memory
	tlb     *TLB
	walker  *PageWalker
	root    uint64
	devices map[uint64]MMIOHandler
}

// NewMemoryManager wraps phys with translation machinery. Paging is
// off until SetRoot installs a table.
func NewMemoryManager(phys *Memory) *MemoryManager {
	return &MemoryManager{
		phys:    phys,
		tlb:     NewTLB(TLBEntries, TLBWays),
		walker:  &PageWalker{phys: phys},
		devices: make(map[uint64]MMIOHandler),
	}
}

// Phys exposes the physical memory, used by DMA devices and the
// cache backing.
func (m *MemoryManager) Phys() *Memory { return m.phys }

// TLB exposes the translation cache.
func (m *MemoryManager) TLB() *TLB { return m.tlb }

// IsMMIO reports whether addr lives in the device half of the
// address space.
func IsMMIO(addr uint64) bool { return addr&MMIOBit != 0 }

// MapDevice mounts h at the given offset in the device space. The
// offset must be page aligned.
func (m *MemoryManager) MapDevice(off uint64, h MMIOHandler) {
	m.devices[off/PageSize] = h
}

// SetRoot installs (or with zero removes) the page table root. The
// TLB cannot hold entries from the old tree afterwards.
func (m *MemoryManager) SetRoot(root uint64) {
	m.root = root
	m.tlb.Flush()
}

// Root returns the active page table root.
func (m *MemoryManager) Root() uint64 { return m.root }

// Translate maps a virtual address to a physical one, raising a
// fault or protection trap when the mapping disallows the access.
func (m *MemoryManager) Translate(va uint64, acc Access, user bool) uint64 {
	if IsMMIO(va) {
		panic(interrupts.Trap{Vector: interrupts.INTProt, Addr: va,
			Msg: "device space is not translatable"})
	}
	if m.root == 0 {
		if va >= m.phys.Size() {
			panic(interrupts.Trap{Vector: interrupts.INTFault, Addr: va,
				Msg: "address beyond physical memory"})
		}
		return va
	}
	if va >= 1<<vaBits {
		panic(interrupts.Trap{Vector: interrupts.INTFault, Addr: va,
			Msg: "non-canonical virtual address"})
	}
	vpn := va / PageSize
	if e, ok := m.tlb.Lookup(vpn); ok {
		e.Check(va, acc, user)
		pa := e.PFN*PageSize + va%PageSize
		if acc == AccWrite {
			if !e.Dirty {
				e.MarkDirty(m.phys)
			}
			// a written page's entry never stays cached, so the next
			// access re-walks the (possibly self-modified) tables
			m.tlb.Invalidate(va)
		}
		return pa
	}
	e := m.walker.Walk(m.root, va, acc, user)
	if acc != AccWrite {
		m.tlb.Insert(e)
	}
	return e.PFN*PageSize + va%PageSize
}

// DeviceRead dispatches a read in device space. An unmapped address
// reads as zero.
func (m *MemoryManager) DeviceRead(addr uint64, size int) uint64 {
	h, off, ok := m.device(addr)
	if !ok {
		return 0
	}
	return h.MMIORead(off, size)
}

// DeviceWrite dispatches a write in device space. Writes to unmapped
// addresses are dropped.
func (m *MemoryManager) DeviceWrite(addr uint64, size int, v uint64) {
	h, off, ok := m.device(addr)
	if !ok {
		return
	}
	h.MMIOWrite(off, size, v)
}

func (m *MemoryManager) device(addr uint64) (MMIOHandler, uint64, bool) {
	off := addr &^ MMIOBit
	h, ok := m.devices[off/PageSize]
	return h, off % PageSize, ok
}
