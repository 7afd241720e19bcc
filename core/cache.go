package core

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// BackingStore is the memory below the last cache level.
type BackingStore interface {
	Read(address uint64, size int) []byte
	Write(address uint64, data []byte)
}

// CacheStats counts cache events since the last reset.
type CacheStats struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
	Prefills   uint64
}

// Cache is one write-back, write-allocate cache level. Tag and LRU
// state live in an akita directory; line payloads are held alongside,
// indexed by set and way. Levels chain through next; the last level
// talks to the backing store.
type Cache struct {
	name      string
	assoc     int
	blockSize int
	// hitCost is charged on every access; backingCost is added when
	// a fill or writeback has to reach the backing store.
	hitCost     uint64
	backingCost uint64

	directory *akitacache.DirectoryImpl
	lines     [][]byte

	next    *Cache
	backing BackingStore

	stats CacheStats
}

// NewCache builds a cache level. size must be divisible by
// assoc*blockSize. Exactly one of next and backing feeds misses.
func NewCache(name string, size, assoc, blockSize int, hitCost, backingCost uint64, next *Cache, backing BackingStore) *Cache {
	numSets := size / (assoc * blockSize)
	lines := make([][]byte, numSets*assoc)
	for i := range lines {
		lines[i] = make([]byte, blockSize)
	}
	return &Cache{
		name:        name,
		assoc:       assoc,
		blockSize:   blockSize,
		hitCost:     hitCost,
		backingCost: backingCost,
		directory: akitacache.NewDirectory(
			numSets,
			assoc,
			blockSize,
			akitacache.NewLRUVictimFinder(),
		),
		lines:   lines,
		next:    next,
		backing: backing,
	}
}

// Name returns the level's name (l1i, l1d, l2).
func (c *Cache) Name() string { return c.name }

// BlockSize returns the line size in bytes.
func (c *Cache) BlockSize() int { return c.blockSize }

// Stats returns the event counters.
func (c *Cache) Stats() CacheStats { return c.stats }

func (c *Cache) line(blk *akitacache.Block) []byte {
	return c.lines[blk.SetID*c.assoc+blk.WayID]
}

func (c *Cache) blockAddr(addr uint64) uint64 {
	return addr &^ uint64(c.blockSize-1)
}

// ensure returns the resident block for blockAddr, filling it on a
// miss, together with the cycle cost of getting it.
func (c *Cache) ensure(blockAddr uint64) (*akitacache.Block, uint64) {
	if blk := c.directory.Lookup(0, blockAddr); blk != nil && blk.IsValid {
		c.stats.Hits++
		c.directory.Visit(blk)
		return blk, c.hitCost
	}
	c.stats.Misses++
	cost := c.hitCost

	victim := c.directory.FindVictim(blockAddr)
	if victim.IsValid {
		c.stats.Evictions++
		if victim.IsDirty {
			cost += c.writeback(victim)
		}
	}

	if c.next != nil {
		data, fill := c.next.Load(blockAddr, c.blockSize)
		copy(c.line(victim), data)
		cost += fill
	} else {
		copy(c.line(victim), c.backing.Read(blockAddr, c.blockSize))
		cost += c.backingCost
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = false
	c.directory.Visit(victim)
	return victim, cost
}

// writeback pushes a dirty line down one level. The tag holds the
// block-aligned address.
func (c *Cache) writeback(blk *akitacache.Block) uint64 {
	c.stats.Writebacks++
	blk.IsDirty = false
	if c.next != nil {
		return c.next.Store(blk.Tag, c.line(blk))
	}
	c.backing.Write(blk.Tag, c.line(blk))
	return c.backingCost
}

// Load copies size bytes starting at addr, spanning lines when the
// access straddles a boundary. Returns the data and the cycle cost.
func (c *Cache) Load(addr uint64, size int) ([]byte, uint64) {
	c.stats.Reads++
	out := make([]byte, 0, size)
	var cost uint64
	for size > 0 {
		base := c.blockAddr(addr)
		off := int(addr - base)
		n := min(c.blockSize-off, size)
		blk, k := c.ensure(base)
		cost += k
		out = append(out, c.line(blk)[off:off+n]...)
		addr += uint64(n)
		size -= n
	}
	return out, cost
}

// Store writes data at addr with write-allocate semantics and marks
// the touched lines dirty.
func (c *Cache) Store(addr uint64, data []byte) uint64 {
	c.stats.Writes++
	var cost uint64
	for len(data) > 0 {
		base := c.blockAddr(addr)
		off := int(addr - base)
		n := min(c.blockSize-off, len(data))
		blk, k := c.ensure(base)
		cost += k
		copy(c.line(blk)[off:], data[:n])
		blk.IsDirty = true
		addr += uint64(n)
		data = data[n:]
	}
	return cost
}

// Touch fills the line covering addr without returning data. Used by
// the prefetchers; the cost is not charged to any instruction.
func (c *Cache) Touch(addr uint64) {
	base := c.blockAddr(addr)
	if blk := c.directory.Lookup(0, base); blk != nil && blk.IsValid {
		return
	}
	c.ensure(base)
	c.stats.Prefills++
	// ensure counted this as a demand miss; take that back
	c.stats.Misses--
}

// Contains reports whether the line covering addr is resident. It
// does not disturb the LRU order.
func (c *Cache) Contains(addr uint64) bool {
	blk := c.directory.Lookup(0, c.blockAddr(addr))
	return blk != nil && blk.IsValid
}

// FlushLine writes the line covering addr back if dirty and drops
// it. Lower levels keep their copies.
func (c *Cache) FlushLine(addr uint64) {
	blk := c.directory.Lookup(0, c.blockAddr(addr))
	if blk == nil || !blk.IsValid {
		return
	}
	if blk.IsDirty {
		c.writeback(blk)
	}
	blk.IsValid = false
}

// Flush writes back everything dirty and invalidates the whole
// level.
func (c *Cache) Flush() {
	for _, set := range c.directory.GetSets() {
		for _, blk := range set.Blocks {
			if blk.IsValid && blk.IsDirty {
				c.writeback(blk)
			}
			blk.IsValid = false
			blk.IsDirty = false
		}
	}
}

// Reset invalidates every line without writing anything back and
// clears the counters.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = CacheStats{}
}
