package core

// CacheConfig sizes the hierarchy. The defaults model a small
// desktop part: split 32KiB L1s over a unified 256KiB L2 with 64
// byte lines throughout.
type CacheConfig struct {
	L1ISize  int
	L1IAssoc int
	L1DSize  int
	L1DAssoc int
	L2Size   int
	L2Assoc  int
	LineSize int

	L1Cost  uint64
	L2Cost  uint64
	MemCost uint64
}

// DefaultCacheConfig returns the standard geometry.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		L1ISize:  32 * 1024,
		L1IAssoc: 4,
		L1DSize:  32 * 1024,
		L1DAssoc: 8,
		L2Size:   256 * 1024,
		L2Assoc:  16,
		LineSize: 64,
		L1Cost:   1,
		L2Cost:   8,
		MemCost:  40,
	}
}

// Hierarchy is the whole cache system: split L1s, unified L2 and the
// stride prefetcher riding the L1D miss stream. When bypassed, every
// access goes straight to the backing store at memory cost.
type Hierarchy struct {
	L1I *Cache
	L1D *Cache
	L2  *Cache

	prefetcher *StridePrefetcher
	cfg        CacheConfig
	backing    BackingStore
	limit      uint64
	bypass     bool
}

// NewHierarchy builds the cache system over backing. limit is the
// size of the backing store; prefetches beyond it are dropped.
func NewHierarchy(cfg CacheConfig, backing BackingStore, limit uint64) *Hierarchy {
	l2 := NewCache("l2", cfg.L2Size, cfg.L2Assoc, cfg.LineSize,
		cfg.L2Cost, cfg.MemCost, nil, backing)
	return &Hierarchy{
		L1I: NewCache("l1i", cfg.L1ISize, cfg.L1IAssoc, cfg.LineSize,
			cfg.L1Cost, 0, l2, nil),
		L1D: NewCache("l1d", cfg.L1DSize, cfg.L1DAssoc, cfg.LineSize,
			cfg.L1Cost, 0, l2, nil),
		L2:         l2,
		prefetcher: &StridePrefetcher{},
		cfg:        cfg,
		backing:    backing,
		limit:      limit,
	}
}

// Config returns the geometry the hierarchy was built with.
func (h *Hierarchy) Config() CacheConfig { return h.cfg }

// SetBypass turns the caches off or on. Turning them off flushes
// first so memory holds the truth.
func (h *Hierarchy) SetBypass(b bool) {
	if b && !h.bypass {
		h.FlushAll()
	}
	h.bypass = b
}

// Bypassed reports whether the caches are disabled.
func (h *Hierarchy) Bypassed() bool { return h.bypass }

// Fetch reads instruction bytes through the L1I.
func (h *Hierarchy) Fetch(pa uint64, size int) ([]byte, uint64) {
	if h.bypass {
		return h.backing.Read(pa, size), h.cfg.MemCost
	}
	return h.L1I.Load(pa, size)
}

// ReadData reads through the L1D. Misses train the prefetcher, which
// fills the predicted next line into the L2.
func (h *Hierarchy) ReadData(pa uint64, size int) ([]byte, uint64) {
	if h.bypass {
		return h.backing.Read(pa, size), h.cfg.MemCost
	}
	before := h.L1D.Stats().Misses
	data, cost := h.L1D.Load(pa, size)
	if h.L1D.Stats().Misses != before {
		h.train(pa)
	}
	return data, cost
}

// WriteData writes through the L1D.
func (h *Hierarchy) WriteData(pa uint64, data []byte) uint64 {
	if h.bypass {
		h.backing.Write(pa, data)
		return h.cfg.MemCost
	}
	before := h.L1D.Stats().Misses
	cost := h.L1D.Store(pa, data)
	if h.L1D.Stats().Misses != before {
		h.train(pa)
	}
	return cost
}

func (h *Hierarchy) train(pa uint64) {
	line := pa &^ uint64(h.cfg.LineSize-1)
	next, ok := h.prefetcher.Observe(line)
	if !ok || next+uint64(h.cfg.LineSize) > h.limit {
		return
	}
	h.L2.Touch(next)
}

// Prefetch is the PREFETCH instruction: pull the line into the L1D.
func (h *Hierarchy) Prefetch(pa uint64) {
	if h.bypass || pa+uint64(h.cfg.LineSize) > h.limit {
		return
	}
	h.L1D.Touch(pa)
}

// FlushLine implements CLFLUSH: write the line back through every
// level and drop it, instruction side included.
func (h *Hierarchy) FlushLine(pa uint64) {
	h.L1I.FlushLine(pa)
	h.L1D.FlushLine(pa)
	h.L2.FlushLine(pa)
}

// SyncRange flushes every line covering [pa, pa+n) so that a direct
// physical access (DMA, host debug) sees and leaves coherent memory.
func (h *Hierarchy) SyncRange(pa, n uint64) {
	if n == 0 {
		return
	}
	line := uint64(h.cfg.LineSize)
	first := pa &^ (line - 1)
	for a := first; a < pa+n; a += line {
		h.FlushLine(a)
	}
}

// FlushAll drains every dirty line to memory and empties the caches.
func (h *Hierarchy) FlushAll() {
	h.L1D.Flush()
	h.L1I.Flush()
	h.L2.Flush()
}

// Reset empties the caches without writeback and forgets the
// prefetch pattern.
func (h *Hierarchy) Reset() {
	h.L1I.Reset()
	h.L1D.Reset()
	h.L2.Reset()
	h.prefetcher.Reset()
}

// L1Misses sums instruction and data side L1 misses.
func (h *Hierarchy) L1Misses() uint64 {
	return h.L1I.Stats().Misses + h.L1D.Stats().Misses
}

// L2Misses returns the unified L2 miss count.
func (h *Hierarchy) L2Misses() uint64 {
	return h.L2.Stats().Misses
}

// Prefetcher exposes the stride engine for the status view.
func (h *Hierarchy) Prefetcher() *StridePrefetcher { return h.prefetcher }
