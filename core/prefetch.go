package core

// StridePrefetcher watches the L1D miss stream for a repeating
// stride. Confidence is a two-bit saturating counter: stable strides
// count up, a broken pattern counts down, and a dead counter adopts
// the new stride. Prefetches are issued at confidence two or above.
type StridePrefetcher struct {
	lastAddr   uint64
	stride     int64
	confidence uint8
	primed     bool

	issued uint64
}

// Observe feeds one miss address. When the stride is trusted it
// returns the predicted next address and true.
func (p *StridePrefetcher) Observe(addr uint64) (uint64, bool) {
	if !p.primed {
		p.primed = true
		p.lastAddr = addr
		return 0, false
	}
	s := int64(addr - p.lastAddr)
	p.lastAddr = addr
	switch {
	case s == p.stride && s != 0:
		if p.confidence < 3 {
			p.confidence++
		}
	case p.confidence > 0:
		p.confidence--
	default:
		p.stride = s
	}
	if p.confidence >= 2 && p.stride != 0 {
		p.issued++
		return uint64(int64(addr) + p.stride), true
	}
	return 0, false
}

// Issued returns how many prefetch addresses have been produced.
func (p *StridePrefetcher) Issued() uint64 { return p.issued }

// Reset forgets the learned pattern.
func (p *StridePrefetcher) Reset() { *p = StridePrefetcher{} }
