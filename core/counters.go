package core

// Performance counter indices. The numbering is part of the state
// snapshot format, so it never changes.
type CounterID int

const (
	CounterInst CounterID = iota
	CounterCycle
	CounterL1Miss
	CounterL2Miss
	CounterBranchMiss
	CounterStall
	CounterMemOps
	CounterSIMDOps

	NumCounters
)

var counterNames = [NumCounters]string{
	"instructions",
	"cycles",
	"l1-misses",
	"l2-misses",
	"branch-misses",
	"stall-cycles",
	"memory-ops",
	"simd-ops",
}

// CounterName returns the human name of a counter, for the status
// view.
func CounterName(id CounterID) string {
	if id < 0 || id >= NumCounters {
		return "?"
	}
	return counterNames[id]
}

// Counters is the performance counter bank. The cache miss slots are
// filled from the hierarchy when a snapshot is taken; the rest are
// maintained by the pipeline.
type Counters [NumCounters]uint64

// Inc adds one to a counter.
func (c *Counters) Inc(id CounterID) { c[id]++ }

// Add adds n to a counter.
func (c *Counters) Add(id CounterID, n uint64) { c[id] += n }

// Get reads a counter.
func (c *Counters) Get(id CounterID) uint64 { return c[id] }

// Reset zeroes the bank.
func (c *Counters) Reset() { *c = Counters{} }

// CPI returns cycles per retired instruction.
func (c *Counters) CPI() float64 {
	if c[CounterInst] == 0 {
		return 0
	}
	return float64(c[CounterCycle]) / float64(c[CounterInst])
}
