package core

import (
	"fmt"
	"strings"

	"github.com/Riffe007/nanocore/isa"
)

// TraceDepth is how many retired instructions the trace remembers.
const TraceDepth = 64

// TraceEntry records one retired instruction.
type TraceEntry struct {
	Cycle uint64
	PC    uint64
	Word  uint32
	Note  string
}

func (e TraceEntry) String() string {
	text := e.Note
	if text == "" {
		text = isa.Disasm(e.Word)
	}
	return fmt.Sprintf("%8d  %08x  %s", e.Cycle, e.PC, text)
}

// Trace is a fixed-depth retirement log. Appending past the depth
// drops the oldest entry.
type Trace struct {
	items   []TraceEntry
	maxSize int
}

// NewTrace builds a trace ring of the given depth.
func NewTrace(depth int) *Trace {
	return &Trace{maxSize: depth}
}

// Append records one entry, evicting the oldest at capacity.
func (t *Trace) Append(e TraceEntry) {
	if len(t.items) >= t.maxSize {
		t.items = t.items[1:]
	}
	t.items = append(t.items, e)
}

// Entries returns the retained entries, oldest first.
func (t *Trace) Entries() []TraceEntry {
	out := make([]TraceEntry, len(t.items))
	copy(out, t.items)
	return out
}

// Len returns how many entries are retained.
func (t *Trace) Len() int { return len(t.items) }

// Reset empties the trace.
func (t *Trace) Reset() { t.items = t.items[:0] }

func (t *Trace) String() string {
	var b strings.Builder
	for _, e := range t.items {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
