package core

// Predictor geometry.
const (
	predictorEntries = 1024
	btbEntries       = 256
)

type btbEntry struct {
	valid  bool
	pc     uint64
	target uint64
}

// Predictor is a two-bit saturating counter table plus a
// direct-mapped branch target buffer. Counters start at strongly
// not-taken; a branch is predicted taken only when its counter is in
// one of the taken states and the BTB knows the target.
type Predictor struct {
	counters [predictorEntries]uint8
	btb      [btbEntries]btbEntry

	lookups uint64
	correct uint64
	mispred uint64
}

func counterIndex(pc uint64) int { return int(pc >> 2 % predictorEntries) }

func btbIndex(pc uint64) int { return int(pc >> 2 % btbEntries) }

// Predict guesses the outcome of the instruction at pc. It returns
// predicted-taken and the target to steer fetch to.
func (p *Predictor) Predict(pc uint64) (bool, uint64) {
	p.lookups++
	e := p.btb[btbIndex(pc)]
	if !e.valid || e.pc != pc {
		return false, 0
	}
	if p.counters[counterIndex(pc)] < 2 {
		return false, 0
	}
	return true, e.target
}

// Update trains the tables with the resolved outcome and records
// whether the earlier prediction was right.
func (p *Predictor) Update(pc uint64, taken bool, target uint64, predicted bool, predTarget uint64) {
	ctr := &p.counters[counterIndex(pc)]
	if taken {
		if *ctr < 3 {
			*ctr++
		}
		e := &p.btb[btbIndex(pc)]
		e.valid = true
		e.pc = pc
		e.target = target
	} else if *ctr > 0 {
		*ctr--
	}

	if predicted == taken && (!taken || predTarget == target) {
		p.correct++
	} else {
		p.mispred++
	}
}

// Mispredictions returns how many resolved branches disagreed with
// their prediction.
func (p *Predictor) Mispredictions() uint64 { return p.mispred }

// Accuracy returns the fraction of correct predictions.
func (p *Predictor) Accuracy() float64 {
	total := p.correct + p.mispred
	if total == 0 {
		return 0
	}
	return float64(p.correct) / float64(total)
}

// Reset clears the tables and the statistics.
func (p *Predictor) Reset() { *p = Predictor{} }
