package runtime

import (
	"math/big"

	"github.com/oisee/hdlsim/pkg/hdlerr"
)

// Mutator batches raw STABLE-region writes inside one Modify call. Writes
// made through a Mutator are visible to subsequent reads within the same
// closure, but combinational evaluation does not run until Modify itself
// returns (spec.md §5's ordering guarantee).
type Mutator struct {
	s *Simulator
}

// Set writes a plain (non-four-state) value, truncated to sig's width.
func (m *Mutator) Set(sig Signal, value *big.Int) {
	m.write(sig, value, nil)
}

// SetWide is Set under another name for an arbitrarily wide value,
// spelled out separately because spec.md §4.H lists it as its own
// operation (a big.Int already covers any width in this representation,
// so the two share one implementation).
func (m *Mutator) SetWide(sig Signal, value *big.Int) {
	m.write(sig, value, nil)
}

// SetFourState writes a value together with its X-mask; mask bits set to
// 1 mark the corresponding value bit as X (spec.md §4.G four-state rules
// apply starting from the next comb evaluation that reads it).
func (m *Mutator) SetFourState(sig Signal, value, mask *big.Int) {
	m.write(sig, value, mask)
}

func (m *Mutator) write(sig Signal, value, mask *big.Int) {
	slot := m.s.layout.Slot(sig.addr)
	base := slot.StableOffset
	writeBitsAt(m.s.mem, base, 0, sig.width, value)
	if sig.fourState {
		if mask == nil {
			mask = new(big.Int)
		}
		writeBitsAt(m.s.mem, base+valueBytes(slot), 0, sig.width, mask)
	}
}

// Modify runs fn against a fresh Mutator batching its writes, then
// evaluates the combinational function exactly once. The clock/reset
// edges a write may represent are the caller's concern: Modify never
// infers or fires a tick on its own, since a primary (externally driven)
// clock net has no SIR Store of its own to detect a transition with — the
// caller already knows which Event corresponds to the signal it just
// wrote and drives Tick/TickByID explicitly (§4.H "tick(event)").
func (s *Simulator) Modify(fn func(m *Mutator)) error {
	fn(&Mutator{s: s})
	return s.EvalComb()
}

// EvalComb runs the combinational function once over the current STABLE
// values.
func (s *Simulator) EvalComb() error {
	if code := s.combFn(s.mem); code == 1 {
		return hdlerr.ErrDetectedTrueLoop
	}
	return nil
}
