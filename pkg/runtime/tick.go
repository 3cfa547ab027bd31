package runtime

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/sir"
)

// Tick runs ev's compiled domain function, matching spec.md §5's
// within-a-tick sequence: eval (STABLE -> WORKING) then commit (WORKING ->
// STABLE) inside the domain's own compiled function, followed by one
// combinational re-evaluation, followed by cascaded resolution of any
// other domain whose canonical net the commit or the comb pass caused to
// transition.
func (s *Simulator) Tick(ev Event) error {
	return s.TickByID(ev.id)
}

// TickByID runs the domain identified by a dense trigger id, as resolved
// by Event.ID(). Returns NotAnEventError if id names no compiled domain.
func (s *Simulator) TickByID(id sir.TriggerId) error {
	if s.eventIndex(id) < 0 {
		return &hdlerr.NotAnEventError{Name: fmt.Sprintf("trigger %d", id)}
	}
	s.clearTriggerBits()
	return s.runCascade(id)
}

// TickByIDN runs the same domain n times in a row, amortizing dispatch
// cost the way a tight clock-stepping loop would otherwise pay per call
// (spec.md §4.H "tick_by_id_n... amortizes dispatch cost for N consecutive
// ticks").
func (s *Simulator) TickByIDN(id sir.TriggerId, n int) error {
	for i := 0; i < n; i++ {
		if err := s.TickByID(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) eventIndex(id sir.TriggerId) int {
	for i, e := range s.events {
		if e.trigger == id {
			return i
		}
	}
	return -1
}

// runCascade services id's domain with its single-pass eval+apply unit,
// then walks the levels of domains the commit and subsequent
// combinational re-evaluation cause to fire, in ascending trigger-id
// order (the runtime's approximation of spec.md §5's "topological clock
// order": a register that gates a downstream domain is assigned its
// trigger id no later than any domain that clocks off of it, since
// flatten discovers the downstream net's id only once some RegPath
// references it as a clock). Every level is run with the split
// eval/apply units: all domains newly fired together are eval'd against
// the same pre-commit STABLE snapshot before any of them applies, so one
// sibling domain's commit never leaks into another sibling's eval within
// the same level (spec.md §5 "multiple triggers fired by a single
// tick... never in write order"). visited guards against a
// derived-clock cycle turning this into an infinite loop.
func (s *Simulator) runCascade(id sir.TriggerId) error {
	visited := map[sir.TriggerId]bool{}

	idx := s.eventIndex(id)
	if code := s.events[idx].fn(s.mem); code == 1 {
		return hdlerr.ErrDetectedTrueLoop
	}
	visited[id] = true
	if err := s.EvalComb(); err != nil {
		return err
	}

	for {
		var fired []sir.TriggerId
		for _, e := range s.events {
			if !visited[e.trigger] && s.triggerFired(e.trigger) {
				fired = append(fired, e.trigger)
			}
		}
		if len(fired) == 0 {
			return nil
		}
		slices.Sort(fired)
		for _, t := range fired {
			visited[t] = true
		}

		for _, t := range fired {
			if code := s.events[s.eventIndex(t)].evalFn(s.mem); code == 1 {
				return hdlerr.ErrDetectedTrueLoop
			}
		}
		for _, t := range fired {
			if code := s.events[s.eventIndex(t)].applyFn(s.mem); code == 1 {
				return hdlerr.ErrDetectedTrueLoop
			}
		}
		if err := s.EvalComb(); err != nil {
			return err
		}
	}
}

func (s *Simulator) clearTriggerBits() {
	for i := s.layout.TriggerBase; i < s.layout.TriggerBase+s.layout.TriggerSize; i++ {
		s.mem[i] = 0
	}
}

func (s *Simulator) triggerFired(id sir.TriggerId) bool {
	return triggerBitSet(s.mem, s.layout.TriggerBase, int(id))
}
