package siropt

import (
	"reflect"

	"github.com/oisee/hdlsim/pkg/sir"
)

// maxInFlightLoads bounds how many Loads the scheduler may issue before
// their first consumer, the "≤8 in-flight loads" limit.
const maxInFlightLoads = 8

// InstructionSchedulingPass reorders each barrier window with a greedy
// list scheduler: whenever an independent Load is ready, it is hoisted
// ahead of its program-order position (up to maxInFlightLoads
// outstanding) so its result is available by the time a consumer needs
// it, while every dependency — register def-use (RAW) and same-address
// memory ordering (RAW/WAR/WAW, alias-conservative: different addresses
// are assumed independent) — is preserved exactly.
type InstructionSchedulingPass struct{}

func (p *InstructionSchedulingPass) Name() string { return "Instruction Scheduling" }

func (p *InstructionSchedulingPass) Run(b *sir.BasicBlock) (bool, error) {
	changed := false
	var out []sir.Instruction
	for _, w := range barrierWindows(b.Instrs) {
		lo, hi := w[0], w[1]
		window := b.Instrs[lo:hi]
		scheduled := scheduleWindow(window)
		for i, in := range scheduled {
			if !reflect.DeepEqual(window[i], in) {
				changed = true
			}
		}
		out = append(out, scheduled...)
		if hi < len(b.Instrs) {
			out = append(out, b.Instrs[hi]) // the barrier instruction itself
		}
	}
	if changed {
		b.Instrs = out
	}
	return changed, nil
}

// scheduleWindow returns a reordering of instrs that respects deps but
// prefers issuing ready Loads as early as possible.
func scheduleWindow(instrs []sir.Instruction) []sir.Instruction {
	n := len(instrs)
	deps := buildDeps(instrs)
	scheduledFlag := make([]bool, n)
	order := make([]int, 0, n)
	outstanding := map[sir.RegisterId]bool{}
	inFlight := 0

	ready := func(i int) bool {
		for _, d := range deps[i] {
			if !scheduledFlag[d] {
				return false
			}
		}
		return true
	}

	for len(order) < n {
		var readyLoads, readyOthers []int
		for i := 0; i < n; i++ {
			if scheduledFlag[i] || !ready(i) {
				continue
			}
			if instrs[i].Op == sir.OpLoad {
				readyLoads = append(readyLoads, i)
			} else {
				readyOthers = append(readyOthers, i)
			}
		}

		var pick int
		switch {
		case len(readyLoads) > 0 && (inFlight < maxInFlightLoads || len(readyOthers) == 0):
			pick = readyLoads[0]
			if dst, ok := defReg(instrs[pick]); ok {
				outstanding[dst] = true
				inFlight++
			}
		case len(readyOthers) > 0:
			pick = readyOthers[0]
		default:
			pick = readyLoads[0]
			if dst, ok := defReg(instrs[pick]); ok {
				outstanding[dst] = true
				inFlight++
			}
		}

		scheduledFlag[pick] = true
		order = append(order, pick)
		for _, r := range readRegs(instrs[pick]) {
			if outstanding[r] {
				outstanding[r] = false
				inFlight--
			}
		}
	}

	result := make([]sir.Instruction, n)
	for pos, idx := range order {
		result[pos] = instrs[idx]
	}
	return result
}

// buildDeps computes, per instruction in a barrier-free window, the set
// of earlier-in-program-order instruction indices it must follow: a RAW
// edge to whatever last defined each register it reads, and a memory
// edge to the last Load/Store touching the same address (preserving
// relative order of same-address accesses; different addresses are
// assumed non-aliasing and unconstrained).
func buildDeps(instrs []sir.Instruction) [][]int {
	deps := make([][]int, len(instrs))
	lastDef := map[sir.RegisterId]int{}
	lastMem := map[memKey]int{}
	for i, in := range instrs {
		var d []int
		for _, r := range readRegs(in) {
			if j, ok := lastDef[r]; ok {
				d = append(d, j)
			}
		}
		if k, ok := memOf(in); ok {
			if j, ok := lastMem[k]; ok {
				d = append(d, j)
			}
			lastMem[k] = i
		}
		deps[i] = d
		if dst, ok := defReg(in); ok {
			lastDef[dst] = i
		}
	}
	return deps
}
