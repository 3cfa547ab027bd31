// Package scheduler implements spec component H: multiple-driver
// detection, the comb/register dependency graph, Tarjan SCC discovery,
// a greedy feedback-arc-set heuristic for ordering cyclic groups, and
// the Strategy A (static unroll) / Strategy B (runtime convergence)
// decision for every combinational cycle the design contains.
package scheduler

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/flatten"
	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/path"
)

// Strategy selects how a cyclic combinational group is serviced at
// runtime.
type Strategy int

const (
	// StrategyStaticUnroll repeats the group's instruction sequence a
	// fixed number of times with no convergence check (spec.md §4.E
	// "ignored loop": the designer has bounded how many passes a stable
	// value needs).
	StrategyStaticUnroll Strategy = iota
	// StrategyRuntimeConverge repeats the group until two consecutive
	// passes store identical values everywhere (a dirty-bit check) or a
	// safety counter is exceeded, in which case ErrDetectedTrueLoop is
	// returned to the caller (spec.md §4.E "true loop").
	StrategyRuntimeConverge
)

// LoopDecision is how one cyclic group should be scheduled.
type LoopDecision struct {
	Strategy    Strategy
	Unroll      int // StrategyStaticUnroll: number of passes
	SafetyBound int // StrategyRuntimeConverge: max passes before ErrDetectedTrueLoop
}

// LoopResolver looks up the user's configured override for a cyclic
// group, identified by its member target addresses. ok is false when no
// override applies and the group must be rejected as an undeclared
// combinational loop.
type LoopResolver func(members []addr.AbsoluteAddr) (LoopDecision, bool)

// node is one schedulable unit: either a combinational LogicPath or a
// register's next-state path, each identified by its position in the
// caller-supplied path lists.
type node struct {
	target path.VarAtom[addr.AbsoluteAddr]
	deps   map[int]bool // indices of other nodes this one reads from
}

// Plan is the scheduler's output: every path index from the input lists,
// partitioned into straight-line steps and cyclic groups, in dependency
// order.
type Plan struct {
	// Steps is the ordered schedule. Each entry is either one
	// NodeIndex (an acyclic path, safe to evaluate once) or a Group
	// (a strongly connected set requiring Decision to resolve).
	Steps []Step
}

// Step is one scheduled unit: exactly one of Index (>=0, acyclic) or
// Group (non-nil, cyclic) is meaningful.
type Step struct {
	Index int // index into the combined path list; -1 if this is a Group
	Group *Group
}

// Group is a strongly connected component of combinational paths that
// must be evaluated together, in Order, Decision.Unroll (or until
// convergence) times.
type Group struct {
	Order    []int // member indices, in FAS-heuristic evaluation order
	Decision LoopDecision
}

// Schedule analyzes paths (combinational drivers) for multiple-driver
// conflicts and combinational cycles, then produces an evaluation Plan.
// resolve supplies the Strategy for any cycle found; a cycle with no
// resolver match is reported as a CombinationalLoopError.
func Schedule(paths []path.LogicPath[addr.AbsoluteAddr], resolve LoopResolver) (*Plan, error) {
	if err := checkMultipleDrivers(paths); err != nil {
		return nil, err
	}

	nodes := buildNodes(paths)
	sccs := tarjanSCC(nodes)

	plan := &Plan{}
	for _, scc := range sccs {
		if len(scc) == 1 && !nodes[scc[0]].deps[scc[0]] {
			plan.Steps = append(plan.Steps, Step{Index: scc[0], Group: nil})
			continue
		}
		order := fasOrder(scc, nodes)
		members := make([]addr.AbsoluteAddr, len(order))
		for i, idx := range order {
			members[i] = nodes[idx].target.Addr
		}
		decision, ok := resolve(members)
		if !ok {
			var dp []hdlerr.DriverPath
			for _, idx := range order {
				dp = append(dp, hdlerr.DriverPath{Target: fmt.Sprintf("%v", nodes[idx].target.Addr), Bits: fmt.Sprintf("[%d:%d]", nodes[idx].target.Access.Msb, nodes[idx].target.Access.Lsb)})
			}
			return nil, &hdlerr.CombinationalLoopError{Paths: dp}
		}
		plan.Steps = append(plan.Steps, Step{Index: -1, Group: &Group{Order: order, Decision: decision}})
	}
	return plan, nil
}

// checkMultipleDrivers reports a MultipleDriverError if two distinct
// paths in the same address space drive overlapping bit ranges of the
// same variable.
func checkMultipleDrivers(paths []path.LogicPath[addr.AbsoluteAddr]) error {
	byVar := map[addr.AbsoluteAddr][]int{}
	for i, p := range paths {
		byVar[p.Target.Addr] = append(byVar[p.Target.Addr], i)
	}
	for varAddr, idxs := range byVar {
		for a := 0; a < len(idxs); a++ {
			for b := a + 1; b < len(idxs); b++ {
				pa, pb := paths[idxs[a]], paths[idxs[b]]
				if pa.Target.Overlaps(pb.Target) {
					return &hdlerr.MultipleDriverError{
						Variable: fmt.Sprintf("%v", varAddr),
						Paths: []hdlerr.DriverPath{
							{Target: fmt.Sprintf("%v", pa.Target.Addr), Bits: fmt.Sprintf("[%d:%d]", pa.Target.Access.Msb, pa.Target.Access.Lsb)},
							{Target: fmt.Sprintf("%v", pb.Target.Addr), Bits: fmt.Sprintf("[%d:%d]", pb.Target.Access.Msb, pb.Target.Access.Lsb)},
						},
					}
				}
			}
		}
	}
	return nil
}

// buildNodes computes, for every path, the set of other path indices it
// depends on: another path j is a dependency of i if j's target address
// is one of i's source addresses. Sources carry no bit ranges, so the
// match is per variable, not per bit: any bits j drives count, whether or
// not i reads them.
func buildNodes(paths []path.LogicPath[addr.AbsoluteAddr]) []node {
	nodes := make([]node, len(paths))
	for i, p := range paths {
		nodes[i] = node{target: p.Target, deps: map[int]bool{}}
		for srcAddr := range p.Sources {
			for j, q := range paths {
				if j == i {
					continue
				}
				if q.Target.Addr == srcAddr {
					nodes[i].deps[j] = true
				}
			}
		}
	}
	return nodes
}

// tarjanSCC returns the strongly connected components of nodes' edges
// (i -> deps[i]) in reverse-topological order (as Tarjan naturally
// produces), each inner slice in discovery order.
func tarjanSCC(nodes []node) [][]int {
	n := len(nodes)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	var sccs [][]int
	counter := 0

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		deps := make([]int, 0, len(nodes[v].deps))
		for w := range nodes[v].deps {
			deps = append(deps, w)
		}
		slices.Sort(deps)
		for _, w := range deps {
			if index[w] == -1 {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for _, v := range order {
		if index[v] == -1 {
			strongconnect(v)
		}
	}
	return sccs
}

// fasOrder greedily orders the members of a cyclic SCC to minimize back
// edges: repeatedly remove the member with the highest (out-degree -
// in-degree) within the remaining subgraph and append it to the
// schedule, which is the standard greedy approximation to the minimum
// feedback arc set.
func fasOrder(members []int, nodes []node) []int {
	inSCC := map[int]bool{}
	for _, m := range members {
		inSCC[m] = true
	}
	remaining := map[int]bool{}
	for _, m := range members {
		remaining[m] = true
	}

	degree := func(v int) int {
		// A self-loop is counted in both out- and in-degree below, so it
		// cancels out of the difference.
		out, in := 0, 0
		for w := range nodes[v].deps {
			if remaining[w] && inSCC[w] {
				out++
			}
		}
		for u := range remaining {
			if inSCC[u] && nodes[u].deps[v] {
				in++
			}
		}
		return out - in
	}

	var order []int
	for len(remaining) > 0 {
		best, bestScore := -1, 0
		rem := make([]int, 0, len(remaining))
		for v := range remaining {
			rem = append(rem, v)
		}
		slices.Sort(rem)
		for i, v := range rem {
			score := degree(v)
			if i == 0 || score > bestScore {
				best, bestScore = v, score
			}
		}
		order = append(order, best)
		delete(remaining, best)
	}
	return order
}
