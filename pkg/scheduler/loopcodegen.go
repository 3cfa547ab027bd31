package scheduler

import (
	"math/big"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/sir"
)

// emitGroup lowers one cyclic Group per its Decision: a static unroll
// repeats the member set inline a fixed number of times, while a
// runtime-converging group is compiled into a real loop in the unit's
// CFG, iterating until a pass changes nothing or the safety bound is
// hit.
func (cg *codegen) emitGroup(g *Group, ops memberOps) {
	switch g.Decision.Strategy {
	case StrategyStaticUnroll:
		n := g.Decision.Unroll
		if n < 1 {
			n = 1
		}
		for pass := 0; pass < n; pass++ {
			cg.nodeReg = map[graph.NodeId]sir.RegisterId{}
			for _, idx := range g.Order {
				v := cg.lower(ops.expr(idx))
				ops.store(idx, v, false)
			}
		}
	case StrategyRuntimeConverge:
		cg.emitConvergingGroup(g, ops)
	}
}

// emitConvergingGroup implements Strategy B (spec.md §4.E / §9): each
// pass reloads every member's pre-pass value from its STABLE slot,
// recomputes it, stores the result, and ORs in whether that member
// changed. The loop exits to the rest of the plan once a pass changes
// nothing; a pass counter pinned to Decision.SafetyBound routes to an
// error exit instead of looping forever on a true oscillation.
//
// The loop is real control flow in the SIR CFG (a body block the
// scheduler jumps back into), not an unrolled copy, since the pass count
// is a runtime quantity the JIT's closure interpreter discovers by
// actually running the block repeatedly.
func (cg *codegen) emitConvergingGroup(g *Group, ops memberOps) {
	bound := g.Decision.SafetyBound
	if bound < 1 {
		bound = 1
	}

	bitType := sir.RegType{Kind: sir.RegBit, Width: 1}
	counterType := sir.RegType{Kind: sir.RegBit, Width: 32}

	body := cg.unit.NewBlock()
	check := cg.unit.NewBlock()
	errBlock := cg.unit.NewBlock()
	done := cg.unit.NewBlock()

	counterIn := cg.unit.NewReg(counterType)
	body.Params = []sir.RegisterId{counterIn}

	zero := cg.unit.NewReg(counterType)
	cg.block.EmitImm(zero, big.NewInt(0), nil)
	cg.block.SetJump(body.ID, []sir.RegisterId{zero})

	cg.block = body
	cg.nodeReg = map[graph.NodeId]sir.RegisterId{}
	dirty := cg.unit.NewReg(bitType)
	cg.block.EmitImm(dirty, big.NewInt(0), nil)
	for _, idx := range g.Order {
		targetAddr, access := ops.target(idx)
		old := cg.unit.NewReg(cg.regType(targetAddr, access.Width()))
		cg.block.EmitLoad(old, addr.RegionedAbsoluteAddr{Region: addr.Stable, Addr: targetAddr}, sir.StaticOffset(access.Lsb), access.Width())
		next := cg.lower(ops.expr(idx))
		ops.store(idx, next, false)

		changed := cg.unit.NewReg(bitType)
		cg.block.EmitBinary(changed, hdlir.OpNe, old, next)
		acc := cg.unit.NewReg(bitType)
		cg.block.EmitBinary(acc, hdlir.OpOr, dirty, changed)
		dirty = acc
	}

	zeroBit := cg.unit.NewReg(bitType)
	cg.block.EmitImm(zeroBit, big.NewInt(0), nil)
	converged := cg.unit.NewReg(bitType)
	cg.block.EmitBinary(converged, hdlir.OpEq, dirty, zeroBit)

	one := cg.unit.NewReg(counterType)
	cg.block.EmitImm(one, big.NewInt(1), nil)
	nextCounter := cg.unit.NewReg(counterType)
	cg.block.EmitBinary(nextCounter, hdlir.OpAdd, counterIn, one)

	cg.block.SetBranch(converged, done.ID, nil, check.ID, []sir.RegisterId{nextCounter})

	counterCheck := cg.unit.NewReg(counterType)
	check.Params = []sir.RegisterId{counterCheck}
	cg.block = check
	boundReg := cg.unit.NewReg(counterType)
	cg.block.EmitImm(boundReg, big.NewInt(int64(bound)), nil)
	exceeded := cg.unit.NewReg(bitType)
	cg.block.EmitBinary(exceeded, hdlir.OpGeU, counterCheck, boundReg)
	cg.block.SetBranch(exceeded, errBlock.ID, nil, body.ID, []sir.RegisterId{counterCheck})

	cg.block = errBlock
	cg.block.SetError(1)

	cg.block = done
	cg.nodeReg = map[graph.NodeId]sir.RegisterId{}
}
