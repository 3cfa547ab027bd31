package scheduler

import (
	"math/big"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/flatten"
	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/path"
	"github.com/oisee/hdlsim/pkg/sir"
)

// producerSlice records which register already holds one bit range of an
// address's value, computed earlier in the same pass, so a later read of
// that range forwards the value directly instead of issuing a Load.
type producerSlice struct {
	access hdlir.BitAccess
	reg    sir.RegisterId
}

// codegen lowers a scheduled Plan's LogicPaths into one straight-line
// sir.Unit. nodeReg memoizes shared subtrees within the current pass; it
// is reset at the start of every loop-group iteration because a Load
// inside a group reads a memory cell the previous iteration's Store may
// have changed, invalidating any earlier register binding for it.
type codegen struct {
	arena         *graph.Arena[addr.AbsoluteAddr]
	vars          map[addr.AbsoluteAddr]*hdlir.Variable
	unit          *sir.Unit
	block         *sir.BasicBlock
	nodeReg       map[graph.NodeId]sir.RegisterId
	producers     map[addr.AbsoluteAddr][]producerSlice
	triggersByVar map[addr.AbsoluteAddr][]sir.TriggerId
}

func newCodegen(fd *flatten.Design, name string) *codegen {
	cg := &codegen{
		arena:         fd.Arena,
		vars:          fd.Vars,
		unit:          sir.NewUnit(name),
		nodeReg:       map[graph.NodeId]sir.RegisterId{},
		producers:     map[addr.AbsoluteAddr][]producerSlice{},
		triggersByVar: triggerLookup(fd),
	}
	cg.block = cg.unit.Block(cg.unit.Entry)
	return cg
}

// triggerLookup indexes a flattened design's assigned triggers by their
// canonical net address, so any Store or Commit targeting that address
// (a combinationally derived clock, or a register also used as one
// downstream) can attach the right TriggerIds for edge detection. A
// trigger's detection always runs against the value actually written to
// that specific address, never against some other RegPath's gating
// clock — attaching a RegPath's own ClockTrigger to its *output*
// commit would check the wrong signal's transition.
func triggerLookup(fd *flatten.Design) map[addr.AbsoluteAddr][]sir.TriggerId {
	m := map[addr.AbsoluteAddr][]sir.TriggerId{}
	for _, key := range fd.TriggerOrder {
		m[key.Addr] = append(m[key.Addr], fd.Triggers[key])
	}
	return m
}

// memberOps gives runPlan a member's target, expression and store for the
// step/group evaluation logic. EmitComb is its only user: its stores are
// untriggered and producer-recorded outside a group. EmitFF and its split
// variants lower RegPaths through emitFFEval/emitFFApply instead.
type memberOps struct {
	target func(idx int) (addr.AbsoluteAddr, hdlir.BitAccess)
	expr   func(idx int) graph.NodeId
	store  func(idx int, value sir.RegisterId, record bool)
}

// EmitComb lowers every step of plan against paths into one SIR unit
// that, run once, re-evaluates the design's whole combinational surface:
// acyclic steps wire producer straight to consumer in registers, and
// cyclic groups round-trip their members' values through their STABLE
// storage slot, either a fixed number of passes (Strategy A) or a real
// runtime convergence loop with a safety bound (Strategy B).
func EmitComb(fd *flatten.Design, paths []path.LogicPath[addr.AbsoluteAddr], plan *Plan) *sir.Unit {
	cg := newCodegen(fd, "comb")
	cg.runPlan(plan, memberOps{
		target: func(idx int) (addr.AbsoluteAddr, hdlir.BitAccess) {
			return paths[idx].Target.Addr, paths[idx].Target.Access
		},
		expr: func(idx int) graph.NodeId { return paths[idx].Expr },
		store: func(idx int, value sir.RegisterId, record bool) {
			p := paths[idx]
			if record {
				cg.recordProducer(p.Target.Addr, p.Target.Access, value)
			}
			cg.emitStore(p.Target.Addr, p.Target.Access, value, cg.triggersByVar[p.Target.Addr])
		},
	})
	cg.block.SetReturn()
	return cg.unit
}

// EmitFF lowers a design's register next-state paths into one SIR unit
// applying every flip-flop's committed value in a single pass: the
// eval+apply variant of spec.md §4.C's three execution units. A
// RegPath's expression only ever reads pre-edge STABLE state
// (lowerInput always loads from Stable, and FF paths are never
// producer-recorded), so unlike EmitComb there is no dependency between
// RegPaths to schedule: every target's next value is computed and
// staged into its WORKING slot in one flat pass, then every staged
// value is committed into STABLE. Splitting compute-and-stage from
// commit is what makes "r1 <= r2; r2 <= r1" swap correctly on one edge:
// storing straight to STABLE in program order would let the second path
// observe the first path's already-updated value instead of the
// pre-edge one.
//
// A commit carries trigger ids only when the register being committed
// is itself a canonical clock/reset net for some other RegPath (a
// register-derived clock) — the commit's own old/new values are the
// right signal to test for that, never the RegPath's own gating clock.
func EmitFF(fd *flatten.Design, regPaths []flatten.RegPath) *sir.Unit {
	cg := newCodegen(fd, "ff")
	cg.emitFFEval(regPaths)
	cg.emitFFApply(regPaths)
	cg.block.SetReturn()
	return cg.unit
}

// EmitFFEval lowers only the seed-and-stage half of a domain's
// flip-flops: every RegPath's next-state expression computed against
// STABLE and staged into WORKING, with no commit. Paired with
// EmitFFApply, this is how the runtime services several domains that a
// single tick's commit fires at once (spec.md §5 "multiple triggers
// fired by a single tick... never in write order"): running every
// fired domain's eval against the same pre-commit STABLE snapshot
// before any of them applies keeps one sibling domain's commit from
// leaking into another sibling's eval within the same topological
// level.
func EmitFFEval(fd *flatten.Design, regPaths []flatten.RegPath) *sir.Unit {
	cg := newCodegen(fd, "ff_eval")
	cg.emitFFEval(regPaths)
	cg.block.SetReturn()
	return cg.unit
}

// EmitFFApply lowers only the commit half of a domain's flip-flops:
// every written register's staged WORKING value copied into STABLE.
// It assumes a prior EmitFFEval run (this domain's own, or nothing at
// all if the domain has no pending WORKING value) already staged the
// values being committed.
func EmitFFApply(fd *flatten.Design, regPaths []flatten.RegPath) *sir.Unit {
	cg := newCodegen(fd, "ff_apply")
	cg.emitFFApply(regPaths)
	cg.block.SetReturn()
	return cg.unit
}

func (cg *codegen) emitFFEval(regPaths []flatten.RegPath) {
	for _, r := range regPaths {
		v := cg.lower(r.Expr)
		cg.emitStoreWorking(r.Target.Addr, r.Target.Access, v)
	}
}

func (cg *codegen) emitFFApply(regPaths []flatten.RegPath) {
	for _, r := range regPaths {
		cg.emitCommit(r.Target.Addr, r.Target.Access, cg.triggersByVar[r.Target.Addr])
	}
}

// CheckFFMultipleDrivers reports a MultipleDriverError if two distinct
// RegPaths drive overlapping bit ranges of the same register. This is
// the only scheduling constraint FF paths are subject to: since every
// RegPath reads only pre-edge STABLE state and stages its result into
// its own WORKING slot, RegPaths never form a real dependency edge on
// one another the way combinational paths can, so the SCC/cycle
// analysis Schedule performs for comb would be a category error here
// (a "swap through FF" target pair looks cyclic by address alone, but
// the two-phase stage-then-commit lowering above makes that harmless).
func CheckFFMultipleDrivers(regPaths []flatten.RegPath) error {
	logic := make([]path.LogicPath[addr.AbsoluteAddr], len(regPaths))
	for i, r := range regPaths {
		logic[i] = path.LogicPath[addr.AbsoluteAddr]{Target: r.Target, Sources: r.Sources, Expr: r.Expr}
	}
	return checkMultipleDrivers(logic)
}

// runPlan walks plan's steps in order: an acyclic step computes and
// stores its member's value once, recording it as a producer for later
// steps to forward from; a cyclic group is handed to emitGroup, which
// never records producers since a group member's correct value depends
// on the pass it was computed in, not on program order.
func (cg *codegen) runPlan(plan *Plan, ops memberOps) {
	for _, step := range plan.Steps {
		if step.Group == nil {
			v := cg.lower(ops.expr(step.Index))
			ops.store(step.Index, v, true)
			continue
		}
		cg.emitGroup(step.Group, ops)
	}
}

func (cg *codegen) recordProducer(a addr.AbsoluteAddr, access hdlir.BitAccess, reg sir.RegisterId) {
	cg.producers[a] = append(cg.producers[a], producerSlice{access: access, reg: reg})
}

func (cg *codegen) regType(a addr.AbsoluteAddr, width int) sir.RegType {
	v := cg.vars[a]
	if v != nil && v.FourState {
		return sir.RegType{Kind: sir.RegLogic, Width: width, Signed: v.Signed}
	}
	signed := v != nil && v.Signed
	return sir.RegType{Kind: sir.RegBit, Width: width, Signed: signed}
}

func (cg *codegen) emitStore(a addr.AbsoluteAddr, access hdlir.BitAccess, src sir.RegisterId, triggers []sir.TriggerId) {
	ra := addr.RegionedAbsoluteAddr{Region: addr.Stable, Addr: a}
	cg.block.EmitStore(ra, sir.StaticOffset(access.Lsb), access.Width(), src, triggers)
}

// emitStoreWorking stages a computed value into a's WORKING slot,
// invisible to any Load (which always reads STABLE) until a later
// Commit copies it across.
func (cg *codegen) emitStoreWorking(a addr.AbsoluteAddr, access hdlir.BitAccess, src sir.RegisterId) {
	ra := addr.RegionedAbsoluteAddr{Region: addr.Working, Addr: a}
	cg.block.EmitStore(ra, sir.StaticOffset(access.Lsb), access.Width(), src, nil)
}

// emitCommit copies a's staged WORKING value into STABLE, the point at
// which a register's new value becomes visible and its clock/reset
// triggers are evaluated.
func (cg *codegen) emitCommit(a addr.AbsoluteAddr, access hdlir.BitAccess, triggers []sir.TriggerId) {
	src := addr.RegionedAbsoluteAddr{Region: addr.Working, Addr: a}
	dst := addr.RegionedAbsoluteAddr{Region: addr.Stable, Addr: a}
	cg.block.EmitCommit(src, dst, sir.StaticOffset(access.Lsb), access.Width(), triggers)
}

// lower walks the expression DAG rooted at id, memoizing by NodeId for
// the lifetime of the current pass (cleared at the start of each loop
// group iteration).
func (cg *codegen) lower(id graph.NodeId) sir.RegisterId {
	if r, ok := cg.nodeReg[id]; ok {
		return r
	}
	n := cg.arena.Get(id)
	var r sir.RegisterId
	switch n.Kind {
	case graph.KindInput:
		r = cg.lowerInput(n)
	case graph.KindConstant:
		r = cg.unit.NewReg(sir.RegType{Kind: sir.RegBit, Width: n.Width, Signed: n.Signed})
		cg.block.EmitImm(r, n.ConstVal, nil)
	case graph.KindUnary:
		src := cg.lower(n.Lhs)
		r = cg.unit.NewReg(sir.RegType{Kind: cg.unit.RegType(src).Kind, Width: n.Width, Signed: n.CastSigned})
		cg.block.EmitUnary(r, n.UnaryOp, src, n.CastWidth, n.CastSigned)
	case graph.KindBinary:
		lhs := cg.lower(n.Lhs)
		rhs := cg.lower(n.Rhs)
		r = cg.unit.NewReg(sir.RegType{Kind: cg.unit.RegType(lhs).Kind, Width: n.Width})
		cg.block.EmitBinary(r, n.BinaryOp, lhs, rhs)
	case graph.KindMux:
		cond := cg.lower(n.Cond)
		then := cg.lower(n.Then)
		els := cg.lower(n.Else)
		r = cg.unit.NewReg(sir.RegType{Kind: cg.unit.RegType(then).Kind, Width: n.Width})
		cg.block.EmitSelect(r, cond, then, els)
	case graph.KindConcat:
		elems := make([]sir.ConcatOperand, len(n.Elems))
		for i, e := range n.Elems {
			elems[i] = sir.ConcatOperand{Reg: cg.lower(e.Node), Width: e.Width}
		}
		r = cg.unit.NewReg(sir.RegType{Kind: sir.RegLogic, Width: n.Width})
		cg.block.EmitConcat(r, elems)
	case graph.KindSlice:
		src := cg.lower(n.Lhs)
		r = cg.unit.NewReg(sir.RegType{Kind: cg.unit.RegType(src).Kind, Width: n.Width})
		cg.block.EmitSlice(r, src, n.SliceAccess.Lsb, n.Width)
	}
	cg.nodeReg[id] = r
	return r
}

func (cg *codegen) lowerInput(n *graph.Node[addr.AbsoluteAddr]) sir.RegisterId {
	if len(n.DynIndices) == 0 {
		if slices, ok := cg.producers[n.Addr]; ok {
			for _, ts := range slices {
				if ts.access == n.Access {
					return ts.reg
				}
				if ts.access.Lsb <= n.Access.Lsb && n.Access.Msb <= ts.access.Msb {
					rel := hdlir.BitAccess{Lsb: n.Access.Lsb - ts.access.Lsb, Msb: n.Access.Msb - ts.access.Lsb}
					r := cg.unit.NewReg(sir.RegType{Kind: cg.unit.RegType(ts.reg).Kind, Width: rel.Width()})
					cg.block.EmitSlice(r, ts.reg, rel.Lsb, rel.Width())
					return r
				}
			}
		}
		dst := cg.unit.NewReg(cg.regType(n.Addr, n.Width))
		cg.block.EmitLoad(dst, addr.RegionedAbsoluteAddr{Region: addr.Stable, Addr: n.Addr}, sir.StaticOffset(n.Access.Lsb), n.Width)
		return dst
	}

	off := cg.lowerDynOffset(n.DynIndices)
	dst := cg.unit.NewReg(cg.regType(n.Addr, n.Width))
	cg.block.EmitLoad(dst, addr.RegionedAbsoluteAddr{Region: addr.Stable, Addr: n.Addr}, sir.DynamicOffset(off), n.Width)
	return dst
}

func (cg *codegen) lowerDynOffset(dyn []graph.DynIndex[addr.AbsoluteAddr]) sir.RegisterId {
	var total sir.RegisterId
	first := true
	for _, d := range dyn {
		idx := cg.lower(d.Index)
		idxW := cg.unit.RegType(idx).Width
		strideReg := cg.unit.NewReg(sir.RegType{Kind: sir.RegBit, Width: idxW})
		cg.block.EmitImm(strideReg, big.NewInt(int64(d.Stride)), nil)
		term := cg.unit.NewReg(sir.RegType{Kind: sir.RegBit, Width: idxW})
		cg.block.EmitBinary(term, hdlir.OpMul, idx, strideReg)
		if first {
			total = term
			first = false
			continue
		}
		sum := cg.unit.NewReg(sir.RegType{Kind: sir.RegBit, Width: idxW})
		cg.block.EmitBinary(sum, hdlir.OpAdd, total, term)
		total = sum
	}
	return total
}
