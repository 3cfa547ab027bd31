package scheduler

import (
	"testing"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/flatten"
	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/path"
	"github.com/oisee/hdlsim/pkg/sir"
)

// TestEmitCombRuntimeConvergeBuildsLoopWithErrorExit builds a
// self-referencing single-member group (the simplest cyclic case) and
// checks the emitted unit has the loop/check/error/done block shape
// rather than a single straight-line pass.
func TestEmitCombRuntimeConvergeBuildsLoopWithErrorExit(t *testing.T) {
	arena := graph.NewArena[addr.AbsoluteAddr]()
	a := mkAddr(0, 0)
	nA := arena.AllocInput(a, hdlir.BitAccess{Lsb: 0, Msb: 7}, nil, 8)

	paths := []path.LogicPath[addr.AbsoluteAddr]{
		{Target: path.VarAtom[addr.AbsoluteAddr]{Addr: a, Access: hdlir.BitAccess{Lsb: 0, Msb: 7}}, Sources: map[addr.AbsoluteAddr]bool{a: true}, Expr: nA},
	}

	fd := &flatten.Design{
		Arena: arena,
		Vars: map[addr.AbsoluteAddr]*hdlir.Variable{
			a: {ID: 0, Width: 8},
		},
	}

	decision := LoopDecision{Strategy: StrategyRuntimeConverge, SafetyBound: 16}
	plan := &Plan{Steps: []Step{{Index: -1, Group: &Group{Order: []int{0}, Decision: decision}}}}

	unit := EmitComb(fd, paths, plan)

	if len(unit.Blocks) < 5 {
		t.Fatalf("expected at least 5 blocks (entry, body, check, error, done), got %d", len(unit.Blocks))
	}

	var errorBlocks, branches int
	for _, b := range unit.Blocks {
		if b.Term.Kind == sir.TermError {
			errorBlocks++
			if b.Term.Code != 1 {
				t.Fatalf("expected error exit code 1, got %d", b.Term.Code)
			}
		}
		if b.Term.Kind == sir.TermBranch {
			branches++
		}
	}
	if errorBlocks != 1 {
		t.Fatalf("expected exactly 1 error-exit block, got %d", errorBlocks)
	}
	if branches != 2 {
		t.Fatalf("expected 2 branch terminators (converged check, safety bound check), got %d", branches)
	}

	last := unit.Blocks[len(unit.Blocks)-1]
	if last.Term.Kind != sir.TermReturn {
		t.Fatalf("expected the unit to end on the converged-exit block with a Return, got %v", last.Term.Kind)
	}
}

// TestEmitCombStaticUnrollRepeatsGroupInline checks Strategy A emits the
// group's member instructions Unroll times with no branching at all.
func TestEmitCombStaticUnrollRepeatsGroupInline(t *testing.T) {
	arena := graph.NewArena[addr.AbsoluteAddr]()
	a, b := mkAddr(0, 0), mkAddr(0, 1)
	nA := arena.AllocInput(a, hdlir.BitAccess{Lsb: 0, Msb: 7}, nil, 8)
	nB := arena.AllocInput(b, hdlir.BitAccess{Lsb: 0, Msb: 7}, nil, 8)

	paths := []path.LogicPath[addr.AbsoluteAddr]{
		{Target: path.VarAtom[addr.AbsoluteAddr]{Addr: a, Access: hdlir.BitAccess{Lsb: 0, Msb: 7}}, Sources: map[addr.AbsoluteAddr]bool{b: true}, Expr: nB},
		{Target: path.VarAtom[addr.AbsoluteAddr]{Addr: b, Access: hdlir.BitAccess{Lsb: 0, Msb: 7}}, Sources: map[addr.AbsoluteAddr]bool{a: true}, Expr: nA},
	}

	fd := &flatten.Design{
		Arena: arena,
		Vars: map[addr.AbsoluteAddr]*hdlir.Variable{
			a: {ID: 0, Width: 8},
			b: {ID: 1, Width: 8},
		},
	}

	decision := LoopDecision{Strategy: StrategyStaticUnroll, Unroll: 3}
	plan := &Plan{Steps: []Step{{Index: -1, Group: &Group{Order: []int{0, 1}, Decision: decision}}}}

	unit := EmitComb(fd, paths, plan)

	if got := countOp(unit, sir.OpStore); got != 6 {
		t.Fatalf("expected 2 members x 3 passes = 6 Stores, got %d", got)
	}
	if len(unit.Blocks) != 1 {
		t.Fatalf("expected a static unroll to stay in one straight-line block, got %d blocks", len(unit.Blocks))
	}
}
