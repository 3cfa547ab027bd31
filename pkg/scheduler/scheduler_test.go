package scheduler

import (
	"testing"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/path"
)

func mkAddr(inst int, v int) addr.AbsoluteAddr {
	return addr.AbsoluteAddr{Inst: addr.InstanceId(inst), Var: hdlir.VarID(v)}
}

func TestScheduleAcyclicChain(t *testing.T) {
	arena := graph.NewArena[addr.AbsoluteAddr]()
	a, b, c := mkAddr(0, 0), mkAddr(0, 1), mkAddr(0, 2)
	nA := arena.AllocInput(a, hdlir.BitAccess{Lsb: 0, Msb: 7}, nil, 8)
	nB := arena.AllocInput(b, hdlir.BitAccess{Lsb: 0, Msb: 7}, nil, 8)

	paths := []path.LogicPath[addr.AbsoluteAddr]{
		{Target: path.VarAtom[addr.AbsoluteAddr]{Addr: b, Access: hdlir.BitAccess{Lsb: 0, Msb: 7}}, Sources: map[addr.AbsoluteAddr]bool{a: true}, Expr: nA},
		{Target: path.VarAtom[addr.AbsoluteAddr]{Addr: c, Access: hdlir.BitAccess{Lsb: 0, Msb: 7}}, Sources: map[addr.AbsoluteAddr]bool{b: true}, Expr: nB},
	}
	plan, err := Schedule(paths, func([]addr.AbsoluteAddr) (LoopDecision, bool) { return LoopDecision{}, false })
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 acyclic steps, got %d", len(plan.Steps))
	}
	// b must schedule before c.
	if plan.Steps[0].Index != 0 || plan.Steps[1].Index != 1 {
		t.Fatalf("expected dependency order [0,1], got %+v", plan.Steps)
	}
}

func TestScheduleDetectsMultipleDrivers(t *testing.T) {
	arena := graph.NewArena[addr.AbsoluteAddr]()
	a, q := mkAddr(0, 0), mkAddr(0, 1)
	n := arena.AllocInput(a, hdlir.BitAccess{Lsb: 0, Msb: 3}, nil, 4)
	paths := []path.LogicPath[addr.AbsoluteAddr]{
		{Target: path.VarAtom[addr.AbsoluteAddr]{Addr: q, Access: hdlir.BitAccess{Lsb: 0, Msb: 3}}, Sources: map[addr.AbsoluteAddr]bool{a: true}, Expr: n},
		{Target: path.VarAtom[addr.AbsoluteAddr]{Addr: q, Access: hdlir.BitAccess{Lsb: 2, Msb: 3}}, Sources: map[addr.AbsoluteAddr]bool{a: true}, Expr: n},
	}
	_, err := Schedule(paths, func([]addr.AbsoluteAddr) (LoopDecision, bool) { return LoopDecision{}, false })
	if err == nil {
		t.Fatalf("expected multiple-driver error")
	}
	if _, ok := err.(*hdlerr.MultipleDriverError); !ok {
		t.Fatalf("expected *hdlerr.MultipleDriverError, got %T", err)
	}
}

func TestScheduleRejectsUndeclaredLoop(t *testing.T) {
	arena := graph.NewArena[addr.AbsoluteAddr]()
	a, b := mkAddr(0, 0), mkAddr(0, 1)
	nA := arena.AllocInput(a, hdlir.BitAccess{Lsb: 0, Msb: 0}, nil, 1)
	nB := arena.AllocInput(b, hdlir.BitAccess{Lsb: 0, Msb: 0}, nil, 1)
	paths := []path.LogicPath[addr.AbsoluteAddr]{
		{Target: path.VarAtom[addr.AbsoluteAddr]{Addr: a, Access: hdlir.BitAccess{Lsb: 0, Msb: 0}}, Sources: map[addr.AbsoluteAddr]bool{b: true}, Expr: nB},
		{Target: path.VarAtom[addr.AbsoluteAddr]{Addr: b, Access: hdlir.BitAccess{Lsb: 0, Msb: 0}}, Sources: map[addr.AbsoluteAddr]bool{a: true}, Expr: nA},
	}
	_, err := Schedule(paths, func([]addr.AbsoluteAddr) (LoopDecision, bool) { return LoopDecision{}, false })
	if err == nil {
		t.Fatalf("expected combinational loop error")
	}
	if _, ok := err.(*hdlerr.CombinationalLoopError); !ok {
		t.Fatalf("expected *hdlerr.CombinationalLoopError, got %T", err)
	}
}

func TestScheduleAcceptsDeclaredLoop(t *testing.T) {
	arena := graph.NewArena[addr.AbsoluteAddr]()
	a, b := mkAddr(0, 0), mkAddr(0, 1)
	nA := arena.AllocInput(a, hdlir.BitAccess{Lsb: 0, Msb: 0}, nil, 1)
	nB := arena.AllocInput(b, hdlir.BitAccess{Lsb: 0, Msb: 0}, nil, 1)
	paths := []path.LogicPath[addr.AbsoluteAddr]{
		{Target: path.VarAtom[addr.AbsoluteAddr]{Addr: a, Access: hdlir.BitAccess{Lsb: 0, Msb: 0}}, Sources: map[addr.AbsoluteAddr]bool{b: true}, Expr: nB},
		{Target: path.VarAtom[addr.AbsoluteAddr]{Addr: b, Access: hdlir.BitAccess{Lsb: 0, Msb: 0}}, Sources: map[addr.AbsoluteAddr]bool{a: true}, Expr: nA},
	}
	plan, err := Schedule(paths, func(members []addr.AbsoluteAddr) (LoopDecision, bool) {
		return LoopDecision{Strategy: StrategyStaticUnroll, Unroll: 4}, true
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Group == nil {
		t.Fatalf("expected a single loop Group, got %+v", plan.Steps)
	}
	if plan.Steps[0].Group.Decision.Unroll != 4 {
		t.Fatalf("expected configured unroll count to survive")
	}
}
