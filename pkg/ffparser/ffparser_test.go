package ffparser

import (
	"testing"

	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/ranges"
)

func TestFoldSyncResetActiveHigh(t *testing.T) {
	mod := &hdlir.Module{Funcs: map[string]*hdlir.FuncDef{}}
	clk := hdlir.VarID(0)
	rst := hdlir.VarID(1)
	d := hdlir.VarID(2)
	q := hdlir.VarID(3)
	mod.Variables = []*hdlir.Variable{
		{ID: clk, Path: "clk", Width: 1},
		{ID: rst, Path: "rst", Width: 1},
		{ID: d, Path: "d", Width: 8},
		{ID: q, Path: "q", Width: 8},
	}

	ff := &hdlir.Ff{
		Clock:     clk,
		PosEdge:   true,
		Reset:     rst,
		ResetKind: hdlir.ResetSyncHigh,
		Body: []hdlir.Statement{
			&hdlir.IfReset{
				Then: []hdlir.Statement{
					&hdlir.Assign{Dests: []hdlir.Destination{{Var: q}}, Value: &hdlir.Term{IsConst: true, ConstVal: 0, ConstW: 8}},
				},
				Else: []hdlir.Statement{
					&hdlir.Assign{Dests: []hdlir.Destination{{Var: q}}, Value: &hdlir.Term{Var: d}},
				},
			},
		},
	}

	arena := graph.NewArena[hdlir.VarID]()
	store := map[hdlir.VarID]*ranges.Store[hdlir.VarID]{
		q: ranges.New[hdlir.VarID](8),
	}
	res, err := Fold(ff, arena, mod, store)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if !res.HasReset || res.ResetKind != hdlir.ResetSyncHigh {
		t.Fatalf("expected sync-high reset recorded, got %+v", res)
	}
	if len(res.Paths) != 1 {
		t.Fatalf("expected 1 driven path, got %d", len(res.Paths))
	}
	if arena.Get(res.Paths[0].Expr).Kind != graph.KindMux {
		t.Fatalf("expected reset mux at top of next-state expression")
	}
	if !res.Paths[0].Sources[rst] || !res.Paths[0].Sources[d] {
		t.Fatalf("expected sources {rst,d}, got %v", res.Paths[0].Sources)
	}
}

func TestFoldAsyncResetActiveLowPolarity(t *testing.T) {
	mod := &hdlir.Module{Funcs: map[string]*hdlir.FuncDef{}}
	rst := hdlir.VarID(0)
	d := hdlir.VarID(1)
	q := hdlir.VarID(2)
	mod.Variables = []*hdlir.Variable{
		{ID: rst, Path: "rst_n", Width: 1},
		{ID: d, Path: "d", Width: 4},
		{ID: q, Path: "q", Width: 4},
	}
	ff := &hdlir.Ff{
		Reset:     rst,
		ResetKind: hdlir.ResetAsyncLow,
		Body: []hdlir.Statement{
			&hdlir.IfReset{
				Then: []hdlir.Statement{
					&hdlir.Assign{Dests: []hdlir.Destination{{Var: q}}, Value: &hdlir.Term{IsConst: true, ConstVal: 0, ConstW: 4}},
				},
				Else: []hdlir.Statement{
					&hdlir.Assign{Dests: []hdlir.Destination{{Var: q}}, Value: &hdlir.Term{Var: d}},
				},
			},
		},
	}
	arena := graph.NewArena[hdlir.VarID]()
	store := map[hdlir.VarID]*ranges.Store[hdlir.VarID]{q: ranges.New[hdlir.VarID](4)}
	res, err := Fold(ff, arena, mod, store)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	mux := arena.Get(res.Paths[0].Expr)
	if mux.Kind != graph.KindMux {
		t.Fatalf("expected top-level mux")
	}
	cond := arena.Get(mux.Cond)
	if cond.Kind != graph.KindUnary || cond.UnaryOp != hdlir.OpLogicNot {
		t.Fatalf("expected active-low reset condition to invert rst_n, got kind %v", cond.Kind)
	}
}
