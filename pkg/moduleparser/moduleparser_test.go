package moduleparser

import (
	"testing"

	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlir"
)

func TestParseCombAndInst(t *testing.T) {
	a := hdlir.VarID(0)
	b := hdlir.VarID(1)
	y := hdlir.VarID(2)
	mod := &hdlir.Module{
		Name:  "top",
		Funcs: map[string]*hdlir.FuncDef{},
		Variables: []*hdlir.Variable{
			{ID: a, Path: "a", Width: 8},
			{ID: b, Path: "b", Width: 8},
			{ID: y, Path: "y", Width: 8},
		},
		Decls: []hdlir.Declaration{
			&hdlir.Comb{Body: []hdlir.Statement{
				&hdlir.Assign{
					Dests: []hdlir.Destination{{Var: y}},
					Value: &hdlir.Binary{Op: hdlir.OpAdd, Lhs: &hdlir.Term{Var: a}, Rhs: &hdlir.Term{Var: b}},
				},
			}},
			&hdlir.Inst{
				InstName: "u0",
				Target:   "child",
				Inputs:   []hdlir.PortBinding{{Port: hdlir.VarID(0), Expr: &hdlir.Term{Var: a}}},
				Outputs:  []hdlir.PortBinding{{Port: hdlir.VarID(1), Expr: &hdlir.Term{Var: y}}},
			},
		},
	}

	arena := graph.NewArena[hdlir.VarID]()
	res, err := Parse(mod, arena)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Comb) != 1 {
		t.Fatalf("expected 1 comb path, got %d", len(res.Comb))
	}
	if len(res.Instances) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(res.Instances))
	}
	inst := res.Instances[0]
	if inst.Target != "child" || len(inst.Inputs) != 1 || len(inst.Outputs) != 1 {
		t.Fatalf("unexpected instance glue: %+v", inst)
	}
	if !inst.Inputs[0].Sources[a] {
		t.Fatalf("expected input binding to source 'a'")
	}
	if inst.Outputs[0].Target.Addr != y {
		t.Fatalf("expected output alias target 'y'")
	}
}

func TestParseRejectsNonVariableOutputBinding(t *testing.T) {
	mod := &hdlir.Module{
		Name:  "top",
		Funcs: map[string]*hdlir.FuncDef{},
		Decls: []hdlir.Declaration{
			&hdlir.Inst{
				InstName: "u0",
				Target:   "child",
				Outputs:  []hdlir.PortBinding{{Port: hdlir.VarID(0), Expr: &hdlir.Term{IsConst: true, ConstVal: 0, ConstW: 1}}},
			},
		},
	}
	arena := graph.NewArena[hdlir.VarID]()
	if _, err := Parse(mod, arena); err == nil {
		t.Fatalf("expected error for non-variable output binding")
	}
}
