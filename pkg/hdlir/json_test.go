package hdlir

import (
	"encoding/json"
	"testing"
)

func TestExpressionRoundTripsThroughJSON(t *testing.T) {
	tests := []struct {
		name string
		expr Expression
	}{
		{"term", &Term{Var: VarID(3), Access: &BitAccess{Lsb: 0, Msb: 7}}},
		{"const term", &Term{IsConst: true, ConstVal: 42, ConstW: 8}},
		{"binary", &Binary{Op: OpAdd, Lhs: &Term{Var: VarID(1)}, Rhs: &Term{IsConst: true, ConstVal: 1, ConstW: 8}}},
		{"unary", &Unary{Op: OpReduceAnd, Operand: &Term{Var: VarID(2)}}},
		{"ternary", &Ternary{Cond: &Term{Var: VarID(0)}, Then: &Term{IsConst: true, ConstVal: 1, ConstW: 1}, Else: &Term{IsConst: true, ConstVal: 0, ConstW: 1}}},
		{"concat", &Concat{Elems: []Expression{&Term{Var: VarID(1)}, &Term{Var: VarID(2)}}}},
		{"array literal", &ArrayLiteral{Keyed: map[int]Expression{0: &Term{IsConst: true, ConstVal: 1, ConstW: 1}}, Default: &Term{IsConst: true, ConstVal: 0, ConstW: 1}, Length: 4}},
		{"call expr", &CallExpr{Func: "parity", Args: []Expression{&Term{Var: VarID(1)}}}},
		{"local ref", &LocalRef{Name: "tmp"}},
		{"struct ctor", &StructCtor{FieldOrder: []string{"a", "b"}, Fields: map[string]Expression{"a": &Term{Var: VarID(1)}, "b": &Term{Var: VarID(2)}}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.expr)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := unmarshalExpression(data)
			if err != nil {
				t.Fatalf("unmarshalExpression: %v", err)
			}
			data2, err := json.Marshal(got)
			if err != nil {
				t.Fatalf("re-Marshal: %v", err)
			}
			if string(data) != string(data2) {
				t.Fatalf("round trip mismatch:\n  want %s\n  got  %s", data, data2)
			}
		})
	}
}

func TestUnmarshalExpressionRejectsUnknownKind(t *testing.T) {
	if _, err := unmarshalExpression(json.RawMessage(`{"kind":"bogus"}`)); err == nil {
		t.Fatalf("expected an error for an unknown expression kind")
	}
}

func TestStatementRoundTripsThroughJSON(t *testing.T) {
	stmts := []Statement{
		&Assign{Dests: []Destination{{Var: VarID(1)}}, Value: &Term{IsConst: true, ConstVal: 1, ConstW: 1}},
		&If{Cond: &Term{Var: VarID(0)}, Then: []Statement{&Null{}}, Else: []Statement{&Null{}}},
		&IfReset{Then: []Statement{&Null{}}},
		&Return{Value: &Term{Var: VarID(1)}},
		&LocalAssign{Name: "tmp", Value: &Term{IsConst: true, ConstVal: 0, ConstW: 1}},
		&SystemCall{Name: "display", Args: []Expression{&Term{Var: VarID(1)}}},
		&Call{Func: "helper", Args: []Expression{&Term{Var: VarID(2)}}},
	}
	for _, st := range stmts {
		data, err := json.Marshal(st)
		if err != nil {
			t.Fatalf("Marshal %T: %v", st, err)
		}
		got, err := unmarshalStatement(data)
		if err != nil {
			t.Fatalf("unmarshalStatement %T: %v", st, err)
		}
		data2, err := json.Marshal(got)
		if err != nil {
			t.Fatalf("re-Marshal %T: %v", st, err)
		}
		if string(data) != string(data2) {
			t.Fatalf("%T round trip mismatch:\n  want %s\n  got  %s", st, data, data2)
		}
	}
}

func TestProgramRoundTripsThroughJSON(t *testing.T) {
	prog := &Program{
		Top: "counter",
		Modules: map[string]*Module{
			"counter": {
				Name: "counter",
				Variables: []*Variable{
					{ID: VarID(0), Path: "clk", Width: 1},
					{ID: VarID(1), Path: "q", Width: 8},
				},
				Decls: []Declaration{
					&Comb{Body: []Statement{
						&Assign{Dests: []Destination{{Var: VarID(1)}}, Value: &Term{IsConst: true, ConstVal: 0, ConstW: 8}},
					}},
					&Ff{
						Clock: VarID(0), PosEdge: true, ResetKind: ResetNone,
						Body: []Statement{
							&Assign{
								Dests: []Destination{{Var: VarID(1)}},
								Value: &Binary{Op: OpAdd, Lhs: &Term{Var: VarID(1)}, Rhs: &Term{IsConst: true, ConstVal: 1, ConstW: 8}},
							},
						},
					},
					&Inst{
						InstName: "child", Target: "leaf",
						Inputs:  []PortBinding{{Port: VarID(0), Expr: &Term{Var: VarID(0)}}},
						Outputs: []PortBinding{{Port: VarID(1), Expr: &Term{Var: VarID(1)}}},
					},
				},
				Funcs: map[string]*FuncDef{
					"helper": {
						Name:   "helper",
						Params: []FuncParam{{Name: "x", Width: 8}},
						Body:   []Statement{&Return{Value: &LocalRef{Name: "x"}}},
					},
				},
			},
		},
	}

	data, err := json.Marshal(prog)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Program
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Top != prog.Top {
		t.Fatalf("Top = %q, want %q", got.Top, prog.Top)
	}
	mod, ok := got.Modules["counter"]
	if !ok {
		t.Fatalf("missing module %q after round trip", "counter")
	}
	if len(mod.Variables) != 2 || len(mod.Decls) != 3 || len(mod.Funcs) != 1 {
		t.Fatalf("unexpected shape after round trip: %+v", mod)
	}
	if _, ok := mod.Decls[0].(*Comb); !ok {
		t.Fatalf("Decls[0] = %T, want *Comb", mod.Decls[0])
	}
	ff, ok := mod.Decls[1].(*Ff)
	if !ok {
		t.Fatalf("Decls[1] = %T, want *Ff", mod.Decls[1])
	}
	assign, ok := ff.Body[0].(*Assign)
	if !ok {
		t.Fatalf("Ff.Body[0] = %T, want *Assign", ff.Body[0])
	}
	if _, ok := assign.Value.(*Binary); !ok {
		t.Fatalf("Assign.Value = %T, want *Binary", assign.Value)
	}
	inst, ok := mod.Decls[2].(*Inst)
	if !ok {
		t.Fatalf("Decls[2] = %T, want *Inst", mod.Decls[2])
	}
	if inst.InstName != "child" || inst.Target != "leaf" {
		t.Fatalf("unexpected Inst after round trip: %+v", inst)
	}
	if _, ok := mod.Funcs["helper"].Body[0].(*Return); !ok {
		t.Fatalf("helper body[0] = %T, want *Return", mod.Funcs["helper"].Body[0])
	}
}
