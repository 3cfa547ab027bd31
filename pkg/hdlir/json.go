package hdlir

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Declaration, Statement, and Expression are Go interfaces, so the
// standard encoding/json reflection path can marshal a value held
// behind one (it dispatches to the concrete type's own MarshalJSON)
// but cannot unmarshal into one: json.Unmarshal has no way to pick a
// concrete type for an interface-typed field. Every concrete type in
// the three sums gets a MarshalJSON that tags its wire form with a
// "kind" discriminator, and the types that themselves hold an
// Expression/Statement/Declaration field get a matching UnmarshalJSON
// that decodes that field through the kind-dispatching helpers below.
// This is the only practical route into cmd/hdlsim's JSON-encoded
// hdlir.Program input contract without inventing a grammar of its own
// to parse: encoding/json is the standard library's own codec, and
// nothing in the reference corpus carries a third-party AST
// serialization library to reach for instead (see DESIGN.md).

func marshalNode(kind string, fields map[string]any) ([]byte, error) {
	out := make(map[string]any, len(fields)+1)
	out["kind"] = kind
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

type kindTag struct {
	Kind string `json:"kind"`
}

// --- Expression ---

func unmarshalExpression(raw json.RawMessage) (Expression, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var k kindTag
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("hdlir: decoding expression: %w", err)
	}
	var e Expression
	switch k.Kind {
	case "term":
		e = &Term{}
	case "binary":
		e = &Binary{}
	case "unary":
		e = &Unary{}
	case "ternary":
		e = &Ternary{}
	case "concat":
		e = &Concat{}
	case "array_literal":
		e = &ArrayLiteral{}
	case "call_expr":
		e = &CallExpr{}
	case "local_ref":
		e = &LocalRef{}
	case "struct_ctor":
		e = &StructCtor{}
	default:
		return nil, fmt.Errorf("hdlir: unknown expression kind %q", k.Kind)
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, err
	}
	return e, nil
}

func unmarshalExpressions(raws []json.RawMessage) ([]Expression, error) {
	if raws == nil {
		return nil, nil
	}
	out := make([]Expression, len(raws))
	for i, r := range raws {
		e, err := unmarshalExpression(r)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (t *Term) MarshalJSON() ([]byte, error) {
	return marshalNode("term", map[string]any{
		"is_const": t.IsConst, "const_val": t.ConstVal, "const_w": t.ConstW, "signed": t.Signed,
		"var": t.Var, "access": t.Access, "indices": t.Indices,
	})
}

func (t *Term) UnmarshalJSON(data []byte) error {
	var shadow struct {
		IsConst  bool              `json:"is_const"`
		ConstVal uint64            `json:"const_val"`
		ConstW   int               `json:"const_w"`
		Signed   bool              `json:"signed"`
		Var      VarID             `json:"var"`
		Access   *BitAccess        `json:"access"`
		Indices  []json.RawMessage `json:"indices"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	idx, err := unmarshalExpressions(shadow.Indices)
	if err != nil {
		return err
	}
	*t = Term{
		IsConst: shadow.IsConst, ConstVal: shadow.ConstVal, ConstW: shadow.ConstW, Signed: shadow.Signed,
		Var: shadow.Var, Access: shadow.Access, Indices: idx,
	}
	return nil
}

func (b *Binary) MarshalJSON() ([]byte, error) {
	return marshalNode("binary", map[string]any{"op": b.Op, "lhs": b.Lhs, "rhs": b.Rhs})
}

func (b *Binary) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Op  BinaryOp        `json:"op"`
		Lhs json.RawMessage `json:"lhs"`
		Rhs json.RawMessage `json:"rhs"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	lhs, err := unmarshalExpression(shadow.Lhs)
	if err != nil {
		return err
	}
	rhs, err := unmarshalExpression(shadow.Rhs)
	if err != nil {
		return err
	}
	*b = Binary{Op: shadow.Op, Lhs: lhs, Rhs: rhs}
	return nil
}

func (u *Unary) MarshalJSON() ([]byte, error) {
	return marshalNode("unary", map[string]any{
		"op": u.Op, "operand": u.Operand, "cast_width": u.CastWidth, "cast_signed": u.CastSigned,
	})
}

func (u *Unary) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Op         UnaryOp         `json:"op"`
		Operand    json.RawMessage `json:"operand"`
		CastWidth  int             `json:"cast_width"`
		CastSigned bool            `json:"cast_signed"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	operand, err := unmarshalExpression(shadow.Operand)
	if err != nil {
		return err
	}
	*u = Unary{Op: shadow.Op, Operand: operand, CastWidth: shadow.CastWidth, CastSigned: shadow.CastSigned}
	return nil
}

func (te *Ternary) MarshalJSON() ([]byte, error) {
	return marshalNode("ternary", map[string]any{"cond": te.Cond, "then": te.Then, "else": te.Else})
}

func (te *Ternary) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Cond json.RawMessage `json:"cond"`
		Then json.RawMessage `json:"then"`
		Else json.RawMessage `json:"else"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	cond, err := unmarshalExpression(shadow.Cond)
	if err != nil {
		return err
	}
	then, err := unmarshalExpression(shadow.Then)
	if err != nil {
		return err
	}
	els, err := unmarshalExpression(shadow.Else)
	if err != nil {
		return err
	}
	*te = Ternary{Cond: cond, Then: then, Else: els}
	return nil
}

func (c *Concat) MarshalJSON() ([]byte, error) {
	return marshalNode("concat", map[string]any{"elems": c.Elems})
}

func (c *Concat) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Elems []json.RawMessage `json:"elems"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	elems, err := unmarshalExpressions(shadow.Elems)
	if err != nil {
		return err
	}
	*c = Concat{Elems: elems}
	return nil
}

func (a *ArrayLiteral) MarshalJSON() ([]byte, error) {
	keyed := make(map[string]Expression, len(a.Keyed))
	for k, v := range a.Keyed {
		keyed[strconv.Itoa(k)] = v
	}
	return marshalNode("array_literal", map[string]any{"keyed": keyed, "default": a.Default, "length": a.Length})
}

func (a *ArrayLiteral) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Keyed   map[string]json.RawMessage `json:"keyed"`
		Default json.RawMessage            `json:"default"`
		Length  int                        `json:"length"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	var keyed map[int]Expression
	if len(shadow.Keyed) > 0 {
		keyed = make(map[int]Expression, len(shadow.Keyed))
		for k, raw := range shadow.Keyed {
			idx, err := strconv.Atoi(k)
			if err != nil {
				return fmt.Errorf("hdlir: array_literal key %q: %w", k, err)
			}
			e, err := unmarshalExpression(raw)
			if err != nil {
				return err
			}
			keyed[idx] = e
		}
	}
	def, err := unmarshalExpression(shadow.Default)
	if err != nil {
		return err
	}
	*a = ArrayLiteral{Keyed: keyed, Default: def, Length: shadow.Length}
	return nil
}

func (c *CallExpr) MarshalJSON() ([]byte, error) {
	return marshalNode("call_expr", map[string]any{"func": c.Func, "args": c.Args})
}

func (c *CallExpr) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Func string            `json:"func"`
		Args []json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	args, err := unmarshalExpressions(shadow.Args)
	if err != nil {
		return err
	}
	*c = CallExpr{Func: shadow.Func, Args: args}
	return nil
}

func (l *LocalRef) MarshalJSON() ([]byte, error) {
	return marshalNode("local_ref", map[string]any{"name": l.Name})
}

func (s *StructCtor) MarshalJSON() ([]byte, error) {
	fields := make(map[string]Expression, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	return marshalNode("struct_ctor", map[string]any{"field_order": s.FieldOrder, "fields": fields})
}

func (s *StructCtor) UnmarshalJSON(data []byte) error {
	var shadow struct {
		FieldOrder []string                   `json:"field_order"`
		Fields     map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	var fields map[string]Expression
	if len(shadow.Fields) > 0 {
		fields = make(map[string]Expression, len(shadow.Fields))
		for k, raw := range shadow.Fields {
			e, err := unmarshalExpression(raw)
			if err != nil {
				return err
			}
			fields[k] = e
		}
	}
	*s = StructCtor{FieldOrder: shadow.FieldOrder, Fields: fields}
	return nil
}

// --- Destination / PortBinding (concrete structs holding an Expression field) ---

func (d *Destination) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Var     VarID        `json:"var"`
		Access  *BitAccess   `json:"access"`
		Indices []Expression `json:"indices"`
	}{d.Var, d.Access, d.Indices})
}

func (d *Destination) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Var     VarID             `json:"var"`
		Access  *BitAccess        `json:"access"`
		Indices []json.RawMessage `json:"indices"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	idx, err := unmarshalExpressions(shadow.Indices)
	if err != nil {
		return err
	}
	*d = Destination{Var: shadow.Var, Access: shadow.Access, Indices: idx}
	return nil
}

func (p *PortBinding) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Port VarID      `json:"port"`
		Expr Expression `json:"expr"`
	}{p.Port, p.Expr})
}

func (p *PortBinding) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Port VarID           `json:"port"`
		Expr json.RawMessage `json:"expr"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	expr, err := unmarshalExpression(shadow.Expr)
	if err != nil {
		return err
	}
	*p = PortBinding{Port: shadow.Port, Expr: expr}
	return nil
}

// --- Statement ---

func unmarshalStatement(raw json.RawMessage) (Statement, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var k kindTag
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("hdlir: decoding statement: %w", err)
	}
	var s Statement
	switch k.Kind {
	case "assign":
		s = &Assign{}
	case "if":
		s = &If{}
	case "if_reset":
		s = &IfReset{}
	case "null":
		s = &Null{}
	case "return":
		s = &Return{}
	case "local_assign":
		s = &LocalAssign{}
	case "system_call":
		s = &SystemCall{}
	case "call":
		s = &Call{}
	default:
		return nil, fmt.Errorf("hdlir: unknown statement kind %q", k.Kind)
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}

func unmarshalStatements(raws []json.RawMessage) ([]Statement, error) {
	if raws == nil {
		return nil, nil
	}
	out := make([]Statement, len(raws))
	for i, r := range raws {
		st, err := unmarshalStatement(r)
		if err != nil {
			return nil, err
		}
		out[i] = st
	}
	return out, nil
}

func (a *Assign) MarshalJSON() ([]byte, error) {
	return marshalNode("assign", map[string]any{"dests": a.Dests, "value": a.Value})
}

func (a *Assign) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Dests []Destination   `json:"dests"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	value, err := unmarshalExpression(shadow.Value)
	if err != nil {
		return err
	}
	*a = Assign{Dests: shadow.Dests, Value: value}
	return nil
}

func (i *If) MarshalJSON() ([]byte, error) {
	return marshalNode("if", map[string]any{"cond": i.Cond, "then": i.Then, "else": i.Else})
}

func (i *If) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Cond json.RawMessage   `json:"cond"`
		Then []json.RawMessage `json:"then"`
		Else []json.RawMessage `json:"else"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	cond, err := unmarshalExpression(shadow.Cond)
	if err != nil {
		return err
	}
	then, err := unmarshalStatements(shadow.Then)
	if err != nil {
		return err
	}
	els, err := unmarshalStatements(shadow.Else)
	if err != nil {
		return err
	}
	*i = If{Cond: cond, Then: then, Else: els}
	return nil
}

func (ir *IfReset) MarshalJSON() ([]byte, error) {
	return marshalNode("if_reset", map[string]any{"then": ir.Then, "else": ir.Else})
}

func (ir *IfReset) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Then []json.RawMessage `json:"then"`
		Else []json.RawMessage `json:"else"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	then, err := unmarshalStatements(shadow.Then)
	if err != nil {
		return err
	}
	els, err := unmarshalStatements(shadow.Else)
	if err != nil {
		return err
	}
	*ir = IfReset{Then: then, Else: els}
	return nil
}

func (n *Null) MarshalJSON() ([]byte, error) { return marshalNode("null", nil) }

func (r *Return) MarshalJSON() ([]byte, error) {
	return marshalNode("return", map[string]any{"value": r.Value})
}

func (r *Return) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	value, err := unmarshalExpression(shadow.Value)
	if err != nil {
		return err
	}
	*r = Return{Value: value}
	return nil
}

func (l *LocalAssign) MarshalJSON() ([]byte, error) {
	return marshalNode("local_assign", map[string]any{"name": l.Name, "value": l.Value})
}

func (l *LocalAssign) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	value, err := unmarshalExpression(shadow.Value)
	if err != nil {
		return err
	}
	*l = LocalAssign{Name: shadow.Name, Value: value}
	return nil
}

func (s *SystemCall) MarshalJSON() ([]byte, error) {
	return marshalNode("system_call", map[string]any{"name": s.Name, "args": s.Args})
}

func (s *SystemCall) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Name string            `json:"name"`
		Args []json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	args, err := unmarshalExpressions(shadow.Args)
	if err != nil {
		return err
	}
	*s = SystemCall{Name: shadow.Name, Args: args}
	return nil
}

func (c *Call) MarshalJSON() ([]byte, error) {
	return marshalNode("call", map[string]any{"func": c.Func, "args": c.Args})
}

func (c *Call) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Func string            `json:"func"`
		Args []json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	args, err := unmarshalExpressions(shadow.Args)
	if err != nil {
		return err
	}
	*c = Call{Func: shadow.Func, Args: args}
	return nil
}

// --- Declaration ---

func unmarshalDeclaration(raw json.RawMessage) (Declaration, error) {
	var k kindTag
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("hdlir: decoding declaration: %w", err)
	}
	var d Declaration
	switch k.Kind {
	case "comb":
		d = &Comb{}
	case "ff":
		d = &Ff{}
	case "inst":
		d = &Inst{}
	default:
		return nil, fmt.Errorf("hdlir: unknown declaration kind %q", k.Kind)
	}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, err
	}
	return d, nil
}

func unmarshalDeclarations(raws []json.RawMessage) ([]Declaration, error) {
	if raws == nil {
		return nil, nil
	}
	out := make([]Declaration, len(raws))
	for i, r := range raws {
		d, err := unmarshalDeclaration(r)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func (c *Comb) MarshalJSON() ([]byte, error) {
	return marshalNode("comb", map[string]any{"body": c.Body})
}

func (c *Comb) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Body []json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	body, err := unmarshalStatements(shadow.Body)
	if err != nil {
		return err
	}
	*c = Comb{Body: body}
	return nil
}

func (f *Ff) MarshalJSON() ([]byte, error) {
	return marshalNode("ff", map[string]any{
		"clock": f.Clock, "pos_edge": f.PosEdge, "reset": f.Reset, "reset_kind": f.ResetKind, "body": f.Body,
	})
}

func (f *Ff) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Clock     VarID             `json:"clock"`
		PosEdge   bool              `json:"pos_edge"`
		Reset     VarID             `json:"reset"`
		ResetKind ResetKind         `json:"reset_kind"`
		Body      []json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	body, err := unmarshalStatements(shadow.Body)
	if err != nil {
		return err
	}
	*f = Ff{Clock: shadow.Clock, PosEdge: shadow.PosEdge, Reset: shadow.Reset, ResetKind: shadow.ResetKind, Body: body}
	return nil
}

func (i *Inst) MarshalJSON() ([]byte, error) {
	return marshalNode("inst", map[string]any{
		"inst_name": i.InstName, "target": i.Target, "inputs": i.Inputs, "outputs": i.Outputs,
	})
}

func (i *Inst) UnmarshalJSON(data []byte) error {
	var shadow struct {
		InstName string         `json:"inst_name"`
		Target   string         `json:"target"`
		Inputs   []PortBinding  `json:"inputs"`
		Outputs  []PortBinding  `json:"outputs"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	*i = Inst{InstName: shadow.InstName, Target: shadow.Target, Inputs: shadow.Inputs, Outputs: shadow.Outputs}
	return nil
}

// --- Module / FuncDef (concrete structs holding a Declaration/Statement slice) ---

func (m *Module) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name      string              `json:"name"`
		Variables []*Variable         `json:"variables"`
		Decls     []Declaration       `json:"decls"`
		Funcs     map[string]*FuncDef `json:"funcs"`
	}{m.Name, m.Variables, m.Decls, m.Funcs})
}

func (m *Module) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Name      string              `json:"name"`
		Variables []*Variable         `json:"variables"`
		Decls     []json.RawMessage   `json:"decls"`
		Funcs     map[string]*FuncDef `json:"funcs"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	decls, err := unmarshalDeclarations(shadow.Decls)
	if err != nil {
		return err
	}
	*m = Module{Name: shadow.Name, Variables: shadow.Variables, Decls: decls, Funcs: shadow.Funcs}
	return nil
}

func (fn *FuncDef) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name   string      `json:"name"`
		Params []FuncParam `json:"params"`
		Body   []Statement `json:"body"`
	}{fn.Name, fn.Params, fn.Body})
}

func (fn *FuncDef) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Name   string            `json:"name"`
		Params []FuncParam       `json:"params"`
		Body   []json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	body, err := unmarshalStatements(shadow.Body)
	if err != nil {
		return err
	}
	*fn = FuncDef{Name: shadow.Name, Params: shadow.Params, Body: body}
	return nil
}
