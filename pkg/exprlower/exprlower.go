// Package exprlower implements the expression-evaluation core shared by
// the comb parser (spec component D) and the FF parser (spec component
// E): context-width-driven operator lowering into the graph package's
// arena, the desugarings spec.md §4.B lists, array-literal-with-default
// expansion, and function-call inlining.
package exprlower

import (
	"fmt"
	"math/big"

	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/hdlir"
)

// Env is the host-specific half of expression lowering: resolving a
// variable read (static or dynamic access) into a graph node plus its
// source set. The comb parser reads through a ranges.Store per variable;
// the FF parser reads through stable/working SIR state instead, so the
// two hosts implement Env differently over the same evaluator.
type Env[A comparable] interface {
	Arena() *graph.Arena[A]
	VarInfo(v hdlir.VarID) *hdlir.Variable
	// Read resolves access (nil: whole variable) and indices (nil: no
	// array indexing) of v into a node and its source set. indices may
	// contain non-constant expressions; Read is responsible for
	// deciding between the static and dynamic addressing paths.
	Read(v hdlir.VarID, access *hdlir.BitAccess, indices []hdlir.Expression) (graph.NodeId, map[A]bool, error)
	Func(name string) (*hdlir.FuncDef, bool)
}

// Lowerer evaluates hdlir.Expression trees into graph nodes under one
// Env. It is not safe for concurrent use.
type Lowerer[A comparable] struct {
	Env         Env[A]
	MaxInline   int
	scopes      []map[string]bound[A]
	inlineDepth int
	pending     []hdlir.Statement
}

type bound[A comparable] struct {
	node    graph.NodeId
	sources map[A]bool
}

// New creates a Lowerer with the default inline-recursion guard spec.md
// §7 requires ("recursive-call" is rejected, not hung on).
func New[A comparable](env Env[A]) *Lowerer[A] {
	return &Lowerer[A]{Env: env, MaxInline: 64}
}

// TakePending drains and returns the output-argument assignments
// produced by CallExpr side effects since the last call, in the order
// they must be applied (spec.md §4.B: "propagated into the enclosing
// expression as additional side effects written after the call").
func (l *Lowerer[A]) TakePending() []hdlir.Statement {
	p := l.pending
	l.pending = nil
	return p
}

func (l *Lowerer[A]) arena() *graph.Arena[A] { return l.Env.Arena() }

func unionSources[A comparable](maps ...map[A]bool) map[A]bool {
	out := make(map[A]bool)
	for _, m := range maps {
		for k := range m {
			out[k] = true
		}
	}
	return out
}

// Eval lowers expr under the given context width/signedness (spec.md §9:
// "operators have a concept of a contextual width inherited from the
// enclosing assignment's destination or the outer operator"). ctxWidth
// of 0 means self-determined (no outer context to extend to).
func (l *Lowerer[A]) Eval(expr hdlir.Expression, ctxWidth int, ctxSigned bool) (graph.NodeId, map[A]bool, error) {
	switch e := expr.(type) {
	case *hdlir.Term:
		return l.evalTerm(e, ctxWidth, ctxSigned)
	case *hdlir.Binary:
		return l.evalBinary(e, ctxWidth, ctxSigned)
	case *hdlir.Unary:
		return l.evalUnary(e, ctxWidth, ctxSigned)
	case *hdlir.Ternary:
		return l.evalTernary(e, ctxWidth, ctxSigned)
	case *hdlir.Concat:
		return l.evalConcat(e, ctxWidth)
	case *hdlir.ArrayLiteral:
		return l.evalArrayLiteral(e, ctxWidth)
	case *hdlir.CallExpr:
		return l.evalCall(e, ctxWidth, ctxSigned)
	case *hdlir.LocalRef:
		for i := len(l.scopes) - 1; i >= 0; i-- {
			if b, ok := l.scopes[i][e.Name]; ok {
				return b.node, b.sources, nil
			}
		}
		return 0, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "local-ref", Detail: fmt.Sprintf("undefined local %q", e.Name)}
	case *hdlir.StructCtor:
		return l.evalStructCtor(e, ctxWidth)
	default:
		return 0, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "expression", Detail: fmt.Sprintf("%T", expr)}
	}
}

func (l *Lowerer[A]) evalTerm(t *hdlir.Term, ctxWidth int, ctxSigned bool) (graph.NodeId, map[A]bool, error) {
	if t.IsConst {
		w := t.ConstW
		if w == 0 {
			w = ctxWidth
		}
		if w == 0 {
			w = 32
		}
		val := new(big.Int).SetUint64(t.ConstVal)
		id := l.arena().AllocConstant(val, w, t.Signed)
		return id, map[A]bool{}, nil
	}
	node, sources, err := l.Env.Read(t.Var, t.Access, t.Indices)
	if err != nil {
		return 0, nil, err
	}
	return node, sources, nil
}

// extend zero- or sign-extends (or truncates, via Slice) node from
// fromWidth to toWidth.
func (l *Lowerer[A]) extend(node graph.NodeId, fromWidth, toWidth int, signed bool) graph.NodeId {
	if fromWidth == toWidth {
		return node
	}
	if toWidth < fromWidth {
		return l.arena().AllocSlice(node, hdlir.BitAccess{Lsb: 0, Msb: toWidth - 1})
	}
	return l.arena().AllocUnary(hdlir.OpCast, node, fromWidth, toWidth, signed)
}

func maxInt(xs ...int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func (l *Lowerer[A]) evalBinary(b *hdlir.Binary, ctxWidth int, ctxSigned bool) (graph.NodeId, map[A]bool, error) {
	switch b.Op {
	case hdlir.OpLogicAnd, hdlir.OpLogicOr:
		lhs, lsrc, err := l.Eval(b.Lhs, 0, false)
		if err != nil {
			return 0, nil, err
		}
		rhs, rsrc, err := l.Eval(b.Rhs, 0, false)
		if err != nil {
			return 0, nil, err
		}
		id := l.arena().AllocBinary(b.Op, lhs, rhs, l.arena().Width(lhs), l.arena().Width(rhs))
		return l.finishCtx(id, 1, ctxWidth), unionSources(lsrc, rsrc), nil
	}

	selfWidth := ctxWidth
	if b.Op == hdlir.OpShl || b.Op == hdlir.OpShr || b.Op == hdlir.OpSar {
		selfWidth = 0 // lhs determines width, not ctx
	}
	lhs, lsrc, err := l.Eval(b.Lhs, selfWidth, ctxSigned)
	if err != nil {
		return 0, nil, err
	}
	lw := l.arena().Width(lhs)

	switch b.Op {
	case hdlir.OpShl, hdlir.OpShr, hdlir.OpSar:
		rhs, rsrc, err := l.Eval(b.Rhs, 0, false)
		if err != nil {
			return 0, nil, err
		}
		id := l.arena().AllocBinary(b.Op, lhs, rhs, lw, l.arena().Width(rhs))
		return l.finishCtx(id, lw, ctxWidth), unionSources(lsrc, rsrc), nil

	case hdlir.OpEq, hdlir.OpNe, hdlir.OpLtU, hdlir.OpLtS, hdlir.OpLeU, hdlir.OpLeS,
		hdlir.OpGtU, hdlir.OpGtS, hdlir.OpGeU, hdlir.OpGeS, hdlir.OpEqWildcard, hdlir.OpNeWildcard:
		rhs, rsrc, err := l.Eval(b.Rhs, 0, ctxSigned)
		if err != nil {
			return 0, nil, err
		}
		rw := l.arena().Width(rhs)
		opW := maxInt(lw, rw)
		lhs = l.extend(lhs, lw, opW, ctxSigned)
		rhs = l.extend(rhs, rw, opW, ctxSigned)
		id := l.arena().AllocBinary(b.Op, lhs, rhs, opW, opW)
		return l.finishCtx(id, 1, ctxWidth), unionSources(lsrc, rsrc), nil

	default: // arithmetic / bitwise
		rhs, rsrc, err := l.Eval(b.Rhs, selfWidth, ctxSigned)
		if err != nil {
			return 0, nil, err
		}
		rw := l.arena().Width(rhs)
		opW := maxInt(lw, rw, ctxWidth)
		lhs = l.extend(lhs, lw, opW, ctxSigned)
		rhs = l.extend(rhs, rw, opW, ctxSigned)
		id := l.arena().AllocBinary(b.Op, lhs, rhs, opW, opW)
		return l.finishCtx(id, opW, ctxWidth), unionSources(lsrc, rsrc), nil
	}
}

// finishCtx zero-extends a self-determined result of width selfW up to
// ctxWidth when the caller has a wider enclosing context.
func (l *Lowerer[A]) finishCtx(id graph.NodeId, selfW, ctxWidth int) graph.NodeId {
	if ctxWidth > selfW {
		return l.extend(id, selfW, ctxWidth, false)
	}
	return id
}

func (l *Lowerer[A]) evalUnary(u *hdlir.Unary, ctxWidth int, ctxSigned bool) (graph.NodeId, map[A]bool, error) {
	if u.Op == hdlir.OpCast {
		inner, src, err := l.Eval(u.Operand, 0, ctxSigned)
		if err != nil {
			return 0, nil, err
		}
		id := l.extend(inner, l.arena().Width(inner), u.CastWidth, u.CastSigned)
		return id, src, nil
	}

	selfCtx := ctxWidth
	switch u.Op {
	case hdlir.OpLogicNot, hdlir.OpReduceAnd, hdlir.OpReduceOr, hdlir.OpReduceXor,
		hdlir.OpReduceNand, hdlir.OpReduceNor, hdlir.OpReduceXnor:
		selfCtx = 0
	}
	inner, src, err := l.Eval(u.Operand, selfCtx, ctxSigned)
	if err != nil {
		return 0, nil, err
	}
	iw := l.arena().Width(inner)
	id := l.arena().AllocUnary(u.Op, inner, iw, 0, ctxSigned)

	switch u.Op {
	case hdlir.OpReduceNand, hdlir.OpReduceNor, hdlir.OpReduceXnor:
		// desugar ~&, ~|, ~^ as reduction then LogicNot, per spec.md §4.B.
		base := hdlir.OpReduceAnd
		if u.Op == hdlir.OpReduceNor {
			base = hdlir.OpReduceOr
		} else if u.Op == hdlir.OpReduceXnor {
			base = hdlir.OpReduceXor
		}
		reduced := l.arena().AllocUnary(base, inner, iw, 0, false)
		id = l.arena().AllocUnary(hdlir.OpLogicNot, reduced, 1, 0, false)
	}

	switch u.Op {
	case hdlir.OpLogicNot, hdlir.OpReduceAnd, hdlir.OpReduceOr, hdlir.OpReduceXor,
		hdlir.OpReduceNand, hdlir.OpReduceNor, hdlir.OpReduceXnor:
		return l.finishCtx(id, 1, ctxWidth), src, nil
	}
	return id, src, nil
}

func (l *Lowerer[A]) evalTernary(t *hdlir.Ternary, ctxWidth int, ctxSigned bool) (graph.NodeId, map[A]bool, error) {
	cond, csrc, err := l.Eval(t.Cond, 0, false)
	if err != nil {
		return 0, nil, err
	}
	then, tsrc, err := l.Eval(t.Then, ctxWidth, ctxSigned)
	if err != nil {
		return 0, nil, err
	}
	els, esrc, err := l.Eval(t.Else, ctxWidth, ctxSigned)
	if err != nil {
		return 0, nil, err
	}
	tw, ew := l.arena().Width(then), l.arena().Width(els)
	w := maxInt(tw, ew, ctxWidth)
	then = l.extend(then, tw, w, ctxSigned)
	els = l.extend(els, ew, w, ctxSigned)
	id := l.arena().AllocMux(cond, then, els, w, w)
	return id, unionSources(csrc, tsrc, esrc), nil
}

func (l *Lowerer[A]) evalConcat(c *hdlir.Concat, ctxWidth int) (graph.NodeId, map[A]bool, error) {
	elems := make([]graph.ConcatElem, len(c.Elems))
	srcs := make([]map[A]bool, len(c.Elems))
	for i, e := range c.Elems {
		node, src, err := l.Eval(e, 0, false)
		if err != nil {
			return 0, nil, err
		}
		elems[i] = graph.ConcatElem{Node: node, Width: l.arena().Width(node)}
		srcs[i] = src
	}
	id := l.arena().AllocConcat(elems)
	total := l.arena().Width(id)
	return l.finishCtx(id, total, ctxWidth), unionSources(srcs...), nil
}

// evalArrayLiteral expands a `'{[i]: expr, ..., default: expr}`
// aggregate against ctxWidth (the element width * declared length must
// already be known by the caller via the destination's element count,
// passed through ArrayLiteral.Length), producing width_overflow /
// width_mismatch errors per spec.md §4.B when the default cannot tile
// the remainder.
func (l *Lowerer[A]) evalArrayLiteral(a *hdlir.ArrayLiteral, ctxWidth int) (graph.NodeId, map[A]bool, error) {
	if a.Length <= 0 {
		return 0, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "array-literal", Detail: "unknown length"}
	}
	elemWidth := ctxWidth / a.Length
	if elemWidth*a.Length != ctxWidth && ctxWidth != 0 {
		return 0, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "array-literal", Detail: "width_mismatch: context width does not evenly tile declared length"}
	}
	if elemWidth == 0 {
		elemWidth = 1
	}
	elems := make([]graph.ConcatElem, a.Length)
	var srcs []map[A]bool
	for i := a.Length - 1; i >= 0; i-- { // Concat is MSB-first; index 0 is LSB element
		pos := a.Length - 1 - i
		expr, ok := a.Keyed[i]
		if !ok {
			if a.Default == nil {
				return 0, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "array-literal", Detail: fmt.Sprintf("width_overflow: no value or default for index %d", i)}
			}
			expr = a.Default
		}
		node, src, err := l.Eval(expr, elemWidth, false)
		if err != nil {
			return 0, nil, err
		}
		elems[pos] = graph.ConcatElem{Node: node, Width: elemWidth}
		srcs = append(srcs, src)
	}
	id := l.arena().AllocConcat(elems)
	return id, unionSources(srcs...), nil
}

func (l *Lowerer[A]) evalStructCtor(s *hdlir.StructCtor, ctxWidth int) (graph.NodeId, map[A]bool, error) {
	elems := make([]graph.ConcatElem, 0, len(s.FieldOrder))
	var srcs []map[A]bool
	for _, name := range s.FieldOrder {
		expr, ok := s.Fields[name]
		if !ok {
			return 0, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "struct-ctor", Detail: fmt.Sprintf("missing field %q", name)}
		}
		node, src, err := l.Eval(expr, 0, false)
		if err != nil {
			return 0, nil, err
		}
		elems = append(elems, graph.ConcatElem{Node: node, Width: l.arena().Width(node)})
		srcs = append(srcs, src)
	}
	id := l.arena().AllocConcat(elems)
	total := l.arena().Width(id)
	return l.finishCtx(id, total, ctxWidth), unionSources(srcs...), nil
}

// evalCall inlines a function call: binds parameters as locals, walks
// the body substituting a running {local -> expression} map, and
// returns the Return statement's expression. Assignments to output
// parameters become pending statements applied by the caller after the
// enclosing statement (spec.md §4.B).
func (l *Lowerer[A]) evalCall(c *hdlir.CallExpr, ctxWidth int, ctxSigned bool) (graph.NodeId, map[A]bool, error) {
	fn, ok := l.Env.Func(c.Func)
	if !ok {
		return 0, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "call", Detail: fmt.Sprintf("undefined function %q", c.Func)}
	}
	if l.inlineDepth >= l.MaxInline {
		return 0, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "recursive-call", Detail: fmt.Sprintf("inline depth exceeded calling %q", c.Func)}
	}
	if len(c.Args) != len(fn.Params) {
		return 0, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "call", Detail: fmt.Sprintf("%q expects %d args, got %d", c.Func, len(fn.Params), len(c.Args))}
	}

	l.inlineDepth++
	defer func() { l.inlineDepth-- }()

	scope := make(map[string]bound[A], len(fn.Params))
	for i, p := range fn.Params {
		node, src, err := l.Eval(c.Args[i], p.Width, p.Signed)
		if err != nil {
			return 0, nil, err
		}
		scope[p.Name] = bound[A]{node: node, sources: src}
	}
	l.scopes = append(l.scopes, scope)
	defer func() { l.scopes = l.scopes[:len(l.scopes)-1] }()

	result, resultSrc, err := l.inlineStmts(fn.Body, ctxWidth, ctxSigned)
	if err != nil {
		return 0, nil, err
	}
	if result == nil {
		return 0, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "call", Detail: fmt.Sprintf("%q has no return on all paths", c.Func)}
	}
	return *result, resultSrc, nil
}

// InlineCall runs a function body purely for its output-argument side
// effects (a bare call statement rather than a call used as an
// expression value); any Return in the body is ignored.
func (l *Lowerer[A]) InlineCall(c *hdlir.Call) ([]hdlir.Statement, error) {
	fn, ok := l.Env.Func(c.Func)
	if !ok {
		return nil, &hdlerr.UnsupportedCombLoweringError{Feature: "call", Detail: fmt.Sprintf("undefined function %q", c.Func)}
	}
	if l.inlineDepth >= l.MaxInline {
		return nil, &hdlerr.UnsupportedCombLoweringError{Feature: "recursive-call", Detail: fmt.Sprintf("inline depth exceeded calling %q", c.Func)}
	}
	if len(c.Args) != len(fn.Params) {
		return nil, &hdlerr.UnsupportedCombLoweringError{Feature: "call", Detail: fmt.Sprintf("%q expects %d args, got %d", c.Func, len(fn.Params), len(c.Args))}
	}

	l.inlineDepth++
	defer func() { l.inlineDepth-- }()

	scope := make(map[string]bound[A], len(fn.Params))
	for i, p := range fn.Params {
		node, src, err := l.Eval(c.Args[i], p.Width, p.Signed)
		if err != nil {
			return nil, err
		}
		scope[p.Name] = bound[A]{node: node, sources: src}
	}
	l.scopes = append(l.scopes, scope)
	defer func() { l.scopes = l.scopes[:len(l.scopes)-1] }()

	if _, _, err := l.inlineStmts(fn.Body, 0, false); err != nil {
		return nil, err
	}
	return l.TakePending(), nil
}

// inlineStmts interprets a function body symbolically, returning the
// expression a Return statement produces. `if/else` where both branches
// return produces a Ternary merge, per spec.md §4.B. Assignments to
// names in the outer scopes are output-parameter writes and are queued
// as pending Assign statements for the caller to apply.
func (l *Lowerer[A]) inlineStmts(body []hdlir.Statement, ctxWidth int, ctxSigned bool) (*graph.NodeId, map[A]bool, error) {
	top := l.scopes[len(l.scopes)-1]
	for _, stmt := range body {
		switch s := stmt.(type) {
		case *hdlir.LocalAssign:
			node, src, err := l.Eval(s.Value, 0, false)
			if err != nil {
				return nil, nil, err
			}
			top[s.Name] = bound[A]{node: node, sources: src}
		case *hdlir.Return:
			node, src, err := l.Eval(s.Value, ctxWidth, ctxSigned)
			if err != nil {
				return nil, nil, err
			}
			return &node, src, nil
		case *hdlir.Assign:
			// Output-argument write: propagate as a side effect applied
			// by the caller after the enclosing statement.
			l.pending = append(l.pending, s)
		case *hdlir.If:
			thenRes, thenSrc, err := l.inlineBranch(s.Then, ctxWidth, ctxSigned)
			if err != nil {
				return nil, nil, err
			}
			elseRes, elseSrc, err := l.inlineBranch(s.Else, ctxWidth, ctxSigned)
			if err != nil {
				return nil, nil, err
			}
			if thenRes == nil && elseRes == nil {
				continue
			}
			if thenRes == nil || elseRes == nil {
				return nil, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "call", Detail: "inlined if must return on both branches or neither"}
			}
			cond, csrc, err := l.Eval(s.Cond, 0, false)
			if err != nil {
				return nil, nil, err
			}
			tw, ew := l.arena().Width(*thenRes), l.arena().Width(*elseRes)
			w := maxInt(tw, ew, ctxWidth)
			then := l.extend(*thenRes, tw, w, ctxSigned)
			els := l.extend(*elseRes, ew, w, ctxSigned)
			id := l.arena().AllocMux(cond, then, els, w, w)
			return &id, unionSources(csrc, thenSrc, elseSrc), nil
		case *hdlir.Null:
			continue
		default:
			return nil, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "inline-stmt", Detail: fmt.Sprintf("%T not inlinable", stmt)}
		}
	}
	return nil, nil, nil
}

func (l *Lowerer[A]) inlineBranch(body []hdlir.Statement, ctxWidth int, ctxSigned bool) (*graph.NodeId, map[A]bool, error) {
	if body == nil {
		return nil, nil, nil
	}
	return l.inlineStmts(body, ctxWidth, ctxSigned)
}
