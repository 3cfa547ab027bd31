// Package graph implements the hash-consed, arena-allocated bit-level
// expression DAG (spec component A): Input, Constant, Unary, Binary,
// Mux, Concat, and Slice nodes, addressed by dense NodeId and shared
// across subexpressions with identical structure.
package graph

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/oisee/hdlsim/pkg/hdlir"
)

// NodeId is a dense index into an Arena's node slice.
type NodeId int

const InvalidNodeId NodeId = -1

// Kind tags which fields of a Node are meaningful.
type Kind uint8

const (
	KindInput Kind = iota
	KindConstant
	KindUnary
	KindBinary
	KindMux
	KindConcat
	KindSlice
)

// DynIndex is one dynamic index term contributing `index * Stride` bits
// to a symbolic offset.
type DynIndex[A comparable] struct {
	Index  NodeId
	Stride int
}

// ConcatElem is one element of a Concat node; elements are ordered
// MSB-first per spec.md §3.
type ConcatElem struct {
	Node  NodeId
	Width int
}

// Node is a tagged union over the seven expression-graph variants,
// generalized over the address type A so the same arena shape serves
// both per-module parsing (addressed by hdlir.VarID) and the flattener's
// global address space (addressed by a flattened AbsoluteAddr).
type Node[A comparable] struct {
	Kind Kind

	// Shared
	Width  int
	Signed bool

	// KindInput
	Addr       A
	DynIndices []DynIndex[A]
	Access     hdlir.BitAccess // static access range; zero value means whole variable

	// KindConstant
	ConstVal *big.Int

	// KindUnary
	UnaryOp    hdlir.UnaryOp
	CastWidth  int
	CastSigned bool

	// KindUnary / KindBinary operand(s); KindSlice inner
	Lhs NodeId
	Rhs NodeId

	// KindBinary
	BinaryOp hdlir.BinaryOp

	// KindMux
	Cond, Then, Else NodeId

	// KindConcat
	Elems []ConcatElem

	// KindSlice
	SliceAccess hdlir.BitAccess
}

// Arena owns a hash-consed pool of nodes over one address type. It is
// not safe for concurrent use (spec.md §5: single-threaded core).
type Arena[A comparable] struct {
	nodes []Node[A]
	cache map[string]NodeId
}

// NewArena creates an empty arena.
func NewArena[A comparable]() *Arena[A] {
	return &Arena[A]{cache: make(map[string]NodeId)}
}

// Get returns the node stored at id.
func (a *Arena[A]) Get(id NodeId) *Node[A] {
	return &a.nodes[id]
}

// Len returns the number of distinct nodes allocated.
func (a *Arena[A]) Len() int { return len(a.nodes) }

func (a *Arena[A]) intern(key string, n Node[A]) NodeId {
	if id, ok := a.cache[key]; ok {
		return id
	}
	id := NodeId(len(a.nodes))
	a.nodes = append(a.nodes, n)
	a.cache[key] = id
	return id
}

// AllocInput hash-conses an Input node reading the given static access
// of addr, optionally offset by dynamic index terms.
func (a *Arena[A]) AllocInput(addr A, access hdlir.BitAccess, dyn []DynIndex[A], width int) NodeId {
	var b strings.Builder
	fmt.Fprintf(&b, "I|%v|%d:%d|%d", addr, access.Lsb, access.Msb, width)
	for _, d := range dyn {
		fmt.Fprintf(&b, "|d%d*%d", d.Index, d.Stride)
	}
	return a.intern(b.String(), Node[A]{
		Kind: KindInput, Addr: addr, Access: access, DynIndices: dyn, Width: width,
	})
}

// AllocConstant hash-conses a Constant node.
func (a *Arena[A]) AllocConstant(val *big.Int, width int, signed bool) NodeId {
	key := fmt.Sprintf("C|%s|%d|%v", val.Text(16), width, signed)
	return a.intern(key, Node[A]{Kind: KindConstant, ConstVal: val, Width: width, Signed: signed})
}

// AllocUnary hash-conses a Unary node. Width follows spec.md §4.A /
// "Width of each node": LogicNot and reductions produce 1 bit; Cast
// takes CastWidth; Ident/Minus/BitNot keep the operand's width.
func (a *Arena[A]) AllocUnary(op hdlir.UnaryOp, operand NodeId, operandWidth int, castWidth int, castSigned bool) NodeId {
	width := operandWidth
	switch op {
	case hdlir.OpLogicNot, hdlir.OpReduceAnd, hdlir.OpReduceOr, hdlir.OpReduceXor,
		hdlir.OpReduceNand, hdlir.OpReduceNor, hdlir.OpReduceXnor:
		width = 1
	case hdlir.OpCast:
		width = castWidth
	}
	key := fmt.Sprintf("U|%d|%d|%d|%v", op, operand, width, castSigned)
	return a.intern(key, Node[A]{
		Kind: KindUnary, UnaryOp: op, Lhs: operand, Width: width,
		CastWidth: castWidth, CastSigned: castSigned,
	})
}

func isCompare(op hdlir.BinaryOp) bool {
	switch op {
	case hdlir.OpEq, hdlir.OpNe, hdlir.OpLtU, hdlir.OpLtS, hdlir.OpLeU, hdlir.OpLeS,
		hdlir.OpGtU, hdlir.OpGtS, hdlir.OpGeU, hdlir.OpGeS,
		hdlir.OpLogicAnd, hdlir.OpLogicOr, hdlir.OpEqWildcard, hdlir.OpNeWildcard:
		return true
	}
	return false
}

// AllocBinary hash-conses a Binary node. Width rules per spec.md §3:
// shifts keep lhs width, comparisons always produce 1 bit, all other
// binaries take max(lhs, rhs).
func (a *Arena[A]) AllocBinary(op hdlir.BinaryOp, lhs, rhs NodeId, lhsWidth, rhsWidth int) NodeId {
	var width int
	switch {
	case op == hdlir.OpShl || op == hdlir.OpShr || op == hdlir.OpSar:
		width = lhsWidth
	case isCompare(op):
		width = 1
	default:
		width = lhsWidth
		if rhsWidth > width {
			width = rhsWidth
		}
	}
	key := fmt.Sprintf("B|%d|%d|%d|%d", op, lhs, rhs, width)
	return a.intern(key, Node[A]{Kind: KindBinary, BinaryOp: op, Lhs: lhs, Rhs: rhs, Width: width})
}

// AllocMux hash-conses a Mux node; width is max(then,else) so a merge
// of branches with unequal pre-normalization widths still produces a
// deterministic node width.
func (a *Arena[A]) AllocMux(cond, then, els NodeId, thenWidth, elseWidth int) NodeId {
	width := thenWidth
	if elseWidth > width {
		width = elseWidth
	}
	key := fmt.Sprintf("M|%d|%d|%d|%d", cond, then, els, width)
	return a.intern(key, Node[A]{Kind: KindMux, Cond: cond, Then: then, Else: els, Width: width})
}

// AllocConcat hash-conses a Concat node; elems[0] is MSB.
func (a *Arena[A]) AllocConcat(elems []ConcatElem) NodeId {
	var b strings.Builder
	b.WriteString("CC")
	width := 0
	for _, e := range elems {
		fmt.Fprintf(&b, "|%d:%d", e.Node, e.Width)
		width += e.Width
	}
	cp := make([]ConcatElem, len(elems))
	copy(cp, elems)
	return a.intern(b.String(), Node[A]{Kind: KindConcat, Elems: cp, Width: width})
}

// AllocSlice hash-conses a Slice node taking access out of inner
// (access is relative to inner's own width).
func (a *Arena[A]) AllocSlice(inner NodeId, access hdlir.BitAccess) NodeId {
	key := fmt.Sprintf("S|%d|%d:%d", inner, access.Lsb, access.Msb)
	return a.intern(key, Node[A]{Kind: KindSlice, Lhs: inner, SliceAccess: access, Width: access.Width()})
}

// Width returns the statically determined width of a node.
func (a *Arena[A]) Width(id NodeId) int { return a.nodes[id].Width }

// Remap clones the subtree rooted at id into dst, translating every
// address with translate and sharing work across calls via cache (keyed
// by source NodeId). This is the `map_addr` traversal spec.md §9 names.
func Remap[A comparable, B comparable](src *Arena[A], dst *Arena[B], id NodeId, translate func(A) B, cache map[NodeId]NodeId) NodeId {
	if out, ok := cache[id]; ok {
		return out
	}
	n := src.Get(id)
	var out NodeId
	switch n.Kind {
	case KindInput:
		dyn := make([]DynIndex[B], len(n.DynIndices))
		for i, d := range n.DynIndices {
			dyn[i] = DynIndex[B]{Index: Remap(src, dst, d.Index, translate, cache), Stride: d.Stride}
		}
		out = dst.AllocInput(translate(n.Addr), n.Access, dyn, n.Width)
	case KindConstant:
		out = dst.AllocConstant(n.ConstVal, n.Width, n.Signed)
	case KindUnary:
		lhs := Remap(src, dst, n.Lhs, translate, cache)
		out = dst.AllocUnary(n.UnaryOp, lhs, src.Width(n.Lhs), n.CastWidth, n.CastSigned)
	case KindBinary:
		lhs := Remap(src, dst, n.Lhs, translate, cache)
		rhs := Remap(src, dst, n.Rhs, translate, cache)
		out = dst.AllocBinary(n.BinaryOp, lhs, rhs, src.Width(n.Lhs), src.Width(n.Rhs))
	case KindMux:
		cond := Remap(src, dst, n.Cond, translate, cache)
		then := Remap(src, dst, n.Then, translate, cache)
		els := Remap(src, dst, n.Else, translate, cache)
		out = dst.AllocMux(cond, then, els, src.Width(n.Then), src.Width(n.Else))
	case KindConcat:
		elems := make([]ConcatElem, len(n.Elems))
		for i, e := range n.Elems {
			elems[i] = ConcatElem{Node: Remap(src, dst, e.Node, translate, cache), Width: e.Width}
		}
		out = dst.AllocConcat(elems)
	case KindSlice:
		inner := Remap(src, dst, n.Lhs, translate, cache)
		out = dst.AllocSlice(inner, n.SliceAccess)
	default:
		panic(fmt.Sprintf("graph: unhandled kind %d in Remap", n.Kind))
	}
	cache[id] = out
	return out
}

// Sources collects the set of distinct addresses read anywhere in the
// subtree rooted at id (used to compute a LogicPath's source set).
func Sources[A comparable](a *Arena[A], id NodeId, out map[A]bool) {
	n := a.Get(id)
	switch n.Kind {
	case KindInput:
		out[n.Addr] = true
		for _, d := range n.DynIndices {
			Sources(a, d.Index, out)
		}
	case KindConstant:
	case KindUnary:
		Sources(a, n.Lhs, out)
	case KindBinary:
		Sources(a, n.Lhs, out)
		Sources(a, n.Rhs, out)
	case KindMux:
		Sources(a, n.Cond, out)
		Sources(a, n.Then, out)
		Sources(a, n.Else, out)
	case KindConcat:
		for _, e := range n.Elems {
			Sources(a, e.Node, out)
		}
	case KindSlice:
		Sources(a, n.Lhs, out)
	}
}
