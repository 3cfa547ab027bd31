// Package ranges implements the per-variable range store (spec
// component B): a sorted partition of [0, W-1] mapping disjoint bit
// ranges to an optional driving expression plus its source set,
// supporting partial overwrite, ordered reads, and branch-merge.
package ranges

import (
	"sort"

	"github.com/oisee/hdlsim/pkg/graph"
)

// Value is what one covered range currently holds: the node driving it
// and the set of addresses that expression reads from. A nil Value
// means "not yet driven; use the variable's initial input".
type Value[A comparable] struct {
	Node    graph.NodeId
	Sources map[A]bool
}

type entry[A comparable] struct {
	lsb, msb int    // inclusive, within [0, width-1]
	origin   int    // lsb at which Value.Node logically begins
	value    *Value[A]
}

// Store is the disjoint-partition range map for one variable of a fixed
// logical width.
type Store[A comparable] struct {
	width   int
	entries []entry[A] // sorted by lsb, covering [0,width-1] with no gaps
}

// New creates a Store for a variable of the given width, entirely
// undriven.
func New[A comparable](width int) *Store[A] {
	return &Store[A]{
		width:   width,
		entries: []entry[A]{{lsb: 0, msb: width - 1, origin: 0, value: nil}},
	}
}

// Width returns the store's logical width.
func (s *Store[A]) Width() int { return s.width }

// findIndex returns the index of the entry containing bit b.
func (s *Store[A]) findIndex(b int) int {
	return sort.Search(len(s.entries), func(i int) bool { return s.entries[i].msb >= b })
}

// splitAt ensures a range boundary exists exactly at bit b (i.e. no
// entry straddles b-1/b), splitting the entry that currently does if
// 0 < b < width.
func (s *Store[A]) splitAt(b int) {
	if b <= 0 || b >= s.width {
		return
	}
	i := s.findIndex(b)
	e := s.entries[i]
	if e.lsb == b {
		return // already a boundary
	}
	left := entry[A]{lsb: e.lsb, msb: b - 1, origin: e.origin, value: e.value}
	right := entry[A]{lsb: b, msb: e.msb, origin: e.origin, value: e.value}
	s.entries = append(s.entries[:i], append([]entry[A]{left, right}, s.entries[i+1:]...)...)
}

// Update writes value across access, splitting boundaries at access.Lsb
// and access.Msb+1 and collapsing the covered sub-ranges into a single
// entry whose origin is access.Lsb (per spec.md §4.A), so later reads
// slice relative to that origin.
func (s *Store[A]) Update(lsb, msb int, value *Value[A]) {
	s.splitAt(lsb)
	s.splitAt(msb + 1)

	start := s.findIndex(lsb)
	end := s.findIndex(msb)
	merged := entry[A]{lsb: lsb, msb: msb, origin: lsb, value: value}
	s.entries = append(s.entries[:start], append([]entry[A]{merged}, s.entries[end+1:]...)...)
}

// Part is one piece of a Get result: the value covering [Lsb,Msb] (a
// sub-range of the requested access) and the offset into that value's
// own coordinate system (Lsb - origin), for slicing on read.
type Part[A comparable] struct {
	Lsb, Msb      int
	RelLsb, RelMsb int // access relative to the covering entry's origin
	Value         *Value[A]
}

// GetParts returns the ordered sequence of parts covering [lsb, msb].
func (s *Store[A]) GetParts(lsb, msb int) []Part[A] {
	var out []Part[A]
	i := s.findIndex(lsb)
	for i < len(s.entries) && s.entries[i].lsb <= msb {
		e := s.entries[i]
		clampLsb, clampMsb := e.lsb, e.msb
		if clampLsb < lsb {
			clampLsb = lsb
		}
		if clampMsb > msb {
			clampMsb = msb
		}
		out = append(out, Part[A]{
			Lsb: clampLsb, Msb: clampMsb,
			RelLsb: clampLsb - e.origin, RelMsb: clampMsb - e.origin,
			Value: e.value,
		})
		i++
	}
	return out
}

// Clone returns an independent copy sharing Value pointers (values are
// treated as immutable once installed).
func (s *Store[A]) Clone() *Store[A] {
	cp := &Store[A]{width: s.width, entries: make([]entry[A], len(s.entries))}
	copy(cp.entries, s.entries)
	return cp
}

// MuxFunc builds a Mux(cond, then, else) node of the given width in the
// caller's arena, used by Merge to reconcile sub-ranges where the two
// branch stores disagree.
type MuxFunc[A comparable] func(cond graph.NodeId, thenNode graph.NodeId, thenSources map[A]bool, elseNode graph.NodeId, elseSources map[A]bool, width int) (graph.NodeId, map[A]bool)

// Merge reconciles thenStore and elseStore (each a post-branch clone of
// the pre-if store) into a new store for the enclosing scope: ranges
// where both sides drove the same Value are unchanged; ranges where
// they differ are re-driven via a Mux node built by mux.
func Merge[A comparable](cond graph.NodeId, thenStore, elseStore *Store[A], mux MuxFunc[A]) *Store[A] {
	width := thenStore.width
	out := New[A](width)
	lsb := 0
	for lsb < width {
		tParts := thenStore.GetParts(lsb, lsb)
		eParts := elseStore.GetParts(lsb, lsb)
		tp, ep := tParts[0], eParts[0]
		// Walk forward while both sides keep holding the same value
		// identity they held at lsb, so the eventual Mux (or shared
		// pass-through) spans a maximal uniform sub-range.
		end := lsb
		for end+1 < width {
			nt := thenStore.GetParts(end+1, end+1)[0]
			ne := elseStore.GetParts(end+1, end+1)[0]
			if !sameValue(nt.Value, tp.Value) || !sameValue(ne.Value, ep.Value) {
				break
			}
			end++
		}
		msb := end
		switch {
		case sameValue(tp.Value, ep.Value):
			out.Update(lsb, msb, tp.Value)
		default:
			w := msb - lsb + 1
			var tNode, eNode graph.NodeId
			var tSrc, eSrc map[A]bool
			if tp.Value != nil {
				tNode, tSrc = tp.Value.Node, tp.Value.Sources
			} else {
				tNode, tSrc = graph.InvalidNodeId, nil
			}
			if ep.Value != nil {
				eNode, eSrc = ep.Value.Node, ep.Value.Sources
			} else {
				eNode, eSrc = graph.InvalidNodeId, nil
			}
			node, srcs := mux(cond, tNode, tSrc, eNode, eSrc, w)
			out.Update(lsb, msb, &Value[A]{Node: node, Sources: srcs})
		}
		lsb = msb + 1
	}
	return out
}

func sameValue[A comparable](a, b *Value[A]) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Node == b.Node
}
