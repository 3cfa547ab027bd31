// Package path defines VarAtom and LogicPath, the data-model types
// spec.md §3 describes as the output of symbolic lowering: "at
// simulation time, the bits target are equal to expr, which reads only
// from sources."
package path

import (
	"fmt"

	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlir"
)

// VarAtom is a contiguous, indivisible scheduling unit: one bit range of
// one addressable variable.
type VarAtom[A comparable] struct {
	Addr   A
	Access hdlir.BitAccess
}

func (a VarAtom[A]) String() string {
	return fmt.Sprintf("%v[%d:%d]", a.Addr, a.Access.Msb, a.Access.Lsb)
}

// Overlaps reports whether two atoms of the same variable share any bit.
func (a VarAtom[A]) Overlaps(b VarAtom[A]) bool {
	return a.Addr == b.Addr && a.Access.Lsb <= b.Access.Msb && b.Access.Lsb <= a.Access.Msb
}

// LogicPath states that, at simulation time, the bits of Target equal
// Expr, which reads only from Sources.
type LogicPath[A comparable] struct {
	Target  VarAtom[A]
	Sources map[A]bool
	Expr    graph.NodeId
}

// SourceAtoms is the conservative source-atom approximation used before
// atomization: every addressed variable in Sources is assumed read in
// full (atomization later narrows dependencies to the sliced subtree).
func (p *LogicPath[A]) SourceAtoms() []A {
	out := make([]A, 0, len(p.Sources))
	for a := range p.Sources {
		out = append(out, a)
	}
	return out
}
