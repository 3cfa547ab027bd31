// Package ffparser implements the sequential (`always_ff`) symbolic
// interpreter (spec component E). It reuses the comb parser's
// statement-fold engine for computing next-state expressions, through
// combparser.Folder.FoldNonblocking rather than Fold: nonblocking
// register semantics change both WHERE a driven value lands (the working
// region, committed on the next clock edge) AND HOW a read resolves — a
// read inside an always_ff body must return the pre-edge stable value of
// the register regardless of what an earlier statement in the same body
// already wrote (spec.md §3/§4.C, §8 "FF nonblocking semantics"; e.g. the
// swap `r1 = r2; r2 = r1` must produce r1_next = stable(r2) and
// r2_next = stable(r1), not r2_next = stable(r2)). ffparser itself adds
// reset-branch lowering for `if_reset`.
package ffparser

import (
	"github.com/oisee/hdlsim/pkg/combparser"
	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/path"
	"github.com/oisee/hdlsim/pkg/ranges"
)

// Result is one always_ff block's next-state description: the clock and
// reset it is sensitive to, and the next-state LogicPath for every
// register bit range the body drives.
type Result struct {
	Clock     hdlir.VarID
	PosEdge   bool
	HasReset  bool
	Reset     hdlir.VarID
	ResetKind hdlir.ResetKind
	Paths     []path.LogicPath[hdlir.VarID]
}

// resetIsAsync reports whether a ResetKind fires independently of the
// clock edge (spec.md §4.C: async resets get their own trigger).
func resetIsAsync(k hdlir.ResetKind) bool {
	return k == hdlir.ResetAsyncHigh || k == hdlir.ResetAsyncLow
}

func resetActiveHigh(k hdlir.ResetKind) bool {
	return k == hdlir.ResetAsyncHigh || k == hdlir.ResetSyncHigh
}

// Fold interprets an `always_ff` body against an initial store (the same
// ranges.Store shape combparser uses — undriven bits fall back to a
// fresh Input node, which downstream SIR emission resolves as a read of
// the register's stable, pre-edge value) and returns the resulting
// next-state LogicPaths. Reads resolve nonblocking, against the store's
// state at entry, via combparser.Folder.FoldNonblocking.
func Fold(ff *hdlir.Ff, arena *graph.Arena[hdlir.VarID], mod *hdlir.Module, store map[hdlir.VarID]*ranges.Store[hdlir.VarID]) (*Result, error) {
	f := combparser.NewFolder(arena, mod)

	body := ff.Body
	if ff.ResetKind != hdlir.ResetNone {
		body = rewriteIfReset(ff, body)
	}

	out, err := f.FoldNonblocking(body, store)
	if err != nil {
		return nil, err
	}

	return &Result{
		Clock:     ff.Clock,
		PosEdge:   ff.PosEdge,
		HasReset:  ff.ResetKind != hdlir.ResetNone,
		Reset:     ff.Reset,
		ResetKind: ff.ResetKind,
		Paths:     combparser.Paths(out),
	}, nil
}

// rewriteIfReset desugars every top-level `if_reset { T } else { F }`
// inside body into an ordinary If on the reset signal, with polarity
// inverted for active-low resets (spec.md §4.C: "reset lowering with
// polarity inversion for low-active resets"). Nested statement lists are
// walked recursively so if_reset may appear inside an ordinary if.
func rewriteIfReset(ff *hdlir.Ff, body []hdlir.Statement) []hdlir.Statement {
	out := make([]hdlir.Statement, len(body))
	for i, stmt := range body {
		out[i] = rewriteStmt(ff, stmt)
	}
	return out
}

func rewriteStmt(ff *hdlir.Ff, stmt hdlir.Statement) hdlir.Statement {
	switch s := stmt.(type) {
	case *hdlir.IfReset:
		cond := resetCond(ff)
		return &hdlir.If{
			Cond: cond,
			Then: rewriteIfReset(ff, s.Then),
			Else: rewriteIfReset(ff, s.Else),
		}
	case *hdlir.If:
		return &hdlir.If{
			Cond: s.Cond,
			Then: rewriteIfReset(ff, s.Then),
			Else: rewriteIfReset(ff, s.Else),
		}
	default:
		return stmt
	}
}

// resetCond builds the hdlir expression testing whether this Ff's reset
// is active, given its polarity.
func resetCond(ff *hdlir.Ff) hdlir.Expression {
	sig := &hdlir.Term{Var: ff.Reset}
	if resetActiveHigh(ff.ResetKind) {
		return sig
	}
	return &hdlir.Unary{Op: hdlir.OpLogicNot, Operand: sig}
}

// Unsupported wraps a feature ffparser cannot lower as the FF-specific
// error type so callers don't need to special-case combparser's comb
// error against an ff context.
func Unsupported(feature, detail string) error {
	return &hdlerr.UnsupportedFFLoweringError{Feature: feature, Detail: detail}
}
