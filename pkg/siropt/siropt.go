// Package siropt implements spec component J: a fixpoint-driven set of
// per-block SIR optimization passes — redundant load elimination, store/
// load coalescing, and a bounded-lookahead instruction scheduler — each
// respecting sir.Instruction.IsBarrier() as a window boundary so memory
// ordering around a Commit is never disturbed.
package siropt

import (
	"os"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/sir"
)

var debugEnabled = os.Getenv("HDLSIM_DEBUG") != ""

// Level selects which passes an Optimizer runs.
type Level int

const (
	LevelNone Level = iota
	LevelBasic
	LevelFull
)

// Pass is one optimization pass over a single basic block.
type Pass interface {
	Name() string
	Run(b *sir.BasicBlock) (bool, error)
}

// Optimizer runs a configured set of passes to a fixpoint, mirroring the
// corpus's Pass/Optimizer shape (pkg/optimizer/optimizer.go): a flat pass
// list re-run until a full sweep makes no further change, capped by
// maxIterations to guarantee termination on a pass pair that could
// otherwise oscillate.
type Optimizer struct {
	passes []Pass
}

// NewOptimizer builds an Optimizer for the given level.
func NewOptimizer(level Level) *Optimizer {
	o := &Optimizer{}
	if level >= LevelBasic {
		o.passes = append(o.passes, &RedundantLoadEliminationPass{}, &StoreLoadCoalescingPass{})
	}
	if level >= LevelFull {
		o.passes = append(o.passes, &InstructionSchedulingPass{})
	}
	return o
}

const maxIterations = 10

// Optimize runs every configured pass over every block of u until a full
// sweep leaves all blocks unchanged.
func (o *Optimizer) Optimize(u *sir.Unit) error {
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for _, b := range u.Blocks {
			for _, p := range o.passes {
				c, err := p.Run(b)
				if err != nil {
					return err
				}
				if c {
					changed = true
				}
			}
		}
		if debugEnabled {
			os.Stderr.WriteString("siropt: iteration done\n")
		}
		if !changed {
			break
		}
	}
	return nil
}

// barrierWindows splits instrs into the index ranges [lo,hi) separated by
// Commit barriers; a pass must never reorder or forward values across a
// window boundary.
func barrierWindows(instrs []sir.Instruction) [][2]int {
	var windows [][2]int
	lo := 0
	for i, in := range instrs {
		if in.IsBarrier() {
			windows = append(windows, [2]int{lo, i})
			lo = i + 1
		}
	}
	windows = append(windows, [2]int{lo, len(instrs)})
	return windows
}

// defReg reports the register an instruction defines, if any (every
// value-producing op defines Dst; OpStore and OpCommit define nothing).
func defReg(in sir.Instruction) (sir.RegisterId, bool) {
	switch in.Op {
	case sir.OpImm, sir.OpUnary, sir.OpBinary, sir.OpConcat, sir.OpSlice, sir.OpSelect, sir.OpLoad:
		return in.Dst, true
	}
	return 0, false
}

// readRegs lists every register an instruction reads.
func readRegs(in sir.Instruction) []sir.RegisterId {
	var r []sir.RegisterId
	switch in.Op {
	case sir.OpUnary, sir.OpSlice:
		r = append(r, in.Src1)
	case sir.OpBinary:
		r = append(r, in.Src1, in.Src2)
	case sir.OpSelect:
		r = append(r, in.Src1, in.Src2, in.Src3)
	case sir.OpConcat:
		for _, e := range in.Elems {
			r = append(r, e.Reg)
		}
	case sir.OpStore:
		r = append(r, in.Src)
	}
	if in.Offset.Dynamic {
		r = append(r, in.Offset.Reg)
	}
	return r
}

// memKey identifies the address a Load or Store touches, used to
// conservatively order memory operations that might alias. Two ops on
// different addresses are assumed non-aliasing; a dynamic offset is
// treated as aliasing every static offset of the same address, since the
// index value isn't known until runtime.
type memKey struct {
	addr addr.RegionedAbsoluteAddr
}

func memOf(in sir.Instruction) (memKey, bool) {
	switch in.Op {
	case sir.OpLoad, sir.OpStore:
		return memKey{addr: in.Addr}, true
	}
	return memKey{}, false
}

// identityOf rewrites in into a pure register copy of src, preserving
// Dst and width-carrying fields (CastWidth) are irrelevant for OpIdent:
// the copy is exact-width.
func identityOf(dst sir.RegisterId, src sir.RegisterId) sir.Instruction {
	return sir.Instruction{Op: sir.OpUnary, Dst: dst, UnaryOp: hdlir.OpIdent, Src1: src}
}
