package jit

import (
	"math/big"
	"strconv"

	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/layout"
	"github.com/oisee/hdlsim/pkg/sir"
)

// compileInstr lowers one SIR instruction into a closure. u supplies the
// static register widths that compileUnary/compileBinary need but the
// runtime state (values only) does not carry.
func compileInstr(u *sir.Unit, in sir.Instruction, lay *layout.Layout, triggerKinds map[sir.TriggerId]TriggerKind) (compiledOp, error) {
	switch in.Op {
	case sir.OpImm:
		return compileImm(in), nil
	case sir.OpUnary:
		width := u.RegType(in.Dst).Width
		srcWidth := u.RegType(in.Src1).Width
		return compileUnary(in, width, srcWidth), nil
	case sir.OpBinary:
		return compileBinary(u, in), nil
	case sir.OpConcat:
		return compileConcat(in), nil
	case sir.OpSlice:
		return compileSlice(in), nil
	case sir.OpSelect:
		return compileSelect(u, in), nil
	case sir.OpLoad:
		if lay.Slot(in.Addr.Addr) == nil {
			return nil, &hdlerr.CodegenError{Op: "Load", Detail: "no layout slot for address " + in.Addr.Addr.String()}
		}
		return compileLoad(in, lay), nil
	case sir.OpStore:
		if lay.Slot(in.Addr.Addr) == nil {
			return nil, &hdlerr.CodegenError{Op: "Store", Detail: "no layout slot for address " + in.Addr.Addr.String()}
		}
		return compileStore(in, lay, triggerKinds), nil
	case sir.OpCommit:
		if lay.Slot(in.SrcAddr.Addr) == nil || lay.Slot(in.DstAddr.Addr) == nil {
			return nil, &hdlerr.CodegenError{Op: "Commit", Detail: "no layout slot for commit address"}
		}
		return compileCommit(in, lay, triggerKinds), nil
	}
	return nil, &hdlerr.CodegenError{Op: "unknown", Detail: "instruction op " + strconv.Itoa(int(in.Op))}
}

func compileImm(in sir.Instruction) compiledOp {
	dst, val, mask := in.Dst, in.ImmVal, in.ImmMask
	return func(st *state) {
		v := new(big.Int).Set(val)
		var m *big.Int
		if mask != nil {
			m = new(big.Int).Set(mask)
		}
		st.setReg(dst, v, m)
	}
}
