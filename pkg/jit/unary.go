package jit

import (
	"math/big"

	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/sir"
)

func compileUnary(in sir.Instruction, width, srcWidth int) compiledOp {
	op, dst, src := in.UnaryOp, in.Dst, in.Src1
	switch op {
	case hdlir.OpIdent:
		return func(st *state) {
			v, m := st.regs[src], st.masks[src]
			v, m = normalize(v, m, width)
			st.setReg(dst, v, m)
		}
	case hdlir.OpMinus:
		return func(st *state) {
			v, m := st.regs[src], st.masks[src]
			if anyX(m, srcWidth) {
				st.setReg(dst, new(big.Int), allX(width))
				return
			}
			nv := new(big.Int).Neg(v)
			nv.Add(nv, new(big.Int).Lsh(big.NewInt(1), uint(width)))
			v, m = normalize(nv, nil, width)
			st.setReg(dst, v, m)
		}
	case hdlir.OpBitNot:
		return func(st *state) {
			v, m := st.regs[src], st.masks[src]
			nv := new(big.Int).Xor(v, maskOf(width))
			v, m = normalize(nv, m, width)
			st.setReg(dst, v, m)
		}
	case hdlir.OpLogicNot:
		return func(st *state) {
			v, m := st.regs[src], st.masks[src]
			if anyX(m, srcWidth) {
				st.setReg(dst, new(big.Int), allX(1))
				return
			}
			st.setReg(dst, boolBig(v.Sign() == 0), nil)
		}
	case hdlir.OpReduceAnd, hdlir.OpReduceOr, hdlir.OpReduceXor,
		hdlir.OpReduceNand, hdlir.OpReduceNor, hdlir.OpReduceXnor:
		return compileReduce(op, dst, src, srcWidth)
	case hdlir.OpCast:
		return compileCast(dst, src, width, srcWidth, in.CastSigned)
	}
	return func(st *state) { st.setReg(dst, new(big.Int), nil) }
}

func compileReduce(op hdlir.UnaryOp, dst, src sir.RegisterId, width int) compiledOp {
	return func(st *state) {
		v, m := st.regs[src], st.masks[src]
		if anyX(m, width) {
			st.setReg(dst, new(big.Int), allX(1))
			return
		}
		bits := 0
		for i := 0; i < width; i++ {
			if v.Bit(i) == 1 {
				bits++
			}
		}
		var result bool
		switch op {
		case hdlir.OpReduceAnd:
			result = bits == width
		case hdlir.OpReduceNand:
			result = bits != width
		case hdlir.OpReduceOr:
			result = bits > 0
		case hdlir.OpReduceNor:
			result = bits == 0
		case hdlir.OpReduceXor:
			result = bits%2 == 1
		case hdlir.OpReduceXnor:
			result = bits%2 == 0
		}
		st.setReg(dst, boolBig(result), nil)
	}
}

// compileCast implements `a as T`: zero/sign extend or truncate to
// width. A sign-extended value that was undefined at its source sign
// bit carries that X into every newly introduced high bit.
func compileCast(dst, src sir.RegisterId, width, srcWidth int, signed bool) compiledOp {
	return func(st *state) {
		v, m := st.regs[src], st.masks[src]
		if width <= srcWidth {
			nv, nm := normalize(v, m, width)
			st.setReg(dst, nv, nm)
			return
		}
		nv := new(big.Int).Set(v)
		var nm *big.Int
		if m != nil {
			nm = new(big.Int).Set(m)
		}
		if signed && srcWidth > 0 {
			signSet := v.Bit(srcWidth-1) == 1
			signX := m != nil && m.Bit(srcWidth-1) == 1
			if signX {
				for b := srcWidth; b < width; b++ {
					nm = setBit(nm, b)
				}
			} else if signSet {
				for b := srcWidth; b < width; b++ {
					nv.SetBit(nv, b, 1)
				}
			}
		}
		nv, nm = normalize(nv, nm, width)
		st.setReg(dst, nv, nm)
	}
}

func setBit(m *big.Int, b int) *big.Int {
	if m == nil {
		m = new(big.Int)
	}
	m.SetBit(m, b, 1)
	return m
}
