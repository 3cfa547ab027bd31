package jit

import (
	"math/big"

	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/sir"
)

func compileBinary(u *sir.Unit, in sir.Instruction) compiledOp {
	dst, lhs, rhs := in.Dst, in.Src1, in.Src2
	width := u.RegType(dst).Width
	lw, rw := u.RegType(lhs).Width, u.RegType(rhs).Width

	switch in.BinaryOp {
	case hdlir.OpAdd, hdlir.OpSub, hdlir.OpMul, hdlir.OpDiv, hdlir.OpRem:
		lSigned, rSigned := u.RegType(lhs).Signed, u.RegType(rhs).Signed
		return compileArith(in.BinaryOp, dst, lhs, rhs, width, lw, rw, lSigned, rSigned)
	case hdlir.OpAnd, hdlir.OpOr, hdlir.OpXor:
		return compileBitwise(in.BinaryOp, dst, lhs, rhs, width)
	case hdlir.OpShl, hdlir.OpShr, hdlir.OpSar:
		return compileShift(in.BinaryOp, dst, lhs, rhs, width, lw, rw)
	case hdlir.OpEq, hdlir.OpNe,
		hdlir.OpLtU, hdlir.OpLtS, hdlir.OpLeU, hdlir.OpLeS,
		hdlir.OpGtU, hdlir.OpGtS, hdlir.OpGeU, hdlir.OpGeS:
		return compileCompare(in.BinaryOp, dst, lhs, rhs, lw, rw)
	case hdlir.OpLogicAnd, hdlir.OpLogicOr:
		return compileLogic(in.BinaryOp, dst, lhs, rhs, lw, rw)
	case hdlir.OpEqWildcard, hdlir.OpNeWildcard:
		return compileWildcard(in.BinaryOp, dst, lhs, rhs, rw)
	}
	return func(st *state) { st.setReg(dst, new(big.Int), nil) }
}

// compileArith lowers the arithmetic ops. Any X in either operand makes
// the whole result X: a simplification of full per-bit arithmetic X
// propagation, matching compileUnary's OpMinus. Division/remainder by an
// operand that evaluates to zero is likewise X rather than a runtime
// panic.
func compileArith(op hdlir.BinaryOp, dst, lhs, rhs sir.RegisterId, width, lw, rw int, lSigned, rSigned bool) compiledOp {
	return func(st *state) {
		lv, lm := st.regs[lhs], st.masks[lhs]
		rv, rm := st.regs[rhs], st.masks[rhs]
		if anyX(lm, lw) || anyX(rm, rw) {
			st.setReg(dst, new(big.Int), allX(width))
			return
		}

		var res *big.Int
		switch op {
		case hdlir.OpAdd:
			res = new(big.Int).Add(lv, rv)
		case hdlir.OpSub:
			res = new(big.Int).Sub(lv, rv)
		case hdlir.OpMul:
			res = new(big.Int).Mul(lv, rv)
		case hdlir.OpDiv, hdlir.OpRem:
			a, b := lv, rv
			if lSigned || rSigned {
				a, b = signExtend(lv, lw), signExtend(rv, rw)
			}
			if b.Sign() == 0 {
				st.setReg(dst, new(big.Int), allX(width))
				return
			}
			if op == hdlir.OpDiv {
				res = new(big.Int).Quo(a, b)
			} else {
				res = new(big.Int).Rem(a, b)
			}
		}
		v, m := normalize(res, nil, width)
		st.setReg(dst, v, m)
	}
}

// compileBitwise implements the exact 4-state bitwise identities: AND
// and OR have a dominant value (0 and 1 respectively) that overrides an
// X on the other operand; XOR has none, so any X input makes that bit
// X. lv/rv are assumed already normalized (0 at their own X positions).
func compileBitwise(op hdlir.BinaryOp, dst, lhs, rhs sir.RegisterId, width int) compiledOp {
	w := maskOf(width)
	return func(st *state) {
		lv, lm := st.regs[lhs], st.masks[lhs]
		rv, rm := st.regs[rhs], st.masks[rhs]
		if lm == nil {
			lm = new(big.Int)
		}
		if rm == nil {
			rm = new(big.Int)
		}

		var val, mask *big.Int
		switch op {
		case hdlir.OpAnd:
			val = new(big.Int).And(lv, rv)
			mask = new(big.Int).Or(
				new(big.Int).And(lm, rm),
				new(big.Int).Or(new(big.Int).And(lm, rv), new(big.Int).And(rm, lv)))
		case hdlir.OpOr:
			val = new(big.Int).Or(lv, rv)
			notR := new(big.Int).AndNot(w, rv)
			notL := new(big.Int).AndNot(w, lv)
			mask = new(big.Int).Or(
				new(big.Int).And(lm, rm),
				new(big.Int).Or(new(big.Int).And(lm, notR), new(big.Int).And(rm, notL)))
		case hdlir.OpXor:
			val = new(big.Int).Xor(lv, rv)
			mask = new(big.Int).Or(lm, rm)
		}
		val, mask = normalize(val, mask, width)
		st.setReg(dst, val, mask)
	}
}

// compileShift gates X-ness of the result only on the shift amount:
// an undefined shift amount poisons the whole result, but an undefined
// operand just carries its X bits through the shift. OpSar sign-extends
// from the operand's own logical width before shifting, then
// renormalizes to the (separately sized) result width.
func compileShift(op hdlir.BinaryOp, dst, lhs, rhs sir.RegisterId, width, lw, rw int) compiledOp {
	return func(st *state) {
		rv, rm := st.regs[rhs], st.masks[rhs]
		if anyX(rm, rw) {
			st.setReg(dst, new(big.Int), allX(width))
			return
		}
		amt := uint(rv.Uint64())

		lv, lm := st.regs[lhs], st.masks[lhs]
		if lm == nil {
			lm = new(big.Int)
		}

		var val, mask *big.Int
		switch op {
		case hdlir.OpShl:
			val = new(big.Int).Lsh(lv, amt)
			mask = new(big.Int).Lsh(lm, amt)
		case hdlir.OpShr:
			val = new(big.Int).Rsh(lv, amt)
			mask = new(big.Int).Rsh(lm, amt)
		case hdlir.OpSar:
			val = new(big.Int).Rsh(signExtend(lv, lw), amt)
			mask = new(big.Int).Rsh(signExtend(lm, lw), amt)
		}
		val, mask = normalize(val, mask, width)
		st.setReg(dst, val, mask)
	}
}

func compileCompare(op hdlir.BinaryOp, dst, lhs, rhs sir.RegisterId, lw, rw int) compiledOp {
	return func(st *state) {
		lv, lm := st.regs[lhs], st.masks[lhs]
		rv, rm := st.regs[rhs], st.masks[rhs]
		if anyX(lm, lw) || anyX(rm, rw) {
			st.setReg(dst, new(big.Int), allX(1))
			return
		}

		var result bool
		switch op {
		case hdlir.OpEq:
			result = lv.Cmp(rv) == 0
		case hdlir.OpNe:
			result = lv.Cmp(rv) != 0
		case hdlir.OpLtU:
			result = lv.Cmp(rv) < 0
		case hdlir.OpLeU:
			result = lv.Cmp(rv) <= 0
		case hdlir.OpGtU:
			result = lv.Cmp(rv) > 0
		case hdlir.OpGeU:
			result = lv.Cmp(rv) >= 0
		case hdlir.OpLtS:
			result = signExtend(lv, lw).Cmp(signExtend(rv, rw)) < 0
		case hdlir.OpLeS:
			result = signExtend(lv, lw).Cmp(signExtend(rv, rw)) <= 0
		case hdlir.OpGtS:
			result = signExtend(lv, lw).Cmp(signExtend(rv, rw)) > 0
		case hdlir.OpGeS:
			result = signExtend(lv, lw).Cmp(signExtend(rv, rw)) >= 0
		}
		st.setReg(dst, boolBig(result), nil)
	}
}

// boolState reduces a possibly-X value to SystemVerilog's tri-state
// truth value: 1 if any defined bit is set (an unknown elsewhere can't
// change that), 0 if every bit is defined and zero, X otherwise.
func boolState(v, m *big.Int, w int) int8 {
	if v.Sign() != 0 {
		return 1
	}
	if anyX(m, w) {
		return 2
	}
	return 0
}

// compileLogic implements the IEEE-1800 dominance table for && and ||:
// 0 dominates &&, 1 dominates ||, otherwise any X operand makes the
// result X.
func compileLogic(op hdlir.BinaryOp, dst, lhs, rhs sir.RegisterId, lw, rw int) compiledOp {
	return func(st *state) {
		l := boolState(st.regs[lhs], st.masks[lhs], lw)
		r := boolState(st.regs[rhs], st.masks[rhs], rw)

		var res int8
		if op == hdlir.OpLogicAnd {
			switch {
			case l == 0 || r == 0:
				res = 0
			case l == 1 && r == 1:
				res = 1
			default:
				res = 2
			}
		} else {
			switch {
			case l == 1 || r == 1:
				res = 1
			case l == 0 && r == 0:
				res = 0
			default:
				res = 2
			}
		}

		if res == 2 {
			st.setReg(dst, new(big.Int), allX(1))
			return
		}
		st.setReg(dst, boolBig(res == 1), nil)
	}
}

// compileWildcard implements ==?/!=?: comparison only happens at bit
// positions where the right-hand side is definite ("care" bits); the
// left side may carry X anywhere else without affecting the result. A
// left-side X at a care position makes the result itself X.
func compileWildcard(op hdlir.BinaryOp, dst, lhs, rhs sir.RegisterId, rw int) compiledOp {
	w := maskOf(rw)
	return func(st *state) {
		lv, lm := st.regs[lhs], st.masks[lhs]
		rv, rm := st.regs[rhs], st.masks[rhs]

		care := w
		if rm != nil {
			care = new(big.Int).AndNot(w, rm)
		}

		if lm != nil {
			if new(big.Int).And(lm, care).Sign() != 0 {
				st.setReg(dst, new(big.Int), allX(1))
				return
			}
		}

		diff := new(big.Int).Xor(lv, rv)
		diff.And(diff, care)
		eq := diff.Sign() == 0
		if op == hdlir.OpNeWildcard {
			eq = !eq
		}
		st.setReg(dst, boolBig(eq), nil)
	}
}
