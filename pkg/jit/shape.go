package jit

import (
	"math/big"

	"github.com/oisee/hdlsim/pkg/sir"
)

// compileConcat packs its MSB-first elements into one register, most
// significant element at the highest bit position.
func compileConcat(in sir.Instruction) compiledOp {
	dst := in.Dst
	elems := in.Elems
	total := 0
	for _, e := range elems {
		total += e.Width
	}

	return func(st *state) {
		val := new(big.Int)
		mask := new(big.Int)
		anyMask := false
		pos := total
		for _, e := range elems {
			pos -= e.Width
			ew := maskOf(e.Width)
			v := new(big.Int).And(st.regs[e.Reg], ew)
			val.Or(val, new(big.Int).Lsh(v, uint(pos)))
			if m := st.masks[e.Reg]; m != nil {
				em := new(big.Int).And(m, ew)
				if em.Sign() != 0 {
					anyMask = true
					mask.Or(mask, new(big.Int).Lsh(em, uint(pos)))
				}
			}
		}
		if !anyMask {
			mask = nil
		}
		val, mask = normalize(val, mask, total)
		st.setReg(dst, val, mask)
	}
}

func compileSlice(in sir.Instruction) compiledOp {
	dst, src := in.Dst, in.Src1
	lsb, width := in.Offset.Static, in.Width
	return func(st *state) {
		v := new(big.Int).Rsh(st.regs[src], uint(lsb))
		var m *big.Int
		if st.masks[src] != nil {
			m = new(big.Int).Rsh(st.masks[src], uint(lsb))
		}
		v, m = normalize(v, m, width)
		st.setReg(dst, v, m)
	}
}

func bigEqual(a, b *big.Int) bool {
	az := a == nil || a.Sign() == 0
	bz := b == nil || b.Sign() == 0
	if az != bz {
		return false
	}
	if az {
		return true
	}
	return a.Cmp(b) == 0
}

// compileSelect implements Select's 4-state rule: an X condition only
// collapses to X if the two arms actually disagree; when then and else
// carry the identical value and mask, the result is that value
// regardless of which arm an unknown condition would have taken.
func compileSelect(u *sir.Unit, in sir.Instruction) compiledOp {
	dst, cond, then, els := in.Dst, in.Src1, in.Src2, in.Src3
	width := u.RegType(dst).Width

	return func(st *state) {
		condV, condM := st.regs[cond], st.masks[cond]
		if anyX(condM, 1) {
			tv, tm := st.regs[then], st.masks[then]
			ev, em := st.regs[els], st.masks[els]
			if tv.Cmp(ev) == 0 && bigEqual(tm, em) {
				v, m := normalize(new(big.Int).Set(tv), tm, width)
				st.setReg(dst, v, m)
				return
			}
			st.setReg(dst, new(big.Int), allX(width))
			return
		}
		srcV, srcM := st.regs[then], st.masks[then]
		if condV.Sign() == 0 {
			srcV, srcM = st.regs[els], st.masks[els]
		}
		v, m := normalize(new(big.Int).Set(srcV), srcM, width)
		st.setReg(dst, v, m)
	}
}
