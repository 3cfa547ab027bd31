package jit

import "math/big"

// maskOf returns (1<<width)-1, the set of bits a value or X-mask of the
// given width may legally occupy.
func maskOf(width int) *big.Int {
	m := big.NewInt(1)
	m.Lsh(m, uint(width))
	m.Sub(m, big.NewInt(1))
	return m
}

// normalize applies IEEE-1800 normalization: value bits at X positions
// are forced to zero (v := v AND NOT m), then both are truncated to
// width. A nil mask means "no X bits"; normalize returns nil for it
// unchanged so two-state registers never pay the mask-allocation cost.
func normalize(v, mask *big.Int, width int) (*big.Int, *big.Int) {
	w := maskOf(width)
	v = new(big.Int).And(v, w)
	if mask == nil || mask.Sign() == 0 {
		return v, nil
	}
	mask = new(big.Int).And(mask, w)
	notMask := new(big.Int).AndNot(w, mask)
	v.And(v, notMask)
	return v, mask
}

// anyX reports whether mask has any bit set within width.
func anyX(mask *big.Int, width int) bool {
	if mask == nil {
		return false
	}
	return new(big.Int).And(mask, maskOf(width)).Sign() != 0
}

// allX returns an all-ones mask of width, used whenever an operation's
// 4-state rule says "any X input forces the whole result to X".
func allX(width int) *big.Int { return maskOf(width) }

// signExtend reinterprets v (width bits, two's complement) as a signed
// big.Int.
func signExtend(v *big.Int, width int) *big.Int {
	if width == 0 {
		return new(big.Int)
	}
	signBit := new(big.Int).Lsh(big.NewInt(1), uint(width-1))
	if new(big.Int).And(v, signBit).Sign() == 0 {
		return new(big.Int).Set(v)
	}
	return new(big.Int).Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(width)))
}

func boolBig(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return new(big.Int)
}
