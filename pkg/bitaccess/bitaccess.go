// Package bitaccess resolves HDL index/select expressions into absolute
// bit ranges and per-dimension strides (spec component C), shared by the
// comb and FF parsers.
package bitaccess

import "github.com/oisee/hdlsim/pkg/hdlir"

// Strides returns, for a variable with array dimensions dims (outermost
// first) and scalar element width elemWidth, the bit stride of each
// dimension: indexing dimension i by k shifts the bit offset by
// Strides(dims,elemWidth)[i] * k.
func Strides(dims []int, elemWidth int) []int {
	n := len(dims)
	strides := make([]int, n)
	stride := elemWidth
	for i := n - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= dims[i]
	}
	return strides
}

// ElementOffset computes the bit offset of the element selected by a
// fully static index tuple (one index per dimension, outermost first).
func ElementOffset(dims []int, elemWidth int, indices []int) int {
	strides := Strides(dims, elemWidth)
	off := 0
	for i, idx := range indices {
		off += idx * strides[i]
	}
	return off
}

// StaticIndices attempts to evaluate every index expression in idxs to a
// constant int via eval; ok is false if any index is not a compile-time
// constant (in which case the caller must fall back to the dynamic
// addressing path of spec.md §4.B/§4.C).
func StaticIndices(idxs []hdlir.Expression, eval func(hdlir.Expression) (int, bool)) ([]int, bool) {
	out := make([]int, len(idxs))
	for i, e := range idxs {
		v, ok := eval(e)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// ResolveAccess combines a variable's own bit access (nil means the whole
// element) with elemOffset, the bit offset of the statically indexed
// element (0 for a scalar), into one absolute BitAccess within
// [0, variable total width).
func ResolveAccess(v *hdlir.Variable, access *hdlir.BitAccess, elemOffset int) hdlir.BitAccess {
	elemWidth := v.Width
	if access == nil {
		return hdlir.BitAccess{Lsb: elemOffset, Msb: elemOffset + elemWidth - 1}
	}
	return hdlir.BitAccess{Lsb: elemOffset + access.Lsb, Msb: elemOffset + access.Msb}
}

// TotalWidth returns a variable's total bit width across every array
// element (ElementCount * Width).
func TotalWidth(v *hdlir.Variable) int {
	return v.ElementCount() * v.Width
}
