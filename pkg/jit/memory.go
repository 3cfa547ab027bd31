package jit

import (
	"math/big"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/layout"
	"github.com/oisee/hdlsim/pkg/sir"
)

// regionBase returns a VarSlot's byte offset within the backing buffer
// for the given region; Layout.Build already folds the working region's
// base into WorkingOffset, so both are absolute.
func regionBase(slot *layout.VarSlot, region addr.Region) int {
	if region == addr.Stable {
		return slot.StableOffset
	}
	return slot.WorkingOffset
}

func valueBytes(slot *layout.VarSlot) int { return (slot.Width + 7) / 8 }

// readBitsAt and writeBitsAt give every OpLoad/OpStore/OpCommit one
// bit-accurate path regardless of alignment, collapsing spec.md §4.G's
// aligned-fast-path/general-RMW-path split: a closures backend has no
// native word to align to, so the distinction buys nothing here.
func readBitsAt(mem []byte, baseByte, bitOffset, width int) *big.Int {
	result := new(big.Int)
	for i := 0; i < width; i++ {
		g := bitOffset + i
		byteIdx := baseByte + g/8
		if byteIdx < 0 || byteIdx >= len(mem) {
			continue
		}
		if mem[byteIdx]&(1<<uint(g%8)) != 0 {
			result.SetBit(result, i, 1)
		}
	}
	return result
}

func writeBitsAt(mem []byte, baseByte, bitOffset, width int, v *big.Int) {
	for i := 0; i < width; i++ {
		g := bitOffset + i
		byteIdx := baseByte + g/8
		if byteIdx < 0 || byteIdx >= len(mem) {
			continue
		}
		bit := uint(g % 8)
		if v.Bit(i) == 1 {
			mem[byteIdx] |= 1 << bit
		} else {
			mem[byteIdx] &^= 1 << bit
		}
	}
}

func setTriggerBit(mem []byte, triggerBase int, id int) {
	mem[triggerBase+id/8] |= 1 << uint(id%8)
}

func bitOffsetOf(st *state, off sir.Offset) int {
	if off.Dynamic {
		return int(st.regs[off.Reg].Int64())
	}
	return off.Static
}

func compileLoad(in sir.Instruction, lay *layout.Layout) compiledOp {
	slot := lay.Slot(in.Addr.Addr)
	base := regionBase(slot, in.Addr.Region)
	width := in.Width
	dst := in.Dst
	off := in.Offset
	fourState := slot.FourState
	vbytes := valueBytes(slot)

	return func(st *state) {
		bitOff := bitOffsetOf(st, off)
		v := readBitsAt(st.mem, base, bitOff, width)
		var m *big.Int
		if fourState {
			m = readBitsAt(st.mem, base+vbytes, bitOff, width)
		}
		v, m = normalize(v, m, width)
		st.setReg(dst, v, m)
	}
}

func compileStore(in sir.Instruction, lay *layout.Layout, triggerKinds map[sir.TriggerId]TriggerKind) compiledOp {
	slot := lay.Slot(in.Addr.Addr)
	base := regionBase(slot, in.Addr.Region)
	width := in.Width
	src := in.Src
	off := in.Offset
	triggers := in.Triggers
	trigBase := lay.TriggerBase
	fourState := slot.FourState
	vbytes := valueBytes(slot)

	return func(st *state) {
		bitOff := bitOffsetOf(st, off)

		var oldV *big.Int
		if len(triggers) > 0 {
			oldV = readBitsAt(st.mem, base, bitOff, width)
		}

		v, m := st.regs[src], st.masks[src]
		v, m = normalize(v, m, width)
		writeBitsAt(st.mem, base, bitOff, width, v)
		if fourState {
			if m == nil {
				writeBitsAt(st.mem, base+vbytes, bitOff, width, new(big.Int))
			} else {
				writeBitsAt(st.mem, base+vbytes, bitOff, width, m)
			}
		}

		for _, tid := range triggers {
			kind, ok := triggerKinds[tid]
			if !ok {
				kind = TriggerOther
			}
			if triggerHit(kind, oldV, v) {
				setTriggerBit(st.mem, trigBase, int(tid))
			}
		}
	}
}

func compileCommit(in sir.Instruction, lay *layout.Layout, triggerKinds map[sir.TriggerId]TriggerKind) compiledOp {
	srcSlot := lay.Slot(in.SrcAddr.Addr)
	dstSlot := lay.Slot(in.DstAddr.Addr)
	srcBase := regionBase(srcSlot, in.SrcAddr.Region)
	dstBase := regionBase(dstSlot, in.DstAddr.Region)
	width := in.Width
	off := in.Offset
	triggers := in.Triggers
	trigBase := lay.TriggerBase
	fourState := dstSlot.FourState
	srcVBytes := valueBytes(srcSlot)
	dstVBytes := valueBytes(dstSlot)

	return func(st *state) {
		bitOff := bitOffsetOf(st, off)

		var oldV *big.Int
		if len(triggers) > 0 {
			oldV = readBitsAt(st.mem, dstBase, bitOff, width)
		}

		v := readBitsAt(st.mem, srcBase, bitOff, width)
		writeBitsAt(st.mem, dstBase, bitOff, width, v)
		if fourState {
			m := readBitsAt(st.mem, srcBase+srcVBytes, bitOff, width)
			writeBitsAt(st.mem, dstBase+dstVBytes, bitOff, width, m)
		}

		for _, tid := range triggers {
			kind, ok := triggerKinds[tid]
			if !ok {
				kind = TriggerOther
			}
			if triggerHit(kind, oldV, v) {
				setTriggerBit(st.mem, trigBase, int(tid))
			}
		}
	}
}
