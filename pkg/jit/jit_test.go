package jit

import (
	"math/big"
	"testing"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/layout"
	"github.com/oisee/hdlsim/pkg/sir"
)

func regionedStable(v int) addr.RegionedAbsoluteAddr {
	return addr.RegionedAbsoluteAddr{Region: addr.Stable, Addr: addr.AbsoluteAddr{Var: hdlir.VarID(v)}}
}

func TestCompileLoadBinaryStoreRoundTrip(t *testing.T) {
	b := layout.NewBuilder()
	aAddr := regionedStable(0).Addr
	outAddr := regionedStable(1).Addr
	b.AddStable(aAddr, 8, false)
	b.AddStable(outAddr, 8, false)
	lay := b.Build(0)

	u := sir.NewUnit("comb")
	blk := u.Block(u.Entry)
	r0 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	r1 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	r2 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	blk.EmitLoad(r0, regionedStable(0), sir.StaticOffset(0), 8)
	blk.EmitImm(r1, big.NewInt(5), nil)
	blk.EmitBinary(r2, hdlir.OpAdd, r0, r1)
	blk.EmitStore(regionedStable(1), sir.StaticOffset(0), 8, r2, nil)
	blk.SetReturn()

	fn, err := Compile(u, lay, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	mem := make([]byte, lay.TotalSize)
	mem[lay.Slot(aAddr).StableOffset] = 3

	if code := fn(mem); code != 0 {
		t.Fatalf("expected return code 0, got %d", code)
	}
	if got := mem[lay.Slot(outAddr).StableOffset]; got != 8 {
		t.Fatalf("expected out = 3+5 = 8, got %d", got)
	}
}

func TestCompileBitwiseFourStateIdentities(t *testing.T) {
	b := layout.NewBuilder()
	lAddr := regionedStable(0).Addr
	rAddr := regionedStable(1).Addr
	outAddr := regionedStable(2).Addr
	b.AddStable(lAddr, 4, true)
	b.AddStable(rAddr, 4, true)
	b.AddStable(outAddr, 4, true)
	lay := b.Build(0)

	u := sir.NewUnit("comb")
	blk := u.Block(u.Entry)
	r0 := u.NewReg(sir.RegType{Kind: sir.RegLogic, Width: 4})
	r1 := u.NewReg(sir.RegType{Kind: sir.RegLogic, Width: 4})
	r2 := u.NewReg(sir.RegType{Kind: sir.RegLogic, Width: 4})
	blk.EmitLoad(r0, regionedStable(0), sir.StaticOffset(0), 4)
	blk.EmitLoad(r1, regionedStable(1), sir.StaticOffset(0), 4)
	blk.EmitBinary(r2, hdlir.OpAnd, r0, r1)
	blk.EmitStore(regionedStable(2), sir.StaticOffset(0), 4, r2, nil)
	blk.SetReturn()

	fn, err := Compile(u, lay, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	mem := make([]byte, lay.TotalSize)
	// left = 4'b00_1X (bit0 = X, bit1 = 1): value 0b0010, mask 0b0001
	lSlot := lay.Slot(lAddr)
	mem[lSlot.StableOffset] = 0b0010   // value: bit1=1, bit0=0
	mem[lSlot.StableOffset+1] = 0b0001 // mask: bit0 is X
	// right = 4'b0000 (all defined zero)
	rSlot := lay.Slot(rAddr)
	mem[rSlot.StableOffset] = 0b0000
	mem[rSlot.StableOffset+1] = 0b0000

	if code := fn(mem); code != 0 {
		t.Fatalf("expected return code 0, got %d", code)
	}

	outSlot := lay.Slot(outAddr)
	// AND: 0 on the right dominates every bit, including the X one.
	if got := mem[outSlot.StableOffset+1]; got != 0 {
		t.Fatalf("expected AND with all-zero right operand to resolve every bit (no X), got mask %04b", got)
	}
	if got := mem[outSlot.StableOffset]; got != 0 {
		t.Fatalf("expected AND result 0, got %04b", got)
	}
}

func TestCompileStoreDetectsPosedge(t *testing.T) {
	b := layout.NewBuilder()
	clkAddr := regionedStable(0).Addr
	b.AddStable(clkAddr, 1, false)
	lay := b.Build(1)

	u := sir.NewUnit("clockApply")
	blk := u.Block(u.Entry)
	r0 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 1})
	blk.EmitImm(r0, big.NewInt(1), nil)
	blk.EmitStore(regionedStable(0), sir.StaticOffset(0), 1, r0, []sir.TriggerId{0})
	blk.SetReturn()

	triggerKinds := map[sir.TriggerId]TriggerKind{0: TriggerPosedge}
	fn, err := Compile(u, lay, triggerKinds)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	mem := make([]byte, lay.TotalSize)
	mem[lay.Slot(clkAddr).StableOffset] = 0 // old value 0, new value 1: a posedge

	if code := fn(mem); code != 0 {
		t.Fatalf("expected return code 0, got %d", code)
	}
	if mem[lay.TriggerBase]&1 == 0 {
		t.Fatalf("expected trigger 0's bit set after a 0->1 store")
	}
}

func TestCompileCommitAppliesWorkingToStableAndDetectsPosedge(t *testing.T) {
	b := layout.NewBuilder()
	qAddr := regionedStable(0).Addr
	b.AddStable(qAddr, 8, false)
	b.AddWorking(qAddr, 8, false)
	lay := b.Build(1)

	u := sir.NewUnit("ff")
	blk := u.Block(u.Entry)
	r0 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	blk.EmitImm(r0, big.NewInt(0x55), nil)
	blk.EmitStore(addr.RegionedAbsoluteAddr{Region: addr.Working, Addr: qAddr}, sir.StaticOffset(0), 8, r0, nil)
	blk.EmitCommit(
		addr.RegionedAbsoluteAddr{Region: addr.Working, Addr: qAddr},
		addr.RegionedAbsoluteAddr{Region: addr.Stable, Addr: qAddr},
		sir.StaticOffset(0), 8, []sir.TriggerId{0})
	blk.SetReturn()

	triggerKinds := map[sir.TriggerId]TriggerKind{0: TriggerPosedge}
	fn, err := Compile(u, lay, triggerKinds)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	mem := make([]byte, lay.TotalSize)
	slot := lay.Slot(qAddr)
	mem[slot.StableOffset] = 0xAA // old stable value, differs from the staged 0x55

	if code := fn(mem); code != 0 {
		t.Fatalf("expected return code 0, got %d", code)
	}
	if got := mem[slot.StableOffset]; got != 0x55 {
		t.Fatalf("expected STABLE to be updated to the staged WORKING value 0x55, got %#x", got)
	}
	if mem[lay.TriggerBase]&1 == 0 {
		t.Fatalf("expected trigger 0's bit set after a value-changing commit")
	}
}

func TestCompileStoreNoTriggerOnSteadyLevel(t *testing.T) {
	b := layout.NewBuilder()
	clkAddr := regionedStable(0).Addr
	b.AddStable(clkAddr, 1, false)
	lay := b.Build(1)

	u := sir.NewUnit("clockApply")
	blk := u.Block(u.Entry)
	r0 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 1})
	blk.EmitImm(r0, big.NewInt(1), nil)
	blk.EmitStore(regionedStable(0), sir.StaticOffset(0), 1, r0, []sir.TriggerId{0})
	blk.SetReturn()

	triggerKinds := map[sir.TriggerId]TriggerKind{0: TriggerPosedge}
	fn, err := Compile(u, lay, triggerKinds)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	mem := make([]byte, lay.TotalSize)
	mem[lay.Slot(clkAddr).StableOffset] = 1 // already 1: storing 1 again is not a posedge

	if code := fn(mem); code != 0 {
		t.Fatalf("expected return code 0, got %d", code)
	}
	if mem[lay.TriggerBase]&1 != 0 {
		t.Fatalf("expected no trigger bit set when the value does not change")
	}
}
