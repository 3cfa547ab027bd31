package siropt

import (
	"math/big"
	"testing"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/sir"
)

func testAddr(v int) addr.RegionedAbsoluteAddr {
	return addr.RegionedAbsoluteAddr{Region: addr.Stable, Addr: addr.AbsoluteAddr{Var: hdlir.VarID(v)}}
}

func TestRedundantLoadEliminationCollapsesSecondLoad(t *testing.T) {
	u := sir.NewUnit("u")
	b := u.Block(u.Entry)
	r0 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	r1 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	b.EmitLoad(r0, testAddr(0), sir.StaticOffset(0), 8)
	b.EmitLoad(r1, testAddr(0), sir.StaticOffset(0), 8)
	b.SetReturn()

	pass := &RedundantLoadEliminationPass{}
	changed, err := pass.Run(b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !changed {
		t.Fatalf("expected a change")
	}
	if b.Instrs[1].Op != sir.OpUnary || b.Instrs[1].UnaryOp != hdlir.OpIdent || b.Instrs[1].Src1 != r0 {
		t.Fatalf("expected second load rewritten to an identity copy of r0, got %+v", b.Instrs[1])
	}
}

func TestRedundantLoadEliminationInvalidatedByIntermediateStore(t *testing.T) {
	u := sir.NewUnit("u")
	b := u.Block(u.Entry)
	r0 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	r1 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	r2 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	b.EmitLoad(r0, testAddr(0), sir.StaticOffset(0), 8)
	b.EmitStore(testAddr(0), sir.StaticOffset(0), 8, r1, nil)
	b.EmitLoad(r2, testAddr(0), sir.StaticOffset(0), 8)
	b.SetReturn()

	pass := &RedundantLoadEliminationPass{}
	changed, err := pass.Run(b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if changed {
		t.Fatalf("expected no change: intermediate store invalidates the cached load")
	}
}

func TestStoreLoadCoalescingForwardsStoredValue(t *testing.T) {
	u := sir.NewUnit("u")
	b := u.Block(u.Entry)
	r0 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	r1 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	b.EmitStore(testAddr(0), sir.StaticOffset(0), 8, r0, nil)
	b.EmitLoad(r1, testAddr(0), sir.StaticOffset(0), 8)
	b.SetReturn()

	pass := &StoreLoadCoalescingPass{}
	changed, err := pass.Run(b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !changed {
		t.Fatalf("expected a change")
	}
	if b.Instrs[1].Op != sir.OpUnary || b.Instrs[1].Src1 != r0 {
		t.Fatalf("expected load rewritten to an identity copy of r0, got %+v", b.Instrs[1])
	}
	if b.Instrs[0].Op != sir.OpStore {
		t.Fatalf("expected the store to survive")
	}
}

func TestInstructionSchedulingPreservesSameAddressMemoryOrder(t *testing.T) {
	u := sir.NewUnit("u")
	b := u.Block(u.Entry)
	r0 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	r1 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	r2 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	b.EmitImm(r0, big.NewInt(1), nil)
	b.EmitStore(testAddr(0), sir.StaticOffset(0), 8, r0, nil)
	b.EmitLoad(r1, testAddr(0), sir.StaticOffset(0), 8)
	b.EmitUnary(r2, hdlir.OpIdent, r1, 0, false)
	b.SetReturn()

	pass := &InstructionSchedulingPass{}
	if _, err := pass.Run(b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	storeIdx, loadIdx := -1, -1
	for i, in := range b.Instrs {
		if in.Op == sir.OpStore {
			storeIdx = i
		}
		if in.Op == sir.OpLoad {
			loadIdx = i
		}
	}
	if storeIdx == -1 || loadIdx == -1 || storeIdx > loadIdx {
		t.Fatalf("expected the store to stay ordered before the load to the same address, got %+v", b.Instrs)
	}
}

func TestOptimizerRunsToFixpoint(t *testing.T) {
	u := sir.NewUnit("u")
	b := u.Block(u.Entry)
	r0 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	r1 := u.NewReg(sir.RegType{Kind: sir.RegBit, Width: 8})
	b.EmitLoad(r0, testAddr(0), sir.StaticOffset(0), 8)
	b.EmitLoad(r1, testAddr(0), sir.StaticOffset(0), 8)
	b.SetReturn()

	opt := NewOptimizer(LevelFull)
	if err := opt.Optimize(u); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if b.Instrs[1].Op != sir.OpUnary {
		t.Fatalf("expected the fixpoint loop to still apply redundant-load elimination, got %+v", b.Instrs[1])
	}
}
