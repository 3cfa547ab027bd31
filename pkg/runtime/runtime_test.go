package runtime

import (
	"math/big"
	"testing"

	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/hdlir"
)

// counterProgram builds a one-module design: an 8-bit counter clocked on
// the rising edge of clk, asynchronously reset low by rst_n, plus a
// combinational "parity" output reading q's bit 0 — enough to exercise
// Build, Signal/Event resolution, Get/Modify, Tick cascading, and the
// hierarchy walk without a frontend.
func counterProgram() *hdlir.Program {
	clk := hdlir.VarID(0)
	rstN := hdlir.VarID(1)
	q := hdlir.VarID(2)
	parity := hdlir.VarID(3)

	mod := &hdlir.Module{
		Name: "counter",
		Variables: []*hdlir.Variable{
			{ID: clk, Path: "clk", Width: 1},
			{ID: rstN, Path: "rst_n", Width: 1},
			{ID: q, Path: "q", Width: 8},
			{ID: parity, Path: "parity", Width: 1},
		},
		Funcs: map[string]*hdlir.FuncDef{},
		Decls: []hdlir.Declaration{
			&hdlir.Comb{
				Body: []hdlir.Statement{
					&hdlir.Assign{
						Dests: []hdlir.Destination{{Var: parity}},
						Value: &hdlir.Term{Var: q, Access: &hdlir.BitAccess{Lsb: 0, Msb: 0}},
					},
				},
			},
			&hdlir.Ff{
				Clock:     clk,
				PosEdge:   true,
				Reset:     rstN,
				ResetKind: hdlir.ResetAsyncLow,
				Body: []hdlir.Statement{
					&hdlir.IfReset{
						Then: []hdlir.Statement{
							&hdlir.Assign{
								Dests: []hdlir.Destination{{Var: q}},
								Value: &hdlir.Term{IsConst: true, ConstVal: 0, ConstW: 8},
							},
						},
						Else: []hdlir.Statement{
							&hdlir.Assign{
								Dests: []hdlir.Destination{{Var: q}},
								Value: &hdlir.Binary{
									Op:  hdlir.OpAdd,
									Lhs: &hdlir.Term{Var: q},
									Rhs: &hdlir.Term{IsConst: true, ConstVal: 1, ConstW: 8},
								},
							},
						},
					},
				},
			},
		},
	}

	return &hdlir.Program{Modules: map[string]*hdlir.Module{"counter": mod}, Top: "counter"}
}

func buildCounter(t *testing.T) (*Simulator, Signal, Signal, Signal, Event, Event) {
	t.Helper()
	sim, err := Build(counterProgram(), "counter", Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	clk, err := sim.Signal("counter.clk")
	if err != nil {
		t.Fatalf("Signal clk: %v", err)
	}
	rstN, err := sim.Signal("counter.rst_n")
	if err != nil {
		t.Fatalf("Signal rst_n: %v", err)
	}
	q, err := sim.Signal("counter.q")
	if err != nil {
		t.Fatalf("Signal q: %v", err)
	}
	clkEv, err := sim.Event("counter.clk")
	if err != nil {
		t.Fatalf("Event clk: %v", err)
	}
	rstEv, err := sim.Event("counter.rst_n")
	if err != nil {
		t.Fatalf("Event rst_n: %v", err)
	}
	return sim, clk, rstN, q, clkEv, rstEv
}

func TestBuildResolvesNamedSignalsAndEvents(t *testing.T) {
	sim, _, _, _, _, _ := buildCounter(t)

	if _, err := sim.Signal("counter.parity"); err != nil {
		t.Fatalf("Signal parity: %v", err)
	}
	if _, err := sim.Signal("counter.nope"); err == nil {
		t.Fatalf("expected error resolving unknown signal")
	}
	if _, err := sim.Event("counter.q"); err == nil {
		t.Fatalf("expected error resolving q as an event: it is not a clock/reset net")
	}
}

func TestResetThenClockIncrements(t *testing.T) {
	sim, clk, rstN, q, clkEv, rstEv := buildCounter(t)

	// Drive rst_n low, let the async reset fire, then release it.
	if err := sim.Modify(func(m *Mutator) { m.Set(rstN, big.NewInt(0)) }); err != nil {
		t.Fatalf("Modify reset low: %v", err)
	}
	if err := sim.Tick(rstEv); err != nil {
		t.Fatalf("Tick reset: %v", err)
	}
	if got := sim.Get(q).Uint64(); got != 0 {
		t.Fatalf("expected q=0 after reset, got %d", got)
	}

	if err := sim.Modify(func(m *Mutator) { m.Set(rstN, big.NewInt(1)) }); err != nil {
		t.Fatalf("Modify reset release: %v", err)
	}

	for i := uint64(1); i <= 3; i++ {
		if err := sim.Modify(func(m *Mutator) { m.Set(clk, big.NewInt(1)) }); err != nil {
			t.Fatalf("Modify clk high: %v", err)
		}
		if err := sim.Tick(clkEv); err != nil {
			t.Fatalf("Tick clk: %v", err)
		}
		if got := sim.Get(q).Uint64(); got != i {
			t.Fatalf("after tick %d: expected q=%d, got %d", i, i, got)
		}
		if err := sim.Modify(func(m *Mutator) { m.Set(clk, big.NewInt(0)) }); err != nil {
			t.Fatalf("Modify clk low: %v", err)
		}
	}
}

func TestParityTracksCombinationalOutput(t *testing.T) {
	sim, clk, rstN, _, clkEv, rstEv := buildCounter(t)
	parity, err := sim.Signal("counter.parity")
	if err != nil {
		t.Fatalf("Signal parity: %v", err)
	}

	if err := sim.Modify(func(m *Mutator) { m.Set(rstN, big.NewInt(0)) }); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := sim.Tick(rstEv); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if err := sim.Modify(func(m *Mutator) { m.Set(rstN, big.NewInt(1)) }); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if got := sim.Get(parity).Uint64(); got != 0 {
		t.Fatalf("expected parity=0 at q=0, got %d", got)
	}

	if err := sim.Modify(func(m *Mutator) { m.Set(clk, big.NewInt(1)) }); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := sim.Tick(clkEv); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := sim.Get(parity).Uint64(); got != 1 {
		t.Fatalf("expected parity=1 at q=1, got %d", got)
	}
}

func TestSnapshotRestoreRoundTrips(t *testing.T) {
	sim, clk, rstN, q, clkEv, rstEv := buildCounter(t)

	if err := sim.Modify(func(m *Mutator) { m.Set(rstN, big.NewInt(0)) }); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := sim.Tick(rstEv); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if err := sim.Modify(func(m *Mutator) { m.Set(rstN, big.NewInt(1)) }); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := sim.Modify(func(m *Mutator) { m.Set(clk, big.NewInt(1)) }); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := sim.Tick(clkEv); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	snap := sim.Snapshot()
	if got := sim.Get(q).Uint64(); got != 1 {
		t.Fatalf("expected q=1 before further ticks, got %d", got)
	}

	if err := sim.Modify(func(m *Mutator) { m.Set(clk, big.NewInt(0)) }); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := sim.Modify(func(m *Mutator) { m.Set(clk, big.NewInt(1)) }); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := sim.Tick(clkEv); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := sim.Get(q).Uint64(); got != 2 {
		t.Fatalf("expected q=2 after a second tick, got %d", got)
	}

	sim.Restore(snap)
	if got := sim.Get(q).Uint64(); got != 1 {
		t.Fatalf("expected q=1 restored from snapshot, got %d", got)
	}
}

func TestNamedHierarchyReportsTopModuleAndSignals(t *testing.T) {
	sim, _, _, _, _, _ := buildCounter(t)

	tree := sim.NamedHierarchy()
	if tree.ModuleName != "counter" {
		t.Fatalf("expected top module name counter, got %q", tree.ModuleName)
	}
	if len(tree.Children) != 0 {
		t.Fatalf("expected no child instances, got %d", len(tree.Children))
	}
	want := map[string]bool{"clk": false, "rst_n": false, "q": false, "parity": false}
	for _, s := range tree.Signals {
		if _, ok := want[s]; !ok {
			t.Fatalf("unexpected signal %q in hierarchy node", s)
		}
		want[s] = true
	}
	for s, seen := range want {
		if !seen {
			t.Fatalf("expected signal %q in hierarchy node", s)
		}
	}
}

func TestNamedSignalsAndEventsAreSorted(t *testing.T) {
	sim, _, _, _, _, _ := buildCounter(t)

	sigs := sim.NamedSignals()
	for i := 1; i < len(sigs); i++ {
		if sigs[i-1].Path >= sigs[i].Path {
			t.Fatalf("NamedSignals not sorted at index %d: %q >= %q", i, sigs[i-1].Path, sigs[i].Path)
		}
	}

	evts := sim.NamedEvents()
	if len(evts) != 2 {
		t.Fatalf("expected 2 named events (clk, rst_n), got %d", len(evts))
	}
	for i := 1; i < len(evts); i++ {
		if evts[i-1].Path >= evts[i].Path {
			t.Fatalf("NamedEvents not sorted at index %d: %q >= %q", i, evts[i-1].Path, evts[i].Path)
		}
	}
}

func TestTickByIDNAppliesMultipleCycles(t *testing.T) {
	sim, _, rstN, q, _, rstEv := buildCounter(t)
	clkEvID, err := sim.Event("counter.clk")
	if err != nil {
		t.Fatalf("Event clk: %v", err)
	}

	if err := sim.Modify(func(m *Mutator) { m.Set(rstN, big.NewInt(0)) }); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := sim.Tick(rstEv); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if err := sim.Modify(func(m *Mutator) { m.Set(rstN, big.NewInt(1)) }); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	// TickByIDN applies the same event repeatedly; clk is not toggled
	// between calls, but each call runs the clock domain's eval+apply once,
	// so q counts up by one per call.
	if err := sim.TickByIDN(clkEvID.ID(), 3); err != nil {
		t.Fatalf("TickByIDN: %v", err)
	}
	if got := sim.Get(q).Uint64(); got != 3 {
		t.Fatalf("expected q=3 after 3 ticks, got %d", got)
	}
}

func TestTickUnknownTriggerIDReturnsNotAnEventError(t *testing.T) {
	sim, _, _, _, _, _ := buildCounter(t)
	err := sim.TickByID(999)
	if err == nil {
		t.Fatalf("expected NotAnEventError for an unregistered trigger id")
	}
	if _, ok := err.(*hdlerr.NotAnEventError); !ok {
		t.Fatalf("expected *hdlerr.NotAnEventError, got %T: %v", err, err)
	}
}

// swapProgram builds a one-module design with a single always_ff body
// that, outside reset, swaps two registers: `r1 = r2; r2 = r1`. Under
// correct nonblocking semantics both reads must see the pre-edge value,
// so one tick swaps (r1,r2) rather than collapsing both onto r2's old
// value.
func swapProgram() *hdlir.Program {
	clk := hdlir.VarID(0)
	rstN := hdlir.VarID(1)
	r1 := hdlir.VarID(2)
	r2 := hdlir.VarID(3)

	mod := &hdlir.Module{
		Name: "swap",
		Variables: []*hdlir.Variable{
			{ID: clk, Path: "clk", Width: 1},
			{ID: rstN, Path: "rst_n", Width: 1},
			{ID: r1, Path: "r1", Width: 8},
			{ID: r2, Path: "r2", Width: 8},
		},
		Funcs: map[string]*hdlir.FuncDef{},
		Decls: []hdlir.Declaration{
			&hdlir.Ff{
				Clock:     clk,
				PosEdge:   true,
				Reset:     rstN,
				ResetKind: hdlir.ResetAsyncLow,
				Body: []hdlir.Statement{
					&hdlir.IfReset{
						Then: []hdlir.Statement{
							&hdlir.Assign{
								Dests: []hdlir.Destination{{Var: r1}},
								Value: &hdlir.Term{IsConst: true, ConstVal: 0xAA, ConstW: 8},
							},
							&hdlir.Assign{
								Dests: []hdlir.Destination{{Var: r2}},
								Value: &hdlir.Term{IsConst: true, ConstVal: 0x55, ConstW: 8},
							},
						},
						Else: []hdlir.Statement{
							&hdlir.Assign{
								Dests: []hdlir.Destination{{Var: r1}},
								Value: &hdlir.Term{Var: r2},
							},
							&hdlir.Assign{
								Dests: []hdlir.Destination{{Var: r2}},
								Value: &hdlir.Term{Var: r1},
							},
						},
					},
				},
			},
		},
	}

	return &hdlir.Program{Modules: map[string]*hdlir.Module{"swap": mod}, Top: "swap"}
}

func TestSwapReadsPreEdgeValues(t *testing.T) {
	sim, err := Build(swapProgram(), "swap", Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	clk, err := sim.Signal("swap.clk")
	if err != nil {
		t.Fatalf("Signal clk: %v", err)
	}
	rstN, err := sim.Signal("swap.rst_n")
	if err != nil {
		t.Fatalf("Signal rst_n: %v", err)
	}
	r1, err := sim.Signal("swap.r1")
	if err != nil {
		t.Fatalf("Signal r1: %v", err)
	}
	r2, err := sim.Signal("swap.r2")
	if err != nil {
		t.Fatalf("Signal r2: %v", err)
	}
	clkEv, err := sim.Event("swap.clk")
	if err != nil {
		t.Fatalf("Event clk: %v", err)
	}
	rstEv, err := sim.Event("swap.rst_n")
	if err != nil {
		t.Fatalf("Event rst_n: %v", err)
	}

	if err := sim.Modify(func(m *Mutator) { m.Set(rstN, big.NewInt(0)) }); err != nil {
		t.Fatalf("Modify reset low: %v", err)
	}
	if err := sim.Tick(rstEv); err != nil {
		t.Fatalf("Tick reset: %v", err)
	}
	if got := sim.Get(r1).Uint64(); got != 0xAA {
		t.Fatalf("expected r1=0xAA after reset, got %#x", got)
	}
	if got := sim.Get(r2).Uint64(); got != 0x55 {
		t.Fatalf("expected r2=0x55 after reset, got %#x", got)
	}

	if err := sim.Modify(func(m *Mutator) { m.Set(rstN, big.NewInt(1)) }); err != nil {
		t.Fatalf("Modify reset release: %v", err)
	}

	// One swap tick must read each register's pre-edge value: a blocking
	// (WRONG) fold would have r2=r1's read pick up r1's just-written
	// value, collapsing both registers onto 0x55.
	if err := sim.Modify(func(m *Mutator) { m.Set(clk, big.NewInt(1)) }); err != nil {
		t.Fatalf("Modify clk high: %v", err)
	}
	if err := sim.Tick(clkEv); err != nil {
		t.Fatalf("Tick clk: %v", err)
	}
	if got := sim.Get(r1).Uint64(); got != 0x55 {
		t.Fatalf("after swap: expected r1=0x55, got %#x", got)
	}
	if got := sim.Get(r2).Uint64(); got != 0xAA {
		t.Fatalf("after swap: expected r2=0xAA, got %#x", got)
	}

	// A second swap tick must restore the original values.
	if err := sim.Modify(func(m *Mutator) { m.Set(clk, big.NewInt(0)) }); err != nil {
		t.Fatalf("Modify clk low: %v", err)
	}
	if err := sim.Modify(func(m *Mutator) { m.Set(clk, big.NewInt(1)) }); err != nil {
		t.Fatalf("Modify clk high: %v", err)
	}
	if err := sim.Tick(clkEv); err != nil {
		t.Fatalf("Tick clk: %v", err)
	}
	if got := sim.Get(r1).Uint64(); got != 0xAA {
		t.Fatalf("after second swap: expected r1=0xAA, got %#x", got)
	}
	if got := sim.Get(r2).Uint64(); got != 0x55 {
		t.Fatalf("after second swap: expected r2=0x55, got %#x", got)
	}
}
