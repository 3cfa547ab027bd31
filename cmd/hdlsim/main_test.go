package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/hdlir"
)

func TestExitCodeForMapsErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported comb", &hdlerr.UnsupportedCombLoweringError{}, 1},
		{"unsupported ff", &hdlerr.UnsupportedFFLoweringError{}, 1},
		{"internal", &hdlerr.InternalError{}, 1},
		{"multiple driver", &hdlerr.MultipleDriverError{}, 2},
		{"combinational loop", &hdlerr.CombinationalLoopError{}, 2},
		{"codegen", &hdlerr.CodegenError{}, 2},
		{"not an event", &hdlerr.NotAnEventError{}, 3},
		{"detected true loop", hdlerr.ErrDetectedTrueLoop, 3},
		{"plain error", errors.New("boom"), 1},
		{"wrapped combinational loop", fmt.Errorf("scheduling: %w", &hdlerr.CombinationalLoopError{}), 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeFor(tc.err); got != tc.want {
				t.Fatalf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestTopLevelNamerResolvesTopInstanceOnly(t *testing.T) {
	prog := &hdlir.Program{
		Top: "counter",
		Modules: map[string]*hdlir.Module{
			"counter": {
				Name: "counter",
				Variables: []*hdlir.Variable{
					{ID: hdlir.VarID(0), Path: "clk", Width: 1},
					{ID: hdlir.VarID(1), Path: "q", Width: 8},
				},
			},
		},
	}
	name := topLevelNamer(prog, "counter")

	if got := name(addr.AbsoluteAddr{Inst: addr.TopInstance, Var: hdlir.VarID(1)}); got != "q" {
		t.Fatalf("name(q) = %q, want %q", got, "q")
	}
	if got := name(addr.AbsoluteAddr{Inst: addr.TopInstance, Var: hdlir.VarID(99)}); got != "" {
		t.Fatalf("name(unknown var) = %q, want empty", got)
	}
	if got := name(addr.AbsoluteAddr{Inst: addr.TopInstance + 1, Var: hdlir.VarID(1)}); got != "" {
		t.Fatalf("name(child instance) = %q, want empty", got)
	}
}

func TestTopLevelNamerWithUnknownTopReturnsEmpty(t *testing.T) {
	prog := &hdlir.Program{Top: "missing", Modules: map[string]*hdlir.Module{}}
	name := topLevelNamer(prog, "missing")
	if got := name(addr.AbsoluteAddr{Inst: addr.TopInstance, Var: hdlir.VarID(0)}); got != "" {
		t.Fatalf("name() = %q, want empty for an unknown top module", got)
	}
}

func TestLoadSchedConfigParsesRepeatedFlags(t *testing.T) {
	oldIgnored, oldTrue, oldLua := ignoredLoops, trueLoops, luaConfig
	t.Cleanup(func() { ignoredLoops, trueLoops, luaConfig = oldIgnored, oldTrue, oldLua })

	ignoredLoops = []string{"a~b"}
	trueLoops = []string{"c~d~5"}
	luaConfig = ""

	cfg, err := loadSchedConfig()
	if err != nil {
		t.Fatalf("loadSchedConfig: %v", err)
	}
	if len(cfg.IgnoredLoops) != 1 || cfg.IgnoredLoops[0].From != "a" || cfg.IgnoredLoops[0].To != "b" {
		t.Fatalf("unexpected IgnoredLoops: %+v", cfg.IgnoredLoops)
	}
	if len(cfg.TrueLoops) != 1 || cfg.TrueLoops[0].Bound != 5 {
		t.Fatalf("unexpected TrueLoops: %+v", cfg.TrueLoops)
	}
}

func TestLoadSchedConfigRejectsMalformedFlag(t *testing.T) {
	oldIgnored, oldTrue, oldLua := ignoredLoops, trueLoops, luaConfig
	t.Cleanup(func() { ignoredLoops, trueLoops, luaConfig = oldIgnored, oldTrue, oldLua })

	ignoredLoops = []string{"not-a-pair"}
	trueLoops = nil
	luaConfig = ""

	if _, err := loadSchedConfig(); err == nil {
		t.Fatalf("expected an error for a malformed --ignored-loop value")
	}
}
