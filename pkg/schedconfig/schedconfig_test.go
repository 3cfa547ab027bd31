package schedconfig

import (
	"testing"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/hdlir"
)

func TestParseIgnoredLoop(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
		from    string
		to      string
	}{
		{"a~b", false, "a", "b"},
		{"a~b~c", true, "", ""},
		{"a", true, "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseIgnoredLoop(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseIgnoredLoop(%q): %v", tc.in, err)
			}
			if got.From != tc.from || got.To != tc.to {
				t.Fatalf("got %+v, want From=%q To=%q", got, tc.from, tc.to)
			}
		})
	}
}

func TestParseTrueLoop(t *testing.T) {
	got, err := ParseTrueLoop("x~y~8")
	if err != nil {
		t.Fatalf("ParseTrueLoop: %v", err)
	}
	if got != (Loop{From: "x", To: "y", Bound: 8}) {
		t.Fatalf("got %+v", got)
	}

	if _, err := ParseTrueLoop("x~y"); err == nil {
		t.Fatalf("expected error for missing bound")
	}
	if _, err := ParseTrueLoop("x~y~notanumber"); err == nil {
		t.Fatalf("expected error for non-numeric bound")
	}
}

func TestResolverMatchesIgnoredLoopBeforeTrueLoop(t *testing.T) {
	names := map[addr.AbsoluteAddr]string{
		{Var: hdlir.VarID(0)}: "a",
		{Var: hdlir.VarID(1)}: "b",
	}
	name := func(a addr.AbsoluteAddr) string { return names[a] }

	cfg := &Config{
		IgnoredLoops: []Loop{{From: "a", To: "b"}},
		TrueLoops:    []Loop{{From: "a", To: "b", Bound: 99}},
	}
	resolve := cfg.Resolver(name)

	decision, ok := resolve([]addr.AbsoluteAddr{{Var: hdlir.VarID(0)}, {Var: hdlir.VarID(1)}})
	if !ok {
		t.Fatalf("expected a match")
	}
	if decision.Strategy != 0 {
		t.Fatalf("expected StrategyStaticUnroll (ignored loop wins), got %+v", decision)
	}
}

func TestResolverFallsBackToTrueLoop(t *testing.T) {
	names := map[addr.AbsoluteAddr]string{
		{Var: hdlir.VarID(0)}: "a",
		{Var: hdlir.VarID(1)}: "b",
	}
	name := func(a addr.AbsoluteAddr) string { return names[a] }

	cfg := &Config{TrueLoops: []Loop{{From: "a", To: "b", Bound: 4}}}
	resolve := cfg.Resolver(name)

	decision, ok := resolve([]addr.AbsoluteAddr{{Var: hdlir.VarID(0)}, {Var: hdlir.VarID(1)}})
	if !ok {
		t.Fatalf("expected a match")
	}
	if decision.SafetyBound != 4 {
		t.Fatalf("expected SafetyBound=4, got %+v", decision)
	}
}

func TestResolverNoMatchRejectsTheLoop(t *testing.T) {
	cfg := &Config{}
	resolve := cfg.Resolver(func(addr.AbsoluteAddr) string { return "" })

	if _, ok := resolve([]addr.AbsoluteAddr{{Var: hdlir.VarID(0)}}); ok {
		t.Fatalf("expected no match with an empty config")
	}
}
