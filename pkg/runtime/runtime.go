// Package runtime implements spec component M: the owning object for a
// built design's memory buffer, compiled combinational and per-clock-domain
// functions, and the public simulation API (spec.md §4.H, §6 "Output —
// simulator API"). Grounded on pkg/mirvm/vm.go's Config/VM shape: Config
// mirrors mirvm.Config's field style, and Simulator owns the backing
// buffer and dispatch table the way VM owns memory/funcIndex, substituting
// compiled closures for a fetch-decode-execute loop since hdlsim has no
// bytecode to step.
package runtime

import (
	"fmt"
	"os"
	"sort"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/flatten"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/jit"
	"github.com/oisee/hdlsim/pkg/layout"
	"github.com/oisee/hdlsim/pkg/scheduler"
	"github.com/oisee/hdlsim/pkg/sir"
	"github.com/oisee/hdlsim/pkg/siropt"
)

var debugEnabled = os.Getenv("HDLSIM_DEBUG") != ""

// Config configures one Build call.
type Config struct {
	// Optimize selects the SIR optimization level applied to the
	// combinational unit and every clock domain's flip-flop unit.
	Optimize siropt.Level

	// Resolve supplies Strategy decisions for combinational cycles
	// (spec.md §4.E). A nil Resolve rejects every cycle as an
	// undeclared combinational loop, matching the scheduler's default
	// when no override was configured.
	Resolve scheduler.LoopResolver

	// Debug enables HDLSIM_DEBUG-style tracing for this build, overriding
	// the environment variable.
	Debug bool
}

func rejectAllLoops([]addr.AbsoluteAddr) (scheduler.LoopDecision, bool) {
	return scheduler.LoopDecision{}, false
}

// event is one compiled clock/reset domain: the canonical trigger net that
// fires it, and the three execution-unit variants servicing every RegPath
// clocked (or, for an async reset, reset) by that net (spec.md §4.C). fn is
// the single-pass eval+apply variant, run for the domain whose trigger is
// ticked externally; evalFn/applyFn are the split variants runCascade uses
// for every later cascade level, to batch the domains a single commit fired
// together without letting one's commit become visible to another's eval.
type event struct {
	trigger sir.TriggerId
	name    string
	fn      jit.CompiledFunc
	evalFn  jit.CompiledFunc
	applyFn jit.CompiledFunc
}

// Simulator owns the memory buffer, the compiled combinational function,
// one compiled function per clock/reset domain, and the name indices the
// public API resolves against. A Simulator is single-threaded and
// cooperative (spec.md §5): exactly one caller at a time, no internal
// suspension.
type Simulator struct {
	layout *layout.Layout
	mem    []byte

	combFn jit.CompiledFunc
	events []event // index == sir.TriggerId, since TriggerId is dense from 0

	vars    map[addr.AbsoluteAddr]*hdlir.Variable
	names   map[string]addr.AbsoluteAddr
	sigList []string // names, sorted, cached for NamedSignals

	eventNames map[string]sir.TriggerId
	evtList    []string

	instanceModule map[addr.InstanceId]string
	instancePath   map[addr.InstanceId]string
	varsByInst     map[addr.InstanceId][]addr.AbsoluteAddr

	debug bool
}

// Build parses nothing itself (pkg/hdlir's tree is the input contract):
// it flattens prog from top, schedules and JIT-compiles the combinational
// and per-domain flip-flop logic, and lays out the backing memory buffer.
func Build(prog *hdlir.Program, top string, cfg Config) (*Simulator, error) {
	p := *prog
	p.Top = top

	fd, err := flatten.Flatten(&p)
	if err != nil {
		return nil, err
	}

	resolve := cfg.Resolve
	if resolve == nil {
		resolve = rejectAllLoops
	}

	combPlan, err := scheduler.Schedule(fd.CombPaths, resolve)
	if err != nil {
		return nil, err
	}
	if err := scheduler.CheckFFMultipleDrivers(fd.RegPaths); err != nil {
		return nil, err
	}

	domains := groupByDomain(fd.RegPaths)

	combUnit := scheduler.EmitComb(fd, fd.CombPaths, combPlan)
	opt := siropt.NewOptimizer(cfg.Optimize)
	if err := opt.Optimize(combUnit); err != nil {
		return nil, fmt.Errorf("optimizing combinational unit: %w", err)
	}

	triggerIds := make([]sir.TriggerId, 0, len(domains))
	for id := range domains {
		triggerIds = append(triggerIds, id)
	}
	sort.Slice(triggerIds, func(i, j int) bool { return triggerIds[i] < triggerIds[j] })

	ffUnits := make(map[sir.TriggerId]*sir.Unit, len(domains))
	ffEvalUnits := make(map[sir.TriggerId]*sir.Unit, len(domains))
	ffApplyUnits := make(map[sir.TriggerId]*sir.Unit, len(domains))
	for _, id := range triggerIds {
		u := scheduler.EmitFF(fd, domains[id])
		if err := opt.Optimize(u); err != nil {
			return nil, fmt.Errorf("optimizing clock domain %d: %w", id, err)
		}
		ffUnits[id] = u

		evalU := scheduler.EmitFFEval(fd, domains[id])
		if err := opt.Optimize(evalU); err != nil {
			return nil, fmt.Errorf("optimizing clock domain %d eval unit: %w", id, err)
		}
		ffEvalUnits[id] = evalU

		applyU := scheduler.EmitFFApply(fd, domains[id])
		if err := opt.Optimize(applyU); err != nil {
			return nil, fmt.Errorf("optimizing clock domain %d apply unit: %w", id, err)
		}
		ffApplyUnits[id] = applyU
	}

	lb := layout.NewBuilder()
	for a, v := range fd.Vars {
		lb.AddStable(a, v.Width, v.FourState)
	}
	for _, r := range fd.RegPaths {
		v := fd.Vars[r.Target.Addr]
		lb.AddWorking(r.Target.Addr, v.Width, v.FourState)
	}
	lay := lb.Build(fd.NumTriggers())

	triggerKinds := buildTriggerKinds(fd)

	combFn, err := jit.Compile(combUnit, lay, triggerKinds)
	if err != nil {
		return nil, err
	}

	names, sigList := buildNameIndex(fd)
	eventNames, evtList := buildEventIndex(fd, names)

	events := make([]event, len(triggerIds))
	for i, id := range triggerIds {
		fn, err := jit.Compile(ffUnits[id], lay, triggerKinds)
		if err != nil {
			return nil, err
		}
		evalFn, err := jit.Compile(ffEvalUnits[id], lay, triggerKinds)
		if err != nil {
			return nil, err
		}
		applyFn, err := jit.Compile(ffApplyUnits[id], lay, triggerKinds)
		if err != nil {
			return nil, err
		}
		events[i] = event{
			trigger: id,
			name:    eventNameFor(evtList, eventNames, id),
			fn:      fn,
			evalFn:  evalFn,
			applyFn: applyFn,
		}
	}

	varsByInst := map[addr.InstanceId][]addr.AbsoluteAddr{}
	for a := range fd.Vars {
		varsByInst[a.Inst] = append(varsByInst[a.Inst], a)
	}

	return &Simulator{
		layout:         lay,
		mem:            make([]byte, lay.TotalSize),
		combFn:         combFn,
		events:         events,
		vars:           fd.Vars,
		names:          names,
		sigList:        sigList,
		eventNames:     eventNames,
		evtList:        evtList,
		instanceModule: fd.InstanceModule,
		instancePath:   fd.InstancePath,
		varsByInst:     varsByInst,
		debug:          cfg.Debug || debugEnabled,
	}, nil
}

// groupByDomain partitions RegPaths by the canonical trigger net that
// services them: a RegPath belongs to its clock's domain always, and
// additionally to its reset's domain when the reset is asynchronous (the
// same next-state expression handles both, since the FF parser lowers a
// reset into a conditional within Expr itself).
func groupByDomain(regPaths []flatten.RegPath) map[sir.TriggerId][]flatten.RegPath {
	domains := map[sir.TriggerId][]flatten.RegPath{}
	for _, r := range regPaths {
		domains[r.ClockTrigger] = append(domains[r.ClockTrigger], r)
		if r.HasReset && r.ResetIsAsync {
			domains[r.ResetTrigger] = append(domains[r.ResetTrigger], r)
		}
	}
	return domains
}

// buildTriggerKinds derives the edge-detection rule for every TriggerId
// from how RegPaths reference it: a clock's rule follows ClockPosEdge, an
// async reset's rule follows its polarity. A TriggerId that services a
// downstream derived-clock commit (assigned via triggersByVar inside
// pkg/scheduler, never via this map) is covered the same way, since
// flatten assigns one TriggerId per canonical net regardless of how many
// RegPaths reference it.
func buildTriggerKinds(fd *flatten.Design) map[sir.TriggerId]jit.TriggerKind {
	kinds := map[sir.TriggerId]jit.TriggerKind{}
	for _, r := range fd.RegPaths {
		if r.ClockPosEdge {
			kinds[r.ClockTrigger] = jit.TriggerPosedge
		} else {
			kinds[r.ClockTrigger] = jit.TriggerNegedge
		}
		if r.HasReset && r.ResetIsAsync {
			if r.ResetKind == hdlir.ResetAsyncHigh {
				kinds[r.ResetTrigger] = jit.TriggerAsyncHigh
			} else {
				kinds[r.ResetTrigger] = jit.TriggerAsyncLow
			}
		}
	}
	return kinds
}

// MemoryAsPtr exposes the raw backing buffer for zero-copy readers (a VCD
// dumper, external tooling). Callers must not retain it past the next
// mutating call: the Simulator may not reallocate, but length and content
// are only valid for the scope of one read.
func (s *Simulator) MemoryAsPtr() []byte { return s.mem }

// MemoryAsMutPtr exposes the raw backing buffer for in-place mutation by
// trusted external code. Writing outside a variable's reserved slot is
// undefined; prefer Modify for ordinary signal writes.
func (s *Simulator) MemoryAsMutPtr() []byte { return s.mem }

// StableRegionSize returns the size in bytes of the STABLE region.
func (s *Simulator) StableRegionSize() int { return s.layout.StableSize }

// TotalSize returns the size in bytes of the whole backing buffer
// (STABLE + WORKING + trigger bitset).
func (s *Simulator) TotalSize() int { return s.layout.TotalSize }
