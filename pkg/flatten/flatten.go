// Package flatten implements hierarchy expansion (spec component G):
// depth-first instance expansion, instance-boundary glue resolution,
// clock/reset net canonicalization, and trigger id assignment, producing
// one flat design addressed entirely in addr.AbsoluteAddr space.
package flatten

import (
	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/moduleparser"
	"github.com/oisee/hdlsim/pkg/path"
	"github.com/oisee/hdlsim/pkg/sir"
)

// RegPath is one flip-flop's next-state LogicPath plus the clock/reset
// trigger metadata the runtime needs to know when to commit it.
type RegPath struct {
	Target  path.VarAtom[addr.AbsoluteAddr]
	Sources map[addr.AbsoluteAddr]bool
	Expr    graph.NodeId

	ClockAddr    addr.AbsoluteAddr
	ClockPosEdge bool
	ClockTrigger sir.TriggerId

	HasReset     bool
	ResetAddr    addr.AbsoluteAddr
	ResetKind    hdlir.ResetKind
	ResetIsAsync bool
	ResetTrigger sir.TriggerId
}

// Design is the complete flattened, canonicalized design ready for the
// scheduler.
type Design struct {
	Arena *graph.Arena[addr.AbsoluteAddr]

	CombPaths []path.LogicPath[addr.AbsoluteAddr]
	RegPaths  []RegPath

	Vars map[addr.AbsoluteAddr]*hdlir.Variable

	// Triggers maps every canonical clock/reset net that fires an edge to
	// a dense id. TriggerOrder lists them in first-discovery order.
	Triggers     map[TriggerKey]sir.TriggerId
	TriggerOrder []TriggerKey

	InstanceModule map[addr.InstanceId]string
	InstancePath   map[addr.InstanceId]string
}

// TriggerKey identifies one canonical net plus the edge polarity that
// fires it; a clock net sensitive to both edges (rare, but legal as two
// separate always_ff blocks) gets two distinct trigger ids.
type TriggerKey struct {
	Addr       addr.AbsoluteAddr
	RisingEdge bool
}

type parsedModule struct {
	arena *graph.Arena[hdlir.VarID]
	*moduleparser.Module
}

// Flatten walks prog from prog.Top, instantiating each module fresh
// along every instance path (module bodies are parsed once per distinct
// module name and reused — graph.Remap re-addresses each instantiation's
// subtree rather than re-parsing it).
func Flatten(prog *hdlir.Program) (*Design, error) {
	top, ok := prog.Modules[prog.Top]
	if !ok {
		return nil, &hdlerr.InternalError{Detail: "unknown top module " + prog.Top}
	}
	_ = top

	fd := &Design{
		Arena:          graph.NewArena[addr.AbsoluteAddr](),
		Vars:           map[addr.AbsoluteAddr]*hdlir.Variable{},
		Triggers:       map[TriggerKey]sir.TriggerId{},
		InstanceModule: map[addr.InstanceId]string{},
		InstancePath:   map[addr.InstanceId]string{},
	}

	cache := map[string]*parsedModule{}
	nextInst := addr.TopInstance

	var walk func(modName, instPath string) (addr.InstanceId, error)
	walk = func(modName, instPath string) (addr.InstanceId, error) {
		id := nextInst
		nextInst++
		fd.InstanceModule[id] = modName
		fd.InstancePath[id] = instPath

		mod, ok := prog.Modules[modName]
		if !ok {
			return 0, &hdlerr.InternalError{Detail: "unknown module " + modName}
		}

		pm, err := getParsed(cache, mod)
		if err != nil {
			return 0, err
		}

		translate := func(v hdlir.VarID) addr.AbsoluteAddr { return addr.AbsoluteAddr{Inst: id, Var: v} }
		remapCache := map[graph.NodeId]graph.NodeId{}

		for _, vr := range mod.Variables {
			fd.Vars[translate(vr.ID)] = vr
		}

		for _, p := range pm.Comb {
			fd.CombPaths = append(fd.CombPaths, remapPath(pm.arena, fd.Arena, p, translate, remapCache))
		}

		for _, ff := range pm.Ffs {
			clockAddr := translate(ff.Clock)
			var resetAddr addr.AbsoluteAddr
			if ff.HasReset {
				resetAddr = translate(ff.Reset)
			}
			for _, p := range ff.Paths {
				lp := remapPath(pm.arena, fd.Arena, p, translate, remapCache)
				fd.RegPaths = append(fd.RegPaths, RegPath{
					Target: lp.Target, Sources: lp.Sources, Expr: lp.Expr,
					ClockAddr: clockAddr, ClockPosEdge: ff.PosEdge,
					HasReset: ff.HasReset, ResetAddr: resetAddr, ResetKind: ff.ResetKind,
					ResetIsAsync: resetIsAsync(ff.ResetKind),
				})
			}
		}

		for _, inst := range pm.Instances {
			childMod, ok := prog.Modules[inst.Target]
			if !ok {
				return 0, &hdlerr.InternalError{Detail: "unknown module " + inst.Target}
			}
			childID, err := walk(inst.Target, instPath+"."+inst.InstName)
			if err != nil {
				return 0, err
			}

			for _, in := range inst.Inputs {
				expr := graph.Remap(pm.arena, fd.Arena, in.Expr, translate, remapCache)
				srcs := remapSources(in.Sources, translate)
				portInfo := findVar(childMod, in.Port)
				if portInfo == nil {
					return 0, &hdlerr.InternalError{Detail: "unknown port variable on input binding"}
				}
				fd.CombPaths = append(fd.CombPaths, path.LogicPath[addr.AbsoluteAddr]{
					Target:  path.VarAtom[addr.AbsoluteAddr]{Addr: addr.AbsoluteAddr{Inst: childID, Var: in.Port}, Access: hdlir.BitAccess{Lsb: 0, Msb: portInfo.Width - 1}},
					Sources: srcs,
					Expr:    expr,
				})
			}

			for _, o := range inst.Outputs {
				portInfo := findVar(childMod, o.Port)
				if portInfo == nil {
					return 0, &hdlerr.InternalError{Detail: "unknown port variable on output binding"}
				}
				srcAddr := addr.AbsoluteAddr{Inst: childID, Var: o.Port}
				node := fd.Arena.AllocInput(srcAddr, hdlir.BitAccess{Lsb: 0, Msb: portInfo.Width - 1}, nil, portInfo.Width)
				fd.CombPaths = append(fd.CombPaths, path.LogicPath[addr.AbsoluteAddr]{
					Target:  path.VarAtom[addr.AbsoluteAddr]{Addr: translate(o.Target.Addr), Access: o.Target.Access},
					Sources: map[addr.AbsoluteAddr]bool{srcAddr: true},
					Expr:    node,
				})
			}
		}
		return id, nil
	}

	if _, err := walk(prog.Top, prog.Top); err != nil {
		return nil, err
	}

	fd.assignTriggers()
	return fd, nil
}

func resetIsAsync(k hdlir.ResetKind) bool {
	return k == hdlir.ResetAsyncHigh || k == hdlir.ResetAsyncLow
}

func findVar(mod *hdlir.Module, v hdlir.VarID) *hdlir.Variable {
	for _, vr := range mod.Variables {
		if vr.ID == v {
			return vr
		}
	}
	return nil
}

func remapSources(srcs map[hdlir.VarID]bool, translate func(hdlir.VarID) addr.AbsoluteAddr) map[addr.AbsoluteAddr]bool {
	out := make(map[addr.AbsoluteAddr]bool, len(srcs))
	for v := range srcs {
		out[translate(v)] = true
	}
	return out
}

func remapPath(src *graph.Arena[hdlir.VarID], dst *graph.Arena[addr.AbsoluteAddr], p path.LogicPath[hdlir.VarID], translate func(hdlir.VarID) addr.AbsoluteAddr, cache map[graph.NodeId]graph.NodeId) path.LogicPath[addr.AbsoluteAddr] {
	return path.LogicPath[addr.AbsoluteAddr]{
		Target:  path.VarAtom[addr.AbsoluteAddr]{Addr: translate(p.Target.Addr), Access: p.Target.Access},
		Sources: remapSources(p.Sources, translate),
		Expr:    graph.Remap(src, dst, p.Expr, translate, cache),
	}
}

func getParsed(cache map[string]*parsedModule, mod *hdlir.Module) (*parsedModule, error) {
	if pm, ok := cache[mod.Name]; ok {
		return pm, nil
	}
	arena := graph.NewArena[hdlir.VarID]()
	mp, err := moduleparser.Parse(mod, arena)
	if err != nil {
		return nil, err
	}
	pm := &parsedModule{arena: arena, Module: mp}
	cache[mod.Name] = pm
	return pm, nil
}

// canonical follows pass-through aliasing (a variable driven by exactly
// one whole-width, computation-free read of another variable — the
// shape every simple port tunnel takes) back to its root source, so a
// clock wired through several levels of instance hierarchy still gets
// one trigger id. Cycles (which would indicate a combinational loop on
// a clock net, itself a design error the scheduler will independently
// reject) terminate the walk at the point of re-visit.
func (fd *Design) canonical(a addr.AbsoluteAddr) addr.AbsoluteAddr {
	visited := map[addr.AbsoluteAddr]bool{a: true}
	cur := a
	for {
		next, ok := fd.passThroughSource(cur)
		if !ok || visited[next] {
			return cur
		}
		visited[next] = true
		cur = next
	}
}

// passThroughSource reports the single Input-node source of cur, if
// some CombPath drives cur's full declared width with nothing but a
// direct, unsliced read of another signal.
func (fd *Design) passThroughSource(cur addr.AbsoluteAddr) (addr.AbsoluteAddr, bool) {
	v := fd.Vars[cur]
	if v == nil {
		return addr.AbsoluteAddr{}, false
	}
	for _, p := range fd.CombPaths {
		if p.Target.Addr != cur || p.Target.Access.Lsb != 0 || p.Target.Access.Msb != v.Width-1 {
			continue
		}
		n := fd.Arena.Get(p.Expr)
		if n.Kind == graph.KindInput && len(n.DynIndices) == 0 && n.Width == v.Width &&
			n.Access.Lsb == 0 && n.Access.Msb == fd.Vars[n.Addr].Width-1 {
			return n.Addr, true
		}
		return addr.AbsoluteAddr{}, false
	}
	return addr.AbsoluteAddr{}, false
}

func (fd *Design) triggerFor(a addr.AbsoluteAddr, rising bool) sir.TriggerId {
	key := TriggerKey{Addr: fd.canonical(a), RisingEdge: rising}
	if id, ok := fd.Triggers[key]; ok {
		return id
	}
	id := sir.TriggerId(len(fd.TriggerOrder))
	fd.Triggers[key] = id
	fd.TriggerOrder = append(fd.TriggerOrder, key)
	return id
}

// assignTriggers walks every RegPath's clock and (if async) reset net,
// assigning each distinct canonical-net/edge-polarity pair a dense
// TriggerId in first-discovery order.
func (fd *Design) assignTriggers() {
	for i := range fd.RegPaths {
		r := &fd.RegPaths[i]
		r.ClockTrigger = fd.triggerFor(r.ClockAddr, r.ClockPosEdge)
		if r.ResetIsAsync {
			rising := r.ResetKind == hdlir.ResetAsyncHigh
			r.ResetTrigger = fd.triggerFor(r.ResetAddr, rising)
		}
	}
}

// NumTriggers returns the number of distinct canonical clock/reset
// trigger nets discovered.
func (fd *Design) NumTriggers() int { return len(fd.TriggerOrder) }
