// Package combparser implements the symbolic interpreter for
// `always_comb` bodies (spec component D): a statement fold that
// threads a per-variable ranges.Store through assignments and
// if/else merges, producing one LogicPath per driven bit range.
package combparser

import (
	"math/big"

	"github.com/oisee/hdlsim/pkg/bitaccess"
	"github.com/oisee/hdlsim/pkg/exprlower"
	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/path"
	"github.com/oisee/hdlsim/pkg/ranges"
)

var zeroBig = big.NewInt(0)

func bigFromInt(i int) *big.Int { return big.NewInt(int64(i)) }

// storeMap is the fold's running state: one range store per variable the
// block has touched or might touch.
type storeMap map[hdlir.VarID]*ranges.Store[hdlir.VarID]

func cloneStoreMap(m storeMap) storeMap {
	out := make(storeMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// env implements exprlower.Env[hdlir.VarID] for comb bodies: a read
// either slices the current fold state (static access) or, for a
// dynamically indexed access, reads the variable directly as an opaque
// Input node carrying the dynamic offset (spec.md §4.A "Dynamic Index").
// Dynamic reads deliberately do not see same-block partial overwrites;
// they always observe the variable's value as of block entry, which
// keeps dynamic aliasing conservative and matches how the scheduler's
// dependency graph treats dynamic accesses as whole-variable reads.
type env struct {
	arena    *graph.Arena[hdlir.VarID]
	mod      *hdlir.Module
	varsByID map[hdlir.VarID]*hdlir.Variable
	store    storeMap
	// stable, when set, freezes every variable's value as of fold entry
	// for env.Read to resolve against instead of store: always_ff bodies
	// are nonblocking (spec.md §4.C/§8), so a read must never observe a
	// write an earlier statement in the same body already made. store
	// still receives every write (and is still what Paths walks), only
	// reads are redirected. nil for always_comb, where `=` is blocking
	// and same-block writes must be visible to later reads.
	stable  storeMap
	lowerer *exprlower.Lowerer[hdlir.VarID]
}

func (e *env) Arena() *graph.Arena[hdlir.VarID]        { return e.arena }
func (e *env) VarInfo(v hdlir.VarID) *hdlir.Variable   { return e.varsByID[v] }
func (e *env) Addr(v hdlir.VarID) hdlir.VarID          { return v }
func (e *env) Func(name string) (*hdlir.FuncDef, bool) { f, ok := e.mod.Funcs[name]; return f, ok }

func constEval(e hdlir.Expression) (int, bool) {
	t, ok := e.(*hdlir.Term)
	if !ok || !t.IsConst {
		return 0, false
	}
	return int(t.ConstVal), true
}

func (e *env) Read(v hdlir.VarID, access *hdlir.BitAccess, indices []hdlir.Expression) (graph.NodeId, map[hdlir.VarID]bool, error) {
	info := e.varsByID[v]
	if info == nil {
		return 0, nil, &hdlerr.UnsupportedCombLoweringError{Feature: "read", Detail: "unknown variable"}
	}

	if len(indices) > 0 {
		if statics, ok := bitaccess.StaticIndices(indices, constEval); ok {
			off := bitaccess.ElementOffset(info.Dims, info.Width, statics)
			flat := bitaccess.ResolveAccess(info, access, off)
			return e.readSource(v, flat)
		}
		return e.readDynamic(v, info, access, indices)
	}

	flat := bitaccess.ResolveAccess(info, access, 0)
	return e.readSource(v, flat)
}

// readSource is the read path exprlower calls for an actual variable
// reference. Under nonblocking (stable != nil) it resolves against the
// frozen entry snapshot rather than the live, in-body-mutated store; see
// the env.stable field comment.
func (e *env) readSource(v hdlir.VarID, flat hdlir.BitAccess) (graph.NodeId, map[hdlir.VarID]bool, error) {
	st := e.store[v]
	if e.stable != nil {
		if s, ok := e.stable[v]; ok {
			st = s
		}
	}
	return e.readFromStore(v, st, flat)
}

// readStatic reads v's current, live (possibly in-body-written) value —
// used internally by applyDynamicDestination to chain successive partial
// writes to the same destination within one fold, which must see each
// other regardless of blocking/nonblocking (it is write bookkeeping, not
// a source read of a register).
func (e *env) readStatic(v hdlir.VarID, flat hdlir.BitAccess) (graph.NodeId, map[hdlir.VarID]bool, error) {
	return e.readFromStore(v, e.store[v], flat)
}

func (e *env) readFromStore(v hdlir.VarID, st *ranges.Store[hdlir.VarID], flat hdlir.BitAccess) (graph.NodeId, map[hdlir.VarID]bool, error) {
	if st == nil {
		st = ranges.New[hdlir.VarID](flat.Msb + 1)
	}
	parts := st.GetParts(flat.Lsb, flat.Msb)
	elems := make([]graph.ConcatElem, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- { // MSB-first for Concat
		p := parts[i]
		w := p.Msb - p.Lsb + 1
		var node graph.NodeId
		if p.Value == nil {
			node = e.arena.AllocInput(v, hdlir.BitAccess{Lsb: p.Lsb, Msb: p.Msb}, nil, w)
		} else if p.RelLsb == 0 && w == e.arena.Width(p.Value.Node) && p.RelMsb == w-1 {
			node = p.Value.Node
		} else {
			node = e.arena.AllocSlice(p.Value.Node, hdlir.BitAccess{Lsb: p.RelLsb, Msb: p.RelMsb})
		}
		elems = append(elems, graph.ConcatElem{Node: node, Width: w})
	}
	var result graph.NodeId
	if len(elems) == 1 {
		result = elems[0].Node
	} else {
		result = e.arena.AllocConcat(elems)
	}
	srcs := map[hdlir.VarID]bool{}
	graph.Sources(e.arena, result, srcs)
	return result, srcs, nil
}

func (e *env) readDynamic(v hdlir.VarID, info *hdlir.Variable, access *hdlir.BitAccess, indices []hdlir.Expression) (graph.NodeId, map[hdlir.VarID]bool, error) {
	strides := bitaccess.Strides(info.Dims, info.Width)
	dyn := make([]graph.DynIndex[hdlir.VarID], len(indices))
	for i, idx := range indices {
		node, _, err := e.lowerer.Eval(idx, 0, false)
		if err != nil {
			return 0, nil, err
		}
		dyn[i] = graph.DynIndex[hdlir.VarID]{Index: node, Stride: strides[i]}
	}
	elemAccess := hdlir.BitAccess{Lsb: 0, Msb: info.Width - 1}
	if access != nil {
		elemAccess = *access
	}
	node := e.arena.AllocInput(v, elemAccess, dyn, elemAccess.Width())
	srcs := map[hdlir.VarID]bool{}
	graph.Sources(e.arena, node, srcs)
	return node, srcs, nil
}

// Folder interprets a `always_comb` body against an initial store map
// (typically one fresh ranges.Store per module variable) and returns the
// resulting store map, from which Paths extracts the final LogicPaths.
type Folder struct {
	arena *graph.Arena[hdlir.VarID]
	mod   *hdlir.Module
	vars  map[hdlir.VarID]*hdlir.Variable
}

// NewFolder builds a Folder sharing arena and resolving variables/funcs
// through mod.
func NewFolder(arena *graph.Arena[hdlir.VarID], mod *hdlir.Module) *Folder {
	vars := make(map[hdlir.VarID]*hdlir.Variable, len(mod.Variables))
	for _, v := range mod.Variables {
		vars[v.ID] = v
	}
	return &Folder{arena: arena, mod: mod, vars: vars}
}

func (f *Folder) newEnv(store storeMap) (*env, *exprlower.Lowerer[hdlir.VarID]) {
	e := &env{arena: f.arena, mod: f.mod, varsByID: f.vars, store: store}
	l := exprlower.New[hdlir.VarID](e)
	e.lowerer = l
	return e, l
}

// Fold interprets body, threading store from statement to statement, and
// returns the resulting store. Reads see same-block writes (blocking
// `=` semantics, for always_comb).
func (f *Folder) Fold(body []hdlir.Statement, store storeMap) (storeMap, error) {
	e, l := f.newEnv(store)
	return f.fold(body, e, l)
}

// FoldNonblocking interprets body the same way Fold does, except every
// read resolves against store's state as of this call (before any
// statement in body runs) rather than against in-body writes — always_ff
// bodies are nonblocking (spec.md §4.C/§8): `r2 = r1; r1 = r2` must read
// each register's pre-edge value on both statements, not see the other's
// write. store itself still accumulates every write in program order, so
// the last write to a given bit range still wins.
func (f *Folder) FoldNonblocking(body []hdlir.Statement, store storeMap) (storeMap, error) {
	e, l := f.newEnv(store)
	e.stable = cloneStoreMap(store)
	return f.fold(body, e, l)
}

// EvalExpr evaluates a single expression (e.g. an instance port's
// actual-argument expression) against store without threading any
// statements, for callers that only need one value out of a scope
// (spec.md §4.D's instance-boundary glue).
func (f *Folder) EvalExpr(expr hdlir.Expression, width int, store storeMap) (graph.NodeId, map[hdlir.VarID]bool, error) {
	_, l := f.newEnv(store)
	return l.Eval(expr, width, false)
}

func (f *Folder) fold(body []hdlir.Statement, e *env, l *exprlower.Lowerer[hdlir.VarID]) (storeMap, error) {
	for _, stmt := range body {
		switch s := stmt.(type) {
		case *hdlir.Null:
			continue

		case *hdlir.SystemCall:
			continue // no logic effect; spec.md §4.B treats these as non-synthesizable diagnostics

		case *hdlir.Call:
			pending, err := l.InlineCall(s)
			if err != nil {
				return nil, err
			}
			if _, err := f.fold(pending, e, l); err != nil {
				return nil, err
			}

		case *hdlir.Assign:
			if err := f.applyAssign(s, e, l); err != nil {
				return nil, err
			}

		case *hdlir.If:
			cond, _, err := l.Eval(s.Cond, 0, false)
			if err != nil {
				return nil, err
			}
			thenStore := cloneStoreMap(e.store)
			thenEnv, thenL := f.newEnv(thenStore)
			thenEnv.stable = e.stable
			thenStore, err = f.fold(s.Then, thenEnv, thenL)
			if err != nil {
				return nil, err
			}
			elseStore := cloneStoreMap(e.store)
			if s.Else != nil {
				elseEnv, elseL := f.newEnv(elseStore)
				elseEnv.stable = e.stable
				elseStore, err = f.fold(s.Else, elseEnv, elseL)
				if err != nil {
					return nil, err
				}
			}
			e.store = f.mergeStores(cond, e.store, thenStore, elseStore)

		default:
			return nil, &hdlerr.UnsupportedCombLoweringError{Feature: "statement", Detail: unsupportedStmtName(stmt)}
		}
	}
	return e.store, nil
}

func unsupportedStmtName(stmt hdlir.Statement) string {
	switch stmt.(type) {
	case *hdlir.IfReset:
		return "if_reset outside always_ff"
	case *hdlir.Return:
		return "return outside function body"
	case *hdlir.LocalAssign:
		return "local assign outside function body"
	default:
		return "unknown statement"
	}
}

// mergeStores merges every variable touched by either branch via
// ranges.Merge, building Mux nodes for ranges the branches drove
// differently.
func (f *Folder) mergeStores(cond graph.NodeId, base, thenStore, elseStore storeMap) storeMap {
	touched := map[hdlir.VarID]bool{}
	for v := range thenStore {
		touched[v] = true
	}
	for v := range elseStore {
		touched[v] = true
	}
	out := make(storeMap, len(base))
	for v, st := range base {
		out[v] = st
	}
	mux := func(c graph.NodeId, tn graph.NodeId, tsrc map[hdlir.VarID]bool, en graph.NodeId, esrc map[hdlir.VarID]bool, w int) (graph.NodeId, map[hdlir.VarID]bool) {
		t := f.widenOrUndriven(tn, w)
		elseN := f.widenOrUndriven(en, w)
		id := f.arena.AllocMux(c, t, elseN, w, w)
		srcs := map[hdlir.VarID]bool{}
		graph.Sources(f.arena, id, srcs)
		return id, srcs
	}
	for v := range touched {
		ts, ok := thenStore[v]
		if !ok {
			ts = base[v]
		}
		es, ok := elseStore[v]
		if !ok {
			es = base[v]
		}
		out[v] = ranges.Merge(cond, ts, es, mux)
	}
	return out
}

// widenOrUndriven substitutes a fresh Input covering the full width when
// a branch left a sub-range undriven (InvalidNodeId), so the Mux always
// has two well-typed operands. This is a degenerate case that would
// normally surface as the variable's own ambient value.
func (f *Folder) widenOrUndriven(n graph.NodeId, w int) graph.NodeId {
	if n == graph.InvalidNodeId {
		return f.arena.AllocConstant(zeroBig, w, false)
	}
	return n
}

func (f *Folder) applyAssign(s *hdlir.Assign, e *env, l *exprlower.Lowerer[hdlir.VarID]) error {
	total := 0
	widths := make([]int, len(s.Dests))
	for i, d := range s.Dests {
		w, err := f.destWidth(d, e)
		if err != nil {
			return err
		}
		widths[i] = w
		total += w
	}
	value, _, err := l.Eval(s.Value, total, false)
	if err != nil {
		return err
	}

	bit := total
	for i, d := range s.Dests {
		w := widths[i]
		bit -= w
		slice := value
		if !(bit == 0 && w == total) {
			slice = f.arena.AllocSlice(value, hdlir.BitAccess{Lsb: bit, Msb: bit + w - 1})
		}
		srcs := map[hdlir.VarID]bool{}
		graph.Sources(f.arena, slice, srcs)
		if err := f.applyDestination(d, slice, srcs, e, l); err != nil {
			return err
		}
	}

	pending := l.TakePending()
	if len(pending) > 0 {
		if _, err := f.fold(pending, e, l); err != nil {
			return err
		}
	}
	return nil
}

func (f *Folder) destWidth(d hdlir.Destination, e *env) (int, error) {
	info := e.varsByID[d.Var]
	if info == nil {
		return 0, &hdlerr.UnsupportedCombLoweringError{Feature: "assign", Detail: "unknown destination variable"}
	}
	if d.Access != nil {
		return d.Access.Width(), nil
	}
	return info.Width, nil
}

func (f *Folder) applyDestination(d hdlir.Destination, value graph.NodeId, srcs map[hdlir.VarID]bool, e *env, l *exprlower.Lowerer[hdlir.VarID]) error {
	info := e.varsByID[d.Var]
	if len(d.Indices) == 0 {
		flat := bitaccess.ResolveAccess(info, d.Access, 0)
		e.store[d.Var].Update(flat.Lsb, flat.Msb, &ranges.Value[hdlir.VarID]{Node: value, Sources: srcs})
		return nil
	}
	if statics, ok := bitaccess.StaticIndices(d.Indices, constEval); ok {
		off := bitaccess.ElementOffset(info.Dims, info.Width, statics)
		flat := bitaccess.ResolveAccess(info, d.Access, off)
		e.store[d.Var].Update(flat.Lsb, flat.Msb, &ranges.Value[hdlir.VarID]{Node: value, Sources: srcs})
		return nil
	}
	return f.applyDynamicDestination(d, value, srcs, e, l)
}

// applyDynamicDestination lowers a dynamically indexed write as a chain
// of per-element equality-gated overwrites: for every element the array
// could address, Mux(index == i, value, old_element_i). This keeps the
// range store static (no element can straddle a partial dynamic write at
// simulation build time) at the cost of one comparison per element.
func (f *Folder) applyDynamicDestination(d hdlir.Destination, value graph.NodeId, _ map[hdlir.VarID]bool, e *env, l *exprlower.Lowerer[hdlir.VarID]) error {
	info := e.varsByID[d.Var]
	if len(d.Indices) != 1 || len(info.Dims) != 1 {
		return &hdlerr.UnsupportedCombLoweringError{Feature: "dynamic-write", Detail: "multi-dimensional dynamic destinations are not supported"}
	}
	idxNode, _, err := l.Eval(d.Indices[0], 0, false)
	if err != nil {
		return err
	}
	idxWidth := f.arena.Width(idxNode)
	elemWidth := info.Width
	n := info.Dims[0]
	for i := 0; i < n; i++ {
		lsb, msb := i*elemWidth, i*elemWidth+elemWidth-1
		if d.Access != nil {
			lsb, msb = i*elemWidth+d.Access.Lsb, i*elemWidth+d.Access.Msb
		}
		old, oldSrc, err := e.readStatic(d.Var, hdlir.BitAccess{Lsb: lsb, Msb: msb})
		if err != nil {
			return err
		}
		iConst := f.arena.AllocConstant(bigFromInt(i), idxWidth, false)
		cond := f.arena.AllocBinary(hdlir.OpEq, idxNode, iConst, idxWidth, idxWidth)
		w := msb - lsb + 1
		muxed := f.arena.AllocMux(cond, value, old, w, w)
		srcs := map[hdlir.VarID]bool{}
		graph.Sources(f.arena, muxed, srcs)
		for s := range oldSrc {
			srcs[s] = true
		}
		e.store[d.Var].Update(lsb, msb, &ranges.Value[hdlir.VarID]{Node: muxed, Sources: srcs})
	}
	return nil
}

// Paths extracts one LogicPath per driven sub-range of every variable in
// store whose value is non-nil (undriven ranges keep the variable's
// ambient value and need no path).
func Paths(store storeMap) []path.LogicPath[hdlir.VarID] {
	var out []path.LogicPath[hdlir.VarID]
	for v, st := range store {
		for lsb := 0; lsb < st.Width(); {
			parts := st.GetParts(lsb, st.Width()-1)
			p := parts[0]
			if p.Value != nil {
				out = append(out, path.LogicPath[hdlir.VarID]{
					Target:  path.VarAtom[hdlir.VarID]{Addr: v, Access: hdlir.BitAccess{Lsb: p.Lsb, Msb: p.Msb}},
					Sources: p.Value.Sources,
					Expr:    p.Value.Node,
				})
			}
			lsb = p.Msb + 1
		}
	}
	return out
}
