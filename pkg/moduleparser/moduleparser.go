// Package moduleparser composes the comb and FF parsers over one
// module's declarations (spec component F) and builds the glue paths
// that connect an instance's ports to its parent scope, ready for
// flatten to relocate into the global address space.
package moduleparser

import (
	"github.com/oisee/hdlsim/pkg/combparser"
	"github.com/oisee/hdlsim/pkg/ffparser"
	"github.com/oisee/hdlsim/pkg/graph"
	"github.com/oisee/hdlsim/pkg/hdlerr"
	"github.com/oisee/hdlsim/pkg/hdlir"
	"github.com/oisee/hdlsim/pkg/path"
	"github.com/oisee/hdlsim/pkg/ranges"
)

// BoundaryPath is an instance input binding: the child's port, and the
// expression (evaluated in the parent's variable space) that drives it.
type BoundaryPath struct {
	InstName string
	Port     hdlir.VarID
	Expr     graph.NodeId
	Sources  map[hdlir.VarID]bool
}

// OutputAlias is an instance output binding: the parent variable that
// takes its value directly from the child's output port.
type OutputAlias struct {
	InstName string
	Port     hdlir.VarID
	Target   path.VarAtom[hdlir.VarID]
}

// Instance records one child instantiation, resolved enough for flatten
// to recurse into Target by name.
type Instance struct {
	InstName string
	Target   string
	Inputs   []BoundaryPath
	Outputs  []OutputAlias
}

// Module is the per-module parse result: every driven combinational and
// sequential path, plus every child instantiation's glue.
type Module struct {
	Comb      []path.LogicPath[hdlir.VarID]
	Ffs       []*ffparser.Result
	Instances []Instance
}

// Parse composes every declaration in mod: each Comb and Ff block folds
// against its own fresh store (declarations do not see each other's
// intermediate state — only the final committed value of another
// variable, read as an ordinary Input), and each Inst's port
// expressions fold against the same fresh per-declaration convention.
func Parse(mod *hdlir.Module, arena *graph.Arena[hdlir.VarID]) (*Module, error) {
	vars := make(map[hdlir.VarID]*hdlir.Variable, len(mod.Variables))
	for _, v := range mod.Variables {
		vars[v.ID] = v
	}

	out := &Module{}
	folder := combparser.NewFolder(arena, mod)

	for _, decl := range mod.Decls {
		switch d := decl.(type) {
		case *hdlir.Comb:
			store := freshStore(vars)
			res, err := folder.Fold(d.Body, store)
			if err != nil {
				return nil, err
			}
			out.Comb = append(out.Comb, combparser.Paths(res)...)

		case *hdlir.Ff:
			store := freshStore(vars)
			res, err := ffparser.Fold(d, arena, mod, store)
			if err != nil {
				return nil, err
			}
			out.Ffs = append(out.Ffs, res)

		case *hdlir.Inst:
			inst, err := parseInst(d, folder, vars)
			if err != nil {
				return nil, err
			}
			out.Instances = append(out.Instances, *inst)

		default:
			return nil, &hdlerr.UnsupportedSimulatorParserError{Feature: "declaration", Detail: "unknown declaration kind"}
		}
	}
	return out, nil
}

func freshStore(vars map[hdlir.VarID]*hdlir.Variable) map[hdlir.VarID]*ranges.Store[hdlir.VarID] {
	store := make(map[hdlir.VarID]*ranges.Store[hdlir.VarID], len(vars))
	for id, v := range vars {
		store[id] = ranges.New[hdlir.VarID](v.Width * v.ElementCount())
	}
	return store
}

func parseInst(d *hdlir.Inst, folder *combparser.Folder, vars map[hdlir.VarID]*hdlir.Variable) (*Instance, error) {
	inst := &Instance{InstName: d.InstName, Target: d.Target}
	store := freshStore(vars)

	for _, in := range d.Inputs {
		node, srcs, err := folder.EvalExpr(in.Expr, 0, store)
		if err != nil {
			return nil, err
		}
		inst.Inputs = append(inst.Inputs, BoundaryPath{InstName: d.InstName, Port: in.Port, Expr: node, Sources: srcs})
	}

	for _, o := range d.Outputs {
		term, ok := o.Expr.(*hdlir.Term)
		if !ok || term.IsConst {
			return nil, &hdlerr.UnsupportedSimulatorParserError{
				Feature: "instance-output-binding",
				Detail:  "output port binding must be a plain variable reference",
			}
		}
		access := hdlir.BitAccess{}
		if term.Access != nil {
			access = *term.Access
		} else if v := vars[term.Var]; v != nil {
			access = hdlir.BitAccess{Lsb: 0, Msb: v.Width - 1}
		}
		inst.Outputs = append(inst.Outputs, OutputAlias{
			InstName: d.InstName,
			Port:     o.Port,
			Target:   path.VarAtom[hdlir.VarID]{Addr: term.Var, Access: access},
		})
	}
	return inst, nil
}
