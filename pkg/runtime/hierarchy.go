package runtime

import (
	"strings"

	"golang.org/x/exp/slices"

	"github.com/oisee/hdlsim/pkg/addr"
)

// NamedSignal pairs a dotted signal path with its pre-resolved handle, the
// element type of NamedSignals.
type NamedSignal struct {
	Path   string
	Signal Signal
}

// NamedSignals lists every variable in the flattened design, sorted by
// dotted path.
func (s *Simulator) NamedSignals() []NamedSignal {
	out := make([]NamedSignal, 0, len(s.sigList))
	for _, n := range s.sigList {
		a := s.names[n]
		v := s.vars[a]
		out = append(out, NamedSignal{Path: n, Signal: Signal{addr: a, width: v.Width, fourState: v.FourState}})
	}
	return out
}

// NamedEvent pairs a dotted signal path with the Event handle for its
// canonical trigger net, the element type of NamedEvents.
type NamedEvent struct {
	Path  string
	Event Event
}

// NamedEvents lists every canonical clock/reset trigger net that has a
// resolvable name, sorted by dotted path.
func (s *Simulator) NamedEvents() []NamedEvent {
	out := make([]NamedEvent, 0, len(s.evtList))
	for _, n := range s.evtList {
		out = append(out, NamedEvent{Path: n, Event: Event{id: s.eventNames[n], name: n}})
	}
	return out
}

// HierarchyNode is one instance in the design's module tree.
type HierarchyNode struct {
	ModuleName string
	InstName   string
	Signals    []string // unqualified variable paths declared in this instance
	Children   []*HierarchyNode
}

// NamedHierarchy builds the instance tree rooted at the top module,
// following spec.md §6's Tree{module_name, signals, children:
// [(inst_name, [instances])]} shape.
func (s *Simulator) NamedHierarchy() *HierarchyNode {
	pathToID := map[string]addr.InstanceId{}
	for id, p := range s.instancePath {
		pathToID[p] = id
	}
	children := map[addr.InstanceId][]addr.InstanceId{}
	for id, p := range s.instancePath {
		if id == addr.TopInstance {
			continue
		}
		parentPath := p
		if idx := strings.LastIndex(p, "."); idx >= 0 {
			parentPath = p[:idx]
		}
		parentID, ok := pathToID[parentPath]
		if !ok || parentID == id {
			continue
		}
		children[parentID] = append(children[parentID], id)
	}

	var build func(id addr.InstanceId) *HierarchyNode
	build = func(id addr.InstanceId) *HierarchyNode {
		var sigs []string
		for _, a := range s.varsByInst[id] {
			sigs = append(sigs, s.vars[a].Path)
		}
		slices.Sort(sigs)

		kids := children[id]
		slices.SortFunc(kids, func(a, b addr.InstanceId) bool { return s.instancePath[a] < s.instancePath[b] })

		node := &HierarchyNode{
			ModuleName: s.instanceModule[id],
			InstName:   instNameOf(s.instancePath[id]),
			Signals:    sigs,
		}
		for _, k := range kids {
			node.Children = append(node.Children, build(k))
		}
		return node
	}

	return build(addr.TopInstance)
}

func instNameOf(path string) string {
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
