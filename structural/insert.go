// Package structural implements the recovery family: the passes that find
// a syntactic pattern in the CFG, replace the matched subgraph with a
// composite node, and rewire edges so the graph stays well-formed
// (spec.md §4.2). Pass order is fixed: fragments → short-circuits → loops
// (innermost-first) → conditionals → switches → try/catch.
package structural

import "github.com/chazu/vmdecomp/cfgnode"

// InsertStructure splices composite into the graph in place of the
// subgraph bounded by [before, after]: every predecessor edge of before is
// redirected to composite, every successor edge of after is redirected to
// originate from composite, composite's parent becomes before's old
// parent, and the children passed to composite (via its own SetChildren
// call, done by the caller before InsertStructure runs) are reparented.
//
// Edge moves are sequenced as explicit detach-then-attach so a reader never
// observes a half-updated edge (spec.md §9, "Structural rewrite
// discipline").
func InsertStructure(before, after, composite cfgnode.Node) {
	parent := before.Parent()
	composite.SetParent(parent)

	// Detach before's incoming edges from whatever pointed at it, and
	// attach them to composite instead.
	preds := append([]cfgnode.Node(nil), before.Predecessors()...)
	for _, p := range preds {
		p.SetSuccessors(cfgnode.ReplaceEdge(p.Successors(), before, composite))
	}
	composite.SetPredecessors(preds)
	before.SetPredecessors(nil)

	// Detach after's outgoing edges from whatever it pointed at, and
	// attach them to originate from composite instead.
	succs := append([]cfgnode.Node(nil), after.Successors()...)
	for _, s := range succs {
		s.SetPredecessors(cfgnode.ReplaceEdge(s.Predecessors(), after, composite))
	}
	composite.SetSuccessors(succs)
	after.SetSuccessors(nil)

	// Keep the parent's own child list (if it is a composite we are
	// re-leveling underneath) pointed at the new node instead of `before`.
	if parent != nil {
		replaceChild(parent, before, composite)
	}
}

// replaceChild swaps before for composite in parent's child list, if
// parent exposes one and before appears in it. Used when InsertStructure
// runs on a node nested under an already-recovered composite.
func replaceChild(parent, before, composite cfgnode.Node) {
	kids := parent.Children()
	if kids == nil {
		return
	}
	for i, k := range kids {
		if k == before {
			kids[i] = composite
			return
		}
	}
}

// kidSetter is satisfied by every composite node type via the embedded
// cfgnode.Composite's SetKidsRaw.
type kidSetter interface {
	SetKidsRaw([]cfgnode.Node)
}

// AbsorbChildren removes absorbed nodes from parent's flat child list,
// without touching their parent pointers (the composite that actually
// absorbed them already reparented them via SetChildren). A parent with no
// child-list capability (a Block, or nil) is a no-op.
func AbsorbChildren(parent cfgnode.Node, absorbed []cfgnode.Node) {
	if parent == nil {
		return
	}
	ks, ok := parent.(kidSetter)
	if !ok {
		return
	}
	absorbedSet := make(map[cfgnode.Node]bool, len(absorbed))
	for _, a := range absorbed {
		absorbedSet[a] = true
	}
	kids := parent.Children()
	out := make([]cfgnode.Node, 0, len(kids))
	for _, k := range kids {
		if !absorbedSet[k] {
			out = append(out, k)
		}
	}
	ks.SetKidsRaw(out)
}

// Detach removes every edge between a and b, in both directions. Used when
// a recovery pass strips a branch that structural recovery has made
// redundant (e.g. a short-circuit predecessor's conditional branch).
func Detach(a, b cfgnode.Node) {
	a.RemoveSuccessor(b)
	b.RemovePredecessor(a)
}
